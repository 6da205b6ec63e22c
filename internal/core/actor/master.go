package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/vedirect2mqtt/internal/adapter/actor"
	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/telemetry"
	. "github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck  healthCheckResult
	eventStream         *eventstream.EventStream
	mqttActor           *actor.PID
	chargeLimitActor    *actor.PID
	modbusActor         *actor.PID
	scheduleActor       *actor.PID
	serialActorProvider SerialActorProvider
	mqttActorProvider   MQTTActorProvider
	telemetry           telemetry.Collector
	logger              *zap.Logger
}

type healthCheckResult struct {
	healthy        map[string]bool
	expected       int
	checksReceived int
	respondTo      *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, serialActorProvider SerialActorProvider, mqttActorProvider MQTTActorProvider,
	collector telemetry.Collector, logger *zap.Logger) *MasterOfPuppetsActor {
	if collector == nil {
		collector = telemetry.Noop()
	}
	act := &MasterOfPuppetsActor{
		config:              config,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         &eventstream.EventStream{},
		serialActorProvider: serialActorProvider,
		mqttActorProvider:   mqttActorProvider,
		telemetry:           collector,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

// EventStream carries the sensor updates published by the charge limit actor.
func (state *MasterOfPuppetsActor) EventStream() *eventstream.EventStream {
	return state.eventStream
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start ChargeLimit child, which owns the serial port
		chargeLimitActorPID, err := state.startChargeLimitActor(ctx)
		if err != nil {
			panic(err)
		}
		state.chargeLimitActor = chargeLimitActorPID

		// start Modbus mirror
		if state.config.Modbus.Enable {
			modbusActorPID, err := state.startModbusActor(ctx)
			if err != nil {
				panic(err)
			}
			state.modbusActor = modbusActorPID
		}

		// start Schedules
		if len(state.config.Schedules) > 0 {
			scheduleActorPID, err := state.startScheduleActor(ctx)
			if err != nil {
				panic(err)
			}
			state.scheduleActor = scheduleActorPID
		}

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range state.healthTargets() {
			state.currentHealthCheck.expected++
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsedCommand to actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default invalid command", zap.Error(err))
			} else if cmd != nil {
				switch pcmd := cmd.(type) {
				case domain.ChargeLimitRequest:
					ctx.Send(state.chargeLimitActor, pcmd)
				}
			}
		}
	case domain.ActorHealthResponse, *actor.ReceiveTimeout:
		// late answer to a finished health check
	case domain.ChargeLimitRequest:
		// requests from the HTTP API keep their sender
		ctx.Forward(state.chargeLimitActor)
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_CHARGE_LIMIT) {
			state.logger.Error("master@default charge_limit terminated")
			panic(errors.New("charge_limit terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		state.currentHealthCheck.healthy[msg.Id] = msg.Healthy
		if state.currentHealthCheck.allReceived() {
			ctx.SetReceiveTimeout(0)

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) healthTargets() map[string]*actor.PID {
	targets := map[string]*actor.PID{
		domain.ACTOR_ID_MQTT:         state.mqttActor,
		domain.ACTOR_ID_CHARGE_LIMIT: state.chargeLimitActor,
	}
	if state.modbusActor != nil {
		targets[domain.ACTOR_ID_MODBUS] = state.modbusActor
	}
	if state.scheduleActor != nil {
		targets[domain.ACTOR_ID_SCHEDULE] = state.scheduleActor
	}
	return targets
}

func (state *MasterOfPuppetsActor) startChargeLimitActor(ctx actor.Context) (*actor.PID, error) {

	chargeLimitProps := NewChargeLimitActorProps(&state.config, state.serialActorProvider, state.eventStream, state.telemetry, state.logger)
	chargeLimitActorPID, err := ctx.SpawnNamed(chargeLimitProps, domain.ACTOR_ID_CHARGE_LIMIT)
	if err != nil {
		return nil, err
	}

	return chargeLimitActorPID, nil
}

func (state *MasterOfPuppetsActor) startModbusActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	modbusProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewModbusActor(&state.config, state.chargeLimitActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	modbusActorPID, err := ctx.SpawnNamed(modbusProps, domain.ACTOR_ID_MODBUS)
	if err != nil {
		return nil, err
	}

	return modbusActorPID, nil
}

func (state *MasterOfPuppetsActor) startScheduleActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	scheduleProps := actor.PropsFromProducer(func() actor.Actor {
		return NewScheduleActor(&state.config, state.chargeLimitActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	scheduleActorPID, err := ctx.SpawnNamed(scheduleProps, domain.ACTOR_ID_SCHEDULE)
	if err != nil {
		return nil, err
	}

	return scheduleActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.chargeLimitActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.healthy = make(map[string]bool)
	state.expected = 0
	state.checksReceived = 0
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	if len(state.healthy) < state.expected {
		return false
	}
	for _, healthy := range state.healthy {
		if !healthy {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
