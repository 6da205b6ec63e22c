package actor

import (
	"errors"
	"fmt"
	"time"

	adactor "github.com/berfenger/vedirect2mqtt/internal/adapter/actor"
	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/core/events"
	"github.com/berfenger/vedirect2mqtt/internal/core/service"
	"github.com/berfenger/vedirect2mqtt/internal/telemetry"
	. "github.com/berfenger/vedirect2mqtt/internal/util/actorutil"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

type SerialActorProvider func() *adactor.SerialActor

// ChargeLimitActor hosts the charge limit controller. It owns the serial
// actor as a child and drives the controller loop from a timer.
type ChargeLimitActor struct {
	ActorWithStates
	config         *config.Config
	stash          *Stash
	scheduler      *scheduler.TimerScheduler
	cancelTick     scheduler.CancelFunc
	serialProvider SerialActorProvider
	serialActor    *actor.PID
	serialDown     bool
	stopping       bool
	controller     *service.DefaultChargeLimitController
	controllerOpts []service.ChargeLimitOption
	eventStream    *eventstream.EventStream
	telemetry      telemetry.Collector

	logger *zap.Logger
}

type chargeLimitTick struct {
}

type respawnSerial struct {
}

const serialRespawnDelay = 1 * time.Second

var errSerialTerminated = errors.New("serial actor terminated")

// NewChargeLimitActorProps builds the charge limit actor props. Its supervisor
// is the one that restarts the serial child, so it backs off instead of
// giving up after a few port failures.
func NewChargeLimitActorProps(config *config.Config, serialProvider SerialActorProvider, eventStream *eventstream.EventStream,
	collector telemetry.Collector, logger *zap.Logger, opts ...service.ChargeLimitOption) *actor.Props {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)
	return actor.PropsFromProducer(func() actor.Actor {
		return NewChargeLimitActor(config, serialProvider, eventStream, collector, logger, opts...)
	}, actor.WithSupervisor(supervisor))
}

func NewChargeLimitActor(config *config.Config, serialProvider SerialActorProvider, eventStream *eventstream.EventStream,
	collector telemetry.Collector, logger *zap.Logger, opts ...service.ChargeLimitOption) *ChargeLimitActor {
	if collector == nil {
		collector = telemetry.Noop()
	}
	act := &ChargeLimitActor{
		config:         config,
		stash:          &Stash{},
		serialProvider: serialProvider,
		controllerOpts: opts,
		eventStream:    eventStream,
		telemetry:      collector,
		logger:         ActorLogger(domain.ACTOR_ID_CHARGE_LIMIT, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CLStartingState{
		actor: act,
	})
	return act
}

func (state *ChargeLimitActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CLStartingState struct {
	ActorState
	actor *ChargeLimitActor
}

func (state CLStartingState) Name() string {
	return "starting"
}

func (state CLStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("charge_limit@starting started")

		serialPID, err := state.actor.startSerialActor(ctx)
		if err != nil {
			panic(err)
		}
		state.actor.serialActor = serialPID

		controller, err := state.actor.newController(ctx)
		if err != nil {
			panic(err)
		}
		state.actor.controller = controller
		if err := controller.Setup(); err != nil {
			panic(err)
		}

		tick := time.Duration(state.actor.config.VEDirect.TickIntervalMillis) * time.Millisecond
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.cancelTick = state.actor.scheduler.SendRepeatedly(tick, tick, ctx.Self(), chargeLimitTick{})

		state.actor.Become(CLRunningState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("charge_limit@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Running state

type CLRunningState struct {
	ActorState
	actor *ChargeLimitActor
}

func (state CLRunningState) Name() string {
	return "running"
}

func (state CLRunningState) Receive(ctx actor.Context) {
	controller := state.actor.controller
	switch msg := ctx.Message().(type) {
	case chargeLimitTick:
		controller.Loop()
	case domain.SerialDataEvent:
		controller.OnReceive(msg.Data)
	case domain.SerialFailureEvent:
		controller.ReportTransportError(msg.Error)
	case *actor.Terminated:
		serial := state.actor.serialActor
		if state.actor.stopping || serial == nil || !msg.Who.Equal(serial) {
			return
		}
		// the supervisor gave up on the port, start a fresh serial actor
		state.actor.logger.Warn("charge_limit@running: serial actor terminated, respawning", zap.Duration("delay", serialRespawnDelay))
		state.actor.serialDown = true
		controller.ReportTransportError(errSerialTerminated)
		state.actor.scheduler.SendOnce(serialRespawnDelay, ctx.Self(), respawnSerial{})
	case respawnSerial:
		if !state.actor.serialDown || state.actor.stopping {
			return
		}
		serialPID, err := state.actor.startSerialActor(ctx)
		if err != nil {
			state.actor.logger.Error("charge_limit@running: could not respawn serial actor", zap.Error(err))
			state.actor.scheduler.SendOnce(serialRespawnDelay, ctx.Self(), respawnSerial{})
			return
		}
		state.actor.serialActor = serialPID
		state.actor.serialDown = false
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("charge_limit@running: ActorHealthRequest")
		snapshot := controller.Snapshot()
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGE_LIMIT,
			Healthy: !snapshot.Faulted(),
			State:   string(snapshot.State),
		})
	case domain.GetChargeLimitRequest:
		state.actor.logger.Debug("charge_limit@running: GetChargeLimitRequest")
		ForRequest(msg).Respond(ctx, domain.GetChargeLimitResponse{
			State:  controller.Snapshot(),
			Limits: controller.Limits(),
		})
	case domain.SetChargeLimitRequest:
		state.actor.logger.Debug("charge_limit@running: SetChargeLimitRequest",
			zap.Float64("value", msg.Value), zap.String("source", msg.Source))
		replyTo := ForRequest(msg).ReplyTo(ctx)
		if replyTo == nil {
			// fire and forget, the entity is reverted on refusal
			controller.Control(msg.Value)
			return
		}
		requested := msg.Value
		err := controller.RequestSetpoint(requested, func(value float64, err error) {
			ctx.Send(replyTo, domain.SetChargeLimitResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
				Requested:          requested,
				Value:              value,
			})
		})
		if err != nil {
			state.actor.logger.Warn("charge_limit@running: setpoint refused", zap.Float64("value", requested), zap.Error(err))
			ctx.Send(replyTo, domain.SetChargeLimitResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
				Requested:          requested,
				Value:              controller.Snapshot().CurrentValue,
			})
		}
	case *actor.Restarting:
		state.actor.stop()
	case *actor.Stopping:
		state.actor.stop()
	default:
		state.actor.logger.Debug("charge_limit@running: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// startSerialActor spawns the port owner. Its restarts are governed by the
// supervisor of this actor's own props.
func (state *ChargeLimitActor) startSerialActor(ctx actor.Context) (*actor.PID, error) {

	serialProps := actor.PropsFromProducer(func() actor.Actor {
		return state.serialProvider()
	})
	serialActorPID, err := ctx.SpawnNamed(serialProps, domain.ACTOR_ID_SERIAL)
	if err != nil {
		return nil, err
	}

	return serialActorPID, nil
}

func (state *ChargeLimitActor) newController(ctx actor.Context) (*service.DefaultChargeLimitController, error) {
	codec, err := vedirect.CodecByName(state.config.VEDirect.ChecksumMode)
	if err != nil {
		return nil, err
	}
	policy := vedirect.RetryPolicy{
		Attempts: state.config.VEDirect.RetryAttempts,
		Timeout:  time.Duration(state.config.VEDirect.RetryTimeoutMillis) * time.Millisecond,
	}
	cfg := ChargeLimitConfigFrom(state.config)
	sink := &chargeLimitEventSink{
		eventStream: state.eventStream,
		telemetry:   state.telemetry,
	}

	opts := []service.ChargeLimitOption{
		service.WithEngineOptions(
			vedirect.WithCodec(codec),
			vedirect.WithRetryPolicy(policy),
			vedirect.WithInstrument(telemetry.EngineInstrument(state.telemetry)),
		),
		service.WithStateSink(sink),
	}
	opts = append(opts, state.controllerOpts...)

	writer := &serialWriter{
		root:  ctx.ActorSystem().Root,
		owner: state,
	}
	return service.NewChargeLimitController(writer, sink, cfg, state.logger, opts...), nil
}

func (state *ChargeLimitActor) stop() {
	state.logger.Debug("charge_limit: stopping", zap.String("state", state.StateName()))
	state.stopping = true
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	if state.controller != nil {
		state.controller.Close()
	}
}

func ChargeLimitConfigFrom(cfg *config.Config) service.ChargeLimitConfig {
	return service.ChargeLimitConfig{
		Register:       vedirect.ChargeCurrentLimit,
		MinValue:       cfg.ChargeLimit.MinValue,
		MaxValue:       cfg.ChargeLimit.MaxValue,
		Step:           cfg.ChargeLimit.Step,
		PollInterval:   time.Duration(cfg.ChargeLimit.PollIntervalMillis) * time.Millisecond,
		FaultThreshold: cfg.ChargeLimit.FaultThreshold,
	}
}

// serialWriter hands encoded frames to the current serial actor. Frames
// written while no serial actor is running are dropped and left to the
// engine retries.
type serialWriter struct {
	root  *actor.RootContext
	owner *ChargeLimitActor
}

func (w *serialWriter) Write(p []byte) (int, error) {
	if w.owner.serialDown || w.owner.serialActor == nil {
		return len(p), nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	w.root.Send(w.owner.serialActor, domain.SerialWriteRequest{Data: data})
	return len(p), nil
}

// chargeLimitEventSink publishes controller output on the event stream.
type chargeLimitEventSink struct {
	eventStream *eventstream.EventStream
	telemetry   telemetry.Collector
}

func (s *chargeLimitEventSink) PublishState(value float64) {
	for _, ev := range events.ChargeLimitValueUpdateEvents(value) {
		s.eventStream.Publish(ev)
	}
}

func (s *chargeLimitEventSink) PublishControllerState(st domain.ChargeLimitState) {
	s.telemetry.SetControllerState(st)
	for _, ev := range events.ChargeLimitStateUpdateEvents(st) {
		s.eventStream.Publish(ev)
	}
}
