package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type HADiscoveryActor struct {
	config           *config.Config
	behavior         actor.Behavior
	stash            *actorutil.Stash
	chargeLimitActor *actor.PID
	mqttActor        *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, chargeLimitActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:           config,
		chargeLimitActor: chargeLimitActor,
		mqttActor:        mqttActor,
		behavior:         actor.NewBehavior(),
		stash:            &actorutil.Stash{},
		logger:           actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		// limits come from the running controller
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargeLimitActor, domain.GetChargeLimitRequest{}, 2*time.Second), func(err error) any {
			return domain.GetChargeLimitResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
			}
		})
		state.behavior.Become(state.WaitingLimitsReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingLimitsReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetChargeLimitResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@limits: GetChargeLimitResponse", zap.Any("limits", msg.Limits))

		ctx.Send(state.mqttActor, DiscoveryRequest(state.config, msg.Limits))
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@limits: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

// DiscoveryRequest builds the discovery entities: the bridge, with the
// charger attached through it.
func DiscoveryRequest(cfg *config.Config, limits domain.ChargeLimitLimits) domain.PublishDiscoveryRequest {
	var sensors []domain.GenericSensor
	var inputNumbers []domain.GenericInputNumber

	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	chargerDevice := domain.ChargerDevice(cfg.Serial.Device)
	chargerDevice.ViaDevice = bridgeDevice.Id
	inputNumbers = append(inputNumbers, domain.ChargeLimitInputNumbers(chargerDevice, limits)...)

	chargerSensors := domain.ChargeLimitSensors(domain.IdDevice(chargerDevice))
	sensors = append(sensors, chargerSensors...)

	return domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		InputNumbers: inputNumbers,
	}
}
