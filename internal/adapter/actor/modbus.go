package actor

import (
	"fmt"

	"github.com/berfenger/vedirect2mqtt/internal/adapter/modbusmirror"
	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ModbusActor runs the Modbus TCP mirror of the charge current limit.
// Requests from Modbus clients are forwarded to chargeLimitActor.
type ModbusActor struct {
	config           *config.Config
	behavior         actor.Behavior
	chargeLimitActor *actor.PID
	server           *modbusmirror.Server
	logger           *zap.Logger
}

func NewModbusActor(config *config.Config, chargeLimitActor *actor.PID, logger *zap.Logger) *ModbusActor {
	act := &ModbusActor{
		config:           config,
		chargeLimitActor: chargeLimitActor,
		behavior:         actor.NewBehavior(),
		logger:           actorutil.ActorLogger(domain.ACTOR_ID_MODBUS, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ModbusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ModbusActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("modbus@starting started", zap.String("url", state.config.Modbus.URL))

		timeout := state.config.RequestTimeout()
		client := NewChargeLimitClient(ctx.ActorSystem().Root, state.chargeLimitActor, timeout)
		handler := modbusmirror.NewHandler(state.config.Modbus.UnitId, state.config.Modbus.Register, client, state.logger)

		server, err := modbusmirror.NewServer(state.config.Modbus.URL, handler)
		if err != nil {
			panic(err)
		}
		if err := server.Start(); err != nil {
			panic(err)
		}
		state.server = server
		state.behavior.Become(state.DefaultReceive)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("modbus@starting: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ModbusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("modbus@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MODBUS,
			Healthy: true,
			State:   "serving",
		})
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("modbus@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ModbusActor) stop() {
	if state.server != nil {
		state.logger.Debug("modbus: stop server")
		if err := state.server.Stop(); err != nil {
			state.logger.Warn("modbus: stop server failed", zap.Error(err))
		}
		state.server = nil
	}
}
