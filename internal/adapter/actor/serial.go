package actor

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	serialReadBufferSize = 256
	serialOpenTimeout    = 5 * time.Second
)

// PortOpener opens the byte transport to the charger.
type PortOpener func() (vedirect.Port, error)

func SerialPortOpener(cfg vedirect.SerialConfig) PortOpener {
	return func() (vedirect.Port, error) {
		return vedirect.OpenSerialPort(cfg)
	}
}

// SerialActor owns the serial port. Bytes read are forwarded to the parent
// as SerialDataEvent; read and write failures crash the actor so that the
// supervisor reopens the port.
type SerialActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	opener      PortOpener
	port        vedirect.Port
	readTimeout bool
	closing     atomic.Bool
	logger      *zap.Logger
}

type serialReadFailed struct {
	Error error
}

// NewSerialActor creates the actor. readTimeout tells the reader that an
// empty read is a timeout rather than the end of the stream.
func NewSerialActor(opener PortOpener, readTimeout bool, logger *zap.Logger) *SerialActor {
	act := &SerialActor{
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		opener:      opener,
		readTimeout: readTimeout,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_SERIAL, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *SerialActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *SerialActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("serial@starting started")

		var openErr error
		actorutil.NewBackgroundTask(func() (*vedirect.Port, error) {
			port, err := state.opener()
			if err != nil {
				return nil, err
			}
			return &port, nil
		}).WithTimeout(serialOpenTimeout).OnError(func(err error) {
			openErr = err
		}).OnSuccess(func(port vedirect.Port) {
			state.port = port
		}).Run()
		if openErr != nil {
			state.logger.Error("serial@starting could not open port", zap.Error(openErr))
			ctx.Send(ctx.Parent(), domain.SerialFailureEvent{Error: openErr})
			panic(openErr)
		}

		go state.readLoop(ctx.ActorSystem().Root, ctx.Self(), ctx.Parent(), state.port)

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("serial@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *SerialActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("serial@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SERIAL,
			Healthy: state.port != nil,
			State:   "open",
		})
	case domain.SerialWriteRequest:
		_, err := state.port.Write(msg.Data)
		if msg.ReplyToRef != nil || ctx.Sender() != nil {
			actorutil.ForRequest(msg).Respond(ctx, domain.SerialWriteResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
			})
		}
		if err != nil {
			state.logger.Error("serial@default write failed", zap.Error(err))
			ctx.Send(ctx.Parent(), domain.SerialFailureEvent{Error: err})
			panic(err)
		}
	case serialReadFailed:
		state.logger.Error("serial@default read failed", zap.Error(msg.Error))
		ctx.Send(ctx.Parent(), domain.SerialFailureEvent{Error: msg.Error})
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("serial@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// readLoop runs on its own goroutine and must not touch the actor context.
func (state *SerialActor) readLoop(root *actor.RootContext, self, parent *actor.PID, port vedirect.Port) {
	buf := make([]byte, serialReadBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			root.Send(parent, domain.SerialDataEvent{Data: data})
		}
		if state.closing.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) && state.readTimeout {
				continue
			}
			root.Send(self, serialReadFailed{Error: err})
			return
		}
	}
}

func (state *SerialActor) stop() {
	if state.closing.Swap(true) {
		return
	}
	if state.port != nil {
		state.logger.Debug("serial: close port")
		if err := state.port.Close(); err != nil {
			state.logger.Warn("serial: close port failed", zap.Error(err))
		}
	}
}
