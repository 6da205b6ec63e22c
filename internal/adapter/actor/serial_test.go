package actor

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// spawnSerialUnderParent starts a serial actor as the child of a test parent that
// forwards everything the child sends to its parent.
func spawnSerialUnderParent(t *testing.T, opener PortOpener) (*actor.RootContext, chan any, chan *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)

	received := make(chan any, 64)
	children := make(chan *actor.PID, 1)

	parent := actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			props := actor.PropsFromProducer(func() actor.Actor {
				return NewSerialActor(opener, false, logger)
			})
			children <- ctx.Spawn(props)
		case domain.SerialDataEvent, domain.SerialFailureEvent:
			select {
			case received <- msg:
			default:
			}
		}
	}, actor.WithSupervisor(actor.NewOneForOneStrategy(0, time.Second, func(any) actor.Directive {
		return actor.StopDirective
	})))
	as.Root.Spawn(parent)
	return as.Root, received, children
}

func TestSerialActorForwardsReplies(t *testing.T) {
	dev := vedirect.NewChargerSimulator(vedirect.VictronCodec, 30)
	root, received, children := spawnSerialUnderParent(t, func() (vedirect.Port, error) {
		return dev, nil
	})
	serialPID := <-children

	res, err := root.RequestFuture(serialPID, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health := res.(domain.ActorHealthResponse)
	assert.True(t, health.Healthy)

	line, err := vedirect.VictronCodec.Encode(vedirect.GetFrame(vedirect.ChargeCurrentLimit.Address))
	require.NoError(t, err)
	res, err = root.RequestFuture(serialPID, domain.SerialWriteRequest{Data: line}, time.Second).Result()
	require.NoError(t, err)
	assert.False(t, res.(domain.SerialWriteResponse).HasResponseError())

	want, err := vedirect.VictronCodec.Encode(vedirect.Frame{
		Command: vedirect.ResponseGet,
		Address: vedirect.ChargeCurrentLimit.Address,
		Payload: []byte{0x2C, 0x01},
	})
	require.NoError(t, err)

	var got []byte
	deadline := time.After(2 * time.Second)
	for !bytes.Equal(got, want) {
		select {
		case msg := <-received:
			data, ok := msg.(domain.SerialDataEvent)
			require.True(t, ok, "unexpected %T", msg)
			got = append(got, data.Data...)
		case <-deadline:
			t.Fatalf("reply not forwarded, got %q", got)
		}
	}
}

func TestSerialActorReportsOpenFailure(t *testing.T) {
	openErr := errors.New("no such device")
	_, received, _ := spawnSerialUnderParent(t, func() (vedirect.Port, error) {
		return nil, openErr
	})

	select {
	case msg := <-received:
		failure, ok := msg.(domain.SerialFailureEvent)
		require.True(t, ok)
		assert.ErrorIs(t, failure.Error, openErr)
	case <-time.After(2 * time.Second):
		t.Fatal("open failure not reported")
	}
}

func TestSerialActorReportsReadFailure(t *testing.T) {
	dev := vedirect.NewSimulatedDevice(vedirect.VictronCodec)
	_, received, _ := spawnSerialUnderParent(t, func() (vedirect.Port, error) {
		return dev, nil
	})

	// the reader sees EOF once the port goes away underneath it
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, dev.Close())

	select {
	case msg := <-received:
		_, ok := msg.(domain.SerialFailureEvent)
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("read failure not reported")
	}
}
