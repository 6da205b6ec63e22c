package actor

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/util"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeChargeLimitActor answers like the charge limit actor, accepting any value.
func fakeChargeLimitActor(value float64) actor.ReceiveFunc {
	return func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case domain.GetChargeLimitRequest:
			ctx.Respond(domain.GetChargeLimitResponse{
				State: domain.ChargeLimitState{
					State:        domain.CONTROLLER_STATE_POLLING,
					CurrentValue: value,
					HasValue:     true,
				},
			})
		case domain.SetChargeLimitRequest:
			value = msg.Value
			ctx.Respond(domain.SetChargeLimitResponse{Requested: msg.Value, Value: msg.Value})
		}
	}
}

func TestModbusActorMirrorsChargeLimit(t *testing.T) {

	assert := assert.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := fmt.Sprintf("tcp://%s", l.Addr().String())
	require.NoError(t, l.Close())

	cfg := util.LoadTestConfig()
	cfg.Modbus.Enable = true
	cfg.Modbus.URL = url

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	chargeLimit := context.Spawn(actor.PropsFromFunc(fakeChargeLimitActor(30)))

	props := actor.PropsFromProducer(func() actor.Actor { return NewModbusActor(&cfg, chargeLimit, logger) })
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.True(result.(domain.ActorHealthResponse).Healthy)

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     url,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, client.Open())
	defer client.Close()
	require.NoError(t, client.SetUnitId(cfg.Modbus.UnitId))

	raw, err := client.ReadRegister(cfg.Modbus.Register, modbus.HOLDING_REGISTER)
	require.NoError(t, err)
	assert.Equal(uint16(300), raw)

	require.NoError(t, client.WriteRegister(cfg.Modbus.Register, 125))
	raw, err = client.ReadRegister(cfg.Modbus.Register, modbus.HOLDING_REGISTER)
	require.NoError(t, err)
	assert.Equal(uint16(125), raw)

	context.Stop(pid)

	time.Sleep(200 * time.Millisecond)

	as.Shutdown()
}
