package modbusmirror

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChargeLimitClient struct {
	state  domain.ChargeLimitState
	getErr error
	setErr error
	writes []float64
}

func (c *fakeChargeLimitClient) GetChargeLimit() (domain.GetChargeLimitResponse, error) {
	return domain.GetChargeLimitResponse{State: c.state}, c.getErr
}

func (c *fakeChargeLimitClient) SetChargeLimit(value float64) (domain.SetChargeLimitResponse, error) {
	c.writes = append(c.writes, value)
	if c.setErr != nil {
		return domain.SetChargeLimitResponse{ActorResponseMixIn: domain.ErrorResponse(c.setErr)}, nil
	}
	c.state.CurrentValue = value
	return domain.SetChargeLimitResponse{Requested: value, Value: value}, nil
}

func newTestHandler(client ChargeLimitClient) *Handler {
	return NewHandler(1, 0x2015, client, zap.Must(zap.NewDevelopment()))
}

func TestHandlerReadHoldingRegister(t *testing.T) {
	client := &fakeChargeLimitClient{state: domain.ChargeLimitState{CurrentValue: 30, HasValue: true}}
	h := newTestHandler(client)

	res, err := h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 1, Addr: 0x2015, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint16{300}, res)

	res, err = h.HandleInputRegisters(&modbus.InputRegistersRequest{UnitId: 1, Addr: 0x2015, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint16{300}, res)
}

func TestHandlerRejectsOtherAddresses(t *testing.T) {
	h := newTestHandler(&fakeChargeLimitClient{state: domain.ChargeLimitState{HasValue: true}})

	_, err := h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 1, Addr: 0x2016, Quantity: 1})
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)

	_, err = h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 1, Addr: 0x2015, Quantity: 2})
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)

	_, err = h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 7, Addr: 0x2015, Quantity: 1})
	assert.ErrorIs(t, err, modbus.ErrGWTargetFailedToRespond)

	_, err = h.HandleCoils(&modbus.CoilsRequest{UnitId: 1, Addr: 0x2015, Quantity: 1})
	assert.ErrorIs(t, err, modbus.ErrIllegalFunction)
}

func TestHandlerReadWithoutValue(t *testing.T) {
	h := newTestHandler(&fakeChargeLimitClient{})
	_, err := h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 1, Addr: 0x2015, Quantity: 1})
	assert.ErrorIs(t, err, modbus.ErrServerDeviceBusy)
}

func TestHandlerWrite(t *testing.T) {
	client := &fakeChargeLimitClient{state: domain.ChargeLimitState{HasValue: true}}
	h := newTestHandler(client)

	_, err := h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 1, Addr: 0x2015, Quantity: 1, IsWrite: true, Args: []uint16{123}})
	require.NoError(t, err)
	require.Len(t, client.writes, 1)
	assert.InDelta(t, 12.3, client.writes[0], 1e-9)
}

func TestHandlerWriteErrors(t *testing.T) {
	client := &fakeChargeLimitClient{setErr: &vedirect.OutOfRangeError{Value: 150, Min: 0, Max: 100}}
	h := newTestHandler(client)
	req := &modbus.HoldingRegistersRequest{UnitId: 1, Addr: 0x2015, Quantity: 1, IsWrite: true, Args: []uint16{1500}}

	_, err := h.HandleHoldingRegisters(req)
	assert.ErrorIs(t, err, modbus.ErrIllegalDataValue)

	client.setErr = &vedirect.DeviceTimeoutError{Command: vedirect.CommandSet, Address: 0x2015, Attempts: 3}
	_, err = h.HandleHoldingRegisters(req)
	assert.ErrorIs(t, err, modbus.ErrServerDeviceFailure)

	client.setErr = domain.ErrFaulted
	_, err = h.HandleHoldingRegisters(req)
	assert.ErrorIs(t, err, modbus.ErrServerDeviceFailure)
}

func freeTCPURL(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return fmt.Sprintf("tcp://%s", addr)
}

func TestServerRoundTrip(t *testing.T) {
	client := &fakeChargeLimitClient{state: domain.ChargeLimitState{CurrentValue: 30, HasValue: true}}
	url := freeTCPURL(t)

	server, err := NewServer(url, newTestHandler(client))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Stop()

	mbClient, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     url,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, mbClient.Open())
	defer mbClient.Close()
	require.NoError(t, mbClient.SetUnitId(1))

	raw, err := mbClient.ReadRegister(0x2015, modbus.HOLDING_REGISTER)
	require.NoError(t, err)
	assert.Equal(t, uint16(300), raw)

	require.NoError(t, mbClient.WriteRegister(0x2015, 455))
	raw, err = mbClient.ReadRegister(0x2015, modbus.HOLDING_REGISTER)
	require.NoError(t, err)
	assert.Equal(t, uint16(455), raw)

	_, err = mbClient.ReadRegister(0x2016, modbus.HOLDING_REGISTER)
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)
}
