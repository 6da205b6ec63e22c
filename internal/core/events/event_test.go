package events

import (
	"testing"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestChargeLimitStateUpdateEvents(t *testing.T) {

	assert := assert.New(t)

	events := ChargeLimitStateUpdateEvents(domain.ChargeLimitState{State: domain.CONTROLLER_STATE_FAULTED})
	assert.Len(events, 2)

	text, ok := events[0].(domain.TextSensorUpdateEvent)
	assert.True(ok)
	assert.Equal("faulted", text.Value)
	assert.Equal(domain.SENSOR_ID_CHARGE_LIMIT_STATE, text.SensorId())

	fault, ok := events[1].(domain.BinarySensorUpdateEvent)
	assert.True(ok)
	assert.True(fault.Value)
}

func TestChargeLimitValueUpdateEvents(t *testing.T) {

	assert := assert.New(t)

	events := ChargeLimitValueUpdateEvents(30)
	assert.Len(events, 1)
	number, ok := events[0].(domain.InputNumberSensorUpdateEvent)
	assert.True(ok)
	assert.Equal(30.0, number.Value)
	assert.Equal(uint(1), number.Decimals)
	assert.Equal(domain.INPUT_NUMBER_ID_CHARGE_CURRENT_LIMIT, number.SensorId())
}
