package actor

import (
	"testing"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryRequest(t *testing.T) {
	cfg := util.LoadTestConfig()
	req := DiscoveryRequest(&cfg, domain.ChargeLimitLimits{Min: 0, Max: 100, Step: 0.1, Unit: "A"})

	require.Len(t, req.InputNumbers, 1)
	number := req.InputNumbers[0]
	assert.Equal(t, domain.INPUT_NUMBER_ID_CHARGE_CURRENT_LIMIT, number.Id)
	assert.Equal(t, 100.0, number.Max)
	assert.Equal(t, 0.1, number.Step)
	assert.Equal(t, "A", number.UnitOfMeasurement)

	bridge := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	assert.Equal(t, bridge.Id, number.Device.ViaDevice)

	ids := make([]string, 0, len(req.Sensors))
	for _, s := range req.Sensors {
		ids = append(ids, s.Id)
	}
	assert.ElementsMatch(t, []string{
		domain.SENSOR_ID_BRIDGE_STATE,
		domain.SENSOR_ID_CHARGE_LIMIT_STATE,
		domain.SENSOR_ID_CHARGE_LIMIT_FAULT,
	}, ids)
}
