package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := &config.Config{
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "vedirect",
			HADiscoveryTopic: "homeassistant",
		},
	}
	return CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)
}

func TestInputNumberCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/number/number_name/set"
	r := inputNumberCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "number_name", "number_id extract")
}

func TestInputNumberCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/number/number_name/state"
	r := inputNumberCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestParseInputNumberCommand(t *testing.T) {

	r := inputNumberCommandExtractor("vedirect")

	cmd, err := parseInputNumberCommand(r, "vedirect/number/charge_current_limit/set", []byte(" 30.5\n"))
	require.NoError(t, err)
	assert.Equal(t, "charge_current_limit", cmd.DeviceId)
	assert.Equal(t, "number", cmd.Command)
	assert.Equal(t, "30.5", cmd.Payload)

	_, err = parseInputNumberCommand(r, "vedirect/number/charge_current_limit/set", []byte("max"))
	assert.Error(t, err, "payload must be a number")

	_, err = parseInputNumberCommand(r, "vedirect/number/charge_current_limit/state", []byte("30"))
	assert.Error(t, err, "state topic is not a command")
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)
	c := testClient()

	assert.Equal("vedirect/bridge/state", c.BridgeStateTopic())
	assert.Equal("vedirect/number/charge_current_limit/state", c.InputNumberStateTopic(domain.INPUT_NUMBER_ID_CHARGE_CURRENT_LIMIT))
	assert.Equal("vedirect/number/charge_current_limit/set", c.InputNumberCommandTopic(domain.INPUT_NUMBER_ID_CHARGE_CURRENT_LIMIT))
	assert.Equal("vedirect/binary_sensor/charge_limit_fault/state", c.BinarySensorStateTopic(domain.SENSOR_ID_CHARGE_LIMIT_FAULT))
	assert.Equal("vedirect/number/+/set", c.commandTopic())
}

func TestInputNumberDiscoveryMessage(t *testing.T) {

	c := testClient()
	charger := domain.ChargerDevice("/dev/ttyUSB0")
	numbers := domain.ChargeLimitInputNumbers(charger, domain.ChargeLimitLimits{Min: 0, Max: 100, Step: 0.1, Unit: "A"})
	require.Len(t, numbers, 1)

	msg := GenericInputNumberToHADiscoveryMessage(c, numbers[0])
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, 0.0, decoded["min"], "zero minimum is kept")
	assert.Equal(t, 100.0, decoded["max"])
	assert.Equal(t, 0.1, decoded["step"])
	assert.Equal(t, "A", decoded["unit_of_measurement"])
	assert.Equal(t, "vedirect/number/charge_current_limit/set", decoded["command_topic"])
	assert.Equal(t, "vedirect/bridge/state", decoded["availability_topic"])

	topic := HADiscoveryInputNumberTopic(c.HADiscoveryPrefix(), numbers[0])
	assert.Equal(t, "homeassistant/number/"+charger.Id+"/charge_current_limit/config", topic)
}

func TestBinarySensorDiscoveryPayloads(t *testing.T) {

	c := testClient()
	charger := domain.ChargerDevice("/dev/ttyUSB0")
	sensors := domain.ChargeLimitSensors(charger)
	require.Len(t, sensors, 2)

	fault := GenericSensorToHADiscoveryMessage(c, sensors[1])
	assert.Equal(t, MQTT_PAYLOAD_ON, fault.PayloadOn)
	assert.Equal(t, MQTT_PAYLOAD_OFF, fault.PayloadOff)
	assert.Equal(t, "vedirect/binary_sensor/charge_limit_fault/state", fault.StateTopic)

	bridge := GenericSensorToHADiscoveryMessage(c, domain.BridgeSensors(domain.BridgeDevice("vedirect"))[0])
	assert.Equal(t, MQTT_PAYLOAD_ONLINE, bridge.PayloadOn)
	assert.Equal(t, "vedirect/bridge/state", bridge.StateTopic)
}
