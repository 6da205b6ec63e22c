package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE                    = "bridge"
	SENSOR_ID_CHARGE_LIMIT_STATE              = "charge_limit_state"
	SENSOR_ID_CHARGE_LIMIT_FAULT              = "charge_limit_fault"
	INPUT_NUMBER_ID_CHARGE_CURRENT_LIMIT      = "charge_current_limit"
	STATE_CLASS_MEASUREMENT                   = "measurement"
	DEVICE_CLASS_CURRENT                      = "current"
	DEVICE_CLASS_CONNECTIVITY                 = "connectivity"
	DEVICE_CLASS_PROBLEM                      = "problem"
	ENTITY_CLASS_DIAGNOSTIC                   = "diagnostic"
	ENTITY_CLASS_CONFIG                       = "config"
	SENSOR_TYPE_SENSOR                        = "sensor"
	SENSOR_TYPE_BINARY                        = "binary_sensor"
	INPUT_NUMBER_MODE_BOX                     = "box"
	INPUT_NUMBER_MODE_SLIDER                  = "slider"
	CHARGE_CURRENT_LIMIT_DECIMALS        uint = 1
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("vedirect_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "VE.Direct bridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("VE.Direct %s", md5HashShort(baseTopic)),
	}
}

// ChargerDevice identifies the charger by the serial port it hangs off.
func ChargerDevice(serialDevice string) Device {
	return Device{
		Id:           fmt.Sprintf("ved_charger_%s", md5HashShort(serialDevice)),
		Manufacturer: "Victron Energy",
		Model:        "VE.Direct charger",
		Name:         fmt.Sprintf("Victron charger %s", md5HashShort(serialDevice)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connectivity
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func ChargeLimitSensors(chargerDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Controller state
	sensors = append(sensors, GenericSensor{
		Device:         chargerDevice,
		Id:             SENSOR_ID_CHARGE_LIMIT_STATE,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Charge limit controller state",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		Icon:           "mdi:state-machine",
		UniqueId:       uniqueId(chargerDevice.Id, SENSOR_ID_CHARGE_LIMIT_STATE),
	})

	// Fault
	sensors = append(sensors, GenericSensor{
		Device:         chargerDevice,
		Id:             SENSOR_ID_CHARGE_LIMIT_FAULT,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Charger communication fault",
		DeviceClass:    DEVICE_CLASS_PROBLEM,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(chargerDevice.Id, SENSOR_ID_CHARGE_LIMIT_FAULT),
	})

	return sensors
}

func ChargeLimitInputNumbers(chargerDevice Device, limits ChargeLimitLimits) []GenericInputNumber {

	var inputNumbers []GenericInputNumber

	// Charge current limit
	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:            chargerDevice,
		Id:                INPUT_NUMBER_ID_CHARGE_CURRENT_LIMIT,
		Name:              "Charge current limit",
		UniqueId:          uniqueId(chargerDevice.Id, INPUT_NUMBER_ID_CHARGE_CURRENT_LIMIT),
		Icon:              "mdi:current-dc",
		UnitOfMeasurement: limits.Unit,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		Min:               limits.Min,
		Max:               limits.Max,
		Step:              limits.Step,
		Mode:              INPUT_NUMBER_MODE_BOX,
		InitialValue:      limits.Min,
	})

	return inputNumbers
}

func uniqueId(deviceId string, sensorId string) string {
	return fmt.Sprintf("%s_%s", deviceId, sensorId)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[:6]
}
