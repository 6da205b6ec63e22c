package events

import (
	. "github.com/berfenger/vedirect2mqtt/internal/core/domain"
)

func ChargeLimitValueUpdateEvents(value float64) []any {
	var events []any
	events = append(events, InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_CHARGE_CURRENT_LIMIT,
		},
		Value:    value,
		Decimals: CHARGE_CURRENT_LIMIT_DECIMALS,
	})
	return events
}

func ChargeLimitStateUpdateEvents(state ChargeLimitState) []any {
	var events []any

	// Controller state
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGE_LIMIT_STATE,
		},
		Value: string(state.State),
	})
	// Fault
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGE_LIMIT_FAULT,
		},
		Value: state.Faulted(),
	})

	return events
}
