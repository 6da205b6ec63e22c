package port

import (
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
)

// Component is driven by a host loop: Setup once, then Loop repeatedly.
type Component interface {
	Setup() error
	Loop()
}

// UARTDevice receives the bytes read from its serial port.
type UARTDevice interface {
	OnReceive(data []byte)
}

// NumericOutput accepts user setpoints.
type NumericOutput interface {
	Control(value float64)
}

// NumberSink publishes the value of a numeric entity.
type NumberSink interface {
	PublishState(value float64)
}

type ControllerStateSink interface {
	PublishControllerState(state domain.ChargeLimitState)
}

type ChargeLimitController interface {
	Component
	UARTDevice
	NumericOutput
	RequestSetpoint(value float64, done func(float64, error)) error
	ReportTransportError(err error)
	Snapshot() domain.ChargeLimitState
	Limits() domain.ChargeLimitLimits
	Close()
}
