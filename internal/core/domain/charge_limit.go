package domain

import (
	"errors"
	"time"
)

type ControllerState string

const (
	CONTROLLER_STATE_UNINITIALIZED ControllerState = "uninitialized"
	CONTROLLER_STATE_POLLING       ControllerState = "polling"
	CONTROLLER_STATE_SETTING       ControllerState = "setting"
	CONTROLLER_STATE_FAULTED       ControllerState = "faulted"
)

var (
	// ErrFaulted is returned for setpoints while the charger does not answer.
	ErrFaulted = errors.New("charge limit controller is faulted")
	// ErrNotReady is returned for setpoints before the first poll was issued.
	ErrNotReady = errors.New("charge limit controller is not initialized")
)

type ChargeLimitState struct {
	State               ControllerState
	CurrentValue        float64
	HasValue            bool
	PendingSetpoint     *float64
	LastPollTime        time.Time
	ConsecutiveFailures int
}

func (s ChargeLimitState) Faulted() bool {
	return s.State == CONTROLLER_STATE_FAULTED
}

// ChargeLimitLimits are the setpoint bounds advertised to clients.
type ChargeLimitLimits struct {
	Min  float64
	Max  float64
	Step float64
	Unit string
}
