package domain

import "fmt"

// ChargeLimitRequest

type ChargeLimitRequest interface {
	ActorRequest
	ChargeLimitCommand() string
}

type ChargeLimitRequestMixIn struct {
	ActorRequestMixIn
}

func (r ChargeLimitRequestMixIn) ChargeLimitCommand() string {
	return fmt.Sprintf("%T", r)
}

// ChargeLimit commands

// SetChargeLimitRequest is answered once the charger confirms (or refuses)
// the new value.
type SetChargeLimitRequest struct {
	ChargeLimitRequestMixIn
	Value  float64
	Source string
}

type SetChargeLimitResponse struct {
	ActorResponseMixIn
	Requested float64
	Value     float64
}

type GetChargeLimitRequest struct {
	ChargeLimitRequestMixIn
}

type GetChargeLimitResponse struct {
	ActorResponseMixIn
	State  ChargeLimitState
	Limits ChargeLimitLimits
}

// ensure interface compliance
var _ ChargeLimitRequest = (*SetChargeLimitRequest)(nil)
var _ ChargeLimitRequest = (*GetChargeLimitRequest)(nil)
