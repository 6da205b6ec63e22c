package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
)

// ChargeLimitClient performs blocking charge limit requests against an actor
// (the master or the charge limit actor itself).
type ChargeLimitClient struct {
	root    *actor.RootContext
	pid     *actor.PID
	timeout time.Duration
}

func NewChargeLimitClient(root *actor.RootContext, pid *actor.PID, timeout time.Duration) *ChargeLimitClient {
	return &ChargeLimitClient{
		root:    root,
		pid:     pid,
		timeout: timeout,
	}
}

func (c *ChargeLimitClient) GetChargeLimit() (domain.GetChargeLimitResponse, error) {
	res, err := c.root.RequestFuture(c.pid, domain.GetChargeLimitRequest{}, c.timeout).Result()
	if err != nil {
		return domain.GetChargeLimitResponse{}, err
	}
	resp, ok := res.(domain.GetChargeLimitResponse)
	if !ok {
		return domain.GetChargeLimitResponse{}, fmt.Errorf("unexpected response %T", res)
	}
	return resp, nil
}

func (c *ChargeLimitClient) SetChargeLimit(value float64) (domain.SetChargeLimitResponse, error) {
	return c.SetChargeLimitFrom(value, "api")
}

func (c *ChargeLimitClient) SetChargeLimitFrom(value float64, source string) (domain.SetChargeLimitResponse, error) {
	res, err := c.root.RequestFuture(c.pid, domain.SetChargeLimitRequest{Value: value, Source: source}, c.timeout).Result()
	if err != nil {
		return domain.SetChargeLimitResponse{}, err
	}
	resp, ok := res.(domain.SetChargeLimitResponse)
	if !ok {
		return domain.SetChargeLimitResponse{}, fmt.Errorf("unexpected response %T", res)
	}
	return resp, nil
}
