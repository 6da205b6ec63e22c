package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type chargeLimitView struct {
	Value               *float64 `json:"value"`
	State               string   `json:"state"`
	PendingSetpoint     *float64 `json:"pending_setpoint,omitempty"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	LastPoll            *string  `json:"last_poll,omitempty"`
	Min                 float64  `json:"min"`
	Max                 float64  `json:"max"`
	Step                float64  `json:"step"`
	Unit                string   `json:"unit"`
}

type setChargeLimitBody struct {
	Value *float64 `json:"value"`
}

type setChargeLimitView struct {
	Requested float64 `json:"requested"`
	Value     float64 `json:"value"`
}

type errorView struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/v1")
	api.GET("/charge_limit", s.GetChargeLimitHandler)
	api.PUT("/charge_limit", s.SetChargeLimitHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) GetChargeLimitHandler(c echo.Context) error {
	resp, err := s.chargeLimit.GetChargeLimit()
	if err == nil {
		err = resp.GetResponseError()
	}
	if err != nil {
		return c.JSON(chargeLimitErrorStatus(err), errorView{Error: err.Error()})
	}

	view := chargeLimitView{
		State:               string(resp.State.State),
		PendingSetpoint:     resp.State.PendingSetpoint,
		ConsecutiveFailures: resp.State.ConsecutiveFailures,
		Min:                 resp.Limits.Min,
		Max:                 resp.Limits.Max,
		Step:                resp.Limits.Step,
		Unit:                resp.Limits.Unit,
	}
	if resp.State.HasValue {
		value := resp.State.CurrentValue
		view.Value = &value
	}
	if !resp.State.LastPollTime.IsZero() {
		lastPoll := resp.State.LastPollTime.Format(time.RFC3339)
		view.LastPoll = &lastPoll
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) SetChargeLimitHandler(c echo.Context) error {
	var body setChargeLimitBody
	if err := c.Bind(&body); err != nil || body.Value == nil {
		return c.JSON(http.StatusBadRequest, errorView{Error: "body must be {\"value\": <amps>}"})
	}

	resp, err := s.chargeLimit.SetChargeLimit(*body.Value)
	if err == nil {
		err = resp.GetResponseError()
	}
	if err != nil {
		return c.JSON(chargeLimitErrorStatus(err), errorView{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, setChargeLimitView{
		Requested: resp.Requested,
		Value:     resp.Value,
	})
}

func chargeLimitErrorStatus(err error) int {
	var outOfRange *vedirect.OutOfRangeError
	var deviceTimeout *vedirect.DeviceTimeoutError
	switch {
	case errors.As(err, &outOfRange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFaulted), errors.Is(err, domain.ErrNotReady), errors.Is(err, vedirect.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &deviceTimeout), errors.Is(err, actor.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, vedirect.ErrSetRejected), errors.Is(err, vedirect.ErrGetRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
