package telemetry

import (
	"errors"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures VE.Direct link and controller events.
//
// Hooks run inline on the actor that owns the engine, so implementations
// must not block.
type Collector interface {
	IncFrameSent(cmd vedirect.Command)
	IncFrameReceived(cmd vedirect.Command)
	IncCodecError()
	ObserveTransaction(cmd vedirect.Command, elapsed time.Duration, err error)
	SetControllerState(state domain.ChargeLimitState)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncFrameSent(vedirect.Command)                             {}
func (noopCollector) IncFrameReceived(vedirect.Command)                         {}
func (noopCollector) IncCodecError()                                            {}
func (noopCollector) ObserveTransaction(vedirect.Command, time.Duration, error) {}
func (noopCollector) SetControllerState(domain.ChargeLimitState)                {}

var controllerStates = []domain.ControllerState{
	domain.CONTROLLER_STATE_UNINITIALIZED,
	domain.CONTROLLER_STATE_POLLING,
	domain.CONTROLLER_STATE_SETTING,
	domain.CONTROLLER_STATE_FAULTED,
}

// PrometheusCollector exposes link and controller metrics via Prometheus.
type PrometheusCollector struct {
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	codecErrors      prometheus.Counter
	transactions     *prometheus.CounterVec
	transactionTime  *prometheus.HistogramVec
	chargeLimit      prometheus.Gauge
	controllerState  *prometheus.GaugeVec
	consecutiveFails prometheus.Gauge
}

// NewPrometheusCollector registers the metrics with reg, reusing collectors
// that are already registered.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusCollector{}
	var err error
	if p.framesSent, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vedirect_frames_sent_total",
		Help: "Number of HEX frames written to the serial link per command.",
	}, []string{"command"})); err != nil {
		return nil, err
	}
	if p.framesReceived, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vedirect_frames_received_total",
		Help: "Number of valid HEX frames read from the serial link per command.",
	}, []string{"command"})); err != nil {
		return nil, err
	}
	if p.codecErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vedirect_codec_errors_total",
		Help: "Number of received frames discarded for checksum or format errors.",
	})); err != nil {
		return nil, err
	}
	if p.transactions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vedirect_transactions_total",
		Help: "Number of completed register transactions per command and result.",
	}, []string{"command", "result"})); err != nil {
		return nil, err
	}
	if p.transactionTime, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vedirect_transaction_duration_seconds",
		Help:    "Time from first send to completion of a register transaction.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2},
	}, []string{"command"})); err != nil {
		return nil, err
	}
	if p.chargeLimit, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vedirect_charge_current_limit_amperes",
		Help: "Last charge current limit read from the charger.",
	})); err != nil {
		return nil, err
	}
	if p.controllerState, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vedirect_charge_limit_controller_state",
		Help: "Current state of the charge limit controller (1 for the active state).",
	}, []string{"state"})); err != nil {
		return nil, err
	}
	if p.consecutiveFails, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vedirect_charge_limit_consecutive_failures",
		Help: "Consecutive failed charger transactions.",
	})); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (p *PrometheusCollector) IncFrameSent(cmd vedirect.Command) {
	p.framesSent.WithLabelValues(cmd.String()).Inc()
}

func (p *PrometheusCollector) IncFrameReceived(cmd vedirect.Command) {
	p.framesReceived.WithLabelValues(cmd.String()).Inc()
}

func (p *PrometheusCollector) IncCodecError() {
	p.codecErrors.Inc()
}

func (p *PrometheusCollector) ObserveTransaction(cmd vedirect.Command, elapsed time.Duration, err error) {
	p.transactions.WithLabelValues(cmd.String(), resultLabel(err)).Inc()
	p.transactionTime.WithLabelValues(cmd.String()).Observe(elapsed.Seconds())
}

func (p *PrometheusCollector) SetControllerState(state domain.ChargeLimitState) {
	if state.HasValue {
		p.chargeLimit.Set(state.CurrentValue)
	}
	for _, s := range controllerStates {
		v := 0.0
		if s == state.State {
			v = 1
		}
		p.controllerState.WithLabelValues(string(s)).Set(v)
	}
	p.consecutiveFails.Set(float64(state.ConsecutiveFailures))
}

func resultLabel(err error) string {
	var timeout *vedirect.DeviceTimeoutError
	var rejected *vedirect.RejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.Is(err, vedirect.ErrClosed):
		return "cancelled"
	default:
		return "error"
	}
}

// EngineInstrument adapts c to the engine's event hooks.
func EngineInstrument(c Collector) vedirect.Instrument {
	return vedirect.Instrument{
		FrameSent:     func(f vedirect.Frame) { c.IncFrameSent(f.Command) },
		FrameReceived: func(f vedirect.Frame) { c.IncFrameReceived(f.Command) },
		CodecError:    func(error) { c.IncCodecError() },
		TransactionDone: func(cmd vedirect.Command, _ vedirect.RegisterAddress, elapsed time.Duration, err error) {
			c.ObserveTransaction(cmd, elapsed, err)
		},
	}
}
