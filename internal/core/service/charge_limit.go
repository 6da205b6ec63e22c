package service

import (
	"errors"
	"io"
	"math"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/core/port"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"go.uber.org/zap"
)

type ChargeLimitConfig struct {
	Register       vedirect.Register
	MinValue       float64
	MaxValue       float64
	Step           float64
	PollInterval   time.Duration
	FaultThreshold int
}

func DefaultChargeLimitConfig() ChargeLimitConfig {
	return ChargeLimitConfig{
		Register:       vedirect.ChargeCurrentLimit,
		MinValue:       0,
		MaxValue:       100,
		Step:           0.1,
		PollInterval:   5 * time.Second,
		FaultThreshold: 5,
	}
}

type ChargeLimitOption func(*DefaultChargeLimitController)

func WithClock(now func() time.Time) ChargeLimitOption {
	return func(c *DefaultChargeLimitController) {
		c.now = now
		c.engineOpts = append(c.engineOpts, vedirect.WithClock(now))
	}
}

func WithEngineOptions(opts ...vedirect.EngineOption) ChargeLimitOption {
	return func(c *DefaultChargeLimitController) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

func WithStateSink(sink port.ControllerStateSink) ChargeLimitOption {
	return func(c *DefaultChargeLimitController) {
		c.stateSink = sink
	}
}

// DefaultChargeLimitController keeps the charge current limit of a VE.Direct
// charger in sync: it polls the register, publishes its value and writes
// user setpoints. It owns its Engine and, like it, must be driven from a
// single goroutine.
type DefaultChargeLimitController struct {
	cfg        ChargeLimitConfig
	engine     *vedirect.Engine
	engineOpts []vedirect.EngineOption
	sink       port.NumberSink
	stateSink  port.ControllerStateSink
	now        func() time.Time
	logger     *zap.Logger

	state      domain.ControllerState
	current    float64
	hasValue   bool
	pending    *float64
	lastPoll   time.Time
	failures   int
	pollHandle vedirect.Handle
	setHandles map[vedirect.Handle]struct{}
	closed     bool
}

func NewChargeLimitController(writer io.Writer, sink port.NumberSink, cfg ChargeLimitConfig, logger *zap.Logger, opts ...ChargeLimitOption) *DefaultChargeLimitController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FaultThreshold <= 0 {
		cfg.FaultThreshold = DefaultChargeLimitConfig().FaultThreshold
	}
	c := &DefaultChargeLimitController{
		cfg:        cfg,
		sink:       sink,
		now:        time.Now,
		logger:     logger,
		state:      domain.CONTROLLER_STATE_UNINITIALIZED,
		setHandles: make(map[vedirect.Handle]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	engineOpts := append(c.engineOpts, vedirect.WithUnsolicitedHandler(c.handleUnsolicited))
	c.engine = vedirect.NewEngine(writer, logger, engineOpts...)
	return c
}

func (c *DefaultChargeLimitController) Setup() error {
	if c.closed {
		return vedirect.ErrClosed
	}
	if c.state != domain.CONTROLLER_STATE_UNINITIALIZED {
		return nil
	}
	policy := c.engine.RetryPolicy()
	c.logger.Info("charge_limit: setup",
		zap.String("register", c.cfg.Register.Name),
		zap.Stringer("address", c.cfg.Register.Address),
		zap.Float64("min_value", c.cfg.MinValue),
		zap.Float64("max_value", c.cfg.MaxValue),
		zap.Float64("step", c.cfg.Step),
		zap.String("unit", c.cfg.Register.Unit),
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.Int("fault_threshold", c.cfg.FaultThreshold),
		zap.Int("retry_attempts", policy.Attempts),
		zap.Duration("retry_timeout", policy.Timeout),
		zap.Uint8("checksum_target", c.engine.Codec().ChecksumTarget))
	c.setState(domain.CONTROLLER_STATE_POLLING)
	c.poll()
	return nil
}

// Loop drives retries and the periodic poll.
func (c *DefaultChargeLimitController) Loop() {
	if c.closed {
		return
	}
	c.engine.Tick()
	if c.state == domain.CONTROLLER_STATE_UNINITIALIZED {
		return
	}
	if c.engine.Pending(c.cfg.Register.Address) > 0 {
		return
	}
	if c.now().Sub(c.lastPoll) >= c.cfg.PollInterval {
		c.poll()
	}
}

func (c *DefaultChargeLimitController) OnReceive(data []byte) {
	c.engine.Feed(data)
}

func (c *DefaultChargeLimitController) Control(value float64) {
	if err := c.RequestSetpoint(value, nil); err != nil {
		c.logger.Warn("charge_limit: setpoint refused", zap.Float64("value", value), zap.Error(err))
		// revert the entity to the last known value
		if c.hasValue && c.sink != nil {
			c.sink.PublishState(c.current)
		}
	}
}

// RequestSetpoint validates, rounds and writes value. Validation errors are
// returned before anything is sent; device errors are passed to done.
func (c *DefaultChargeLimitController) RequestSetpoint(value float64, done func(float64, error)) error {
	switch {
	case c.closed:
		return vedirect.ErrClosed
	case c.state == domain.CONTROLLER_STATE_UNINITIALIZED:
		return domain.ErrNotReady
	case c.state == domain.CONTROLLER_STATE_FAULTED:
		return domain.ErrFaulted
	}
	if math.IsNaN(value) || value < c.cfg.MinValue || value > c.cfg.MaxValue {
		return &vedirect.OutOfRangeError{Value: value, Min: c.cfg.MinValue, Max: c.cfg.MaxValue}
	}
	target := c.roundToStep(value)

	var handle vedirect.Handle
	handle, err := c.engine.SetValue(c.cfg.Register, target, func(confirmed float64, err error) {
		c.onSetResult(handle, target, confirmed, err, done)
	})
	if err != nil {
		return err
	}
	c.setHandles[handle] = struct{}{}
	c.pending = &target
	c.logger.Debug("charge_limit: setpoint issued", zap.Float64("requested", value), zap.Float64("value", target))
	c.setState(domain.CONTROLLER_STATE_SETTING)
	return nil
}

// ReportTransportError marks the controller faulted until the next good read.
func (c *DefaultChargeLimitController) ReportTransportError(err error) {
	c.logger.Error("charge_limit: transport error", zap.Error(err))
	c.setState(domain.CONTROLLER_STATE_FAULTED)
}

func (c *DefaultChargeLimitController) Snapshot() domain.ChargeLimitState {
	s := domain.ChargeLimitState{
		State:               c.state,
		CurrentValue:        c.current,
		HasValue:            c.hasValue,
		LastPollTime:        c.lastPoll,
		ConsecutiveFailures: c.failures,
	}
	if c.pending != nil {
		p := *c.pending
		s.PendingSetpoint = &p
	}
	return s
}

func (c *DefaultChargeLimitController) Limits() domain.ChargeLimitLimits {
	return domain.ChargeLimitLimits{
		Min:  c.cfg.MinValue,
		Max:  c.cfg.MaxValue,
		Step: c.cfg.Step,
		Unit: c.cfg.Register.Unit,
	}
}

// Close cancels every outstanding transaction. Their callbacks never run.
func (c *DefaultChargeLimitController) Close() {
	if c.closed {
		return
	}
	c.engine.Close()
	c.closed = true
	c.pollHandle = 0
	c.setHandles = make(map[vedirect.Handle]struct{})
	c.pending = nil
}

func (c *DefaultChargeLimitController) poll() {
	c.lastPoll = c.now()
	handle, err := c.engine.GetValue(c.cfg.Register, c.onPollResult)
	if err != nil {
		c.logger.Error("charge_limit: could not issue poll", zap.Error(err))
		return
	}
	c.pollHandle = handle
}

func (c *DefaultChargeLimitController) onPollResult(value float64, err error) {
	c.pollHandle = 0
	if err != nil {
		c.logger.Warn("charge_limit: poll failed", zap.Error(err), zap.Int("consecutive_failures", c.failures+1))
		c.countFailure()
		return
	}
	c.failures = 0
	c.updateValue(value)
	if c.state == domain.CONTROLLER_STATE_FAULTED {
		c.logger.Info("charge_limit: communication recovered")
		c.setState(domain.CONTROLLER_STATE_POLLING)
	} else {
		c.publishState()
	}
}

func (c *DefaultChargeLimitController) onSetResult(handle vedirect.Handle, target, confirmed float64, err error, done func(float64, error)) {
	delete(c.setHandles, handle)
	if len(c.setHandles) == 0 {
		c.pending = nil
	}
	if err != nil {
		c.logger.Warn("charge_limit: setpoint failed", zap.Float64("value", target), zap.Error(err))
		var timeout *vedirect.DeviceTimeoutError
		if errors.As(err, &timeout) {
			c.countFailure()
		}
	} else {
		c.logger.Info("charge_limit: setpoint confirmed", zap.Float64("value", confirmed))
		c.failures = 0
		c.updateValue(confirmed)
	}
	if c.state == domain.CONTROLLER_STATE_SETTING && len(c.setHandles) == 0 {
		c.setState(domain.CONTROLLER_STATE_POLLING)
	} else {
		c.publishState()
	}
	if done != nil {
		if err != nil {
			done(c.current, err)
		} else {
			done(confirmed, nil)
		}
	}
}

// handleUnsolicited picks up register updates the charger sends on its own
// and replies to transactions that were cancelled.
func (c *DefaultChargeLimitController) handleUnsolicited(f vedirect.Frame) {
	if f.Address != c.cfg.Register.Address || f.Flags != 0 {
		return
	}
	switch f.Command {
	case vedirect.ResponseAsync, vedirect.ResponseGet, vedirect.ResponseSet:
	default:
		return
	}
	value, err := c.cfg.Register.Decode(f.Payload)
	if err != nil {
		c.logger.Debug("charge_limit: ignoring update", zap.Stringer("frame", f), zap.Error(err))
		return
	}
	c.logger.Debug("charge_limit: unsolicited update", zap.Float64("value", value))
	c.updateValue(value)
	c.publishState()
}

func (c *DefaultChargeLimitController) countFailure() {
	c.failures++
	if c.failures >= c.cfg.FaultThreshold && c.state != domain.CONTROLLER_STATE_FAULTED {
		c.logger.Error("charge_limit: charger not responding", zap.Int("consecutive_failures", c.failures))
		c.setState(domain.CONTROLLER_STATE_FAULTED)
		return
	}
	c.publishState()
}

func (c *DefaultChargeLimitController) updateValue(value float64) {
	c.current = value
	c.hasValue = true
	if c.sink != nil {
		c.sink.PublishState(value)
	}
}

func (c *DefaultChargeLimitController) setState(s domain.ControllerState) {
	if c.state == s {
		return
	}
	c.logger.Info("charge_limit: state change", zap.String("from", string(c.state)), zap.String("to", string(s)))
	c.state = s
	c.publishState()
}

func (c *DefaultChargeLimitController) publishState() {
	if c.stateSink != nil {
		c.stateSink.PublishControllerState(c.Snapshot())
	}
}

// roundToStep snaps value to min + k*step, never above max.
func (c *DefaultChargeLimitController) roundToStep(value float64) float64 {
	step := c.cfg.Step
	if step <= 0 {
		return value
	}
	k := math.Round((value - c.cfg.MinValue) / step)
	rounded := c.cfg.MinValue + k*step
	if rounded > c.cfg.MaxValue {
		rounded -= step
	}
	// drop float noise such as 12.299999999999999
	return math.Round(rounded*1e6) / 1e6
}

// ensure interface compliance
var _ port.ChargeLimitController = (*DefaultChargeLimitController)(nil)
