package service

import (
	"testing"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time {
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type recordingSink struct {
	values []float64
	states []domain.ChargeLimitState
}

func (s *recordingSink) PublishState(value float64) {
	s.values = append(s.values, value)
}

func (s *recordingSink) PublishControllerState(state domain.ChargeLimitState) {
	s.states = append(s.states, state)
}

func (s *recordingSink) last() float64 {
	return s.values[len(s.values)-1]
}

type fixture struct {
	dev    *vedirect.SimulatedDevice
	ctrl   *DefaultChargeLimitController
	clock  *testClock
	sink   *recordingSink
	policy vedirect.RetryPolicy
}

func newFixture(t *testing.T, amps float64) *fixture {
	t.Helper()
	f := &fixture{
		dev:    vedirect.NewChargerSimulator(vedirect.VictronCodec, amps),
		clock:  &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		sink:   &recordingSink{},
		policy: vedirect.DefaultRetryPolicy,
	}
	f.ctrl = NewChargeLimitController(f.dev, f.sink, DefaultChargeLimitConfig(), zap.Must(zap.NewDevelopment()),
		WithClock(f.clock.Now),
		WithStateSink(f.sink),
		WithEngineOptions(vedirect.WithCodec(vedirect.VictronCodec)))
	return f
}

// pump delivers everything the device sent to the controller.
func (f *fixture) pump() {
	for {
		out := f.dev.Drain()
		if len(out) == 0 {
			return
		}
		f.ctrl.OnReceive(out)
	}
}

// exhaustRetries lets the in-flight request time out on every attempt.
func (f *fixture) exhaustRetries() {
	for i := 0; i < f.policy.Attempts; i++ {
		f.clock.Advance(f.policy.Timeout)
		f.ctrl.Loop()
	}
}

func (f *fixture) setup(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Setup())
	f.pump()
}

func TestSetupPollsRegister(t *testing.T) {
	f := newFixture(t, 25)

	assert.Equal(t, domain.CONTROLLER_STATE_UNINITIALIZED, f.ctrl.Snapshot().State)
	f.setup(t)

	reqs := f.dev.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, vedirect.GetFrame(0x2015), reqs[0])

	s := f.ctrl.Snapshot()
	assert.Equal(t, domain.CONTROLLER_STATE_POLLING, s.State)
	assert.True(t, s.HasValue)
	assert.InDelta(t, 25.0, s.CurrentValue, 1e-9)
	assert.Equal(t, f.clock.Now(), s.LastPollTime)
	assert.InDelta(t, 25.0, f.sink.last(), 1e-9)
}

func TestSetpointBeforeSetup(t *testing.T) {
	f := newFixture(t, 25)
	err := f.ctrl.RequestSetpoint(30, nil)
	require.ErrorIs(t, err, domain.ErrNotReady)
	assert.Empty(t, f.dev.Requests())
}

func TestSetpointScenario(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)

	var confirmed float64
	var setErr error
	calls := 0
	err := f.ctrl.RequestSetpoint(30, func(v float64, err error) {
		calls++
		confirmed = v
		setErr = err
	})
	require.NoError(t, err)

	s := f.ctrl.Snapshot()
	assert.Equal(t, domain.CONTROLLER_STATE_SETTING, s.State)
	require.NotNil(t, s.PendingSetpoint)
	assert.InDelta(t, 30.0, *s.PendingSetpoint, 1e-9)

	reqs := f.dev.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, vedirect.CommandSet, reqs[1].Command)
	assert.Equal(t, vedirect.RegisterAddress(0x2015), reqs[1].Address)
	assert.Equal(t, []byte{0x2C, 0x01}, reqs[1].Payload, "raw 300")

	f.pump()
	require.Equal(t, 1, calls)
	require.NoError(t, setErr)
	assert.InDelta(t, 30.0, confirmed, 1e-9)

	s = f.ctrl.Snapshot()
	assert.Equal(t, domain.CONTROLLER_STATE_POLLING, s.State)
	assert.InDelta(t, 30.0, s.CurrentValue, 1e-9)
	assert.Nil(t, s.PendingSetpoint)
	assert.InDelta(t, 30.0, f.sink.last(), 1e-9)
}

func TestSetpointOutOfRange(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)

	for _, v := range []float64{150, -1} {
		err := f.ctrl.RequestSetpoint(v, nil)
		var rangeErr *vedirect.OutOfRangeError
		require.ErrorAs(t, err, &rangeErr)
		assert.Equal(t, 100.0, rangeErr.Max)
	}
	assert.Len(t, f.dev.Requests(), 1, "only the initial poll went out")
	assert.Equal(t, domain.CONTROLLER_STATE_POLLING, f.ctrl.Snapshot().State)
}

func TestSetpointRoundsToStep(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)

	var confirmed float64
	require.NoError(t, f.ctrl.RequestSetpoint(12.34, func(v float64, err error) {
		require.NoError(t, err)
		confirmed = v
	}))
	reqs := f.dev.Requests()
	assert.Equal(t, []byte{0x7B, 0x00}, reqs[len(reqs)-1].Payload, "12.3 A")

	f.pump()
	assert.InDelta(t, 12.3, confirmed, 1e-9)
}

func TestRoundToStepStaysWithinBounds(t *testing.T) {
	f := newFixture(t, 25)
	f.ctrl.cfg.MinValue = 0.2
	f.ctrl.cfg.Step = 0.3
	f.ctrl.cfg.MaxValue = 100

	// 100.1 would be the nearest step
	assert.InDelta(t, 99.8, f.ctrl.roundToStep(100), 1e-9)
	assert.InDelta(t, 0.5, f.ctrl.roundToStep(0.4), 1e-9)
	assert.InDelta(t, 0.2, f.ctrl.roundToStep(0.2), 1e-9)
}

func TestSetpointRejectedKeepsValue(t *testing.T) {
	f := newFixture(t, 25)
	f.dev.RejectWrites(0x2015, vedirect.FlagParameterError)
	f.setup(t)

	var setErr error
	var reported float64
	require.NoError(t, f.ctrl.RequestSetpoint(30, func(v float64, err error) {
		reported = v
		setErr = err
	}))
	f.pump()

	require.ErrorIs(t, setErr, vedirect.ErrSetRejected)
	assert.InDelta(t, 25.0, reported, 1e-9)
	s := f.ctrl.Snapshot()
	assert.InDelta(t, 25.0, s.CurrentValue, 1e-9)
	assert.Equal(t, domain.CONTROLLER_STATE_POLLING, s.State)
	assert.Equal(t, 0, s.ConsecutiveFailures, "rejections do not count towards faults")
}

func TestSetpointTimeout(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)
	f.dev.SetSilent(true)

	var setErr error
	require.NoError(t, f.ctrl.RequestSetpoint(30, func(_ float64, err error) { setErr = err }))
	f.exhaustRetries()

	var timeout *vedirect.DeviceTimeoutError
	require.ErrorAs(t, setErr, &timeout)
	s := f.ctrl.Snapshot()
	assert.InDelta(t, 25.0, s.CurrentValue, 1e-9)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.Len(t, f.dev.Requests(), 1+f.policy.Attempts, "no retry beyond the engine budget")
}

func TestFaultAfterConsecutivePollTimeouts(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)
	f.dev.SetSilent(true)

	for i := 1; i <= 5; i++ {
		f.clock.Advance(DefaultChargeLimitConfig().PollInterval)
		f.ctrl.Loop()
		f.exhaustRetries()
		if i < 5 {
			assert.Equal(t, domain.CONTROLLER_STATE_POLLING, f.ctrl.Snapshot().State, "poll %d", i)
		}
	}
	s := f.ctrl.Snapshot()
	assert.Equal(t, domain.CONTROLLER_STATE_FAULTED, s.State)
	assert.Equal(t, 5, s.ConsecutiveFailures)
	assert.InDelta(t, 25.0, s.CurrentValue, 1e-9, "last known value is kept")

	// setpoints are refused while faulted
	err := f.ctrl.RequestSetpoint(30, nil)
	require.ErrorIs(t, err, domain.ErrFaulted)

	// next good read recovers
	f.dev.SetSilent(false)
	f.clock.Advance(DefaultChargeLimitConfig().PollInterval)
	f.ctrl.Loop()
	f.pump()

	s = f.ctrl.Snapshot()
	assert.Equal(t, domain.CONTROLLER_STATE_POLLING, s.State)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	require.NoError(t, f.ctrl.RequestSetpoint(30, nil))
}

func TestPollWaitsForInterval(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)

	f.clock.Advance(DefaultChargeLimitConfig().PollInterval - time.Millisecond)
	f.ctrl.Loop()
	assert.Len(t, f.dev.Requests(), 1)

	f.clock.Advance(time.Millisecond)
	f.ctrl.Loop()
	assert.Len(t, f.dev.Requests(), 2)
}

func TestNoPollWhileTransactionPending(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)
	f.dev.SetSilent(true)

	require.NoError(t, f.ctrl.RequestSetpoint(30, nil))
	f.clock.Advance(DefaultChargeLimitConfig().PollInterval)
	f.ctrl.Loop()

	for _, r := range f.dev.Requests()[1:] {
		assert.Equal(t, vedirect.CommandSet, r.Command, "no GET queued behind the SET")
	}
}

func TestTransportErrorFaults(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)

	f.ctrl.ReportTransportError(assert.AnError)
	assert.True(t, f.ctrl.Snapshot().Faulted())

	f.clock.Advance(DefaultChargeLimitConfig().PollInterval)
	f.ctrl.Loop()
	f.pump()
	assert.Equal(t, domain.CONTROLLER_STATE_POLLING, f.ctrl.Snapshot().State)
}

func TestAsyncUpdateRefreshesValue(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)

	require.NoError(t, f.dev.Emit(vedirect.Frame{Command: vedirect.ResponseAsync, Address: 0x2015, Payload: []byte{0x90, 0x01}}))
	f.pump()
	assert.InDelta(t, 40.0, f.ctrl.Snapshot().CurrentValue, 1e-9)
	assert.InDelta(t, 40.0, f.sink.last(), 1e-9)

	// other registers are ignored
	require.NoError(t, f.dev.Emit(vedirect.Frame{Command: vedirect.ResponseAsync, Address: 0xEDF0, Payload: []byte{0x01, 0x00}}))
	f.pump()
	assert.InDelta(t, 40.0, f.ctrl.Snapshot().CurrentValue, 1e-9)
}

func TestControlRevertsOnError(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)
	published := len(f.sink.values)

	f.ctrl.Control(150)
	require.Len(t, f.sink.values, published+1)
	assert.InDelta(t, 25.0, f.sink.last(), 1e-9)
	assert.Len(t, f.dev.Requests(), 1)
}

func TestControlWritesSetpoint(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)

	f.ctrl.Control(42)
	f.pump()
	assert.InDelta(t, 42.0, f.ctrl.Snapshot().CurrentValue, 1e-9)
	assert.Equal(t, []byte{0xA4, 0x01}, f.dev.Register(0x2015))
}

func TestCloseCancelsOutstanding(t *testing.T) {
	f := newFixture(t, 25)
	f.setup(t)
	f.dev.SetSilent(true)

	calls := 0
	require.NoError(t, f.ctrl.RequestSetpoint(30, func(float64, error) { calls++ }))
	f.ctrl.Close()

	f.exhaustRetries()
	assert.Equal(t, 0, calls)
	assert.Nil(t, f.ctrl.Snapshot().PendingSetpoint)
	require.ErrorIs(t, f.ctrl.RequestSetpoint(30, nil), vedirect.ErrClosed)
}

func TestLimits(t *testing.T) {
	f := newFixture(t, 25)
	l := f.ctrl.Limits()
	assert.Equal(t, domain.ChargeLimitLimits{Min: 0, Max: 100, Step: 0.1, Unit: "A"}, l)
}
