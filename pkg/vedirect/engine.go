package vedirect

import (
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Handle identifies a transaction owned by an Engine.
type Handle uint64

// Response is what a resolved transaction hands to its callback.
type Response struct {
	Frame    Frame
	Attempts int
	Elapsed  time.Duration
}

// Callback is invoked exactly once per transaction, from Feed, HandleFrame or
// Tick, unless the transaction was cancelled.
type Callback func(Response, error)

type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Timeout:  500 * time.Millisecond,
}

// Instrument receives engine events. Any field may be nil.
type Instrument struct {
	FrameSent       func(f Frame)
	FrameReceived   func(f Frame)
	CodecError      func(err error)
	TransactionDone func(cmd Command, address RegisterAddress, elapsed time.Duration, err error)
}

type EngineOption func(*Engine)

func WithCodec(codec Codec) EngineOption {
	return func(e *Engine) {
		e.codec = codec
		e.deframer = NewDeframer(codec)
	}
}

func WithRetryPolicy(policy RetryPolicy) EngineOption {
	return func(e *Engine) {
		if policy.Attempts > 0 {
			e.policy.Attempts = policy.Attempts
		}
		if policy.Timeout > 0 {
			e.policy.Timeout = policy.Timeout
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func WithInstrument(instrument Instrument) EngineOption {
	return func(e *Engine) {
		e.instrument = append(e.instrument, instrument)
	}
}

// WithUnsolicitedHandler receives frames that resolve no transaction, such as
// async register updates. Without a handler they are dropped.
func WithUnsolicitedHandler(fn func(Frame)) EngineOption {
	return func(e *Engine) {
		e.unsolicited = fn
	}
}

type transaction struct {
	handle    Handle
	command   Command
	address   RegisterAddress
	line      []byte
	issuedAt  time.Time
	sentAt    time.Time
	attempts  int
	callback  Callback
	cancelled bool
}

// Engine correlates HEX requests with device responses. It never blocks and
// is not safe for concurrent use: Get, Set, Feed, Tick and Cancel must all be
// called from the same goroutine (an actor, a main loop).
//
// Only one transaction is on the wire at any time. Requests for an address are
// served in FIFO order.
type Engine struct {
	writer      io.Writer
	codec       Codec
	deframer    *Deframer
	policy      RetryPolicy
	now         func() time.Time
	instrument  []Instrument
	unsolicited func(Frame)
	logger      *zap.Logger

	lastHandle Handle
	pending    map[RegisterAddress][]*transaction
	inflight   *transaction
	closed     bool
}

func NewEngine(writer io.Writer, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		writer:   writer,
		codec:    DefaultCodec,
		deframer: NewDeframer(DefaultCodec),
		policy:   DefaultRetryPolicy,
		now:      time.Now,
		logger:   logger,
		pending:  make(map[RegisterAddress][]*transaction),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Codec() Codec {
	return e.codec
}

func (e *Engine) RetryPolicy() RetryPolicy {
	return e.policy
}

// Get queues a GET for address.
func (e *Engine) Get(address RegisterAddress, cb Callback) (Handle, error) {
	return e.submit(GetFrame(address), cb)
}

// Set queues a SET writing payload to address.
func (e *Engine) Set(address RegisterAddress, payload []byte, cb Callback) (Handle, error) {
	return e.submit(SetFrame(address, payload), cb)
}

// GetValue reads a register and decodes it to engineering units.
func (e *Engine) GetValue(reg Register, cb func(float64, error)) (Handle, error) {
	return e.Get(reg.Address, func(resp Response, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(0, err)
			return
		}
		cb(reg.Decode(resp.Frame.Payload))
	})
}

// SetValue encodes value for reg and writes it. Encoding errors are returned
// before anything is queued. The callback receives the value echoed by the
// device.
func (e *Engine) SetValue(reg Register, value float64, cb func(float64, error)) (Handle, error) {
	raw, err := reg.Encode(value)
	if err != nil {
		return 0, err
	}
	return e.Set(reg.Address, raw, func(resp Response, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(0, err)
			return
		}
		if len(resp.Frame.Payload) == 0 {
			cb(reg.Decode(raw))
			return
		}
		cb(reg.Decode(resp.Frame.Payload))
	})
}

func (e *Engine) submit(f Frame, cb Callback) (Handle, error) {
	if e.closed {
		return 0, ErrClosed
	}
	line, err := e.codec.Encode(f)
	if err != nil {
		return 0, err
	}
	e.lastHandle++
	tx := &transaction{
		handle:   e.lastHandle,
		command:  f.Command,
		address:  f.Address,
		line:     line,
		issuedAt: e.now(),
		callback: cb,
	}
	e.pending[f.Address] = append(e.pending[f.Address], tx)
	e.logger.Debug("vedirect: queued",
		zap.Stringer("command", f.Command),
		zap.Stringer("register", f.Address),
		zap.Uint64("handle", uint64(tx.handle)),
		zap.Int("queued", len(e.pending[f.Address])))
	e.dispatch()
	return tx.handle, nil
}

// Feed pushes received bytes through the deframer. Invalid frames are
// dropped and reported to the instrument.
func (e *Engine) Feed(data []byte) {
	for _, b := range data {
		f, err := e.deframer.Feed(b)
		if err != nil {
			e.logger.Debug("vedirect: dropped frame", zap.Error(err))
			for _, i := range e.instrument {
				if i.CodecError != nil {
					i.CodecError(err)
				}
			}
			continue
		}
		if f != nil {
			e.HandleFrame(*f)
		}
	}
}

// HandleFrame resolves the in-flight transaction if f answers it, otherwise
// passes f to the unsolicited handler.
func (e *Engine) HandleFrame(f Frame) {
	for _, i := range e.instrument {
		if i.FrameReceived != nil {
			i.FrameReceived(f)
		}
	}
	tx := e.inflight
	if tx == nil || !answers(tx, f) {
		if e.unsolicited != nil {
			e.unsolicited(f)
		} else {
			e.logger.Debug("vedirect: unsolicited frame dropped", zap.Stringer("frame", f))
		}
		return
	}

	e.inflight = nil
	var err error
	if f.Command == ResponseError || f.Command == ResponseUnknown || f.Flags != 0 {
		err = &RejectedError{
			Command:  tx.command,
			Address:  tx.address,
			Response: f.Command,
			Flags:    f.Flags,
		}
	}
	e.complete(tx, Response{
		Frame:    f,
		Attempts: tx.attempts,
		Elapsed:  e.now().Sub(tx.issuedAt),
	}, err)
	e.dispatch()
}

// answers reports whether f is the device reply to tx. Error and unknown
// command replies carry no address and answer whatever is on the wire.
// An async frame with error flags for the same register is a NAK.
func answers(tx *transaction, f Frame) bool {
	switch f.Command {
	case ResponseError, ResponseUnknown:
		return true
	case ResponseAsync:
		return f.Address == tx.address && f.Flags != 0
	default:
		return f.Command == tx.command && f.Address == tx.address
	}
}

// Tick is the timer source. It resends the in-flight request once its
// timeout elapsed and fails it after the last attempt.
func (e *Engine) Tick() {
	tx := e.inflight
	if tx == nil {
		return
	}
	now := e.now()
	if now.Sub(tx.sentAt) < e.policy.Timeout {
		return
	}
	if tx.attempts < e.policy.Attempts {
		e.logger.Debug("vedirect: response timeout, retrying",
			zap.Stringer("command", tx.command),
			zap.Stringer("register", tx.address),
			zap.Int("attempt", tx.attempts+1))
		e.send(tx)
		return
	}
	e.inflight = nil
	e.logger.Warn("vedirect: device timeout",
		zap.Stringer("command", tx.command),
		zap.Stringer("register", tx.address),
		zap.Int("attempts", tx.attempts))
	e.complete(tx, Response{Attempts: tx.attempts, Elapsed: now.Sub(tx.issuedAt)}, &DeviceTimeoutError{
		Command:  tx.command,
		Address:  tx.address,
		Attempts: tx.attempts,
		Timeout:  e.policy.Timeout,
	})
	e.dispatch()
}

// Cancel drops a transaction; its callback will not run. A cancelled request
// that is already on the wire keeps it busy until answered or timed out, so
// its reply is never taken for the reply of the next request.
func (e *Engine) Cancel(h Handle) bool {
	if e.inflight != nil && e.inflight.handle == h {
		if e.inflight.cancelled {
			return false
		}
		e.inflight.cancelled = true
		e.inflight.callback = nil
		return true
	}
	for address, queue := range e.pending {
		for i, tx := range queue {
			if tx.handle != h {
				continue
			}
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(e.pending, address)
			} else {
				e.pending[address] = queue
			}
			return true
		}
	}
	return false
}

// Close cancels every transaction and refuses new ones.
func (e *Engine) Close() {
	if e.inflight != nil {
		e.inflight.cancelled = true
		e.inflight.callback = nil
		e.inflight = nil
	}
	e.pending = make(map[RegisterAddress][]*transaction)
	e.closed = true
}

// Pending counts queued and in-flight transactions for address.
func (e *Engine) Pending(address RegisterAddress) int {
	n := len(e.pending[address])
	if e.inflight != nil && e.inflight.address == address {
		n++
	}
	return n
}

// Busy reports whether a request is on the wire.
func (e *Engine) Busy() bool {
	return e.inflight != nil
}

func (e *Engine) dispatch() {
	for e.inflight == nil {
		tx := e.popOldest()
		if tx == nil {
			return
		}
		e.inflight = tx
		e.send(tx)
	}
}

// popOldest takes the queue head with the lowest handle, so addresses are
// served in submission order.
func (e *Engine) popOldest() *transaction {
	var oldest *transaction
	for _, queue := range e.pending {
		if len(queue) > 0 && (oldest == nil || queue[0].handle < oldest.handle) {
			oldest = queue[0]
		}
	}
	if oldest == nil {
		return nil
	}
	queue := e.pending[oldest.address][1:]
	if len(queue) == 0 {
		delete(e.pending, oldest.address)
	} else {
		e.pending[oldest.address] = queue
	}
	return oldest
}

func (e *Engine) send(tx *transaction) {
	tx.attempts++
	tx.sentAt = e.now()
	e.logger.Debug("vedirect: send", zap.String("frame", strings.TrimSpace(string(tx.line))), zap.Int("attempt", tx.attempts))
	if _, err := e.writer.Write(tx.line); err != nil {
		// the response timeout drives the retry
		e.logger.Warn("vedirect: write failed", zap.Stringer("register", tx.address), zap.Error(err))
	}
	for _, i := range e.instrument {
		if i.FrameSent != nil {
			i.FrameSent(Frame{Command: tx.command, Address: tx.address})
		}
	}
}

func (e *Engine) complete(tx *transaction, resp Response, err error) {
	if tx.cancelled {
		e.logger.Debug("vedirect: cancelled transaction resolved", zap.Uint64("handle", uint64(tx.handle)))
		return
	}
	for _, i := range e.instrument {
		if i.TransactionDone != nil {
			i.TransactionDone(tx.command, tx.address, resp.Elapsed, err)
		}
	}
	if tx.callback != nil {
		tx.callback(resp, err)
	}
}
