package vedirect

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSetRejected = errors.New("vedirect: set rejected by device")
	ErrGetRejected = errors.New("vedirect: get rejected by device")
	ErrClosed      = errors.New("vedirect: engine closed")
)

// EncodeError is returned when a frame cannot be serialized.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("vedirect: encode: %s", e.Reason)
}

// ChecksumError reports a complete frame whose byte sum does not match the
// codec checksum target.
type ChecksumError struct {
	Line   string
	Sum    byte
	Target byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("vedirect: checksum mismatch on %q: sum 0x%02X, want 0x%02X", e.Line, e.Sum, e.Target)
}

// MalformedFrameError reports a frame that is not valid hex, too short or too long.
type MalformedFrameError struct {
	Line   string
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("vedirect: malformed frame %q: %s", e.Line, e.Reason)
}

type InvalidLengthError struct {
	Length int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("vedirect: invalid value length %d (want 1, 2 or 4)", e.Length)
}

// OutOfRangeError is returned when a value cannot be represented by a
// register or falls outside configured bounds.
type OutOfRangeError struct {
	Value float64
	Min   float64
	Max   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("vedirect: value %g out of range [%g, %g]", e.Value, e.Min, e.Max)
}

// DeviceTimeoutError is delivered when a transaction exhausted its attempts.
type DeviceTimeoutError struct {
	Command  Command
	Address  RegisterAddress
	Attempts int
	Timeout  time.Duration
}

func (e *DeviceTimeoutError) Error() string {
	return fmt.Sprintf("vedirect: no response to %s 0x%04X after %d attempts of %s", e.Command, uint16(e.Address), e.Attempts, e.Timeout)
}

// RejectedError is delivered when the device answers a transaction with
// error flags, an error frame or an unknown command frame.
type RejectedError struct {
	Command  Command
	Address  RegisterAddress
	Response Command
	Flags    Flags
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("vedirect: %s 0x%04X rejected (response %s, flags %s)", e.Command, uint16(e.Address), e.Response, e.Flags)
}

func (e *RejectedError) Unwrap() error {
	if e.Command == CommandSet {
		return ErrSetRejected
	}
	return ErrGetRejected
}
