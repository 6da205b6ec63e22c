package vedirect

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// maxFrameDigits bounds a frame line: command, address, flags, payload and checksum.
const maxFrameDigits = 2 * (1 + 3 + MaxPayload + 1)

// Codec describes the wire dialect of the HEX protocol.
//
// DefaultCodec checksums to zero and writes the command as a full byte.
// VictronCodec is the dialect spoken by real devices: a single hex digit
// command and a byte sum of 0x55.
type Codec struct {
	ChecksumTarget byte
	NibbleCommand  bool
	Terminator     string
}

var (
	DefaultCodec = Codec{ChecksumTarget: 0x00, Terminator: "\r\n"}
	VictronCodec = Codec{ChecksumTarget: VictronChecksumTarget, NibbleCommand: true, Terminator: "\n"}
)

// CodecByName resolves the checksum_mode config value.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "victron":
		return VictronCodec, nil
	case "zero":
		return DefaultCodec, nil
	default:
		return Codec{}, fmt.Errorf("unknown checksum mode %q", name)
	}
}

// Encode serializes a frame to its ASCII line, terminator included.
func (c Codec) Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, &EncodeError{Reason: fmt.Sprintf("payload of %d bytes exceeds %d", len(f.Payload), MaxPayload)}
	}
	if c.NibbleCommand && f.Command > 0xF {
		return nil, &EncodeError{Reason: fmt.Sprintf("command 0x%02X does not fit a single digit", byte(f.Command))}
	}
	body := f.bytes()
	body = append(body, c.ChecksumTarget-checksum(body))

	out := make([]byte, 0, 1+2*len(body)+len(c.Terminator))
	out = append(out, FrameStart)
	for i, b := range body {
		if i == 0 && c.NibbleCommand {
			out = append(out, hexDigits[b&0x0F])
			continue
		}
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	return append(out, c.Terminator...), nil
}

// Decode parses one complete line (start marker required, terminator optional).
func (c Codec) Decode(line []byte) (Frame, error) {
	s := strings.TrimRight(string(line), "\r\n")
	if !strings.HasPrefix(s, string(FrameStart)) {
		return Frame{}, &MalformedFrameError{Line: s, Reason: "missing start marker"}
	}
	return c.decodeDigits(s[1:])
}

func (c Codec) decodeDigits(digits string) (Frame, error) {
	line := string(FrameStart) + digits
	if len(digits) > maxFrameDigits {
		return Frame{}, &MalformedFrameError{Line: line, Reason: "frame too long"}
	}

	raw := make([]byte, 0, len(digits)/2+1)
	rest := digits
	if c.NibbleCommand {
		if len(rest) == 0 {
			return Frame{}, &MalformedFrameError{Line: line, Reason: "empty frame"}
		}
		v, ok := fromHex(rest[0])
		if !ok {
			return Frame{}, &MalformedFrameError{Line: line, Reason: fmt.Sprintf("invalid hex digit %q", rest[0])}
		}
		raw = append(raw, v)
		rest = rest[1:]
	}
	if len(rest)%2 != 0 {
		return Frame{}, &MalformedFrameError{Line: line, Reason: "odd number of hex digits"}
	}
	for i := 0; i < len(rest); i += 2 {
		hi, ok1 := fromHex(rest[i])
		lo, ok2 := fromHex(rest[i+1])
		if !ok1 || !ok2 {
			return Frame{}, &MalformedFrameError{Line: line, Reason: fmt.Sprintf("invalid hex pair %q", rest[i:i+2])}
		}
		raw = append(raw, hi<<4|lo)
	}
	if len(raw) < 2 {
		return Frame{}, &MalformedFrameError{Line: line, Reason: "frame too short"}
	}
	if sum := checksum(raw); sum != c.ChecksumTarget {
		return Frame{}, &ChecksumError{Line: line, Sum: sum, Target: c.ChecksumTarget}
	}

	body := raw[:len(raw)-1]
	f := Frame{Command: Command(body[0])}
	data := body[1:]
	if f.Command.HasRegister() {
		if len(data) < 3 {
			return Frame{}, &MalformedFrameError{Line: line, Reason: "register frame without address and flags"}
		}
		f.Address = RegisterAddress(uint16(data[0]) | uint16(data[1])<<8)
		f.Flags = Flags(data[2])
		data = data[3:]
	}
	if len(data) > MaxPayload {
		return Frame{}, &MalformedFrameError{Line: line, Reason: "payload too long"}
	}
	if len(data) > 0 {
		f.Payload = append([]byte(nil), data...)
	}
	return f, nil
}

func fromHex(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	}
	return 0, false
}

type deframerState int

const (
	deframerIdle deframerState = iota
	deframerCollecting
)

// Deframer reassembles frames from a byte stream one byte at a time.
// Everything outside a ':'...CR/LF line is ignored, a ':' always restarts
// collection and errors reset it to idle.
type Deframer struct {
	codec Codec
	state deframerState
	buf   []byte
}

func NewDeframer(codec Codec) *Deframer {
	return &Deframer{
		codec: codec,
		buf:   make([]byte, 0, maxFrameDigits),
	}
}

// Feed consumes one byte. It returns a frame when a line completes and
// validates, an error when it does not, and (nil, nil) otherwise.
func (d *Deframer) Feed(b byte) (*Frame, error) {
	switch {
	case b == FrameStart:
		d.buf = d.buf[:0]
		d.state = deframerCollecting
		return nil, nil
	case d.state == deframerIdle:
		return nil, nil
	case b == '\r' || b == '\n':
		digits := string(d.buf)
		d.reset()
		f, err := d.codec.decodeDigits(digits)
		if err != nil {
			return nil, err
		}
		return &f, nil
	case !isHexDigit(b):
		line := string(FrameStart) + string(d.buf) + string(b)
		d.reset()
		return nil, &MalformedFrameError{Line: line, Reason: fmt.Sprintf("invalid hex digit %q", b)}
	case len(d.buf) >= maxFrameDigits:
		line := string(FrameStart) + string(d.buf)
		d.reset()
		return nil, &MalformedFrameError{Line: line, Reason: "frame too long"}
	default:
		d.buf = append(d.buf, b)
		return nil, nil
	}
}

// Collecting reports whether a partial frame is buffered.
func (d *Deframer) Collecting() bool {
	return d.state == deframerCollecting
}

func (d *Deframer) reset() {
	d.buf = d.buf[:0]
	d.state = deframerIdle
}

func isHexDigit(b byte) bool {
	_, ok := fromHex(b)
	return ok
}
