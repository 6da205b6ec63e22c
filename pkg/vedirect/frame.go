package vedirect

import (
	"fmt"
	"strings"
)

const (
	// MaxPayload is the largest value payload a frame may carry.
	MaxPayload = 32

	FrameStart = ':'

	// VictronChecksumTarget is the byte sum Victron devices expect on the wire.
	VictronChecksumTarget byte = 0x55
)

// RegisterAddress identifies a device register (e.g. 0x2015).
type RegisterAddress uint16

func (a RegisterAddress) String() string {
	return fmt.Sprintf("0x%04X", uint16(a))
}

// Command is the first byte of a HEX frame. Requests and responses share the
// same numbering, a GET is answered with a GET.
type Command byte

const (
	CommandGet Command = 0x7
	CommandSet Command = 0x8

	ResponseDone    Command = 0x1
	ResponseUnknown Command = 0x3
	ResponseError   Command = 0x4
	ResponsePing    Command = 0x5
	ResponseGet     Command = 0x7
	ResponseSet     Command = 0x8
	ResponseAsync   Command = 0xA
)

func (c Command) String() string {
	switch c {
	case ResponseDone:
		return "DONE"
	case ResponseUnknown:
		return "UNKNOWN"
	case ResponseError:
		return "ERROR"
	case ResponsePing:
		return "PING"
	case CommandGet:
		return "GET"
	case CommandSet:
		return "SET"
	case ResponseAsync:
		return "ASYNC"
	default:
		return fmt.Sprintf("CMD(0x%X)", byte(c))
	}
}

// HasRegister reports whether frames of this command carry
// address and flags before the payload.
func (c Command) HasRegister() bool {
	return c == CommandGet || c == CommandSet || c == ResponseAsync
}

// Flags of a register frame. Zero means the device accepted the request.
type Flags byte

const (
	FlagUnknownID      Flags = 0x01
	FlagNotSupported   Flags = 0x02
	FlagParameterError Flags = 0x04
)

func (f Flags) String() string {
	if f == 0 {
		return "OK"
	}
	var names []string
	if f&FlagUnknownID != 0 {
		names = append(names, "UNKNOWN_ID")
	}
	if f&FlagNotSupported != 0 {
		names = append(names, "NOT_SUPPORTED")
	}
	if f&FlagParameterError != 0 {
		names = append(names, "PARAMETER_ERROR")
	}
	if rest := f &^ (FlagUnknownID | FlagNotSupported | FlagParameterError); rest != 0 {
		names = append(names, fmt.Sprintf("0x%02X", byte(rest)))
	}
	return strings.Join(names, "|")
}

// Frame is a decoded HEX protocol message without its checksum.
type Frame struct {
	Command Command
	Address RegisterAddress
	Flags   Flags
	Payload []byte
}

func (f Frame) String() string {
	if f.Command.HasRegister() {
		return fmt.Sprintf("%s %s flags=%s payload=% X", f.Command, f.Address, f.Flags, f.Payload)
	}
	return fmt.Sprintf("%s payload=% X", f.Command, f.Payload)
}

func (f Frame) bytes() []byte {
	out := make([]byte, 0, 4+len(f.Payload))
	out = append(out, byte(f.Command))
	if f.Command.HasRegister() {
		out = append(out, byte(f.Address), byte(f.Address>>8), byte(f.Flags))
	}
	return append(out, f.Payload...)
}

// GetFrame builds a GET request for a register.
func GetFrame(address RegisterAddress) Frame {
	return Frame{Command: CommandGet, Address: address}
}

// SetFrame builds a SET request writing payload to a register.
func SetFrame(address RegisterAddress, payload []byte) Frame {
	return Frame{Command: CommandSet, Address: address, Payload: payload}
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}
