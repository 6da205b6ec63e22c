package vedirect

import (
	"io"
	"sync"
)

// SimulatedDevice is an in-memory VE.Direct device answering GET and SET
// requests. It implements Port, so it can stand in for a serial port.
type SimulatedDevice struct {
	mu        sync.Mutex
	cond      *sync.Cond
	codec     Codec
	deframer  *Deframer
	registers map[RegisterAddress][]byte
	rejects   map[RegisterAddress]Flags
	silent    bool
	requests  []Frame
	output    []byte
	closed    bool
}

func NewSimulatedDevice(codec Codec) *SimulatedDevice {
	d := &SimulatedDevice{
		codec:     codec,
		deframer:  NewDeframer(codec),
		registers: make(map[RegisterAddress][]byte),
		rejects:   make(map[RegisterAddress]Flags),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// NewChargerSimulator returns a device whose charge current limit is set to amps.
func NewChargerSimulator(codec Codec, amps float64) *SimulatedDevice {
	d := NewSimulatedDevice(codec)
	raw, err := ChargeCurrentLimit.Encode(amps)
	if err != nil {
		panic(err)
	}
	d.SetRegister(ChargeCurrentLimit.Address, raw)
	return d
}

func (d *SimulatedDevice) SetRegister(address RegisterAddress, raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers[address] = append([]byte(nil), raw...)
}

func (d *SimulatedDevice) Register(address RegisterAddress) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.registers[address]...)
}

// SetSilent makes the device ignore every request.
func (d *SimulatedDevice) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// RejectWrites answers SETs to address with flags instead of storing them.
func (d *SimulatedDevice) RejectWrites(address RegisterAddress, flags Flags) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if flags == 0 {
		delete(d.rejects, address)
		return
	}
	d.rejects[address] = flags
}

// Requests returns every frame received so far.
func (d *SimulatedDevice) Requests() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.requests...)
}

// Emit queues an unsolicited frame for the host.
func (d *SimulatedDevice) Emit(f Frame) error {
	line, err := d.codec.Encode(f)
	if err != nil {
		return err
	}
	d.emitRaw(line)
	return nil
}

// EmitRaw queues arbitrary bytes (noise, broken frames) for the host.
func (d *SimulatedDevice) EmitRaw(data []byte) {
	d.emitRaw(append([]byte(nil), data...))
}

// Drain returns and clears everything the device has sent.
func (d *SimulatedDevice) Drain() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.output
	d.output = nil
	return out
}

func (d *SimulatedDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	var replies [][]byte
	for _, b := range p {
		f, err := d.deframer.Feed(b)
		if err != nil || f == nil {
			continue
		}
		d.requests = append(d.requests, *f)
		if d.silent {
			continue
		}
		if line, err := d.codec.Encode(d.reply(*f)); err == nil {
			replies = append(replies, line)
		}
	}
	d.mu.Unlock()

	for _, line := range replies {
		d.emitRaw(line)
	}
	return len(p), nil
}

func (d *SimulatedDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.output) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.output) == 0 {
		return 0, io.EOF
	}
	n := copy(p, d.output)
	d.output = d.output[n:]
	return n, nil
}

func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
	return nil
}

func (d *SimulatedDevice) emitRaw(line []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = append(d.output, line...)
	d.cond.Broadcast()
}

func (d *SimulatedDevice) reply(req Frame) Frame {
	switch req.Command {
	case CommandGet:
		value, ok := d.registers[req.Address]
		if !ok {
			return Frame{Command: ResponseGet, Address: req.Address, Flags: FlagUnknownID}
		}
		return Frame{Command: ResponseGet, Address: req.Address, Payload: append([]byte(nil), value...)}
	case CommandSet:
		if flags, ok := d.rejects[req.Address]; ok {
			return Frame{Command: ResponseSet, Address: req.Address, Flags: flags}
		}
		if _, ok := d.registers[req.Address]; !ok {
			return Frame{Command: ResponseSet, Address: req.Address, Flags: FlagUnknownID}
		}
		d.registers[req.Address] = append([]byte(nil), req.Payload...)
		return Frame{Command: ResponseSet, Address: req.Address, Payload: append([]byte(nil), req.Payload...)}
	default:
		return Frame{Command: ResponseUnknown, Payload: []byte{byte(req.Command)}}
	}
}
