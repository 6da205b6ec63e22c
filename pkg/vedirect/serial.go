package vedirect

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the VE.Direct line speed (8N1, no flow control).
const DefaultBaud = 9600

type SerialConfig struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Port is the byte transport between the engine and a device.
type Port interface {
	io.ReadWriteCloser
}

// OpenSerialPort opens a VE.Direct UART.
func OpenSerialPort(cfg SerialConfig) (Port, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	return p, nil
}
