// Package transport opens the serial line to the coprocessor and splits the
// inbound byte stream into MT envelopes and link control frames.
package transport

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Port is the byte stream the session reads and writes.
type Port interface {
	io.ReadWriteCloser
}

// Config describes the serial line.
type Config struct {
	Port        string
	BaudRate    int
	RTSCTS      bool
	ReadTimeout time.Duration
}

// Open opens the serial device in 8N1 mode.
func Open(cfg Config) (Port, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("transport: no serial port configured")
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}

	// USB CDC ACM: assert DTR, and RTS unless the adapter does flow control.
	_ = port.SetDTR(true)
	if !cfg.RTSCTS {
		_ = port.SetRTS(true)
	}

	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("transport: set read timeout on %s: %w", cfg.Port, err)
		}
	}
	return &serialPort{port: port}, nil
}

// serialPort hides read timeouts from the reader: an expired timeout reads
// zero bytes, which would otherwise trip bufio's no-progress check. The
// timeout only bounds how long Read takes to notice Close.
type serialPort struct {
	port   serial.Port
	closed atomic.Bool
}

func (p *serialPort) Read(b []byte) (int, error) {
	for {
		n, err := p.port.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		if p.closed.Load() {
			return 0, io.EOF
		}
	}
}

func (p *serialPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *serialPort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}
