// Package serialport adapts real and simulated transports to protocol.Port: a byte stream
// opened at a baud rate that frames inbound bytes into lines and delivers them as events.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"

	"github.com/opencnc/cncstream/internal/protocol"
)

// OpenFn opens an underlying serial.Port for a given port name and mode. Tests and the
// TCP-bridge transport substitute their own implementation; production code uses serial.Open.
type OpenFn func(ctx context.Context, name string, mode *serial.Mode) (serial.Port, error)

// Open dials the OS's serial driver.
func Open(ctx context.Context, name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// RealPort frames an underlying serial.Port into newline-delimited events.
type RealPort struct {
	name     string
	baudRate int
	openFn   OpenFn

	port       serial.Port
	eventCh    chan protocol.PortEvent
	readCancel context.CancelFunc
	readDone   chan struct{}
}

func NewRealPort(name string, baudRate int, openFn OpenFn) *RealPort {
	if baudRate == 0 {
		baudRate = protocol.DefaultBaudRate
	}
	if openFn == nil {
		openFn = Open
	}
	return &RealPort{name: name, baudRate: baudRate, openFn: openFn}
}

func (p *RealPort) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: p.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := p.openFn(ctx, p.name, mode)
	if err != nil {
		return fmt.Errorf("serialport: open %s: %w", p.name, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		closeErr := port.Close()
		return errors.Join(fmt.Errorf("serialport: set read timeout: %w", err), closeErr)
	}

	p.port = port
	p.eventCh = make(chan protocol.PortEvent, 64)
	p.readDone = make(chan struct{})
	readCtx, cancel := context.WithCancel(ctx)
	p.readCancel = cancel
	go p.readLoop(readCtx)

	return nil
}

func (p *RealPort) readLoop(ctx context.Context) {
	defer close(p.readDone)
	line := []byte{}
	b := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		n, err := p.port.Read(b)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			select {
			case p.eventCh <- protocol.PortEvent{Kind: protocol.PortEventError, Err: fmt.Errorf("serialport: read: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		if n == 0 {
			continue
		}
		if b[0] == '\n' {
			if len(line) >= 1 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			select {
			case p.eventCh <- protocol.PortEvent{Kind: protocol.PortEventData, Line: string(line)}:
			case <-ctx.Done():
				return
			}
			line = []byte{}
			continue
		}
		line = append(line, b[0])
	}
}

func (p *RealPort) Write(buf []byte) (int, error) {
	if p.port == nil {
		return 0, fmt.Errorf("serialport: write: not open")
	}
	n, err := p.port.Write(buf)
	if err != nil {
		return n, fmt.Errorf("serialport: write: %w", err)
	}
	return n, nil
}

func (p *RealPort) IsOpen() bool {
	return p.port != nil
}

func (p *RealPort) Events() <-chan protocol.PortEvent {
	return p.eventCh
}

func (p *RealPort) Close() error {
	if p.port == nil {
		return nil
	}
	if p.readCancel != nil {
		p.readCancel()
	}
	<-p.readDone
	err := p.port.Close()
	p.port = nil
	if p.eventCh != nil {
		close(p.eventCh)
		p.eventCh = nil
	}
	if err != nil {
		return fmt.Errorf("serialport: close: %w", err)
	}
	return nil
}
