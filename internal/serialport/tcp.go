package serialport

import (
	"context"
	"errors"
	"net"
	"time"

	"go.bug.st/serial"

	"github.com/fornellas/slogxt/log"
)

// tcpPort implements serial.Port's byte-stream subset over a TCP connection, so development and
// tests can target a TCP loopback instead of real hardware.
type tcpPort struct {
	conn        net.Conn
	readTimeout time.Duration
}

func dialTCP(ctx context.Context, address string, timeout time.Duration) (*tcpPort, error) {
	logger := log.MustLogger(ctx)
	logger.Info("Dialing TCP serial bridge", "address", address, "timeout", timeout)
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &tcpPort{conn: conn}, nil
}

func (tp *tcpPort) SetMode(mode *serial.Mode) error { return errors.New("not supported") }

func (tp *tcpPort) Read(p []byte) (int, error) {
	deadline := time.Time{}
	if tp.readTimeout != serial.NoTimeout {
		deadline = time.Now().Add(tp.readTimeout)
	}
	if err := tp.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return tp.conn.Read(p)
}

func (tp *tcpPort) Write(p []byte) (int, error) { return tp.conn.Write(p) }

func (tp *tcpPort) Drain() error                                         { return errors.New("not supported") }
func (tp *tcpPort) ResetInputBuffer() error                              { return errors.New("not supported") }
func (tp *tcpPort) ResetOutputBuffer() error                             { return errors.New("not supported") }
func (tp *tcpPort) SetDTR(dtr bool) error                                { return errors.New("not supported") }
func (tp *tcpPort) SetRTS(rts bool) error                                { return errors.New("not supported") }
func (tp *tcpPort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, errors.New("not supported") }
func (tp *tcpPort) Break(time.Duration) error                            { return errors.New("not supported") }

func (tp *tcpPort) SetReadTimeout(t time.Duration) error {
	tp.readTimeout = t
	return nil
}

func (tp *tcpPort) Close() error { return tp.conn.Close() }

// OpenTCP returns an OpenFn that dials a TCP address instead of a local serial device, for use
// with NewRealPort when Options.Port names a "host:port" bridge rather than a device file.
func OpenTCP(dialTimeout time.Duration) OpenFn {
	return func(ctx context.Context, name string, mode *serial.Mode) (serial.Port, error) {
		return dialTCP(ctx, name, dialTimeout)
	}
}
