package transport

import (
	"time"

	"github.com/tarm/serial"
)

// pollTimeout is the per-Read poll window for the serial variant; short
// enough that WaitFor's byte-at-a-time loop stays responsive.
const pollTimeout = 50 * time.Millisecond

// SerialConn is the Conn variant for "ser:<port>[,<baud>]" connection
// strings, grounded on the teacher's own use of github.com/tarm/serial.
type SerialConn struct {
	port *serial.Port
}

// OpenSerial opens the named port at baud (default 115200 if baud <= 0).
func OpenSerial(name string, baud int) (*SerialConn, error) {
	if baud <= 0 {
		baud = 115200
	}
	cfg := &serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: pollTimeout,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return &SerialConn{port: p}, nil
}

func (c *SerialConn) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := c.port.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:read], nil
}

func (c *SerialConn) ReadAvailable() ([]byte, error) {
	var out []byte
	for {
		buf := make([]byte, 256)
		n, err := c.port.Read(buf)
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
		if n < len(buf) {
			return out, nil
		}
	}
}

func (c *SerialConn) Write(b []byte) error {
	_, err := c.port.Write(b)
	return err
}

func (c *SerialConn) Close() error {
	return c.port.Close()
}

func (c *SerialConn) WaitFor(pattern []byte, timeout time.Duration) ([]byte, error) {
	return waitFor(c.Read, pattern, timeout)
}
