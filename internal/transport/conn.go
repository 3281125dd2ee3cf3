// Package transport defines the uniform byte-duplex endpoint the REPL
// driver talks through, and the serial/telnet/websocket variants that
// implement it.
package transport

import (
	"bytes"
	"errors"
	"time"
)

// ErrTimeout is returned by WaitFor when the pattern does not appear before
// the deadline.
var ErrTimeout = errors.New("transport: timeout waiting for pattern")

// Conn is the byte-duplex endpoint the driver is variant-agnostic over.
// Implementations: serial (ser:), telnet (tn:), websocket (ws:).
type Conn interface {
	// Read attempts to read up to n bytes, blocking for at most the
	// connection's internal poll interval. A timed-out read returns
	// (nil, nil), not an error — only a broken connection is an error.
	Read(n int) ([]byte, error)
	// ReadAvailable drains whatever is already buffered without blocking.
	ReadAvailable() ([]byte, error)
	// Write sends b in full.
	Write(b []byte) error
	// Close releases the underlying resource.
	Close() error
	// WaitFor blocks, accumulating bytes, until the buffered data ends
	// with pattern or timeout elapses. The accumulated bytes (including
	// pattern) are returned either way so callers can inspect partial
	// output on timeout.
	WaitFor(pattern []byte, timeout time.Duration) ([]byte, error)
}

// waitFor is the shared accumulate-until-suffix loop every Conn variant's
// WaitFor delegates to, reading one byte at a time the way the original
// Pyboard.read_until does.
func waitFor(read func(n int) ([]byte, error), pattern []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	data := make([]byte, 0, 256)
	for {
		if bytes.HasSuffix(data, pattern) {
			return data, nil
		}
		if time.Now().After(deadline) {
			return data, ErrTimeout
		}
		chunk, err := read(1)
		if err != nil {
			return data, err
		}
		if len(chunk) == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		data = append(data, chunk...)
	}
}
