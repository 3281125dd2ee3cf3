// Package transporttest provides a scriptable in-memory transport.Conn for
// driver and façade tests, standing in for the serial/telnet/websocket
// variants the way the original Python's Pyboard(conbase) already separates
// the REPL engine from the concrete connection.
package transporttest

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/liuyi-cui/mpfshell/internal/transport"
)

// FakeConn is a loopback transport.Conn: bytes queued with Feed are what
// Read returns; every Write is recorded and handed to Handler, which may
// call Feed to queue a reply — synchronously, since there is exactly one
// goroutine driving a Conn at a time (spec invariant I5), so no real
// concurrency needs simulating.
type FakeConn struct {
	mu     sync.Mutex
	queue  []byte
	writes [][]byte
	closed bool

	Handler func(c *FakeConn, written []byte)
}

// New returns an empty FakeConn with no Handler configured.
func New() *FakeConn {
	return &FakeConn{}
}

// Feed appends b to the bytes available for the next Read.
func (c *FakeConn) Feed(b []byte) {
	c.mu.Lock()
	c.queue = append(c.queue, b...)
	c.mu.Unlock()
}

// Writes returns every byte slice passed to Write, in order.
func (c *FakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *FakeConn) Read(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, io.ErrClosedPipe
	}
	if len(c.queue) == 0 {
		return nil, nil
	}
	if n > len(c.queue) {
		n = len(c.queue)
	}
	out := c.queue[:n]
	c.queue = c.queue[n:]
	return out, nil
}

func (c *FakeConn) ReadAvailable() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, io.ErrClosedPipe
	}
	out := c.queue
	c.queue = nil
	return out, nil
}

func (c *FakeConn) Write(b []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	cp := append([]byte(nil), b...)
	c.writes = append(c.writes, cp)
	handler := c.Handler
	c.mu.Unlock()

	if handler != nil {
		handler(c, cp)
	}
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *FakeConn) WaitFor(pattern []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	data := make([]byte, 0, 64)
	for {
		if bytes.HasSuffix(data, pattern) {
			return data, nil
		}
		if time.Now().After(deadline) {
			return data, transport.ErrTimeout
		}
		chunk, err := c.Read(1)
		if err != nil {
			return data, err
		}
		if len(chunk) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		data = append(data, chunk...)
	}
}

var _ transport.Conn = (*FakeConn)(nil)
