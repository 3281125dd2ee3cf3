package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WebsockConn is the Conn variant for "ws:<host>[,<passwd>]" connection
// strings — MicroPython's WebREPL protocol, grounded on the read/write
// framing style of ehrlich-b-wingthing's internal/ws/client.go (a
// github.com/coder/websocket client wrapping message-oriented I/O behind a
// byte-stream API).
type WebsockConn struct {
	conn *websocket.Conn
	ctx  context.Context

	mu  sync.Mutex
	buf []byte
}

// DialWebsocket connects to ws://host:8266/ and performs the WebREPL
// password handshake.
func DialWebsocket(host, passwd string) (*WebsockConn, error) {
	ctx := context.Background()
	url := fmt.Sprintf("ws://%s:8266/", host)
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	wc := &WebsockConn{conn: c, ctx: ctx}
	if err := wc.login(passwd); err != nil {
		c.Close(websocket.StatusNormalClosure, "login failed")
		return nil, err
	}
	return wc, nil
}

func (c *WebsockConn) login(passwd string) error {
	if _, err := c.WaitFor([]byte("Password:"), 10*time.Second); err != nil {
		return err
	}
	return c.Write([]byte(passwd + "\r\n"))
}

func (c *WebsockConn) fill() error {
	ctx, cancel := context.WithTimeout(c.ctx, pollTimeout)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	c.buf = append(c.buf, data...)
	return nil
}

func (c *WebsockConn) Read(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
	if len(c.buf) == 0 {
		return nil, nil
	}
	if n > len(c.buf) {
		n = len(c.buf)
	}
	out := c.buf[:n]
	c.buf = c.buf[n:]
	return out, nil
}

func (c *WebsockConn) ReadAvailable() ([]byte, error) {
	c.mu.Lock()
	for {
		if err := c.fill(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		before := len(c.buf)
		if before == 0 {
			break
		}
		if err := c.fill(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if len(c.buf) == before {
			break
		}
	}
	out := c.buf
	c.buf = nil
	c.mu.Unlock()
	return out, nil
}

func (c *WebsockConn) Write(b []byte) error {
	return c.conn.Write(c.ctx, websocket.MessageBinary, b)
}

func (c *WebsockConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *WebsockConn) WaitFor(pattern []byte, timeout time.Duration) ([]byte, error) {
	return waitFor(c.Read, pattern, timeout)
}
