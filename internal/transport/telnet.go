package transport

import (
	"net"
	"time"
)

// TelnetConn is the Conn variant for "tn:<host>[,<login>[,<passwd>]]"
// connection strings. MicroPython's telnet REPL server only ever asks for a
// login and a password before handing over the same friendly-REPL stream a
// serial connection would show, so this implementation is a thin net.Conn
// wrapper plus that one login exchange — not a general telnet (RFC 854)
// client, since no option negotiation is involved.
type TelnetConn struct {
	conn net.Conn
}

// DialTelnet connects to host:23 and performs the login/password exchange.
func DialTelnet(host, login, passwd string) (*TelnetConn, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "23")
	}
	c, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	tc := &TelnetConn{conn: c}
	if err := tc.login(login, passwd); err != nil {
		c.Close()
		return nil, err
	}
	return tc, nil
}

func (c *TelnetConn) login(login, passwd string) error {
	if _, err := c.WaitFor([]byte("Login as:"), 10*time.Second); err != nil {
		return err
	}
	if err := c.Write([]byte(login + "\r\n")); err != nil {
		return err
	}
	if _, err := c.WaitFor([]byte("Password:"), 10*time.Second); err != nil {
		return err
	}
	return c.Write([]byte(passwd + "\r\n"))
}

func (c *TelnetConn) Read(n int) ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(pollTimeout))
	buf := make([]byte, n)
	read, err := c.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return buf[:read], nil
}

func (c *TelnetConn) ReadAvailable() ([]byte, error) {
	var out []byte
	for {
		chunk, err := c.Read(256)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
		if len(chunk) < 256 {
			return out, nil
		}
	}
}

func (c *TelnetConn) Write(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

func (c *TelnetConn) Close() error {
	return c.conn.Close()
}

func (c *TelnetConn) WaitFor(pattern []byte, timeout time.Duration) ([]byte, error) {
	return waitFor(c.Read, pattern, timeout)
}
