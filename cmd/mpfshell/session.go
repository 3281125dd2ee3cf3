package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/liuyi-cui/mpfshell/internal/driver"
	"github.com/liuyi-cui/mpfshell/internal/facade"
	"github.com/liuyi-cui/mpfshell/internal/log"
	"github.com/liuyi-cui/mpfshell/internal/retry"
	"github.com/liuyi-cui/mpfshell/internal/state"
	"github.com/liuyi-cui/mpfshell/internal/transport"
)

// Session is one open connection to a board: the raw Conn, the REPL driver
// riding on top of it, and the retry(cache(façade)) stack every CLI verb
// goes through. Grounded on original_source/mpfshell.py's MpFileShell,
// which keeps exactly this trio (self.con/self.fe/self.port) for the
// lifetime of one open connection.
type Session struct {
	raw  string
	conn transport.Conn
	drv  *driver.Driver
	fs   facade.Facade
}

// normalizeTarget applies spec.md §6's open/o auto-prefixing: a bare port
// name (no ser:/tn:/ws: prefix) is treated as a serial device.
func normalizeTarget(target string) string {
	switch {
	case strings.HasPrefix(target, "ser:"), strings.HasPrefix(target, "tn:"), strings.HasPrefix(target, "ws:"):
		return target
	case strings.HasPrefix(target, "/dev/"):
		return "ser:" + target
	default:
		return "ser:/dev/" + target
	}
}

// Open connects to target, brings the board into raw REPL, and wires up
// the façade stack. noCache disables the listing-cache decorator (the
// --nocache flag in the original).
func Open(target string, noCache bool, st *state.Store) (*Session, error) {
	target = normalizeTarget(target)

	cs, err := transport.ParseConnString(target)
	if err != nil {
		return nil, err
	}
	if err := promptMissingCredentials(&cs); err != nil {
		return nil, err
	}
	conn, err := transport.Dial(cs)
	if err != nil {
		return nil, err
	}

	drv := driver.New(conn)
	if err := drv.Setup(); err != nil {
		conn.Close()
		return nil, err
	}

	base, err := facade.New(drv)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var fs facade.Facade = base
	if !noCache {
		fs = facade.WithCache(fs)
	}
	fs = retry.Wrap(fs)

	if st != nil {
		if err := st.Update(target, state.ModeShell); err != nil {
			log.Component("cmd").WithField("err", err).Warn("failed to update state file")
		}
	}

	return &Session{raw: target, conn: conn, drv: drv, fs: fs}, nil
}

// Close disconnects from the board.
func (s *Session) Close() error {
	return s.conn.Close()
}

// promptMissingCredentials fills in a telnet login/password or a websocket
// password left out of the connection string, the way
// original_source/mpfexp.py's do_open falls back to getpass.getpass() when
// params[1]/params[2] aren't present.
func promptMissingCredentials(cs *transport.ConnString) error {
	switch cs.Proto {
	case "tn":
		if cs.Login == "" {
			fmt.Fprint(os.Stderr, "telnet login: ")
			fmt.Fscanln(os.Stdin, &cs.Login)
		}
		if cs.Passwd == "" {
			passwd, err := readPassword("telnet passwd: ")
			if err != nil {
				return err
			}
			cs.Passwd = passwd
		}
	case "ws":
		if cs.Passwd == "" {
			passwd, err := readPassword("webrepl passwd: ")
			if err != nil {
				return err
			}
			cs.Passwd = passwd
		}
	}
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
