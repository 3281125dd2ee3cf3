// Package driver implements the transport/REPL state machine: moving a
// MicroPython board between friendly-REPL, raw-REPL, and shell modes,
// framing commands, reading framed replies, and recovering from timeouts
// and prompt loss.
//
// Every byte sequence and timeout below is grounded on
// _examples/original_source/pyboard.py (the liuyi-cui/mpfshell Python
// original's Pyboard class).
package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/liuyi-cui/mpfshell/internal/log"
	"github.com/liuyi-cui/mpfshell/internal/rerrors"
	"github.com/liuyi-cui/mpfshell/internal/transport"
)

// Mode is one of the three REPL states a board can be in.
type Mode int

const (
	Friendly Mode = iota
	Raw
	Shell
)

func (m Mode) String() string {
	switch m {
	case Friendly:
		return "friendly"
	case Raw:
		return "raw"
	case Shell:
		return "shell"
	default:
		return "unknown"
	}
}

const (
	sliceSize        = 32
	slicePause       = 10 * time.Millisecond
	resetPause       = 100 * time.Millisecond
	shellPause       = 500 * time.Millisecond
	resetRounds      = 8
	bannerTimeout    = 5 * time.Second
	rawEntryTimeout  = 5 * time.Second
	promptTimeout    = 10 * time.Second
	ackReadByteCount = 2
)

// DefaultFollowTimeout and ShortFollowTimeout are the two follow() timeouts
// spec.md §4.1 calls out: the default applies to most commands (Eval
// included), the short one is opt-in for callers that expect brief
// interactive output (the façade's Exec, behind the exec verb).
const (
	DefaultFollowTimeout = 4 * time.Second
	ShortFollowTimeout   = 1 * time.Second
)

var (
	boardPattern = regexp.MustCompile(`MicroPython board with (\w+)`)
	espPattern   = regexp.MustCompile(`ESP module with (\w+)`)
)

// Driver owns a transport.Conn and the three-mode state machine layered on
// top of it. Exactly one operation may be in flight at a time (spec
// invariant I5); mu enforces that regardless of what the caller does.
type Driver struct {
	conn transport.Conn
	mu   sync.Mutex
	log  *logrus.Entry

	mode       Mode
	boardModel string
	osLib      string
	execTool   string

	passthroughActive bool
}

// New wraps conn with a Driver in the initial FRIENDLY mode.
func New(conn transport.Conn) *Driver {
	return &Driver{
		conn:     conn,
		log:      log.Component("driver"),
		mode:     Friendly,
		osLib:    "os",
		execTool: "shell",
	}
}

// Mode returns the driver's current claimed mode (invariant P1: this always
// equals the last acknowledged mode banner seen on the wire).
func (d *Driver) Mode() Mode { return d.mode }

// BoardModel returns the detected board model string, or "" before Setup.
func (d *Driver) BoardModel() string { return d.boardModel }

// OSLib returns "os" or "uos", derived from the board model at Setup.
func (d *Driver) OSLib() string { return d.osLib }

// ExecTool returns "shell" or "repl", derived from the board model at Setup.
func (d *Driver) ExecTool() string { return d.execTool }

// Setup resets the board to friendly mode, detects the board model from its
// banner, derives OSLib/ExecTool, and enters raw REPL. It is the one-time
// session-open sequence spec.md §3's Lifecycle describes.
func (d *Driver) Setup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	banner, err := d.resetToFriendlyLocked()
	if err != nil {
		return err
	}
	d.detectBoard(banner)
	return d.enterRawLocked()
}

// resetToFriendlyLocked implements the ANY -> FRIENDLY transition (mode
// table row 1), retried up to resetRounds times while also capturing the
// friendly banner for board detection (spec.md §4.1 "Board detection").
func (d *Driver) resetToFriendlyLocked() ([]byte, error) {
	var banner []byte
	for i := 0; i < resetRounds; i++ {
		time.Sleep(resetPause)
		if err := d.writeAll([]byte("\x03\x03\x03\x03")); err != nil {
			return nil, rerrors.NewTransportError("reset", err)
		}
		time.Sleep(resetPause)
		if err := d.writeAll([]byte("\x02\x02\x02\x02")); err != nil {
			return nil, rerrors.NewTransportError("reset", err)
		}
		time.Sleep(resetPause)

		data, err := d.conn.WaitFor([]byte(">>>"), bannerTimeout)
		banner = data
		if bytes.Contains(data, []byte("mpy: command not found")) {
			return nil, rerrors.ErrNoMicroPython
		}
		if err == nil && bytes.HasSuffix(data, []byte(">>>")) {
			d.mode = Friendly
			d.drainLocked()
			return banner, nil
		}
	}
	return banner, rerrors.NewDriverError("unable to enter raw REPL")
}

// detectBoard parses the friendly banner for a board/module identifier and
// derives OSLib/ExecTool from it (spec.md §3 Session state).
func (d *Driver) detectBoard(banner []byte) {
	model := ""
	if m := boardPattern.FindSubmatch(banner); m != nil {
		model = string(m[1])
	} else if m := espPattern.FindSubmatch(banner); m != nil {
		model = string(m[1])
	}
	d.boardModel = model
	if model == "stm32l401" {
		d.osLib = "uos"
	} else {
		d.osLib = "os"
	}
	if model == "ESP8266" {
		d.execTool = "repl"
	} else {
		d.execTool = "shell"
	}
}

// enterRawLocked implements the FRIENDLY -> RAW transition. Residual bytes
// are drained before Ctrl-A is sent; the raw prompt '>' that follows the
// entry banner is left on the Connection for the first command's prompt
// check.
func (d *Driver) enterRawLocked() error {
	d.drainLocked()
	if err := d.writeAll([]byte("\r\x01")); err != nil {
		return rerrors.NewTransportError("enter-raw", err)
	}
	data, err := d.conn.WaitFor([]byte("raw REPL; CTRL-B to exit"), rawEntryTimeout)
	if err != nil || !bytes.HasSuffix(data, []byte("raw REPL; CTRL-B to exit")) {
		return rerrors.NewDriverError("could not enter raw repl")
	}
	d.mode = Raw
	return nil
}

// ExitRaw implements the RAW -> FRIENDLY transition.
func (d *Driver) ExitRaw() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitRawLocked()
}

func (d *Driver) exitRawLocked() error {
	if err := d.writeAll([]byte("\r\x02")); err != nil {
		return rerrors.NewTransportError("exit-raw", err)
	}
	d.mode = Friendly
	return nil
}

// rawToShellLocked implements the RAW -> SHELL transition.
func (d *Driver) rawToShellLocked() error {
	if err := d.writeAll([]byte{0x04}); err != nil {
		return rerrors.NewTransportError("raw-to-shell", err)
	}
	time.Sleep(shellPause)
	d.mode = Shell
	return nil
}

// shellToRawLocked implements the SHELL -> RAW transition.
func (d *Driver) shellToRawLocked() error {
	for _, b := range [][]byte{[]byte("mpy\r\n"), []byte("\r\x03\r\n"), []byte("\r\x02\r\n")} {
		if err := d.writeAll(b); err != nil {
			return rerrors.NewTransportError("shell-to-raw", err)
		}
	}
	d.mode = Raw
	d.drainLocked()
	return nil
}

// writeAll writes the whole payload; used for transitions that don't need
// slicing (only command text is sliced per the framing rule below).
func (d *Driver) writeAll(b []byte) error {
	return d.conn.Write(b)
}

// drainLocked discards any residual bytes left on the Connection, matching
// spec.md §4.1 "After the transition, the driver drains any residual
// bytes".
func (d *Driver) drainLocked() {
	d.conn.ReadAvailable()
}

// execRawNoFollowLocked implements mode-table steps 1-4: wait for prompt,
// write the command in 32-byte slices, send Ctrl-D, and check for "OK".
func (d *Driver) execRawNoFollowLocked(command []byte) error {
	data, err := d.conn.WaitFor([]byte(">"), promptTimeout)
	if err != nil || !bytes.HasSuffix(data, []byte(">")) {
		return rerrors.NewDriverError("could not enter raw repl, auto try again")
	}

	for i := 0; i < len(command); i += sliceSize {
		end := i + sliceSize
		if end > len(command) {
			end = len(command)
		}
		if err := d.writeAll(command[i:end]); err != nil {
			return rerrors.NewTransportError("write-command", err)
		}
		time.Sleep(slicePause)
	}
	if err := d.writeAll([]byte{0x04}); err != nil {
		return rerrors.NewTransportError("write-eof", err)
	}

	ack, err := d.readExactly(ackReadByteCount, promptTimeout)
	if err != nil {
		if _, ok := err.(*rerrors.DriverError); ok {
			return err
		}
		return rerrors.NewTransportError("read-ack", err)
	}
	if !bytes.Equal(ack, []byte("OK")) {
		d.drainLocked()
		return rerrors.NewDriverError("could not exec command")
	}
	return nil
}

// readExactly blocks until exactly n bytes have arrived or timeout.
func (d *Driver) readExactly(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	out := make([]byte, 0, n)
	for len(out) < n {
		if time.Now().After(deadline) {
			return out, rerrors.NewDriverError("timeout reading acknowledgement")
		}
		chunk, err := d.conn.Read(n - len(out))
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// follow implements mode-table step 5: read the normal output segment up to
// the first Ctrl-D, then the error segment up to the second.
func (d *Driver) follow(timeout time.Duration, sink io.Writer) ([]byte, []byte, error) {
	normal, err := d.readUntilEOF(timeout, sink)
	if err != nil {
		return nil, nil, err
	}
	errOut, err := d.readUntilEOF(timeout, nil)
	if err != nil {
		return nil, nil, err
	}
	return normal, errOut, nil
}

func (d *Driver) readUntilEOF(timeout time.Duration, sink io.Writer) ([]byte, error) {
	data, err := d.conn.WaitFor([]byte{0x04}, timeout)
	if sink != nil && len(data) > 0 {
		trimmed := bytes.TrimSuffix(data, []byte{0x04})
		sink.Write(trimmed)
	}
	if err != nil && !bytes.HasSuffix(data, []byte{0x04}) && !bytes.HasSuffix(data, []byte(">")) {
		return nil, rerrors.NewDriverError("timeout waiting for EOF reception")
	}
	return bytes.TrimSuffix(data, []byte{0x04}), nil
}

// Exec frames command, executes it in RAW mode, and returns the normal
// output. If gc is set, a gc.collect() pre-step runs first in the same
// framing. An optional sink receives the normal output as it streams in.
func (d *Driver) Exec(command []byte, gc bool, timeout time.Duration, sink io.Writer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	opID := uuid.NewString()
	entry := d.log.WithField("op", opID)
	entry.Debug("exec")

	if d.passthroughActive {
		return nil, rerrors.NewDriverError("driver busy: passthrough in progress")
	}
	if gc {
		if err := d.execRawNoFollowLocked([]byte("gc.collect()")); err != nil {
			return nil, err
		}
		if _, _, err := d.follow(timeout, nil); err != nil {
			return nil, err
		}
	}
	if err := d.execRawNoFollowLocked(command); err != nil {
		return nil, err
	}
	normal, errOut, err := d.follow(timeout, sink)
	if err != nil {
		return nil, err
	}
	if len(errOut) > 0 {
		return nil, rerrors.NewRemoteExecError(normal, errOut)
	}
	return normal, nil
}

// Eval wraps expression in print(...), executes it, and returns the
// trimmed normal output. Per the original's eval(), when expression
// contains the literal substring "uos" every occurrence of "\r\n0" is
// stripped, not just a trailing one — the uos.system family prints a
// success status that must not leak into the payload, and
// original_source/pyboard.py's eval() does an unbounded str.replace, so
// this matches that exactly rather than a suffix-only reading (see
// DESIGN.md Open Question decisions).
func (d *Driver) Eval(expression string) ([]byte, error) {
	out, err := d.Exec([]byte(fmt.Sprintf("print(%s)", expression)), false, DefaultFollowTimeout, nil)
	if err != nil {
		return nil, err
	}
	if bytes.Contains([]byte(expression), []byte("uos")) {
		out = bytes.Replace(out, []byte("\r\n0"), []byte(""), -1)
	}
	return bytes.TrimSpace(out), nil
}

// ExecCommandInShell transitions RAW->SHELL, runs command, and transitions
// back to RAW, returning the shell's verbatim output.
func (d *Driver) ExecCommandInShell(command string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.rawToShellLocked(); err != nil {
		return nil, err
	}
	if err := d.writeAll([]byte(command + "\r\n")); err != nil {
		return nil, rerrors.NewTransportError("shell-command", err)
	}
	time.Sleep(shellPause)

	var out []byte
	for {
		chunk, err := d.conn.ReadAvailable()
		if err != nil {
			return nil, rerrors.NewTransportError("shell-read", err)
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}

	if err := d.shellToRawLocked(); err != nil {
		return nil, err
	}
	return out, nil
}

// Passthrough surrenders the Connection for interactive use: it exits raw
// mode and pumps bytes bidirectionally between in/out and the Connection
// until ctx is cancelled, then re-enters raw mode so the exclusive-use
// invariant (I5) holds again once control returns to the caller.
func (d *Driver) Passthrough(ctx context.Context, in io.Reader, out io.Writer) error {
	d.mu.Lock()
	if d.passthroughActive {
		d.mu.Unlock()
		return rerrors.NewDriverError("driver busy: passthrough already active")
	}
	d.passthroughActive = true
	if err := d.exitRawLocked(); err != nil {
		d.passthroughActive = false
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		buf := make([]byte, 256)
		for ctx.Err() == nil {
			chunk, err := d.conn.Read(len(buf))
			if err != nil {
				return
			}
			if len(chunk) > 0 {
				out.Write(chunk)
			} else {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	// in.Read has no cancellation mechanism of its own (stdin, a pipe, ...),
	// so a dedicated goroutine does the blocking read and hands bytes to the
	// select loop below, which is what actually decides whether to forward
	// them — once ctx is cancelled this loop stops writing to the
	// Connection before Passthrough re-enters raw mode, so there is no
	// window where an in-flight write races the re-entry handshake.
	inCh := make(chan []byte)
	inErrCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				b := append([]byte(nil), buf[:n]...)
				select {
				case inCh <- b:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				inErrCh <- err
				return
			}
		}
	}()

	var pumpErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case b := <-inCh:
			if err := d.conn.Write(b); err != nil {
				pumpErr = err
				break loop
			}
		case err := <-inErrCh:
			if err != io.EOF {
				pumpErr = err
			}
			break loop
		}
	}
	<-readerDone

	if pumpErr != nil {
		d.mu.Lock()
		d.passthroughActive = false
		d.mu.Unlock()
		return pumpErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.passthroughActive = false
	return d.enterRawLocked()
}

// Close exits raw REPL and closes the Connection (spec.md §3 Lifecycle
// teardown).
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exitRawLocked()
	return d.conn.Close()
}
