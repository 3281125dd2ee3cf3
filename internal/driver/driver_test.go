package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/liuyi-cui/mpfshell/internal/rerrors"
	"github.com/liuyi-cui/mpfshell/internal/transport/transporttest"
)

func setupDriver(t *testing.T, banner string) (*Driver, *transporttest.Board) {
	t.Helper()
	board := transporttest.NewBoard(banner)
	d := New(board)
	if err := d.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return d, board
}

func TestSetup_EntersRawAndDetectsBoard(t *testing.T) {
	d, _ := setupDriver(t, "MicroPython board with stm32l401\r\n")
	if d.Mode() != Raw {
		t.Fatalf("mode = %v, want Raw", d.Mode())
	}
	if d.BoardModel() != "stm32l401" {
		t.Fatalf("BoardModel = %q, want stm32l401", d.BoardModel())
	}
	if d.OSLib() != "uos" {
		t.Fatalf("OSLib = %q, want uos", d.OSLib())
	}
	if d.ExecTool() != "shell" {
		t.Fatalf("ExecTool = %q, want shell", d.ExecTool())
	}
}

func TestSetup_ESP8266UsesReplExecTool(t *testing.T) {
	d, _ := setupDriver(t, "ESP module with ESP8266\r\n")
	if d.OSLib() != "os" {
		t.Fatalf("OSLib = %q, want os", d.OSLib())
	}
	if d.ExecTool() != "repl" {
		t.Fatalf("ExecTool = %q, want repl", d.ExecTool())
	}
}

func TestSetup_NoMicroPythonIsFatal(t *testing.T) {
	board := transporttest.NewBoard("")
	board.Handler = func(c *transporttest.FakeConn, written []byte) {
		if bytes.Equal(written, []byte("\x02\x02\x02\x02")) {
			c.Feed([]byte("mpy: command not found\r\n"))
		}
	}
	d := New(board)
	err := d.Setup()
	if !errors.Is(err, rerrors.ErrNoMicroPython) {
		t.Fatalf("Setup err = %v, want ErrNoMicroPython", err)
	}
}

// P2: every successful RAW command produces exactly two \x04-terminated
// segments; a non-empty error segment surfaces as an error.
func TestExec_NormalAndErrorSegments(t *testing.T) {
	d, board := setupDriver(t, "MicroPython board with stm32l401\r\n")

	board.QueueExec("hello", "")
	out, err := d.Exec([]byte("print('hello')"), false, DefaultFollowTimeout, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("out = %q, want hello", out)
	}

	board.QueueExec("", "Traceback...\r\nOSError: [Errno 2] ENOENT\r\n")
	_, err = d.Exec([]byte("open('/missing')"), false, DefaultFollowTimeout, nil)
	if err == nil {
		t.Fatalf("Exec should have surfaced the remote error")
	}
	if !errors.Is(err, rerrors.ErrDriver) {
		t.Fatalf("err = %v, want to unwrap to ErrDriver", err)
	}
	errno, ok := rerrors.ParseRemoteError([]byte(err.Error()))
	if !ok || errno.Errno != "ENOENT" {
		t.Fatalf("ParseRemoteError = %+v, ok=%v", errno, ok)
	}
}

func TestExec_StreamsToSink(t *testing.T) {
	d, board := setupDriver(t, "MicroPython board with stm32l401\r\n")
	board.QueueExec("streamed-output", "")
	var sink bytes.Buffer
	_, err := d.Exec([]byte("..."), false, DefaultFollowTimeout, &sink)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if sink.String() != "streamed-output" {
		t.Fatalf("sink = %q", sink.String())
	}
}

// Open Question decision #2: the uos-trailing-status strip is literal and
// expression-string-gated, not a general uos-call classifier.
func TestEval_StripsTrailingUosStatus(t *testing.T) {
	d, board := setupDriver(t, "MicroPython board with stm32l401\r\n")

	board.QueueExec("/\r\n0", "")
	out, err := d.Eval("uos.system('pwd')")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if string(out) != "/" {
		t.Fatalf("out = %q, want /", out)
	}
}

// Pins the replace-all reading of Open Question decision #2: a "\r\n0"
// embedded mid-buffer, followed by more output and then a genuine trailing
// occurrence, must have every occurrence stripped — not just the first one
// found, and not just a trailing one.
func TestEval_StripsAllUosStatusOccurrences(t *testing.T) {
	d, board := setupDriver(t, "MicroPython board with stm32l401\r\n")

	board.QueueExec("a\r\n0b\r\n0", "")
	out, err := d.Eval("uos.system('a'); uos.system('b')")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if string(out) != "ab" {
		t.Fatalf("out = %q, want %q", out, "ab")
	}
}

func TestEval_NonUosExpressionNotStripped(t *testing.T) {
	d, board := setupDriver(t, "MicroPython board with stm32l401\r\n")

	board.QueueExec("/flash", "")
	out, err := d.Eval("os.getcwd()")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if string(out) != "/flash" {
		t.Fatalf("out = %q, want /flash", out)
	}
}

func TestExecCommandInShell(t *testing.T) {
	d, board := setupDriver(t, "MicroPython board with stm32l401\r\n")
	board.Handler = func(c *transporttest.FakeConn, written []byte) {
		if bytes.Equal(written, []byte{0x04}) {
			c.Feed([]byte("\r\n"))
			return
		}
		if bytes.HasPrefix(written, []byte("ls")) {
			c.Feed([]byte("main.py\r\n"))
			return
		}
		if bytes.Equal(written, []byte("\r\x02\r\n")) {
			c.Feed([]byte("\r\nraw REPL; CTRL-B to exit\r\n>"))
		}
	}
	out, err := d.ExecCommandInShell("ls")
	if err != nil {
		t.Fatalf("ExecCommandInShell: %v", err)
	}
	if !strings.Contains(string(out), "main.py") {
		t.Fatalf("out = %q", out)
	}
	if d.Mode() != Raw {
		t.Fatalf("mode after shell round-trip = %v, want Raw", d.Mode())
	}
}

func TestPassthrough_PumpsBytesAndRestoresRaw(t *testing.T) {
	d, board := setupDriver(t, "MicroPython board with stm32l401\r\n")

	pr, pw := io.Pipe()
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- d.Passthrough(ctx, pr, &out)
	}()

	// While passthrough is active, Exec must refuse (exclusive-use
	// invariant I5 extended to passthrough).
	time.Sleep(20 * time.Millisecond)
	if _, err := d.Exec([]byte("1+1"), false, DefaultFollowTimeout, nil); err == nil {
		t.Fatalf("Exec during passthrough should have failed")
	}

	board.Feed([]byte("echoed"))
	time.Sleep(20 * time.Millisecond)
	cancel()
	pw.Close()

	if err := <-done; err != nil {
		t.Fatalf("Passthrough: %v", err)
	}
	if out.Len() == 0 {
		t.Fatalf("expected some bytes pumped to out")
	}
	if d.Mode() != Raw {
		t.Fatalf("mode after passthrough = %v, want Raw", d.Mode())
	}
}
