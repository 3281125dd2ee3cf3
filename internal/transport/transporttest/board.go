package transporttest

import "bytes"

// mode names the Board tracks internally; not exported, these mirror
// driver.Mode but a test fake should not import the driver package.
const (
	modeBoot   = "boot"
	modeFriend = "friendly"
	modeRaw    = "raw"
	modeShell  = "shell"
)

// execResult is one queued reply to the next raw-REPL command.
type execResult struct {
	normal []byte
	errOut []byte
}

// Board wraps a FakeConn with enough of the MicroPython wire protocol
// (reset banner, raw REPL entry/exit, command framing, shell mode) to drive
// the internal/driver state machine end to end without real hardware.
type Board struct {
	*FakeConn

	Banner string // friendly-REPL boot banner, e.g. "MicroPython board with stm32l401\r\n"

	mode    string
	pending []byte
	queue   []execResult

	// Interpret, when set, computes a framed command's (normal, errOut)
	// reply from the accumulated command text instead of popping a
	// pre-scripted QueueExec result. Used by fakes that simulate a
	// stateful remote filesystem (see NewFilesystemBoard).
	Interpret func(command string) (normal, errOut string)
}

// NewBoard returns a Board in the boot state with the given banner.
func NewBoard(banner string) *Board {
	b := &Board{FakeConn: New(), Banner: banner, mode: modeBoot}
	b.Handler = b.handle
	return b
}

// QueueExec registers the normal/error output the next framed command
// should produce.
func (b *Board) QueueExec(normal, errOut string) {
	b.queue = append(b.queue, execResult{normal: []byte(normal), errOut: []byte(errOut)})
}

func (b *Board) popExec() execResult {
	if len(b.queue) == 0 {
		return execResult{}
	}
	r := b.queue[0]
	b.queue = b.queue[1:]
	return r
}

func (b *Board) handle(c *FakeConn, written []byte) {
	switch {
	case bytes.Equal(written, []byte("\x03\x03\x03\x03")):
		// first half of the reset volley; board replies after the second.
	case bytes.Equal(written, []byte("\x02\x02\x02\x02")):
		b.mode = modeFriend
		b.pending = nil
		c.Feed([]byte(b.Banner + ">>>"))
	case bytes.Equal(written, []byte("\r\x01")):
		b.mode = modeRaw
		b.pending = nil
		c.Feed([]byte("\r\nraw REPL; CTRL-B to exit\r\n>"))
	case bytes.Equal(written, []byte("\r\x02")):
		b.mode = modeFriend
		c.Feed([]byte(">>>"))
	case bytes.Equal(written, []byte("mpy\r\n")):
		// entering MicroPython from shell; no immediate reply.
	case bytes.Equal(written, []byte("\r\x03\r\n")):
		// part of the shell->raw sequence; no immediate reply.
	case bytes.Equal(written, []byte("\r\x02\r\n")):
		b.mode = modeRaw
		b.pending = nil
		c.Feed([]byte("\r\nraw REPL; CTRL-B to exit\r\n>"))
	case bytes.Equal(written, []byte{0x04}):
		if b.mode == modeRaw && len(b.pending) == 0 {
			// Ctrl-D with no command text pending: RAW -> SHELL.
			b.mode = modeShell
			return
		}
		// end of a framed command.
		var normal, errOut []byte
		if b.Interpret != nil {
			n, e := b.Interpret(string(b.pending))
			normal, errOut = []byte(n), []byte(e)
		} else {
			result := b.popExec()
			normal, errOut = result.normal, result.errOut
		}
		b.pending = nil
		reply := append([]byte("OK"), normal...)
		reply = append(reply, 0x04)
		reply = append(reply, errOut...)
		reply = append(reply, 0x04, '>')
		c.Feed(reply)
	default:
		if b.mode == modeRaw {
			b.pending = append(b.pending, written...)
		}
	}
}
