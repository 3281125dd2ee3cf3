// Package rerrors holds the typed error taxonomy for transport failures,
// driver-level framing failures, and remote filesystem errors. Remote
// errors arrive as substrings in a MicroPython traceback; ParseRemoteError
// tokenizes that traceback into an errno so callers branch on a parsed
// value instead of repeating "ENOENT" in str(e) checks everywhere.
package rerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below Unwrap to one of these so callers can
// use errors.Is/errors.As instead of matching message text.
var (
	ErrTransport             = errors.New("transport error")
	ErrDriver                = errors.New("driver error")
	ErrNoMicroPython         = errors.New("no micropython on board")
	ErrNoSuchFileOrDirectory = errors.New("no such file or directory")
	ErrDirectoryNotEmpty     = errors.New("directory not empty")
	ErrInvalidDirectoryName  = errors.New("invalid directory name")
	ErrFailedToReadFile      = errors.New("failed to read file")
	ErrFailedToCreateFile    = errors.New("failed to create file")
	ErrExistingDirectory     = errors.New("existing directory")
	ErrRegex                 = errors.New("invalid regular expression")
)

// TransportError wraps a Connection read/write/open failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return ErrTransport }

// NewTransportError builds a TransportError.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// DriverError wraps a prompt-loss, missing-OK, or framing-timeout failure
// from the REPL driver. Normal and error output segments are carried for
// diagnostics even when the driver call itself is what failed.
type DriverError struct {
	Reason string
	Normal []byte
	Remote []byte
}

func (e *DriverError) Error() string {
	if len(e.Remote) > 0 {
		return fmt.Sprintf("driver: %s: %s", e.Reason, string(e.Remote))
	}
	return fmt.Sprintf("driver: %s", e.Reason)
}

func (e *DriverError) Unwrap() error { return ErrDriver }

// NewDriverError builds a DriverError carrying only a reason.
func NewDriverError(reason string) *DriverError {
	return &DriverError{Reason: reason}
}

// NewRemoteExecError builds a DriverError from a command's two output
// segments when the error segment was non-empty.
func NewRemoteExecError(normal, remote []byte) *DriverError {
	return &DriverError{Reason: "remote exception", Normal: normal, Remote: remote}
}

// RemoteIOError is the typed result of translating a remote textual error
// token (ENOENT, EACCES, ...) into this taxonomy. Path/Target carry the
// operand the error applies to for the one-line message callers surface.
type RemoteIOError struct {
	Kind   error // one of the RemoteIO sentinels above
	Target string
	Detail string
}

func (e *RemoteIOError) Error() string {
	msg := e.Kind.Error()
	if e.Target != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Target)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *RemoteIOError) Unwrap() error { return e.Kind }

// NewRemoteIOError builds a RemoteIOError.
func NewRemoteIOError(kind error, target string) *RemoteIOError {
	return &RemoteIOError{Kind: kind, Target: target}
}

// RemoteErrno is the parsed form of a MicroPython traceback's last line,
// e.g. "OSError: [Errno 2] ENOENT" -> {Errno: "ENOENT", Message: "..."}.
type RemoteErrno struct {
	Errno   string
	Message string
}

// knownErrnos is the fixed taxonomy spec.md §1(b)/§7 names; order matters
// only in that the first match wins when a traceback mentions more than one
// (which does not happen in practice).
var knownErrnos = []string{
	"ENOENT", "EACCES", "EEXIST", "ENODEV", "EINVAL", "EBADF", "ENOTDIR",
}

// ParseRemoteError tokenizes the last line of a raw remote traceback into
// an errno/message pair. It returns ok=false when no known errno token is
// present (e.g. a genuine Python exception unrelated to filesystem I/O).
func ParseRemoteError(raw []byte) (RemoteErrno, bool) {
	text := string(raw)
	lines := strings.Split(strings.TrimRight(text, "\r\n"), "\n")
	last := text
	if len(lines) > 0 {
		last = strings.TrimSpace(lines[len(lines)-1])
	}
	for _, errno := range knownErrnos {
		if strings.Contains(last, errno) {
			return RemoteErrno{Errno: errno, Message: last}, true
		}
	}
	if strings.Contains(last, "OSError:") {
		return RemoteErrno{Errno: "OSError", Message: last}, true
	}
	return RemoteErrno{}, false
}

// WasFileNotExisting mirrors the original's _was_file_not_existing: ENOENT,
// ENODEV, EINVAL, and a bare OSError with no known errno token are all
// treated as "does not exist" for the purposes of rm/ls/get fallback logic.
func WasFileNotExisting(errno string) bool {
	switch errno {
	case "ENOENT", "ENODEV", "EINVAL", "OSError":
		return true
	default:
		return false
	}
}
