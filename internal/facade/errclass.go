package facade

import (
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"github.com/liuyi-cui/mpfshell/internal/rerrors"
)

// classifyDriverError extracts the remote errno token from a driver error's
// traceback, if any. Transport errors and timeouts have no remote traceback
// and return ok=false.
func classifyDriverError(err error) (rerrors.RemoteErrno, bool) {
	var de *rerrors.DriverError
	if errors.As(err, &de) && len(de.Remote) > 0 {
		return rerrors.ParseRemoteError(de.Remote)
	}
	return rerrors.RemoteErrno{}, false
}

// isProbeMiss reports whether errno is one of the classes spec.md §4.2's
// directory-probe step treats as "this name is not a directory" —
// not-existing, or the EBADF/ENOTDIR a probe against a plain file raises on
// some ports.
func isProbeMiss(errno string) bool {
	if rerrors.WasFileNotExisting(errno) {
		return true
	}
	switch errno {
	case "EBADF", "ENOTDIR":
		return true
	default:
		return false
	}
}

// stringLiteralPattern matches single-quoted Python string literals inside
// a printed list, e.g. "['main.py', 'lib']". A narrow regex is enough here
// for the same reason the ledger package doesn't need a full literal
// evaluator: the device only ever prints flat lists of plain path segments.
var stringLiteralPattern = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'`)

func parsePyStringList(raw []byte) []string {
	matches := stringLiteralPattern.FindAllSubmatch(raw, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ReplaceAll(string(m[1]), `\'`, "'"))
	}
	return out
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(b []byte) ([]byte, error) { return hex.DecodeString(string(b)) }
