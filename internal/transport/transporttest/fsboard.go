package transporttest

import (
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

// FSBoard is a Board backed by an in-memory virtual filesystem: it
// interprets the actual os/uos snippets internal/facade sends (listdir,
// mkdir, remove, rmdir, the open/write/close chunked-write sequence, and
// the hexlify read loop) well enough to drive facade tests without real
// hardware. It does not implement a Python interpreter — only the narrow
// set of snippet shapes the façade ever emits.
type FSBoard struct {
	*Board

	OSLib string // "os" or "uos", mirrors the detected board's derived field

	dirs  map[string]bool
	files map[string][]byte

	cwdHint string // what os.getcwd()/uos.system('pwd') reports at setup

	openPath string
	openMode string
	openBuf  []byte
}

// NewFilesystemBoard returns an FSBoard rooted at "/" with osLib "os".
func NewFilesystemBoard(banner string) *FSBoard {
	fb := &FSBoard{
		Board:   NewBoard(banner),
		OSLib:   "os",
		dirs:    map[string]bool{"/": true},
		files:   map[string][]byte{},
		cwdHint: "/",
	}
	fb.Board.Interpret = fb.interpret
	return fb
}

// SetCwdHint overrides what the board reports for the initial
// os.getcwd()/uos.system('pwd') call during facade setup.
func (fb *FSBoard) SetCwdHint(cwd string) { fb.cwdHint = cwd }

// Mkdir pre-seeds a directory (for test setup) without going through the
// command interpreter.
func (fb *FSBoard) Mkdir(p string) { fb.dirs[clean(p)] = true }

// WriteFile pre-seeds a file's content (for test setup).
func (fb *FSBoard) WriteFile(p string, data []byte) { fb.files[clean(p)] = data }

// ReadFile returns a pre-seeded or written file's content.
func (fb *FSBoard) ReadFile(p string) ([]byte, bool) {
	data, ok := fb.files[clean(p)]
	return data, ok
}

func clean(p string) string {
	p = path.Clean("/" + p)
	return p
}

func (fb *FSBoard) childrenOf(dir string) []string {
	dir = clean(dir)
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p == dir || !strings.HasPrefix(p, prefix) {
			return
		}
		rest := strings.TrimPrefix(p, prefix)
		name := strings.SplitN(rest, "/", 2)[0]
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for d := range fb.dirs {
		add(d)
	}
	for f := range fb.files {
		add(f)
	}
	sort.Strings(out)
	return out
}

func pyListRepr(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func oserror(errno string) string {
	return fmt.Sprintf("Traceback (most recent call last):\r\n  File \"<stdin>\", line 1\r\nOSError: [Errno 0] %s\r\n", errno)
}

var (
	reImport    = regexp.MustCompile(`^import [\w, ]+$`)
	rePrint     = regexp.MustCompile(`^print\((.*)\)$`)
	reListdir   = regexp.MustCompile(`^os\.listdir\('(.*)'\)$`)
	reIListdir  = regexp.MustCompile(`^\[i\[0\] for i in uos\.ilistdir\('(.*)'\)\]$`)
	reMkdir     = regexp.MustCompile(`^u?os\.mkdir\('(.*)'\)$`)
	reRemove    = regexp.MustCompile(`^u?os\.remove\('(.*)'\)$`)
	reRmdir     = regexp.MustCompile(`^os\.rmdir\('(.*)'\)$`)
	rePwd       = regexp.MustCompile(`^uos\.system\('pwd'\)$`)
	reGetcwd    = regexp.MustCompile(`^os\.getcwd\(\)$`)
	reOpen      = regexp.MustCompile(`^f = open\('(.*)', '(\w+)'\)$`)
	reWriteHex  = regexp.MustCompile(`^f\.write\(ubinascii\.unhexlify\('([0-9a-f]*)'\)\)$`)
	reCloseFile = regexp.MustCompile(`^f\.close\(\)$`)
)

// interpret is the Board.Interpret hook: it classifies one framed command
// by shape and applies or reports on the virtual filesystem.
func (fb *FSBoard) interpret(command string) (normal, errOut string) {
	command = strings.TrimRight(command, "\n")

	if reImport.MatchString(command) {
		return "", ""
	}
	if m := rePrint.FindStringSubmatch(command); m != nil {
		return fb.evalExpr(m[1])
	}
	if m := reOpen.FindStringSubmatch(command); m != nil {
		return fb.open(m[1], m[2])
	}
	if m := reWriteHex.FindStringSubmatch(command); m != nil {
		data, err := hex.DecodeString(m[1])
		if err != nil {
			return "", oserror("EINVAL")
		}
		fb.openBuf = append(fb.openBuf, data...)
		return "", ""
	}
	if reCloseFile.MatchString(command) {
		if fb.openMode == "wb" {
			fb.files[fb.openPath] = fb.openBuf
		}
		fb.openPath, fb.openMode, fb.openBuf = "", "", nil
		return "", ""
	}
	if strings.Contains(command, "ubinascii.hexlify(f.read(") {
		data := fb.files[fb.openPath]
		return hex.EncodeToString(data), ""
	}
	return "", ""
}

func (fb *FSBoard) evalExpr(expr string) (normal, errOut string) {
	switch {
	case rePwd.MatchString(expr):
		return fb.cwdHint + "\r\n0", ""
	case reGetcwd.MatchString(expr):
		return fb.cwdHint, ""
	}
	if m := reListdir.FindStringSubmatch(expr); m != nil {
		return fb.listdir(m[1])
	}
	if m := reIListdir.FindStringSubmatch(expr); m != nil {
		return fb.listdir(m[1])
	}
	if m := reMkdir.FindStringSubmatch(expr); m != nil {
		return fb.mkdir(m[1])
	}
	if m := reRemove.FindStringSubmatch(expr); m != nil {
		return fb.remove(m[1])
	}
	if m := reRmdir.FindStringSubmatch(expr); m != nil {
		return fb.rmdir(m[1])
	}
	return "None", ""
}

func (fb *FSBoard) listdir(p string) (normal, errOut string) {
	p = clean(p)
	if !fb.dirs[p] {
		if _, ok := fb.files[p]; ok {
			return "", oserror("ENOTDIR")
		}
		return "", oserror("ENOENT")
	}
	return pyListRepr(fb.childrenOf(p)), ""
}

func (fb *FSBoard) mkdir(p string) (normal, errOut string) {
	p = clean(p)
	if fb.dirs[p] {
		return "", oserror("EEXIST")
	}
	parent := path.Dir(p)
	if parent != "/" && !fb.dirs[parent] {
		return "", oserror("ENOENT")
	}
	fb.dirs[p] = true
	return "None", ""
}

func (fb *FSBoard) remove(p string) (normal, errOut string) {
	p = clean(p)
	if _, ok := fb.files[p]; !ok {
		return "", oserror("ENOENT")
	}
	delete(fb.files, p)
	return "None", ""
}

func (fb *FSBoard) rmdir(p string) (normal, errOut string) {
	p = clean(p)
	if !fb.dirs[p] {
		return "", oserror("ENOENT")
	}
	if len(fb.childrenOf(p)) > 0 {
		return "", oserror("EACCES")
	}
	delete(fb.dirs, p)
	return "None", ""
}

func (fb *FSBoard) open(p, mode string) (normal, errOut string) {
	p = clean(p)
	switch mode {
	case "wb":
		parent := path.Dir(p)
		if parent != "/" && !fb.dirs[parent] {
			return "", oserror("ENOENT")
		}
		if fb.dirs[p] {
			return "", oserror("EACCES")
		}
		fb.openPath, fb.openMode, fb.openBuf = p, mode, nil
	case "rb":
		if _, ok := fb.files[p]; !ok {
			return "", oserror("ENOENT")
		}
		fb.openPath, fb.openMode = p, mode
	case "a":
		if fb.dirs[p] {
			return "", oserror("EACCES")
		}
		if _, ok := fb.files[p]; !ok {
			fb.files[p] = nil
		}
		fb.openPath, fb.openMode = p, mode
	}
	return "", ""
}
