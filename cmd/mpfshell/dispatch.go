package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/console"

	"github.com/liuyi-cui/mpfshell/internal/facade"
	"github.com/liuyi-cui/mpfshell/internal/state"
)

// Dispatch runs one verb with its raw argument string against sess (nil if
// no board is open yet) and the host-side working directory lcwd. It
// returns the possibly-updated Session (open/close change it) and the
// possibly-updated lcwd (lcd changes it).
//
// Grounded on original_source/mpfshell.py's do_* method family: one verb,
// one method, talking to self.fe (our Facade) or the filesystem directly
// for the l* (local) verbs.
func Dispatch(sess *Session, lcwd, verb, rest string, st *state.Store) (*Session, string, error) {
	args := splitArgs(rest)

	switch verb {
	case "open", "o":
		if len(args) < 1 {
			return sess, lcwd, fmt.Errorf("open: missing connection string")
		}
		if sess != nil {
			sess.Close()
		}
		next, err := Open(args[0], false, st)
		return next, lcwd, err

	case "close":
		if sess != nil {
			sess.Close()
		}
		return nil, lcwd, nil

	case "quit", "q", "exit":
		if sess != nil {
			sess.Close()
		}
		return nil, lcwd, errQuit

	case "ls":
		if sess == nil {
			return sess, lcwd, errNotOpen
		}
		entries, err := sess.fs.Ls(true, true, true)
		if err != nil {
			return sess, lcwd, err
		}
		printLs(entries)
		return sess, lcwd, nil

	case "cd":
		if sess == nil {
			return sess, lcwd, errNotOpen
		}
		target := "/"
		if len(args) > 0 {
			target = args[0]
		}
		return sess, lcwd, sess.fs.Cd(target)

	case "pwd":
		if sess == nil {
			return sess, lcwd, errNotOpen
		}
		fmt.Println(sess.fs.Pwd())
		return sess, lcwd, nil

	case "md":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		return sess, lcwd, sess.fs.Md(args[0], true)

	case "put":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		dst := ""
		if len(args) > 1 {
			dst = args[1]
		} else {
			dst = filepath.Base(args[0])
		}
		return sess, lcwd, filepath.WalkDir(args[0], func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(args[0], p)
			if err != nil {
				return err
			}
			return sess.fs.Put(p, path.Join(dst, filepath.ToSlash(rel)), true)
		})

	case "mput":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		return sess, lcwd, sess.fs.Mput(lcwd, args[0], true)

	case "get":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		dst := filepath.Join(lcwd, filepath.Base(args[0]))
		if len(args) > 1 {
			dst = args[1]
		}
		return sess, lcwd, sess.fs.Get(args[0], dst, true)

	case "mget":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		return sess, lcwd, sess.fs.Mget(lcwd, args[0], true)

	case "rm":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		return sess, lcwd, sess.fs.Rm(args[0])

	case "mrm":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		return sess, lcwd, sess.fs.Mrm(args[0], true)

	case "rmrf":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		return sess, lcwd, sess.fs.Rmrf(args[0], confirmYN)

	case "mrmrf":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		return sess, lcwd, sess.fs.Mrmrf(args[0], confirmYN)

	case "synchronize":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		err := filepath.WalkDir(lcwd, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(lcwd, p)
			if err != nil {
				return err
			}
			return sess.fs.Put(p, path.Join(args[0], filepath.ToSlash(rel)), true)
		})
		if err != nil {
			return sess, lcwd, err
		}
		return sess, lcwd, sess.fs.Synchronize(lcwd, args[0])

	case "cat", "c":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		out, err := sess.fs.Cat(args[0])
		if err != nil {
			return sess, lcwd, err
		}
		fmt.Print(out)
		return sess, lcwd, nil

	case "exec", "e":
		if sess == nil {
			return sess, lcwd, errNotOpen
		}
		out, err := sess.fs.Exec(rest)
		os.Stdout.Write(out)
		return sess, lcwd, err

	case "execfile", "ef":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		out, err := sess.fs.ExecFile(args[0])
		os.Stdout.Write(out)
		return sess, lcwd, err

	case "runfile", "rf":
		if sess == nil || len(args) < 1 {
			return sess, lcwd, errNotOpen
		}
		dst := filepath.Base(args[0])
		if err := sess.fs.Put(args[0], dst, true); err != nil {
			return sess, lcwd, err
		}
		out, err := sess.fs.ExecFile(dst)
		os.Stdout.Write(out)
		return sess, lcwd, err

	case "mpyc":
		if len(args) < 1 {
			return sess, lcwd, fmt.Errorf("mpyc: missing source file")
		}
		return sess, lcwd, fmt.Errorf("mpyc: cross-compilation requires mpy-cross on PATH, none invoked (not modeled as a dependency)")

	case "repl", "r":
		if sess == nil {
			return sess, lcwd, errNotOpen
		}
		return sess, lcwd, runRepl(sess, st)

	case "lls":
		names, err := os.ReadDir(lcwd)
		if err != nil {
			return sess, lcwd, err
		}
		sort.Slice(names, func(i, j int) bool { return names[i].Name() < names[j].Name() })
		for _, n := range names {
			fmt.Println(n.Name())
		}
		return sess, lcwd, nil

	case "lcd":
		target := lcwd
		if len(args) > 0 {
			target = args[0]
		}
		abs, err := filepath.Abs(filepath.Join(lcwd, target))
		if err != nil {
			return sess, lcwd, err
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return sess, lcwd, fmt.Errorf("lcd: not a directory: %s", target)
		}
		return sess, abs, nil

	case "lpwd":
		fmt.Println(lcwd)
		return sess, lcwd, nil

	case "view", "v":
		for _, p := range listSerialPorts() {
			fmt.Println(p)
		}
		return sess, lcwd, nil

	case "":
		return sess, lcwd, nil

	default:
		return sess, lcwd, fmt.Errorf("unknown command: %s", verb)
	}
}

var errNotOpen = fmt.Errorf("no board open (use 'open <connection>' first)")
var errQuit = fmt.Errorf("quit")

func splitArgs(rest string) []string {
	fields := strings.Fields(rest)
	return fields
}

func printLs(entries []facade.DirEntry) {
	for _, e := range entries {
		suffix := ""
		if e.Kind == facade.KindDir {
			suffix = "/"
		}
		fmt.Printf("       %s%s\n", e.Name, suffix)
	}
}

func confirmYN(target string) bool {
	fmt.Printf("Delete %s (y/n)? ", target)
	var answer string
	fmt.Scanln(&answer)
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// runRepl hands the terminal to the board verbatim until the user's exit
// character, bracketing the passthrough with a ModeRepl/ModeShell state
// update the way do_repl's __update_state calls do.
func runRepl(sess *Session, st *state.Store) error {
	if st != nil {
		st.Update(sess.raw, state.ModeRepl)
	}
	defer func() {
		if st != nil {
			st.Update(sess.raw, state.ModeShell)
		}
	}()

	current := console.Current()
	if err := current.SetRaw(); err != nil {
		return fmt.Errorf("repl: failed to set raw terminal mode: %w", err)
	}
	defer current.Reset()

	fmt.Fprintln(os.Stderr, "\r\n*** entering REPL, Ctrl-] to exit ***\r")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in, pw := io.Pipe()
	go func() {
		defer cancel()
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if strings.IndexByte(string(buf[:n]), 0x1d) >= 0 || err != nil {
				return
			}
			pw.Write(buf[:n])
		}
	}()
	err := sess.drv.Passthrough(ctx, in, io.Writer(os.Stdout))
	fmt.Fprintln(os.Stderr, "\r\n*** exiting REPL ***\r")
	return err
}

// listSerialPorts globs the conventional Linux tty device names the way
// original_source/mpfshell.py's all_serial() enumerates pyserial's
// comports() result; no third-party serial-enumeration library appears
// anywhere in the example pack (only github.com/tarm/serial for raw I/O,
// which exposes no port-listing API), so this one surface is hand-rolled
// against the stdlib's path/filepath globbing — documented in DESIGN.md.
func listSerialPorts() []string {
	var out []string
	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*"} {
		matches, _ := filepath.Glob(pattern)
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out
}
