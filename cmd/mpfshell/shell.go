package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/liuyi-cui/mpfshell/internal/state"
)

// RunInteractive drives the read-verb-dispatch loop, adapted from
// aldrin-isaac-newtron/cmd/newtron's bufio-read-dispatch pattern: read a
// line, trim it, split into a verb and its remaining argument string, and
// dispatch. Unlike that menu-driven original, verbs here are names, not
// numbers, matching the do_* method names of
// original_source/mpfshell.py's cmd.Cmd-derived shell.
func RunInteractive(sess *Session, st *state.Store) int {
	lcwd, err := os.Getwd()
	if err != nil {
		lcwd = "."
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(prompt(sess))
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		next, nextLcwd, err := Dispatch(sess, lcwd, verb, rest, st)
		sess, lcwd = next, nextLcwd
		if err != nil {
			if err == errQuit {
				break
			}
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
	}
	if sess != nil {
		sess.Close()
	}
	return 0
}

func prompt(sess *Session) string {
	if sess == nil {
		return "mpfs> "
	}
	return fmt.Sprintf("mpfs [%s]> ", sess.fs.Pwd())
}
