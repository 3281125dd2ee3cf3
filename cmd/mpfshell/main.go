package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/liuyi-cui/mpfshell/internal/log"
	"github.com/liuyi-cui/mpfshell/internal/state"
)

// verbNames lists the dispatchable verbs registered as one-shot
// subcommands (open/close/quit and the short aliases are not among them),
// grounded on the teacher's main.go: each command connects
// (via --device), performs exactly one operation, and exits. args are
// joined back into the single rest string Dispatch expects.
var verbNames = []string{
	"ls", "cd", "pwd", "md", "put", "mput", "get", "mget",
	"rm", "mrm", "rmrf", "mrmrf", "synchronize",
	"cat", "exec", "execfile", "runfile", "mpyc", "repl",
	"lls", "lcd", "lpwd", "view",
}

func buildVerbCommand(name string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: fmt.Sprintf("run '%s' against --device then exit", name),
		Action: func(ctx *cli.Context) error {
			device := ctx.String("device")
			if device == "" {
				return fmt.Errorf("%s: --device is required", name)
			}
			st := state.New(ctx.String("state"))
			sess, err := Open(device, ctx.Bool("nocache"), st)
			if err != nil {
				return err
			}
			defer sess.Close()

			lcwd, _ := os.Getwd()
			rest := ""
			if ctx.Args().Len() > 0 {
				rest = ctx.Args().First()
				for i := 1; i < ctx.Args().Len(); i++ {
					rest += " " + ctx.Args().Get(i)
				}
			}
			_, _, err = Dispatch(sess, lcwd, name, rest, st)
			return err
		},
	}
}

func main() {
	app := &cli.App{
		Name:  "mpfshell",
		Usage: "a file shell and raw-REPL driver for MicroPython boards",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "connection string, e.g. ser:/dev/ttyUSB0 or a bare port name"},
			&cli.StringFlag{Name: "open", Aliases: []string{"o"}, Usage: "open a connection before dropping into the shell (overrides the positional board arg)"},
			&cli.StringFlag{Name: "command", Aliases: []string{"c"}, Usage: "run a single command non-interactively, then exit"},
			&cli.StringFlag{Name: "script", Aliases: []string{"s"}, Usage: "run each line of a script file as a command, then exit"},
			&cli.BoolFlag{Name: "noninteractive", Aliases: []string{"n"}, Usage: "exit instead of dropping into the interactive shell after -c/-s"},
			&cli.BoolFlag{Name: "nocache", Usage: "disable the listing cache"},
			&cli.StringFlag{Name: "loglevel", Value: "warn", Usage: "panic|fatal|error|warn|info|debug|trace"},
			&cli.StringFlag{Name: "logfile", Usage: "write logs to this file instead of stderr"},
			&cli.StringFlag{Name: "state", Value: state.DefaultPath, Usage: "path to the host-side connection-state file"},
		},
		Action: rootAction,
	}
	for _, name := range verbNames {
		app.Commands = append(app.Commands, buildVerbCommand(name))
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mpfshell:", err)
		os.Exit(1)
	}
}

func rootAction(ctx *cli.Context) error {
	if err := log.SetLevel(ctx.String("loglevel")); err != nil {
		return err
	}
	if path := ctx.String("logfile"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}

	st := state.New(ctx.String("state"))

	board := ctx.String("open")
	if board == "" && ctx.Args().Len() > 0 {
		board = ctx.Args().First()
	}
	if board == "" && ctx.String("device") != "" {
		board = ctx.String("device")
	}

	var sess *Session
	var err error
	if board != "" {
		sess, err = Open(board, ctx.Bool("nocache"), st)
		if err != nil {
			return err
		}
	}

	lcwd, _ := os.Getwd()

	if cmd := ctx.String("command"); cmd != "" {
		verb, rest, _ := cutFirstWord(cmd)
		sess, lcwd, err = Dispatch(sess, lcwd, verb, rest, st)
		if err != nil {
			if sess != nil {
				sess.Close()
			}
			return err
		}
	}

	if script := ctx.String("script"); script != "" {
		lines, err := readLines(script)
		if err != nil {
			if sess != nil {
				sess.Close()
			}
			return err
		}
		for _, line := range lines {
			verb, rest, _ := cutFirstWord(line)
			if verb == "" {
				continue
			}
			sess, lcwd, err = Dispatch(sess, lcwd, verb, rest, st)
			if err != nil {
				if sess != nil {
					sess.Close()
				}
				return err
			}
		}
	}

	if ctx.Bool("noninteractive") {
		if sess != nil {
			sess.Close()
		}
		return nil
	}

	RunInteractive(sess, st)
	return nil
}
