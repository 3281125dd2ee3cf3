// Package retry implements the retry-policy decorator around a
// facade.Facade: spec.md §4.5, grounded on the original's
// "@retry(PyboardError, tries=MAX_TRIES, delay=1, backoff=2, ...)"
// decorator that wraps every MpFileExplorer method.
package retry

import (
	"errors"
	"time"

	"github.com/liuyi-cui/mpfshell/internal/facade"
	"github.com/liuyi-cui/mpfshell/internal/log"
	"github.com/liuyi-cui/mpfshell/internal/rerrors"
)

// delays is one retry past the initial attempt per backoff step: initial
// attempt, then up to three retries separated by 1s/2s/4s. Four attempts
// with three gaps is what reconciles spec.md's "three total attempts" prose
// with its own "(1, 2, 4 s)" backoff list (three delay values need three
// gaps, which needs four attempts) — see DESIGN.md's Open Question note.
var delays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Wrap retries only driver-classified errors (prompt loss, missing OK,
// framing timeout) — RemoteIOError classes like NoSuchFileOrDirectory,
// DirectoryNotEmpty, and InvalidDirectoryName are permanent outcomes and are
// returned on the first attempt.
func Wrap(f facade.Facade) facade.Facade {
	return &retrying{f: f}
}

type retrying struct {
	f facade.Facade
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var de *rerrors.DriverError
	return errors.As(err, &de)
}

// run retries fn the same way for every façade operation: on a
// driver-classified error, sleep the next backoff step and try again; any
// other error (including a RemoteIOError) is returned immediately.
func run(op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if !retryable(err) || attempt >= len(delays) {
			return err
		}
		log.Component("retry").WithField("op", op).WithField("attempt", attempt+1).
			WithField("wait", delays[attempt]).Warn("driver error, retrying")
		time.Sleep(delays[attempt])
	}
}

func (r *retrying) Pwd() string { return r.f.Pwd() }

func (r *retrying) Cd(target string) error {
	return run("cd", func() error { return r.f.Cd(target) })
}

func (r *retrying) Md(target string, verify bool) error {
	return run("md", func() error { return r.f.Md(target, verify) })
}

func (r *retrying) Ls(addFiles, addDirs, addDetails bool) ([]facade.DirEntry, error) {
	var out []facade.DirEntry
	err := run("ls", func() error {
		var innerErr error
		out, innerErr = r.f.Ls(addFiles, addDirs, addDetails)
		return innerErr
	})
	return out, err
}

func (r *retrying) Rm(target string) error {
	return run("rm", func() error { return r.f.Rm(target) })
}

func (r *retrying) Rmrf(target string, confirm func(string) bool) error {
	return run("rmrf", func() error { return r.f.Rmrf(target, confirm) })
}

func (r *retrying) Put(src, dst string, verbose bool) error {
	return run("put", func() error { return r.f.Put(src, dst, verbose) })
}

func (r *retrying) Get(src, dst string, verify bool) error {
	return run("get", func() error { return r.f.Get(src, dst, verify) })
}

func (r *retrying) Mget(dstDir, pattern string, verbose bool) error {
	return run("mget", func() error { return r.f.Mget(dstDir, pattern, verbose) })
}

func (r *retrying) Mrm(pattern string, verbose bool) error {
	return run("mrm", func() error { return r.f.Mrm(pattern, verbose) })
}

func (r *retrying) Mrmrf(pattern string, confirm func(string) bool) error {
	return run("mrmrf", func() error { return r.f.Mrmrf(pattern, confirm) })
}

func (r *retrying) Mput(srcDir, pattern string, verbose bool) error {
	return run("mput", func() error { return r.f.Mput(srcDir, pattern, verbose) })
}

func (r *retrying) Synchronize(localDir, remoteDir string) error {
	return run("synchronize", func() error { return r.f.Synchronize(localDir, remoteDir) })
}

func (r *retrying) Cat(remotePath string) (string, error) {
	var out string
	err := run("cat", func() error {
		var innerErr error
		out, innerErr = r.f.Cat(remotePath)
		return innerErr
	})
	return out, err
}

func (r *retrying) Exec(code string) ([]byte, error) {
	var out []byte
	err := run("exec", func() error {
		var innerErr error
		out, innerErr = r.f.Exec(code)
		return innerErr
	})
	return out, err
}

func (r *retrying) ExecFile(remotePath string) ([]byte, error) {
	var out []byte
	err := run("execfile", func() error {
		var innerErr error
		out, innerErr = r.f.ExecFile(remotePath)
		return innerErr
	})
	return out, err
}
