package retry

import (
	"testing"
	"time"

	"github.com/liuyi-cui/mpfshell/internal/facade"
	"github.com/liuyi-cui/mpfshell/internal/rerrors"
)

// Shrink the backoff steps so the retry-bound test doesn't actually block
// for 7 real seconds; the gap count (three) is what P8 exercises, not the
// wall-clock duration.
func init() {
	delays = []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
}

// stubFacade implements facade.Facade with Exec's behavior controlled by a
// test, and every other method as a harmless zero-value stub — retry.Wrap
// forwards all of them identically, so only one needs real behavior to
// exercise the backoff loop.
type stubFacade struct {
	execErrs []error // one error per call, nil or out of items means success
	calls    int
}

func (s *stubFacade) Exec(code string) ([]byte, error) {
	var err error
	if s.calls < len(s.execErrs) {
		err = s.execErrs[s.calls]
	}
	s.calls++
	return nil, err
}

func (s *stubFacade) Pwd() string                                    { return "/" }
func (s *stubFacade) Cd(string) error                                { return nil }
func (s *stubFacade) Md(string, bool) error                          { return nil }
func (s *stubFacade) Ls(bool, bool, bool) ([]facade.DirEntry, error) { return nil, nil }
func (s *stubFacade) Rm(string) error                                { return nil }
func (s *stubFacade) Rmrf(string, func(string) bool) error           { return nil }
func (s *stubFacade) Put(string, string, bool) error                 { return nil }
func (s *stubFacade) Get(string, string, bool) error                 { return nil }
func (s *stubFacade) Mget(string, string, bool) error                { return nil }
func (s *stubFacade) Mrm(string, bool) error                         { return nil }
func (s *stubFacade) Mrmrf(string, func(string) bool) error          { return nil }
func (s *stubFacade) Mput(string, string, bool) error                { return nil }
func (s *stubFacade) Synchronize(string, string) error               { return nil }
func (s *stubFacade) Cat(string) (string, error)                     { return "", nil }
func (s *stubFacade) ExecFile(string) ([]byte, error)                { return nil, nil }

func driverErr() error { return rerrors.NewDriverError("framing timeout") }

// P8: an operation that always produces a DriverError is invoked across its
// full backoff budget (initial attempt plus three retries) before the last
// error is surfaced.
func TestRetryBound_AlwaysFails(t *testing.T) {
	stub := &stubFacade{execErrs: []error{driverErr(), driverErr(), driverErr(), driverErr()}}
	r := Wrap(stub)

	_, err := r.Exec("1+1")
	if err == nil {
		t.Fatalf("expected final DriverError to surface")
	}
	if stub.calls != 4 {
		t.Fatalf("calls = %d, want 4 (initial + 3 retries)", stub.calls)
	}
}

// A transient driver error followed by success stops retrying immediately.
func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	stub := &stubFacade{execErrs: []error{driverErr()}}
	r := Wrap(stub)

	if _, err := r.Exec("1+1"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if stub.calls != 2 {
		t.Fatalf("calls = %d, want 2", stub.calls)
	}
}

// RemoteIOError classes are never retried.
func TestRetry_DoesNotRetryRemoteIOError(t *testing.T) {
	stub := &stubFacade{execErrs: []error{rerrors.NewRemoteIOError(rerrors.ErrNoSuchFileOrDirectory, "/x")}}
	r := Wrap(stub)

	if _, err := r.Exec("1+1"); err == nil {
		t.Fatalf("expected RemoteIOError to surface")
	}
	if stub.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry of a RemoteIOError)", stub.calls)
	}
}
