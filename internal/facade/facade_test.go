package facade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/liuyi-cui/mpfshell/internal/driver"
	"github.com/liuyi-cui/mpfshell/internal/rerrors"
	"github.com/liuyi-cui/mpfshell/internal/transport/transporttest"
)

func setupFacade(t *testing.T) (Facade, *transporttest.FSBoard) {
	t.Helper()
	board := transporttest.NewFilesystemBoard("MicroPython board with esp32\r\n")
	d := driver.New(board)
	if err := d.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	f, err := New(d)
	if err != nil {
		t.Fatalf("facade.New: %v", err)
	}
	return f, board
}

func TestPwdAfterSetupIsRoot(t *testing.T) {
	f, _ := setupFacade(t)
	if f.Pwd() != "/" {
		t.Fatalf("Pwd = %q, want /", f.Pwd())
	}
}

// S2: md foo, cd foo, pwd -> /foo
func TestMdCdPwd(t *testing.T) {
	f, _ := setupFacade(t)
	if err := f.Md("foo", true); err != nil {
		t.Fatalf("Md: %v", err)
	}
	if err := f.Cd("foo"); err != nil {
		t.Fatalf("Cd: %v", err)
	}
	if f.Pwd() != "/foo" {
		t.Fatalf("Pwd = %q, want /foo", f.Pwd())
	}
}

func TestCd_MissingDirectory(t *testing.T) {
	f, _ := setupFacade(t)
	err := f.Cd("nope")
	if err == nil {
		t.Fatalf("Cd into missing dir should fail")
	}
	if !rerrors.WasFileNotExisting("ENOENT") {
		t.Fatalf("sanity check failed")
	}
}

// S4: ls in a directory containing empty_dir/ (empty) and data.bin
// (non-empty file). Expected entries treat the empty dir as a FILE.
func TestLs_EmptyDirLooksLikeFile(t *testing.T) {
	f, board := setupFacade(t)
	board.Mkdir("/empty_dir")
	board.WriteFile("/data.bin", []byte("hello"))

	entries, err := f.Ls(true, true, true)
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	kinds := map[string]EntryKind{}
	for _, e := range entries {
		kinds[e.Name] = e.Kind
	}
	if kinds["empty_dir"] != KindFile {
		t.Fatalf("empty_dir kind = %v, want KindFile", kinds["empty_dir"])
	}
	if kinds["data.bin"] != KindFile {
		t.Fatalf("data.bin kind = %v, want KindFile", kinds["data.bin"])
	}
}

func TestLs_NonEmptyDirIsDir(t *testing.T) {
	f, board := setupFacade(t)
	board.Mkdir("/lib")
	board.WriteFile("/lib/a.py", []byte("x"))

	entries, err := f.Ls(true, true, true)
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	for _, e := range entries {
		if e.Name == "lib" && e.Kind != KindDir {
			t.Fatalf("lib kind = %v, want KindDir", e.Kind)
		}
	}
}

// Open Question decision: the WiPy root special case reads the *host's*
// sysname (runtime.GOOS, surfaced here via the facade's unexported field),
// exactly as the original's self.sysname = sys.platform does — even though
// the rule is clearly meant to describe the remote board. An empty
// directory at the WiPy root is still reported as DIR under the
// host-platform reading.
func TestLs_WiPyRootRule_HostPlatform(t *testing.T) {
	f, board := setupFacade(t)
	board.Mkdir("/empty_mount")
	fc := f.(*facade)
	fc.sysname = "WiPy"

	entries, err := f.Ls(true, true, true)
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	var kind EntryKind
	found := false
	for _, e := range entries {
		if e.Name == "empty_mount" {
			kind, found = e.Kind, true
		}
	}
	if !found {
		t.Fatalf("empty_mount missing from listing")
	}
	if kind != KindDir {
		t.Fatalf("empty_mount kind = %v, want KindDir under the WiPy root rule", kind)
	}
}

// Documents the alternative reading spec.md leaves open (sysname taken from
// the remote board identifier instead of the host) as explicitly not
// implemented, rather than silently picking one without a record.
func TestLs_WiPyRootRule_RemoteIdentifier_NotImplemented(t *testing.T) {
	f, board := setupFacade(t)
	board.Mkdir("/empty_mount")

	// sysname defaults to runtime.GOOS (the host), never to a board-reported
	// identifier, so this case does not special-case the WiPy root even
	// though a remote-identifier reading of spec.md §9 might.
	entries, err := f.Ls(true, true, true)
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	for _, e := range entries {
		if e.Name == "empty_mount" && e.Kind != KindFile {
			t.Fatalf("empty_mount kind = %v, want KindFile on a non-host-matching platform", e.Kind)
		}
	}
}

// P3: put then get round-trips bytes, across a few interesting sizes.
func TestPutGetRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 1599, 1600, 1601, 10*1600 + 7}
	for _, n := range sizes {
		f, _ := setupFacade(t)
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i % 251)
		}

		dir := t.TempDir()
		local := filepath.Join(dir, "payload.bin")
		if err := os.WriteFile(local, data, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		if err := f.Put(local, "payload.bin", false); err != nil {
			t.Fatalf("Put(n=%d): %v", n, err)
		}

		out := filepath.Join(dir, "out.bin")
		if err := f.Get("payload.bin", out, false); err != nil {
			t.Fatalf("Get(n=%d): %v", n, err)
		}
		got, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if len(got) != len(data) {
			t.Fatalf("round-trip size (n=%d) = %d, want %d", n, len(got), len(data))
		}
		for i := range got {
			if got[i] != data[i] {
				t.Fatalf("round-trip mismatch at byte %d (n=%d)", i, n)
			}
		}
	}
}

// P4: a second put of an unchanged file performs no chunked write.
func TestPut_IdempotentSkipsUnchanged(t *testing.T) {
	f, board := setupFacade(t)
	dir := t.TempDir()
	local := filepath.Join(dir, "main.py")
	os.WriteFile(local, []byte("print('hi')"), 0o644)

	if err := f.Put(local, "main.py", false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	writesAfterFirst := len(board.Writes())

	if err := f.Put(local, "main.py", false); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if len(board.Writes()) != writesAfterFirst {
		t.Fatalf("second Put performed %d more wire writes, want 0", len(board.Writes())-writesAfterFirst)
	}
}

// S5: rm of a non-empty directory fails with DirectoryNotEmpty; rmrf then
// succeeds.
func TestRm_NonEmptyDirThenRmrf(t *testing.T) {
	f, board := setupFacade(t)
	board.Mkdir("/foo")
	board.WriteFile("/foo/x.py", []byte("a"))

	err := f.Rm("foo")
	if err == nil {
		t.Fatalf("Rm of non-empty dir should fail")
	}

	if err := f.Rmrf("foo", nil); err != nil {
		t.Fatalf("Rmrf: %v", err)
	}
	if _, ok := board.ReadFile("/foo/x.py"); ok {
		t.Fatalf("Rmrf should have removed /foo/x.py")
	}
}

func TestMrm_RemovesMatchingFiles(t *testing.T) {
	f, board := setupFacade(t)
	board.WriteFile("/a.log", []byte("1"))
	board.WriteFile("/b.log", []byte("2"))
	board.WriteFile("/keep.py", []byte("3"))

	if err := f.Mrm(`.*\.log`, false); err != nil {
		t.Fatalf("Mrm: %v", err)
	}
	if _, ok := board.ReadFile("/a.log"); ok {
		t.Fatalf("a.log should be removed")
	}
	if _, ok := board.ReadFile("/keep.py"); !ok {
		t.Fatalf("keep.py should remain")
	}
}

func TestCat_PrintsTextFile(t *testing.T) {
	f, board := setupFacade(t)
	board.WriteFile("/readme.txt", []byte("hello world"))

	out, err := f.Cat("readme.txt")
	if err != nil {
		t.Fatalf("Cat: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("Cat = %q", out)
	}
}
