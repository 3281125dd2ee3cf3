package facade

import (
	"os"
	"path/filepath"
	"testing"
)

// P7: after any sequence of put/md/rm on the cached façade, ls returns the
// same set it would have returned without the cache.
func TestCache_LsCoherenceAfterPutMdRm(t *testing.T) {
	plain, _ := setupFacade(t)
	raw, _ := setupFacade(t)
	wrapped := WithCache(raw)

	dir := t.TempDir()
	local := filepath.Join(dir, "boot.py")
	if err := os.WriteFile(local, []byte("print('boot')"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	run := func(f Facade, primeCache bool) {
		if primeCache {
			// Populate the cache before mutating, so Md/Put/Rm's patches
			// (not just the post-mutation cache miss) are exercised.
			if _, err := f.Ls(true, true, true); err != nil {
				t.Fatalf("priming Ls: %v", err)
			}
		}
		if err := f.Md("lib", true); err != nil {
			t.Fatalf("Md: %v", err)
		}
		// A file inside lib/ makes it unambiguously a directory under the
		// probe heuristic too, avoiding the empty-dir-looks-like-a-file
		// edge case (S4) that md's cache patch and a live probe would
		// otherwise classify differently.
		if err := f.Put(local, "lib/child.py", false); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := f.Put(local, "boot.py", false); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := f.Put(local, "keep.py", false); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := f.Rm("keep.py"); err != nil {
			t.Fatalf("Rm: %v", err)
		}
	}
	run(plain, false)
	run(wrapped, true)

	want, err := plain.Ls(true, true, true)
	if err != nil {
		t.Fatalf("plain Ls: %v", err)
	}
	got, err := wrapped.Ls(true, true, true)
	if err != nil {
		t.Fatalf("cached Ls: %v", err)
	}

	toSet := func(entries []DirEntry) map[string]EntryKind {
		m := map[string]EntryKind{}
		for _, e := range entries {
			m[e.Name] = e.Kind
		}
		return m
	}
	wantSet, gotSet := toSet(want), toSet(got)
	if len(wantSet) != len(gotSet) {
		t.Fatalf("entry count = %d, want %d (got=%v want=%v)", len(gotSet), len(wantSet), gotSet, wantSet)
	}
	for name, kind := range wantSet {
		if gotSet[name] != kind {
			t.Fatalf("entry %q kind = %v, want %v", name, gotSet[name], kind)
		}
	}
}

// A cache hit doesn't require another round trip: a second Ls on the same
// cwd returns the same entries as the first without the underlying board
// ever being asked to list again (hard to observe directly through the
// Facade interface, so this instead pins the observable behavior: repeated
// Ls calls between mutations keep returning a consistent set).
func TestCache_RepeatedLsIsStable(t *testing.T) {
	raw, board := setupFacade(t)
	board.Mkdir("/pkg")
	board.WriteFile("/main.py", []byte("x"))
	f := WithCache(raw)

	first, err := f.Ls(true, true, true)
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	second, err := f.Ls(true, true, true)
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("entry counts differ across repeated Ls: %d vs %d", len(first), len(second))
	}
}
