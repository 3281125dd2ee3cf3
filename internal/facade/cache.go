package facade

import (
	"path"
	"sync"
)

// cached is the listing-cache decorator, spec.md §4.4. It wraps a Facade
// rather than subclassing a concrete implementation — the same REDESIGN
// FLAG the plain Facade interface is shaped around — so it composes with
// retry.Wrap in either order the caller chooses.
//
// Grounded on original_source/mpfexp.py's MpFileExplorerCaching, which
// overrides ls/put/md/rm to patch a single dict_cache keyed by cwd instead
// of re-listing the device.
type cached struct {
	f     Facade
	mu    sync.Mutex
	byCwd map[string][]DirEntry
}

// WithCache wraps f with a per-cwd listing cache.
func WithCache(f Facade) Facade {
	return &cached{f: f, byCwd: map[string][]DirEntry{}}
}

func (c *cached) Pwd() string { return c.f.Pwd() }

func (c *cached) Cd(target string) error { return c.f.Cd(target) }

func (c *cached) Md(target string, verify bool) error {
	if err := c.f.Md(target, verify); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patchLocked(target, KindDir)
	return nil
}

// Ls serves a cache hit for the current cwd by filtering the cached full
// listing down to what was requested; a miss fetches a full (addFiles=true,
// addDirs=true, addDetails=true) listing once and caches it.
func (c *cached) Ls(addFiles, addDirs, addDetails bool) ([]DirEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cwd := c.f.Pwd()
	entries, ok := c.byCwd[cwd]
	if !ok {
		full, err := c.f.Ls(true, true, true)
		if err != nil {
			return nil, err
		}
		c.byCwd[cwd] = full
		entries = full
	}

	if !addDetails && addDirs {
		out := make([]DirEntry, len(entries))
		for i, e := range entries {
			out[i] = DirEntry{Name: e.Name}
		}
		return out, nil
	}
	var out []DirEntry
	for _, e := range entries {
		if (e.Kind == KindDir && !addDirs) || (e.Kind == KindFile && !addFiles) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *cached) Rm(target string) error {
	if err := c.f.Rm(target); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(target)
	return nil
}

// Rmrf and the glob operations touch more than one cache entry across a
// recursive walk; rather than replaying every rm/md patch the traversal
// performed, the cache is simply dropped and rebuilt lazily on the next Ls —
// a deliberate simplification beyond what spec.md §4.4 enumerates for the
// single-item operations.
func (c *cached) Rmrf(target string, confirm func(string) bool) error {
	err := c.f.Rmrf(target, confirm)
	c.invalidate()
	return err
}

func (c *cached) Put(src, dst string, verbose bool) error {
	if err := c.f.Put(src, dst, verbose); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patchLocked(dst, KindFile)
	return nil
}

func (c *cached) Get(src, dst string, verify bool) error {
	return c.f.Get(src, dst, verify)
}

func (c *cached) Mget(dstDir, pattern string, verbose bool) error {
	return c.f.Mget(dstDir, pattern, verbose)
}

func (c *cached) Mrm(pattern string, verbose bool) error {
	err := c.f.Mrm(pattern, verbose)
	c.invalidate()
	return err
}

func (c *cached) Mrmrf(pattern string, confirm func(string) bool) error {
	err := c.f.Mrmrf(pattern, confirm)
	c.invalidate()
	return err
}

func (c *cached) Mput(srcDir, pattern string, verbose bool) error {
	err := c.f.Mput(srcDir, pattern, verbose)
	c.invalidate()
	return err
}

func (c *cached) Synchronize(localDir, remoteDir string) error {
	err := c.f.Synchronize(localDir, remoteDir)
	c.invalidate()
	return err
}

func (c *cached) Cat(remotePath string) (string, error) { return c.f.Cat(remotePath) }

func (c *cached) Exec(code string) ([]byte, error) { return c.f.Exec(code) }

func (c *cached) ExecFile(remotePath string) ([]byte, error) { return c.f.ExecFile(remotePath) }

func (c *cached) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCwd = map[string][]DirEntry{}
}

// removeLocked drops target's name from its parent directory's cache
// entry, mirroring patchLocked's directory/name split.
func (c *cached) removeLocked(target string) {
	cwd := c.f.Pwd()
	dir := cwd
	name := target
	if slash := lastSlash(target); slash >= 0 {
		dir = path.Join(cwd, target[:slash])
		name = target[slash+1:]
	}
	entries, ok := c.byCwd[dir]
	if !ok {
		return
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	c.byCwd[dir] = out
}

// patchLocked adds (name, kind) to target's parent directory's cache entry
// if no entry of that name is already present. target is resolved against
// the current cwd the same way the façade's fqn does, but only the
// containing-directory cache entry is touched (the façade's own cwd-
// relative resolution already happened inside Put/Md).
func (c *cached) patchLocked(target string, kind EntryKind) {
	cwd := c.f.Pwd()
	dir := cwd
	name := target
	if slash := lastSlash(target); slash >= 0 {
		dir = path.Join(cwd, target[:slash])
		name = target[slash+1:]
	}
	entries, ok := c.byCwd[dir]
	if !ok {
		return
	}
	for _, e := range entries {
		if e.Name == name {
			return
		}
	}
	c.byCwd[dir] = append(entries, DirEntry{Name: name, Kind: kind})
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
