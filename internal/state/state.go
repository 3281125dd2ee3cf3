// Package state persists which sessions are attached to which serial/
// telnet/websocket connection strings, and in which mode (the façade shell
// or raw REPL passthrough), so a concurrently running process can see it.
// Grounded on original_source/mpfshell.py's __update_state/STATE_FILE, with
// the read-modify-write made safe against a second process writing the same
// file via an advisory lock (the original has no such guard). The lock
// itself is platform-specific: see state_unix.go/state_windows.go.
package state

import (
	"encoding/json"
	"io"
	"os"
)

// DefaultPath matches the original's STATE_FILE constant.
const DefaultPath = "state_temp.json"

// Mode names the two states a connection string's entry tracks.
type Mode string

const (
	ModeShell Mode = "mpfshell"
	ModeRepl  Mode = "repl"
)

// Store reads and writes one state file.
type Store struct {
	path string
}

// New returns a Store for path, or DefaultPath if path is empty.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Update sets connection's mode, merging into whatever the file already
// holds (including entries written by another process), under an exclusive
// advisory lock held for the duration of the read-modify-write.
func (s *Store) Update(connection string, mode Mode) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockExclusive(f); err != nil {
		return err
	}
	defer unlockFile(f)

	entries := map[string]string{}
	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return err
		}
	}
	entries[connection] = string(mode)

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	return enc.Encode(entries)
}

// Read returns the current connection -> mode map, or an empty map if the
// state file doesn't exist yet.
func (s *Store) Read() (map[string]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := lockShared(f); err != nil {
		return nil, err
	}
	defer unlockFile(f)

	entries := map[string]string{}
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
