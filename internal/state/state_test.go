package state

import (
	"path/filepath"
	"testing"
)

func TestUpdate_CreatesFileAndMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state_temp.json")
	s := New(path)

	if err := s.Update("/dev/ttyUSB0", ModeShell); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update("telnet://10.0.0.5:23", ModeRepl); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if entries["/dev/ttyUSB0"] != string(ModeShell) {
		t.Fatalf("entries[ttyUSB0] = %q, want %q", entries["/dev/ttyUSB0"], ModeShell)
	}
	if entries["telnet://10.0.0.5:23"] != string(ModeRepl) {
		t.Fatalf("entries[telnet] = %q, want %q", entries["telnet://10.0.0.5:23"], ModeRepl)
	}
}

func TestUpdate_OverwritesSameConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state_temp.json")
	s := New(path)

	s.Update("/dev/ttyUSB0", ModeShell)
	s.Update("/dev/ttyUSB0", ModeRepl)

	entries, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want exactly one key", entries)
	}
	if entries["/dev/ttyUSB0"] != string(ModeRepl) {
		t.Fatalf("entries[ttyUSB0] = %q, want %q", entries["/dev/ttyUSB0"], ModeRepl)
	}
}

func TestRead_MissingFileIsEmptyMap(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope.json"))
	entries, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %v, want empty", entries)
	}
}
