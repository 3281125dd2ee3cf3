// Package ledger implements the digest ledger: an in-memory map from remote
// absolute path (leading slash stripped) to a 32-character lowercase hex MD5
// digest, persisted on the device as a single hex-encoded file at /sign.
//
// Grounded on _examples/original_source/utility/file_util.py's MD5Varifier.
// The REDESIGN FLAG in spec.md §9 applies: Python's MD5Varifier carries its
// cache as a class attribute shared across every instance; Ledger here is a
// plain struct owned one-per-facade, constructed fresh by New().
package ledger

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Path is the ledger's own location on the device.
const Path = "/sign"

// emptyMarker is "0d0a", the hex encoding of a lone "\r\n", which the
// original treats as a synonym for an empty ledger (see spec.md §4.3 and
// §6 "Persistent state file").
const emptyMarker = "0d0a"

// Ledger is an owned, non-shared digest cache. The zero value is not ready
// for use; construct with New().
type Ledger struct {
	entries map[string]string
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]string)}
}

func clean(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Load merges the hex-encoded /sign payload into the ledger. An empty
// payload or the literal "0d0a" marker leaves the ledger untouched, matching
// MD5Varifier.init_cache.
func (l *Ledger) Load(serialized []byte) error {
	if len(serialized) == 0 || string(serialized) == emptyMarker {
		return nil
	}
	raw, err := hex.DecodeString(string(serialized))
	if err != nil {
		return fmt.Errorf("ledger: decode /sign payload: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\r\n") {
		if line == "" {
			continue
		}
		path, digest, err := parseEntryLiteral(line)
		if err != nil {
			return fmt.Errorf("ledger: parse entry %q: %w", line, err)
		}
		l.entries[clean(path)] = digest
	}
	return nil
}

// Serialize renders the ledger back to the CRLF-joined mapping-literal text,
// UTF-8 encoded (hex-encoding onto the wire is the facade's job, matching
// spec.md §4.3's note that the facade hex-encodes as part of chunked write).
func (l *Ledger) Serialize() []byte {
	paths := make([]string, 0, len(l.entries))
	for p := range l.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(renderEntryLiteral(p, l.entries[p]))
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// Digest computes the 32-character lowercase hex MD5 of data, the signature
// form stored in the ledger.
func Digest(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// VerifySign compares localData's digest against the stored digest for
// remotePath. If the digest is absent or differs, it records the new digest
// and returns (serialized-ledger, true); if the digest already matches, it
// returns (nil, false) and the caller should skip the upload.
func (l *Ledger) VerifySign(localData []byte, remotePath string) ([]byte, bool) {
	remotePath = clean(remotePath)
	sign := Digest(localData)
	if existing, ok := l.entries[remotePath]; ok && existing == sign {
		return nil, false
	}
	l.entries[remotePath] = sign
	return l.Serialize(), true
}

// RmSign drops the digest for remotePath and returns the new serialized
// ledger. Removing the ledger's own path clears the entire map, matching
// MD5Varifier.rm_sign.
func (l *Ledger) RmSign(remotePath string) []byte {
	remotePath = clean(remotePath)
	if remotePath == clean(Path) {
		l.entries = make(map[string]string)
		return l.Serialize()
	}
	delete(l.entries, remotePath)
	return l.Serialize()
}

// GetByPrefix returns every remembered path beginning with prefix (leading
// slash stripped from both sides before comparing), used by Synchronize to
// find files the ledger knows about under a given remote directory.
func (l *Ledger) GetByPrefix(prefix string) []string {
	prefix = clean(prefix)
	var out []string
	for p := range l.entries {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// renderEntryLiteral renders a single-entry mapping the way Python's
// str({k: v}) would for two string keys/values: {'path': 'digest'}.
func renderEntryLiteral(path, digest string) string {
	return fmt.Sprintf("{%s: %s}", quote(path), quote(digest))
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
}

// parseEntryLiteral parses a single {'path': 'digest'} line back into its
// path and digest. This is a narrow parser for exactly the shape Serialize
// produces — it does not attempt to be a general Python literal evaluator
// (the original uses eval(), which this Go port deliberately does not).
func parseEntryLiteral(line string) (path, digest string, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		return "", "", fmt.Errorf("not a mapping literal")
	}
	inner := line[1 : len(line)-1]
	idx := strings.Index(inner, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing ':'")
	}
	key, err := unquote(strings.TrimSpace(inner[:idx]))
	if err != nil {
		return "", "", err
	}
	val, err := unquote(strings.TrimSpace(inner[idx+1:]))
	if err != nil {
		return "", "", err
	}
	return key, val, nil
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", fmt.Errorf("expected quoted string, got %q", s)
	}
	return strings.ReplaceAll(s[1:len(s)-1], "\\'", "'"), nil
}
