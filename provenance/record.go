package provenance

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wippyai/wasm-build/errors"
)

// RecordFile is the manifest written into every build directory.
const RecordFile = "BUILD-INFO.md"

// SignatureFile holds the hex Ed25519 signature of RecordFile.
const SignatureFile = RecordFile + ".sig"

// Digest is one `sha256(<name>): <hex>` line.
type Digest struct {
	Name string
	Hex  string
}

// Record is the parsed content of BUILD-INFO.md. Empty optional fields are
// omitted when rendered.
type Record struct {
	BuildTime time.Time
	Commit    string
	Rustc     string
	Cargo     string
	Target    string
	Digests   []Digest
}

// Digest returns the recorded hex digest of the named file.
func (r *Record) Digest(name string) (string, bool) {
	for _, d := range r.Digests {
		if d.Name == name {
			return d.Hex, true
		}
	}
	return "", false
}

// Render formats the record in its line grammar: digests in order, then
// commit, rustc, cargo, target and build_time.
func (r *Record) Render() []byte {
	var b bytes.Buffer
	for _, d := range r.Digests {
		fmt.Fprintf(&b, "sha256(%s): %s\n", d.Name, d.Hex)
	}
	optional := []struct{ key, value string }{
		{"commit", r.Commit},
		{"rustc", r.Rustc},
		{"cargo", r.Cargo},
	}
	for _, f := range optional {
		if f.value != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.key, f.value)
		}
	}
	fmt.Fprintf(&b, "target: %s\n", r.Target)
	fmt.Fprintf(&b, "build_time: %s\n", r.BuildTime.UTC().Format(time.RFC3339))
	return b.Bytes()
}

// ParseRecord parses BUILD-INFO.md content.
func ParseRecord(data []byte) (*Record, error) {
	r := &Record{}
	var haveTime bool
	seen := make(map[string]bool)

	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, invalidRecord("line %d: expected `key: value`", n)
		}
		if seen[key] {
			return nil, invalidRecord("line %d: duplicate %s", n, key)
		}
		seen[key] = true

		switch {
		case strings.HasPrefix(key, "sha256(") && strings.HasSuffix(key, ")"):
			name := key[len("sha256(") : len(key)-1]
			if name == "" {
				return nil, invalidRecord("line %d: empty file name", n)
			}
			if !validName(name) {
				return nil, invalidRecord("line %d: file name %q is not a plain file in the build directory", n, name)
			}
			if _, err := ParseDigest(value); err != nil {
				return nil, invalidRecord("line %d: %v", n, err)
			}
			r.Digests = append(r.Digests, Digest{Name: name, Hex: value})
		case key == "commit":
			r.Commit = value
		case key == "rustc":
			r.Rustc = value
		case key == "cargo":
			r.Cargo = value
		case key == "target":
			r.Target = value
		case key == "build_time":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, invalidRecord("line %d: %v", n, err)
			}
			r.BuildTime = t.UTC()
			haveTime = true
		default:
			return nil, invalidRecord("line %d: unknown key %q", n, key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, invalidRecord("%v", err)
	}
	if r.Target == "" {
		return nil, invalidRecord("missing target")
	}
	if !haveTime {
		return nil, invalidRecord("missing build_time")
	}
	return r, nil
}

// validName reports whether name can only refer to a file directly inside
// a build directory, other than the record and its signature.
func validName(name string) bool {
	return name == filepath.Base(name) && name != "." && name != ".." &&
		!strings.ContainsRune(name, '\\') && name != RecordFile && name != SignatureFile
}

func invalidRecord(format string, args ...any) error {
	return errors.New(errors.PhaseVerify, errors.KindInvalidData).
		Subject(RecordFile).
		Detail(format, args...).
		Build()
}
