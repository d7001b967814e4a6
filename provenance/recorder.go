package provenance

import (
	"context"
	"crypto/ed25519"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/clock"
	"github.com/wippyai/wasm-build/internal/command"
	"github.com/wippyai/wasm-build/internal/git"
	"github.com/wippyai/wasm-build/toolchain"
)

// TimestampLayout names build directories (UTC).
const TimestampLayout = "20060102T150405"

// ArtifactOrder is the fixed order in which artifacts are copied and listed.
var ArtifactOrder = []string{
	"lib.wasm",
	"lib.wat",
	"lib.stripped.wasm",
	"lib.stripped.wat",
	"lib.rwasm",
	"lib.cwasm",
}

// Arch maps a GOARCH value to the directory name used under artifacts/.
func Arch(goarch string) string {
	switch goarch {
	case "amd64", "386":
		return "x86"
	case "arm", "arm64":
		return "arm"
	}
	return goarch
}

// HostArch returns Arch for the running binary.
func HostArch() string {
	return Arch(runtime.GOARCH)
}

// Entry is one artifact offered to the recorder. An empty Source means the
// artifact was not produced.
type Entry struct {
	Name   string
	Source string
}

// Metadata describes the build being recorded.
type Metadata struct {
	// ProjectDir is where the commit is read from.
	ProjectDir string
	Target     string
}

// Result describes a recorded build directory.
type Result struct {
	Record *Record
	Dir    string
	Signed bool
}

// Recorder writes build output directories.
type Recorder struct {
	Clock  clock.Clock
	Runner command.Runner

	// Key signs the record when set.
	Key ed25519.PrivateKey

	Root string
	Arch string
}

// NewRecorder returns a Recorder for the host architecture.
func NewRecorder(root string, runner command.Runner) *Recorder {
	return &Recorder{
		Root:   root,
		Arch:   HostArch(),
		Clock:  clock.Real(),
		Runner: runner,
	}
}

// Record copies every produced entry into a new build directory, hashes the
// copies and writes the manifest. Entries are processed in ArtifactOrder;
// names outside that list follow in the order given. Commit and toolchain
// versions are best-effort.
func (r *Recorder) Record(ctx context.Context, entries []Entry, meta Metadata) (*Result, error) {
	now := r.Clock.Now().UTC()
	ts := now.Format(TimestampLayout)
	archDir := filepath.Join(r.Root, "artifacts", r.Arch)
	if err := os.MkdirAll(archDir, 0o755); err != nil {
		return nil, errors.IO(errors.PhaseRecord, archDir, err)
	}

	staging, err := os.MkdirTemp(archDir, "."+ts+"-*.partial")
	if err != nil {
		return nil, errors.IO(errors.PhaseRecord, archDir, err)
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		_ = os.Remove(staging)
		return nil, errors.IO(errors.PhaseRecord, staging, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	rec := &Record{
		Target:    meta.Target,
		BuildTime: now.Truncate(time.Second),
	}
	if rec.Target == "" {
		rec.Target = toolchain.Triple
	}

	for _, e := range orderEntries(entries) {
		if !validName(e.Name) {
			return nil, errors.New(errors.PhaseRecord, errors.KindInvalidInput).
				Subject(e.Name).
				Detail("invalid artifact name").
				Build()
		}
		if e.Source == "" {
			continue
		}
		if _, err := os.Stat(e.Source); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, errors.IO(errors.PhaseRecord, e.Source, err)
		}
		digest, err := copyAndHash(e.Source, filepath.Join(staging, e.Name))
		if err != nil {
			return nil, errors.IO(errors.PhaseRecord, e.Source, err)
		}
		rec.Digests = append(rec.Digests, Digest{Name: e.Name, Hex: FormatDigest(digest)})
	}

	if meta.ProjectDir != "" {
		if head, err := git.NewRepository(r.Runner, meta.ProjectDir).Head(ctx); err == nil {
			rec.Commit = head
		}
	}
	versions := toolchain.QueryVersions(ctx, r.Runner)
	rec.Rustc, rec.Cargo = versions.Rustc, versions.Cargo

	data := rec.Render()
	recordPath := filepath.Join(staging, RecordFile)
	if err := os.WriteFile(recordPath, data, 0o644); err != nil {
		return nil, errors.IO(errors.PhaseRecord, recordPath, err)
	}
	if r.Key != nil {
		sigPath := filepath.Join(staging, SignatureFile)
		if err := os.WriteFile(sigPath, sign(r.Key, data), 0o644); err != nil {
			return nil, errors.IO(errors.PhaseRecord, sigPath, err)
		}
	}

	final, err := publish(staging, archDir, ts)
	if err != nil {
		return nil, err
	}
	committed = true
	return &Result{Dir: final, Record: rec, Signed: r.Key != nil}, nil
}

// publish renames staging to archDir/ts, or ts-2, ts-3 and so on when the
// name is taken. An existing directory is never reused.
func publish(staging, archDir, ts string) (string, error) {
	for n := 1; ; n++ {
		name := ts
		if n > 1 {
			name = ts + "-" + strconv.Itoa(n)
		}
		final := filepath.Join(archDir, name)
		if _, err := os.Lstat(final); err == nil {
			continue
		} else if !stderrors.Is(err, fs.ErrNotExist) {
			return "", errors.IO(errors.PhaseRecord, final, err)
		}
		if err := os.Rename(staging, final); err != nil {
			// Another build published the same name since the Lstat.
			if _, statErr := os.Lstat(final); statErr == nil {
				continue
			}
			return "", errors.IO(errors.PhaseRecord, final, err)
		}
		return final, nil
	}
}

func orderEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	used := make([]bool, len(entries))
	for _, name := range ArtifactOrder {
		for i, e := range entries {
			if !used[i] && e.Name == name {
				out = append(out, e)
				used[i] = true
			}
		}
	}
	for i, e := range entries {
		if !used[i] {
			out = append(out, e)
		}
	}
	return out
}
