package toolchain

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/command"
	"github.com/wippyai/wasm-build/workspace"
)

// Logical prefixes substituted for host paths in debug info.
const (
	ProjectPrefix = "/project"
	CargoPrefix   = "/cargo"
	RustupPrefix  = "/rustup"
)

const rustflagsSeparator = "\x1f"

// RustFlags returns the canonical compiler flags for r.
func (r Request) RustFlags() []string {
	return []string{
		"-C", fmt.Sprintf("link-arg=-zstack-size=%d", r.stackSize),
		"-C", "panic=abort",
		"-C", "target-feature=+bulk-memory",
		"-C", "codegen-units=1",
		"-C", "incremental=false",
		remap(r.env.ProjectDir, ProjectPrefix),
		remap(r.env.CargoHome, CargoPrefix),
		remap(r.env.RustupHome, RustupPrefix),
	}
}

func remap(from, to string) string {
	return fmt.Sprintf("--remap-path-prefix=%s=%s", from, to)
}

// EncodedRustFlags returns RustFlags in CARGO_ENCODED_RUSTFLAGS form.
func (r Request) EncodedRustFlags() string {
	return strings.Join(r.RustFlags(), rustflagsSeparator)
}

// Args returns the cargo command line for r.
func (r Request) Args(manifestPath, targetDir string) []string {
	args := []string{
		"build",
		"--target", Triple,
		"--release",
		"--manifest-path", manifestPath,
		"--target-dir", targetDir,
		"--color=always",
		"--locked",
	}
	if r.noDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	if len(r.features) > 0 {
		args = append(args, "--features", strings.Join(r.features, ","))
	}
	return args
}

// ArtifactPath returns where cargo writes the primary artifact.
func ArtifactPath(targetDir string, name workspace.ArtifactName) string {
	return filepath.Join(targetDir, Triple, "release", string(name))
}

// Invoker runs the cross-compiler.
type Invoker struct {
	Runner command.Runner

	// Stdout and Stderr stream compiler output when set.
	Stdout io.Writer
	Stderr io.Writer
}

// NewInvoker returns an Invoker that spawns processes through runner.
func NewInvoker(runner command.Runner) *Invoker {
	return &Invoker{Runner: runner}
}

// Compile builds the workspace at manifestPath into targetDir and returns
// the primary artifact path. The path is computed, not checked: the first
// consumer that opens it reports a missing file.
func (i *Invoker) Compile(ctx context.Context, req Request, manifestPath, targetDir string, artifact workspace.ArtifactName) (string, error) {
	cmd := command.Command{
		Name:   "cargo",
		Args:   req.Args(manifestPath, targetDir),
		Env:    []string{"CARGO_ENCODED_RUSTFLAGS=" + req.EncodedRustFlags()},
		Stdout: i.Stdout,
		Stderr: i.Stderr,
	}
	if _, err := i.Runner.Run(ctx, cmd); err != nil {
		return "", errors.New(errors.PhaseCompile, errors.KindToolchain).
			Subject(string(artifact)).
			Tool("cargo build").
			ExitCode(command.ExitCode(err)).
			Detail("WASM compilation failure").
			Cause(err).
			Build()
	}
	return ArtifactPath(targetDir, artifact), nil
}
