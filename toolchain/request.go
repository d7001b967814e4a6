package toolchain

import (
	"path/filepath"
	"slices"
)

// Triple is the fixed compilation target: wasm32 with no host OS.
const Triple = "wasm32-unknown-unknown"

// DefaultStackSize is the linker stack size used when none is requested.
const DefaultStackSize uint64 = 128 * 1024

// Environment holds the host paths that are remapped out of the artifact.
type Environment struct {
	ProjectDir string
	CargoHome  string
	RustupHome string
}

// CaptureEnvironment reads the toolchain home directories once. Unset
// variables fall back to the rustup defaults under $HOME.
func CaptureEnvironment(projectDir string, getenv func(string) string) Environment {
	env := Environment{
		ProjectDir: projectDir,
		CargoHome:  getenv("CARGO_HOME"),
		RustupHome: getenv("RUSTUP_HOME"),
	}
	home := getenv("HOME")
	if env.CargoHome == "" && home != "" {
		env.CargoHome = filepath.Join(home, ".cargo")
	}
	if env.RustupHome == "" && home != "" {
		env.RustupHome = filepath.Join(home, ".rustup")
	}
	return env
}

// Options are the caller-controlled parts of a Request.
type Options struct {
	Features          []string
	NoDefaultFeatures bool
	StackSize         uint64
}

// Request is an immutable compilation configuration.
type Request struct {
	env               Environment
	features          []string
	stackSize         uint64
	noDefaultFeatures bool
}

// NewRequest freezes opts and env into a Request.
func NewRequest(opts Options, env Environment) Request {
	stack := opts.StackSize
	if stack == 0 {
		stack = DefaultStackSize
	}
	return Request{
		env:               env,
		features:          slices.Clone(opts.Features),
		stackSize:         stack,
		noDefaultFeatures: opts.NoDefaultFeatures,
	}
}

// Features returns a copy of the requested feature list.
func (r Request) Features() []string { return slices.Clone(r.features) }

// NoDefaultFeatures reports whether default features are disabled.
func (r Request) NoDefaultFeatures() bool { return r.noDefaultFeatures }

// StackSize returns the linker stack size in bytes.
func (r Request) StackSize() uint64 { return r.stackSize }

// Environment returns the captured host paths.
func (r Request) Environment() Environment { return r.env }

// Triple returns the target triple.
func (r Request) Triple() string { return Triple }
