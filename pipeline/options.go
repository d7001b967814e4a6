package pipeline

import (
	"crypto/ed25519"
	"io"

	"github.com/wippyai/wasm-build/config"
	"github.com/wippyai/wasm-build/derive"
	"github.com/wippyai/wasm-build/internal/command"
	"github.com/wippyai/wasm-build/provenance"
	"github.com/wippyai/wasm-build/toolchain"
)

// Options configure one build. Relative paths resolve against the
// directory holding the manifest.
type Options struct {
	Observer Observer

	// Stdout and Stderr receive cargo's output when set.
	Stdout io.Writer
	Stderr io.Writer

	// SigningKey signs BUILD-INFO.md when set.
	SigningKey ed25519.PrivateKey

	Tools derive.Toolset

	ManifestPath string
	TargetDir    string
	OutputRoot   string
	WorkDir      string // empty: <TargetDir>/wasmbuild; never cleared, each build uses a fresh subdirectory

	Compile     toolchain.Options
	Parallelism int
}

// OptionsFromConfig translates a validated configuration into Options,
// loading the signing key if one is configured.
func OptionsFromConfig(cfg *config.Config, runner command.Runner) (Options, error) {
	opts := Options{
		ManifestPath: cfg.ManifestPath,
		TargetDir:    cfg.TargetDir,
		OutputRoot:   cfg.OutputRoot,
		WorkDir:      cfg.WorkDir,
		Compile: toolchain.Options{
			Features:          cfg.Features,
			NoDefaultFeatures: cfg.NoDefaultFeatures,
			StackSize:         cfg.StackSize,
		},
		Parallelism: cfg.Parallelism,
		Tools:       Toolset(cfg.Tools, runner),
	}
	if cfg.Signing.KeyFile != "" {
		key, err := provenance.LoadPrivateKey(cfg.Signing.KeyFile)
		if err != nil {
			return Options{}, err
		}
		opts.SigningKey = key
	}
	return opts, nil
}

// Toolset builds the derivation tools selected by the configuration.
func Toolset(tools config.ToolsConfig, runner command.Runner) derive.Toolset {
	ts := derive.Toolset{
		Bytecode:    derive.Bytecode(),
		Disassemble: derive.Wasm2Wat(runner, tools.Wasm2Wat),
	}
	switch tools.Strip {
	case config.StripWasmTools:
		ts.Strip = derive.WasmToolsStrip(runner)
	default:
		ts.Strip = derive.NativeStrip()
	}
	switch tools.AOT {
	case config.AOTWasmtime:
		ts.AOT = derive.WasmtimeCompile(runner)
	case config.AOTNone:
	default:
		ts.AOT = &derive.WazeroAOT{}
	}
	return ts
}
