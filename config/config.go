package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/toolchain"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "WASMBUILD_CONFIG"

// Strip tool choices
const (
	StripNative    = "native"
	StripWasmTools = "wasm-tools"
)

// AOT compiler choices
const (
	AOTWazero   = "wazero"
	AOTWasmtime = "wasmtime"
	AOTNone     = "none"
)

// Config is the complete build configuration.
type Config struct {
	// ManifestPath is the workspace Cargo.toml.
	ManifestPath string `yaml:"manifest_path"`

	// TargetDir is cargo's --target-dir.
	TargetDir string `yaml:"target_dir"`

	// OutputRoot receives artifacts/<arch>/<timestamp>/.
	OutputRoot string `yaml:"output_root"`

	// WorkDir holds derived artifacts before they are recorded.
	// Default: <target_dir>/wasmbuild
	WorkDir string `yaml:"work_dir"`

	Features          []string `yaml:"features"`
	NoDefaultFeatures bool     `yaml:"no_default_features"`

	// StackSize is the linker stack size in bytes.
	// Default: 131072
	StackSize uint64 `yaml:"stack_size"`

	// Parallelism bounds concurrently running derivation stages.
	// 0 is unbounded; 1 is sequential.
	Parallelism int `yaml:"parallelism"`

	Tools   ToolsConfig   `yaml:"tools"`
	Signing SigningConfig `yaml:"signing"`
}

// ToolsConfig selects auxiliary tools.
type ToolsConfig struct {
	// Wasm2Wat is the disassembler executable.
	Wasm2Wat string `yaml:"wasm2wat"`

	// Strip is "native" or "wasm-tools".
	Strip string `yaml:"strip"`

	// AOT is "wazero", "wasmtime" or "none".
	AOT string `yaml:"aot"`
}

// SigningConfig configures record signing.
type SigningConfig struct {
	// KeyFile is a raw Ed25519 private key; empty disables signing.
	KeyFile string `yaml:"key_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ManifestPath: "Cargo.toml",
		TargetDir:    "target",
		OutputRoot:   ".",
		StackSize:    toolchain.DefaultStackSize,
		Tools: ToolsConfig{
			Wasm2Wat: "wasm2wat",
			Strip:    StripNative,
			AOT:      AOTWazero,
		},
	}
}

// Load loads path, or the file named by WASMBUILD_CONFIG when path is
// empty. With neither set it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file, on top of Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseConfig, path, err)
	}
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Subject(path).
			Cause(err).
			Build()
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// ResolvedWorkDir returns WorkDir, defaulting to a directory inside TargetDir.
func (c *Config) ResolvedWorkDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Join(c.TargetDir, "wasmbuild")
}

func (c *Config) expandVariables() {
	for _, p := range []*string{&c.ManifestPath, &c.TargetDir, &c.OutputRoot, &c.WorkDir, &c.Tools.Wasm2Wat, &c.Signing.KeyFile} {
		*p = expandVars(*p)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ManifestPath == "" {
		errs = append(errs, fmt.Errorf("manifest_path is required"))
	}
	if c.TargetDir == "" {
		errs = append(errs, fmt.Errorf("target_dir is required"))
	}
	if c.OutputRoot == "" {
		errs = append(errs, fmt.Errorf("output_root is required"))
	}
	if c.StackSize == 0 {
		errs = append(errs, fmt.Errorf("stack_size must be positive"))
	}
	if c.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("parallelism must not be negative"))
	}
	if c.Tools.Wasm2Wat == "" {
		errs = append(errs, fmt.Errorf("tools.wasm2wat is required"))
	}

	stripValues := []string{StripNative, StripWasmTools}
	if !slices.Contains(stripValues, c.Tools.Strip) {
		errs = append(errs, fmt.Errorf("tools.strip must be one of: %v", stripValues))
	}
	aotValues := []string{AOTWazero, AOTWasmtime, AOTNone}
	if !slices.Contains(aotValues, c.Tools.AOT) {
		errs = append(errs, fmt.Errorf("tools.aot must be one of: %v", aotValues))
	}

	if len(errs) > 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("invalid configuration").
			Cause(stderrors.Join(errs...)).
			Build()
	}
	return nil
}
