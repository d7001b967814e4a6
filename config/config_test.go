package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/wasm-build/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wasmbuild.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.StackSize != 131072 {
		t.Errorf("StackSize = %d, want 131072", cfg.StackSize)
	}
	if cfg.Tools.Strip != StripNative || cfg.Tools.AOT != AOTWazero {
		t.Errorf("Tools = %+v", cfg.Tools)
	}
	if got := cfg.ResolvedWorkDir(); got != filepath.Join("target", "wasmbuild") {
		t.Errorf("ResolvedWorkDir = %s", got)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("WB_TEST_ROOT", "/srv/builds")
	path := writeConfig(t, `
manifest_path: contracts/power_calc/Cargo.toml
output_root: ${WB_TEST_ROOT}
work_dir: ${WB_TEST_UNSET:-/tmp/wb}
features: [std, fast-math]
no_default_features: true
stack_size: 65536
parallelism: 2
tools:
  strip: wasm-tools
  aot: none
signing:
  key_file: /keys/signing-key
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ManifestPath != "contracts/power_calc/Cargo.toml" {
		t.Errorf("ManifestPath = %s", cfg.ManifestPath)
	}
	if cfg.TargetDir != "target" {
		t.Errorf("TargetDir = %s, want default", cfg.TargetDir)
	}
	if cfg.OutputRoot != "/srv/builds" {
		t.Errorf("OutputRoot = %s", cfg.OutputRoot)
	}
	if cfg.WorkDir != "/tmp/wb" {
		t.Errorf("WorkDir = %s", cfg.WorkDir)
	}
	if strings.Join(cfg.Features, ",") != "std,fast-math" || !cfg.NoDefaultFeatures {
		t.Errorf("features = %v, no_default_features = %v", cfg.Features, cfg.NoDefaultFeatures)
	}
	if cfg.StackSize != 65536 || cfg.Parallelism != 2 {
		t.Errorf("StackSize = %d, Parallelism = %d", cfg.StackSize, cfg.Parallelism)
	}
	if cfg.Tools.Wasm2Wat != "wasm2wat" || cfg.Tools.Strip != StripWasmTools || cfg.Tools.AOT != AOTNone {
		t.Errorf("Tools = %+v", cfg.Tools)
	}
	if cfg.Signing.KeyFile != "/keys/signing-key" {
		t.Errorf("Signing = %+v", cfg.Signing)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "manifest: Cargo.toml\n"},
		{"unknown nested key", "tools:\n  disassembler: wasm2wat\n"},
		{"wrong type", "stack_size: big\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidData}) {
				t.Errorf("error = %v, want invalid data", err)
			}
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindIO}) {
		t.Errorf("error = %v, want io error", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StackSize != 131072 {
		t.Errorf("StackSize = %d, want default", cfg.StackSize)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(EnvVar, writeConfig(t, "parallelism: 1\n"))
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Parallelism != 1 {
		t.Errorf("Parallelism = %d, want 1 from %s", cfg.Parallelism, EnvVar)
	}

	explicit := writeConfig(t, "parallelism: 3\n")
	cfg, err = Load(explicit)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Parallelism != 3 {
		t.Errorf("Parallelism = %d, explicit path should win", cfg.Parallelism)
	}

	t.Setenv(EnvVar, "")
	cfg, err = Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Parallelism != 0 {
		t.Errorf("Parallelism = %d, want default", cfg.Parallelism)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero stack", func(c *Config) { c.StackSize = 0 }, "stack_size"},
		{"bad strip", func(c *Config) { c.Tools.Strip = "llvm-strip" }, "tools.strip"},
		{"bad aot", func(c *Config) { c.Tools.AOT = "v8" }, "tools.aot"},
		{"negative parallelism", func(c *Config) { c.Parallelism = -1 }, "parallelism"},
		{"no manifest", func(c *Config) { c.ManifestPath = "" }, "manifest_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}
