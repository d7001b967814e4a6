package toolchain

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/command"
)

var testEnv = Environment{
	ProjectDir: "/home/alice/power_calc",
	CargoHome:  "/home/alice/.cargo",
	RustupHome: "/home/alice/.rustup",
}

func TestCaptureEnvironment(t *testing.T) {
	vars := map[string]string{"HOME": "/home/bob", "CARGO_HOME": "/opt/cargo"}
	env := CaptureEnvironment("/src", func(k string) string { return vars[k] })

	if env.ProjectDir != "/src" {
		t.Errorf("ProjectDir = %q", env.ProjectDir)
	}
	if env.CargoHome != "/opt/cargo" {
		t.Errorf("CargoHome = %q, want explicit value", env.CargoHome)
	}
	if env.RustupHome != filepath.Join("/home/bob", ".rustup") {
		t.Errorf("RustupHome = %q, want HOME default", env.RustupHome)
	}
}

func TestRequest_Immutable(t *testing.T) {
	features := []string{"std"}
	req := NewRequest(Options{Features: features}, testEnv)
	features[0] = "mutated"

	got := req.Features()
	if got[0] != "std" {
		t.Errorf("request observed caller mutation: %v", got)
	}
	got[0] = "also-mutated"
	if req.Features()[0] != "std" {
		t.Error("Features() exposes internal slice")
	}
	if req.StackSize() != DefaultStackSize {
		t.Errorf("StackSize = %d, want default %d", req.StackSize(), DefaultStackSize)
	}
}

func TestRequest_RustFlags(t *testing.T) {
	req := NewRequest(Options{StackSize: 65536}, testEnv)
	want := []string{
		"-C", "link-arg=-zstack-size=65536",
		"-C", "panic=abort",
		"-C", "target-feature=+bulk-memory",
		"-C", "codegen-units=1",
		"-C", "incremental=false",
		"--remap-path-prefix=/home/alice/power_calc=/project",
		"--remap-path-prefix=/home/alice/.cargo=/cargo",
		"--remap-path-prefix=/home/alice/.rustup=/rustup",
	}
	if got := req.RustFlags(); !slices.Equal(got, want) {
		t.Errorf("RustFlags() =\n%v\nwant\n%v", got, want)
	}
	if got := req.EncodedRustFlags(); got != strings.Join(want, "\x1f") {
		t.Errorf("EncodedRustFlags() = %q", got)
	}
}

func TestRequest_RustFlagsNormalizeHosts(t *testing.T) {
	other := Environment{
		ProjectDir: "/builds/ci/power_calc",
		CargoHome:  "/ci/.cargo",
		RustupHome: "/ci/.rustup",
	}
	a := NewRequest(Options{}, testEnv).RustFlags()
	b := NewRequest(Options{}, other).RustFlags()

	// Every host path maps to the same logical prefix on both machines.
	for i := range a {
		if !strings.HasPrefix(a[i], "--remap-path-prefix=") {
			if a[i] != b[i] {
				t.Errorf("flag %d differs between hosts: %q vs %q", i, a[i], b[i])
			}
			continue
		}
		_, toA, _ := strings.Cut(strings.TrimPrefix(a[i], "--remap-path-prefix="), "=")
		_, toB, _ := strings.Cut(strings.TrimPrefix(b[i], "--remap-path-prefix="), "=")
		if toA != toB {
			t.Errorf("remap target %d differs: %q vs %q", i, toA, toB)
		}
	}
}

func TestRequest_Args(t *testing.T) {
	base := []string{
		"build", "--target", "wasm32-unknown-unknown", "--release",
		"--manifest-path", "/src/Cargo.toml", "--target-dir", "/src/target/target2",
		"--color=always", "--locked",
	}
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"defaults", Options{}, base},
		{"no default features", Options{NoDefaultFeatures: true}, append(slices.Clone(base), "--no-default-features")},
		{"features", Options{Features: []string{"std", "debug"}}, append(slices.Clone(base), "--features", "std,debug")},
		{
			"both",
			Options{NoDefaultFeatures: true, Features: []string{"std"}},
			append(slices.Clone(base), "--no-default-features", "--features", "std"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewRequest(tt.opts, testEnv).Args("/src/Cargo.toml", "/src/target/target2")
			if !slices.Equal(got, tt.want) {
				t.Errorf("Args() =\n%v\nwant\n%v", got, tt.want)
			}
		})
	}
}

func TestInvoker_Compile(t *testing.T) {
	fake := command.NewFake()
	fake.Output("cargo", "")
	req := NewRequest(Options{}, testEnv)

	path, err := NewInvoker(fake).Compile(context.Background(), req, "/src/Cargo.toml", "/out", "power_calc.wasm")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := filepath.Join("/out", "wasm32-unknown-unknown", "release", "power_calc.wasm")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	calls := fake.CallsTo("cargo")
	if len(calls) != 1 {
		t.Fatalf("cargo called %d times", len(calls))
	}
	if !slices.Contains(calls[0].Env, "CARGO_ENCODED_RUSTFLAGS="+req.EncodedRustFlags()) {
		t.Errorf("env = %v, missing encoded rustflags", calls[0].Env)
	}
	if !slices.Contains(calls[0].Args, "--locked") {
		t.Error("build must use a locked dependency resolution")
	}
}

func TestInvoker_CompileFailure(t *testing.T) {
	fake := command.NewFake()
	fake.Fail("cargo", 101, "error[E0425]: cannot find value")

	_, err := NewInvoker(fake).Compile(context.Background(), NewRequest(Options{}, testEnv), "/src/Cargo.toml", "/out", "power_calc.wasm")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCompile, Kind: errors.KindToolchain}) {
		t.Fatalf("error = %v, want compile/toolchain", err)
	}
	var coder errors.ExitCoder
	if !stderrors.As(err, &coder) || coder.ExitCode() != 101 {
		t.Errorf("exit code not surfaced: %v", err)
	}
}

func TestQueryVersions(t *testing.T) {
	fake := command.NewFake()
	fake.Output("rustc", "rustc 1.80.0 (051478957 2024-07-21)\n")

	v := QueryVersions(context.Background(), fake)
	if v.Rustc != "rustc 1.80.0 (051478957 2024-07-21)" {
		t.Errorf("Rustc = %q", v.Rustc)
	}
	if v.Cargo != "" {
		t.Errorf("Cargo = %q, want empty when cargo is missing", v.Cargo)
	}
}
