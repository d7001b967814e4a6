package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/wasm-build/derive"
	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/clock"
	"github.com/wippyai/wasm-build/internal/command"
	"github.com/wippyai/wasm-build/provenance"
	"github.com/wippyai/wasm-build/toolchain"
)

// answerModule exports "main" () -> i32 returning 42.
var answerModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x08, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2a, 0x0b,
}

func metadata(targets string) string {
	return fmt.Sprintf(`{
  "packages": [{
    "name": "power_calc",
    "version": "0.1.0",
    "id": "power_calc 0.1.0",
    "manifest_path": "/src/power_calc/Cargo.toml",
    "targets": [%s]
  }],
  "workspace_members": ["power_calc 0.1.0"],
  "workspace_default_members": ["power_calc 0.1.0"],
  "target_directory": "/src/power_calc/target"
}`, targets)
}

const binTarget = `{"kind": ["bin"], "crate_types": ["bin"], "name": "power_calc", "src_path": "src/main.rs"}`

func argValue(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

// fakeToolchain simulates cargo, rustc, git and wasm2wat. cargo build
// writes module as the primary artifact.
func fakeToolchain(md string, module []byte) *command.Fake {
	fake := command.NewFake()
	fake.Handle("cargo", func(_ context.Context, cmd command.Command) (command.Result, error) {
		switch cmd.Args[0] {
		case "metadata":
			return command.Result{Stdout: []byte(md)}, nil
		case "build":
			dir := filepath.Join(argValue(cmd.Args, "--target-dir"), toolchain.Triple, "release")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return command.Result{}, err
			}
			return command.Result{}, os.WriteFile(filepath.Join(dir, "power_calc.wasm"), module, 0o644)
		case "--version":
			return command.Result{Stdout: []byte("cargo 1.80.0\n")}, nil
		}
		return command.Result{}, fmt.Errorf("unexpected cargo %v", cmd.Args)
	})
	fake.Output("rustc", "rustc 1.80.0\n")
	fake.Output("git", "0123456789abcdef0123456789abcdef01234567\n")
	fake.Handle("wasm2wat", func(_ context.Context, cmd command.Command) (command.Result, error) {
		return command.Result{}, os.WriteFile(argValue(cmd.Args, "-o"), []byte("(module)\n"), 0o644)
	})
	return fake
}

func testPipeline(runner command.Runner) *Pipeline {
	return &Pipeline{
		Runner: runner,
		Clock:  clock.Fixed(time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)),
		Getenv: func(key string) string {
			return map[string]string{"HOME": "/home/builder"}[key]
		},
		Arch: "x86",
	}
}

func testOptions(t *testing.T, runner command.Runner) Options {
	t.Helper()
	project := t.TempDir()
	return Options{
		ManifestPath: filepath.Join(project, "Cargo.toml"),
		TargetDir:    "target",
		OutputRoot:   ".",
		Compile:      toolchain.Options{StackSize: toolchain.DefaultStackSize},
		Tools: derive.Toolset{
			Bytecode:    derive.Bytecode(),
			Disassemble: derive.Wasm2Wat(runner, ""),
			Strip:       derive.NativeStrip(),
			AOT:         derive.WasmtimeCompile(runner), // not installed
		},
	}
}

type phaseLog struct {
	events []string
	mu     sync.Mutex
}

func (l *phaseLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
}

func (l *phaseLog) PhaseStarted(p Phase)             { l.add("start " + string(p)) }
func (l *phaseLog) PhaseFinished(p Phase, err error) { l.add(fmt.Sprintf("done %s %v", p, err == nil)) }
func (l *phaseLog) StageStarted(derive.Stage)        {}
func (l *phaseLog) StageSettled(o derive.Outcome)    { l.add("stage " + o.Stage) }

func TestRunBuildsAndRecords(t *testing.T) {
	fake := fakeToolchain(metadata(binTarget), answerModule)
	opts := testOptions(t, fake)
	obs := &phaseLog{}
	opts.Observer = obs

	res, err := testPipeline(fake).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Artifact != "power_calc.wasm" {
		t.Errorf("Artifact = %s", res.Artifact)
	}

	project := filepath.Dir(opts.ManifestPath)
	wantDir := filepath.Join(project, "artifacts", "x86", "20261017T080000")
	if res.Record.Dir != wantDir {
		t.Errorf("record dir = %s, want %s", res.Record.Dir, wantDir)
	}

	var names []string
	for _, d := range res.Record.Record.Digests {
		names = append(names, d.Name)
	}
	want := []string{"lib.wasm", "lib.wat", "lib.stripped.wasm", "lib.stripped.wat", "lib.rwasm"}
	if !slices.Equal(names, want) {
		t.Errorf("recorded files = %v, want %v", names, want)
	}
	if o, _ := res.Report.Outcome(derive.StageCwasm); o.Status != derive.ToolUnavailable {
		t.Errorf("cwasm status = %s, want tool_unavailable", o.Status)
	}

	data, err := os.ReadFile(filepath.Join(res.Record.Dir, provenance.RecordFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{
		"commit: 0123456789abcdef0123456789abcdef01234567",
		"rustc: rustc 1.80.0",
		"cargo: cargo 1.80.0",
		"target: wasm32-unknown-unknown",
		"build_time: 2026-10-17T08:00:00Z",
	} {
		if !strings.Contains(string(data), line+"\n") {
			t.Errorf("record missing %q:\n%s", line, data)
		}
	}
	if strings.Contains(string(data), "lib.cwasm") {
		t.Errorf("record lists lib.cwasm although AOT failed:\n%s", data)
	}

	v, err := provenance.Verify(res.Record.Dir, nil)
	if err != nil || !v.OK() {
		t.Errorf("Verify = %+v, %v", v, err)
	}

	builds := fake.CallsTo("cargo")
	var build command.Command
	for _, c := range builds {
		if c.Args[0] == "build" {
			build = c
		}
	}
	if argValue(build.Args, "--target-dir") != filepath.Join(project, "target") {
		t.Errorf("cargo build args = %v", build.Args)
	}
	if len(build.Env) != 1 || !strings.Contains(build.Env[0], "--remap-path-prefix="+project+"=/project") {
		t.Errorf("cargo build env = %v", build.Env)
	}
	if !strings.Contains(build.Env[0], "--remap-path-prefix=/home/builder/.cargo=/cargo") {
		t.Errorf("cargo home not remapped: %v", build.Env)
	}

	wantPhases := []string{"start resolve", "done resolve true", "start compile", "done compile true", "start derive"}
	if !slices.Equal(obs.events[:len(wantPhases)], wantPhases) {
		t.Errorf("events = %v", obs.events)
	}
	if last := obs.events[len(obs.events)-1]; last != "done record true" {
		t.Errorf("last event = %s", last)
	}
}

func TestRunLeavesWorkDirContents(t *testing.T) {
	tests := []struct {
		name    string
		workDir string
	}{
		{"project dir", "."},
		{"target dir", "target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := fakeToolchain(metadata(binTarget), answerModule)
			opts := testOptions(t, fake)
			opts.WorkDir = tt.workDir
			project := filepath.Dir(opts.ManifestPath)

			keep := []string{"Cargo.toml", filepath.Join("src", "main.rs"), filepath.Join("target", "keep.txt")}
			for _, name := range keep {
				path := filepath.Join(project, name)
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			res, err := testPipeline(fake).Run(context.Background(), opts)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			for _, name := range keep {
				if _, err := os.Stat(filepath.Join(project, name)); err != nil {
					t.Errorf("%s: %v", name, err)
				}
			}
			if _, err := os.Stat(res.Primary); err != nil {
				t.Errorf("primary artifact: %v", err)
			}
			if _, ok := res.Record.Record.Digest(derive.FileRwasm); !ok {
				t.Error("lib.rwasm not recorded")
			}

			entries, err := os.ReadDir(filepath.Join(project, tt.workDir))
			if err != nil {
				t.Fatal(err)
			}
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), "derive-") {
					t.Errorf("per-build directory %s left behind", e.Name())
				}
			}
		})
	}
}

func TestRunStopsBeforeCompileOnResolutionFailure(t *testing.T) {
	cdylib := `{"kind": ["cdylib"], "crate_types": ["cdylib"], "name": "power_calc_lib", "src_path": "src/lib.rs"}`
	tests := []struct {
		name    string
		targets string
		kind    errors.Kind
	}{
		{"no target", `{"kind": ["lib"], "crate_types": ["lib"], "name": "power_calc", "src_path": "src/lib.rs"}`, errors.KindNoTarget},
		{"ambiguous", binTarget + "," + cdylib, errors.KindAmbiguousTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := fakeToolchain(metadata(tt.targets), answerModule)
			opts := testOptions(t, fake)
			_, err := testPipeline(fake).Run(context.Background(), opts)
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: tt.kind}) {
				t.Fatalf("error = %v, want %s", err, tt.kind)
			}
			for _, c := range fake.CallsTo("cargo") {
				if c.Args[0] == "build" {
					t.Error("cargo build ran after resolution failed")
				}
			}
			if _, err := os.Stat(filepath.Join(filepath.Dir(opts.ManifestPath), "artifacts")); err == nil {
				t.Error("artifacts directory created after resolution failed")
			}
		})
	}
}

func TestRunCompileFailure(t *testing.T) {
	fake := fakeToolchain(metadata(binTarget), answerModule)
	fake.Handle("cargo", func(_ context.Context, cmd command.Command) (command.Result, error) {
		if cmd.Args[0] == "metadata" {
			return command.Result{Stdout: []byte(metadata(binTarget))}, nil
		}
		return command.Result{ExitCode: 101}, &command.ExitError{Command: "cargo", Code: 101, Stderr: "error: could not compile"}
	})
	opts := testOptions(t, fake)
	_, err := testPipeline(fake).Run(context.Background(), opts)
	var coder errors.ExitCoder
	if !stderrors.As(err, &coder) || coder.ExitCode() != 101 {
		t.Fatalf("error = %v, want exit code 101", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(opts.ManifestPath), "artifacts")); err == nil {
		t.Error("artifacts directory created after compile failure")
	}
}

func TestRunBytecodeFailureIsFatal(t *testing.T) {
	fake := fakeToolchain(metadata(binTarget), []byte("not a module"))
	opts := testOptions(t, fake)
	_, err := testPipeline(fake).Run(context.Background(), opts)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseDerive, Kind: errors.KindBytecodeCompilation}) {
		t.Fatalf("error = %v, want bytecode compilation error", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(opts.ManifestPath), "artifacts")); err == nil {
		t.Error("artifacts directory created after fatal derivation failure")
	}
}

func TestRunSigned(t *testing.T) {
	public, private, err := provenance.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	fake := fakeToolchain(metadata(binTarget), answerModule)
	opts := testOptions(t, fake)
	opts.SigningKey = private
	opts.Parallelism = 1

	res, err := testPipeline(fake).Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	v, err := provenance.Verify(res.Record.Dir, public)
	if err != nil {
		t.Fatal(err)
	}
	if !v.OK() {
		t.Errorf("problems = %v", v.Problems)
	}
}
