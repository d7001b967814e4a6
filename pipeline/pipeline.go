package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-build/derive"
	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/clock"
	"github.com/wippyai/wasm-build/internal/command"
	"github.com/wippyai/wasm-build/provenance"
	"github.com/wippyai/wasm-build/toolchain"
	"github.com/wippyai/wasm-build/workspace"
)

// Phase names a pipeline step.
type Phase string

const (
	PhaseResolve Phase = "resolve"
	PhaseCompile Phase = "compile"
	PhaseDerive  Phase = "derive"
	PhaseRecord  Phase = "record"
)

// Phases lists the steps in execution order.
var Phases = []Phase{PhaseResolve, PhaseCompile, PhaseDerive, PhaseRecord}

// Observer follows a build. It also receives derivation stage events.
type Observer interface {
	derive.Observer
	PhaseStarted(phase Phase)
	PhaseFinished(phase Phase, err error)
}

// Result summarizes a successful build. Derived files are removed from the
// work directory once recorded; Report paths name where they were produced.
type Result struct {
	Record   *provenance.Result
	Report   *derive.Report
	Artifact workspace.ArtifactName
	Primary  string
}

// Pipeline holds the process-level dependencies of a build.
type Pipeline struct {
	Runner command.Runner
	Clock  clock.Clock

	// Getenv reads CARGO_HOME, RUSTUP_HOME and HOME once per build.
	Getenv func(string) string

	// Arch overrides the artifacts/<arch> directory name.
	Arch string
}

// New returns a Pipeline using real processes, the wall clock and the
// process environment.
func New() *Pipeline {
	return &Pipeline{
		Runner: command.NewExec(),
		Clock:  clock.Real(),
		Getenv: os.Getenv,
		Arch:   provenance.HostArch(),
	}
}

type phaseRunner struct {
	obs Observer
}

func (r phaseRunner) run(phase Phase, fn func() error) error {
	if r.obs != nil {
		r.obs.PhaseStarted(phase)
	}
	start := time.Now()
	err := fn()
	fields := []zap.Field{zap.String("phase", string(phase)), zap.Duration("duration", time.Since(start))}
	if err != nil {
		Logger().Error("phase failed", append(fields, zap.Error(err))...)
	} else {
		Logger().Info("phase finished", fields...)
	}
	if r.obs != nil {
		r.obs.PhaseFinished(phase, err)
	}
	return err
}

// Run performs one build.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	manifest, err := filepath.Abs(opts.ManifestPath)
	if err != nil {
		return nil, errors.IO(errors.PhaseConfig, opts.ManifestPath, err)
	}
	projectDir := filepath.Dir(manifest)
	targetDir := resolvePath(projectDir, opts.TargetDir)
	outputRoot := resolvePath(projectDir, opts.OutputRoot)
	workDir := filepath.Join(targetDir, "wasmbuild")
	if opts.WorkDir != "" {
		workDir = resolvePath(projectDir, opts.WorkDir)
	}

	// Captured once; the request is immutable from here on.
	env := toolchain.CaptureEnvironment(projectDir, p.getenv())
	req := toolchain.NewRequest(opts.Compile, env)

	Logger().Info("build started",
		zap.String("manifest", manifest),
		zap.Strings("features", req.Features()),
		zap.Bool("no_default_features", req.NoDefaultFeatures()),
		zap.Uint64("stack_size", req.StackSize()))

	phases := phaseRunner{obs: opts.Observer}
	res := &Result{}
	cleanup := func() {}
	defer func() { cleanup() }()

	err = phases.run(PhaseResolve, func() error {
		md, err := workspace.Load(ctx, p.Runner, manifest)
		if err != nil {
			return err
		}
		res.Artifact, err = workspace.Resolve(md)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = phases.run(PhaseCompile, func() error {
		inv := toolchain.NewInvoker(p.Runner)
		inv.Stdout, inv.Stderr = opts.Stdout, opts.Stderr
		primary, err := inv.Compile(ctx, req, manifest, targetDir, res.Artifact)
		res.Primary = primary
		return err
	})
	if err != nil {
		return nil, err
	}

	err = phases.run(PhaseDerive, func() error {
		// workDir is never cleared; each build derives into its own subdirectory.
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return errors.IO(errors.PhaseDerive, workDir, err)
		}
		runDir, err := os.MkdirTemp(workDir, "derive-")
		if err != nil {
			return errors.IO(errors.PhaseDerive, workDir, err)
		}
		cleanup = func() { _ = os.RemoveAll(runDir) }
		executor := derive.NewExecutor(runDir)
		executor.Parallelism = opts.Parallelism
		if opts.Observer != nil {
			executor.Observer = opts.Observer
		}
		report, err := executor.Run(ctx, res.Primary, derive.Stages(opts.Tools))
		if err != nil {
			return err
		}
		res.Report = report
		return report.Fatal()
	})
	if err != nil {
		return nil, err
	}

	err = phases.run(PhaseRecord, func() error {
		rec := &provenance.Recorder{
			Root:   outputRoot,
			Arch:   p.arch(),
			Clock:  p.clock(),
			Runner: p.Runner,
			Key:    opts.SigningKey,
		}
		recorded, err := rec.Record(ctx, entries(res.Primary, res.Report), provenance.Metadata{
			ProjectDir: projectDir,
			Target:     req.Triple(),
		})
		res.Record = recorded
		return err
	})
	if err != nil {
		return nil, err
	}

	Logger().Info("build recorded",
		zap.String("artifact", string(res.Artifact)),
		zap.String("dir", res.Record.Dir),
		zap.Int("files", len(res.Record.Record.Digests)),
		zap.Bool("signed", res.Record.Signed))
	return res, nil
}

// entries lists the primary artifact followed by every produced derivation.
func entries(primary string, report *derive.Report) []provenance.Entry {
	out := []provenance.Entry{{Name: derive.FilePrimary, Source: primary}}
	produced := report.Produced()
	for _, o := range report.Outcomes {
		out = append(out, provenance.Entry{Name: o.Output, Source: produced[o.Output]})
	}
	return out
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (p *Pipeline) getenv() func(string) string {
	if p.Getenv != nil {
		return p.Getenv
	}
	return os.Getenv
}

func (p *Pipeline) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.Real()
}

func (p *Pipeline) arch() string {
	if p.Arch != "" {
		return p.Arch
	}
	return provenance.HostArch()
}
