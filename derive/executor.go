package derive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-build/errors"
)

// Observer receives stage lifecycle events. Calls may come from several
// goroutines at once.
type Observer interface {
	StageStarted(stage Stage)
	StageSettled(outcome Outcome)
}

// Executor runs derivation stages against one primary artifact.
type Executor struct {
	Observer Observer

	// Dir receives every stage output.
	Dir string

	// Parallelism bounds concurrently running stages; 0 means unbounded
	// and 1 runs stages sequentially in declaration order.
	Parallelism int
}

// NewExecutor returns an Executor writing outputs into dir.
func NewExecutor(dir string) *Executor {
	return &Executor{Dir: dir}
}

type stageRun struct {
	done    chan struct{}
	outcome Outcome
}

// Run executes stages and returns once every stage has settled. The error
// result is reserved for an invalid stage graph; stage failures are
// reported through the Report, and Report.Fatal tells whether the build
// must abort.
func (e *Executor) Run(ctx context.Context, primary string, stages []Stage) (*Report, error) {
	if err := checkGraph(stages); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, errors.IO(errors.PhaseDerive, e.Dir, err)
	}

	runs := make(map[string]*stageRun, len(stages))
	for _, s := range stages {
		runs[s.Name] = &stageRun{done: make(chan struct{})}
	}

	var g errgroup.Group
	if e.Parallelism > 0 {
		g.SetLimit(e.Parallelism)
	}

	// Stages are launched in declaration order, which is topological, so a
	// stage waiting on its input never holds the last free slot.
	for _, s := range stages {
		run := runs[s.Name]
		var dep *stageRun
		if s.Needs != "" {
			dep = runs[s.Needs]
		}
		g.Go(func() error {
			defer close(run.done)
			input := primary
			if dep != nil {
				<-dep.done
				if dep.outcome.Status != Produced {
					run.outcome = e.settle(Outcome{
						Stage:  s.Name,
						Output: s.Output,
						Status: Skipped,
						Reason: fmt.Sprintf("input stage %s %s", s.Needs, dep.outcome.Status),
					})
					return nil
				}
				input = dep.outcome.Path
			}
			run.outcome = e.execute(ctx, s, input)
			return nil
		})
	}
	_ = g.Wait() // stage goroutines never return errors

	report := &Report{Outcomes: make([]Outcome, 0, len(stages))}
	for _, s := range stages {
		report.Outcomes = append(report.Outcomes, runs[s.Name].outcome)
	}
	return report, nil
}

func (e *Executor) execute(ctx context.Context, s Stage, input string) Outcome {
	out := Outcome{Stage: s.Name, Output: s.Output}

	if s.Tool == nil {
		if s.Fatal {
			out.Status = Failed
			out.Err = errors.InvalidInput(errors.PhaseDerive, "stage "+s.Name+" has no tool")
			return e.settle(out)
		}
		out.Status = Skipped
		out.Reason = "disabled"
		return e.settle(out)
	}

	if e.Observer != nil {
		e.Observer.StageStarted(s)
	}
	Logger().Debug("stage started",
		zap.String("stage", s.Name),
		zap.String("tool", s.Tool.Name()),
		zap.String("input", input))

	path := filepath.Join(e.Dir, s.Output)
	start := time.Now()
	err := s.Tool.Run(ctx, input, path)
	out.Duration = time.Since(start)

	if err == nil {
		if _, statErr := os.Stat(path); statErr != nil {
			err = errors.ToolFailed(s.Tool.Name(), "no output written", statErr)
		}
	}

	switch {
	case err == nil:
		out.Status = Produced
		out.Path = path
	case s.Fatal:
		out.Status = Failed
		out.Err = err
	case isUnavailable(err):
		out.Status = ToolUnavailable
		out.Err = err
	default:
		out.Status = ToolFailed
		out.Err = err
	}
	if out.Status != Produced {
		_ = os.Remove(path)
	}
	return e.settle(out)
}

func (e *Executor) settle(out Outcome) Outcome {
	fields := []zap.Field{
		zap.String("stage", out.Stage),
		zap.Stringer("status", out.Status),
		zap.Duration("duration", out.Duration),
	}
	switch out.Status {
	case Produced:
		Logger().Info("stage settled", append(fields, zap.String("path", out.Path))...)
	case Skipped:
		Logger().Info("stage settled", append(fields, zap.String("reason", out.Reason))...)
	case Failed:
		Logger().Error("stage settled", append(fields, zap.Error(out.Err))...)
	default:
		Logger().Warn("stage settled", append(fields, zap.Error(out.Err))...)
	}
	if e.Observer != nil {
		e.Observer.StageSettled(out)
	}
	return out
}

// checkGraph requires unique names and dependencies declared earlier, which
// makes declaration order a topological order.
func checkGraph(stages []Stage) error {
	seen := make(map[string]bool, len(stages))
	for _, s := range stages {
		if s.Name == "" || s.Output == "" {
			return errors.InvalidInput(errors.PhaseDerive, "stage needs a name and an output file")
		}
		if seen[s.Name] {
			return errors.InvalidInput(errors.PhaseDerive, "duplicate stage "+s.Name)
		}
		if s.Needs != "" && !seen[s.Needs] {
			return errors.InvalidInput(errors.PhaseDerive,
				fmt.Sprintf("stage %s needs %s, which is not declared before it", s.Name, s.Needs))
		}
		seen[s.Name] = true
	}
	return nil
}
