package derive

import (
	"time"
)

// Status classifies how a stage settled.
type Status int

const (
	// Produced means the output file exists.
	Produced Status = iota
	// Skipped means the stage did not run: its input was not produced or
	// it has no tool configured.
	Skipped
	// ToolUnavailable means the external tool is not installed.
	ToolUnavailable
	// ToolFailed means a best-effort stage ran and failed.
	ToolFailed
	// Failed means a fatal stage failed; the build must abort.
	Failed
)

func (s Status) String() string {
	switch s {
	case Produced:
		return "produced"
	case Skipped:
		return "skipped"
	case ToolUnavailable:
		return "tool_unavailable"
	case ToolFailed:
		return "tool_failed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the settled result of one stage.
type Outcome struct {
	Err      error // set for ToolUnavailable, ToolFailed and Failed
	Stage    string
	Output   string // file name, e.g. lib.wat
	Path     string // set when Produced
	Reason   string // why the stage was skipped
	Duration time.Duration
	Status   Status
}

// Report holds the outcomes of one Executor run in stage declaration order.
type Report struct {
	Outcomes []Outcome
}

// Fatal returns the error of the first stage that settled as Failed.
func (r *Report) Fatal() error {
	for _, o := range r.Outcomes {
		if o.Status == Failed {
			return o.Err
		}
	}
	return nil
}

// Outcome returns the outcome of the named stage.
func (r *Report) Outcome(stage string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Stage == stage {
			return o, true
		}
	}
	return Outcome{}, false
}

// Produced returns output file name to path for every produced artifact.
func (r *Report) Produced() map[string]string {
	out := make(map[string]string)
	for _, o := range r.Outcomes {
		if o.Status == Produced {
			out[o.Output] = o.Path
		}
	}
	return out
}
