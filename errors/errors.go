package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which pipeline step produced the error
type Phase string

const (
	PhaseConfig  Phase = "config"  // configuration loading and validation
	PhaseResolve Phase = "resolve" // workspace metadata and target selection
	PhaseCompile Phase = "compile" // cross-compiler invocation
	PhaseDerive  Phase = "derive"  // derived artifact stages
	PhaseRecord  Phase = "record"  // provenance recording
	PhaseVerify  Phase = "verify"  // provenance verification
	PhaseSign    Phase = "sign"    // key handling and signatures
)

// Kind categorizes the error
type Kind string

const (
	KindNoTarget            Kind = "no_target"
	KindAmbiguousTarget     Kind = "ambiguous_target"
	KindNotFound            Kind = "not_found"
	KindToolchain           Kind = "toolchain"
	KindBytecodeCompilation Kind = "bytecode_compilation"
	KindToolUnavailable     Kind = "tool_unavailable"
	KindToolFailed          Kind = "tool_failed"
	KindInvalidData         Kind = "invalid_data"
	KindInvalidInput        Kind = "invalid_input"
	KindIO                  Kind = "io"
	KindUnsupported         Kind = "unsupported"
	KindSignature           Kind = "signature"
)

// Error is the structured error type used throughout the pipeline
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Subject string
	Tool    string
	Detail  string
	Status  int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Subject != "" {
		b.WriteString(" at ")
		b.WriteString(e.Subject)
	}

	if e.Tool != "" {
		b.WriteString(": tool ")
		b.WriteString(e.Tool)
	}

	if e.Detail != "" {
		if e.Tool != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// ExitCode returns the process status a CLI should exit with.
// Toolchain errors surface the child process's code; everything else is 1.
func (e *Error) ExitCode() int {
	if e.Status > 0 {
		return e.Status
	}
	return 1
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Subject sets the offending target, file, or stage
func (b *Builder) Subject(s string) *Builder {
	b.err.Subject = s
	return b
}

// Tool sets the external tool name
func (b *Builder) Tool(name string) *Builder {
	b.err.Tool = name
	return b
}

// ExitCode sets the failed process's exit code
func (b *Builder) ExitCode(code int) *Builder {
	b.err.Status = code
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Configuration errors

// NoTarget reports a workspace without any binary or cdylib target
func NoTarget(pkg string) *Error {
	return &Error{
		Phase:   PhaseResolve,
		Kind:    KindNoTarget,
		Subject: pkg,
		Detail:  "no WASM artifact found to build; ensure the package defines exactly one `bin` or `cdylib` crate",
	}
}

// AmbiguousTarget reports more than one eligible target
func AmbiguousTarget(pkg string, candidates []string) *Error {
	return &Error{
		Phase:   PhaseResolve,
		Kind:    KindAmbiguousTarget,
		Subject: pkg,
		Value:   candidates,
		Detail: fmt.Sprintf("multiple WASM artifacts found (%s); ensure the package defines exactly one `bin` or `cdylib` crate",
			strings.Join(candidates, ", ")),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Toolchain errors

// Toolchain reports a toolchain process that could not run or exited non-zero.
// code is the process exit code, or 0 when the process never started.
func Toolchain(phase Phase, tool string, code int, cause error) *Error {
	detail := "failed to run " + tool
	if code > 0 {
		detail = fmt.Sprintf("%s exited with code %d", tool, code)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindToolchain,
		Tool:   tool,
		Status: code,
		Detail: detail,
		Cause:  cause,
	}
}

// BytecodeCompilation reports a primary artifact the bytecode compiler rejected
func BytecodeCompilation(subject string, cause error) *Error {
	return &Error{
		Phase:   PhaseDerive,
		Kind:    KindBytecodeCompilation,
		Subject: subject,
		Detail:  "compile wasm to rwasm",
		Cause:   cause,
	}
}

// Auxiliary tool errors

// ToolUnavailable reports an auxiliary tool missing from the environment
func ToolUnavailable(tool string) *Error {
	return &Error{
		Phase:  PhaseDerive,
		Kind:   KindToolUnavailable,
		Tool:   tool,
		Detail: "not found",
	}
}

// ToolFailed reports an auxiliary tool that ran and failed
func ToolFailed(tool, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseDerive,
		Kind:   KindToolFailed,
		Tool:   tool,
		Detail: detail,
		Cause:  cause,
	}
}

// Data and I/O errors

// InvalidData creates an invalid data error
func InvalidData(phase Phase, subject, detail string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindInvalidData,
		Subject: subject,
		Detail:  detail,
	}
}

// Unsupported creates an unsupported feature error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// IO wraps a filesystem failure on path
func IO(phase Phase, path string, cause error) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindIO,
		Subject: path,
		Cause:   cause,
	}
}

// Signature reports a key or signature problem
func Signature(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseSign,
		Kind:   KindSignature,
		Detail: detail,
		Cause:  cause,
	}
}

// ExitCoder is implemented by errors that carry a process exit status.
type ExitCoder interface {
	ExitCode() int
}
