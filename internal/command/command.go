// Package command runs external processes for the build pipeline. Every
// toolchain invocation (cargo, rustc, git, wasm2wat, wasm-tools, wasmtime)
// goes through a Runner so that stages can be exercised in tests without
// the real tools installed.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes one process invocation.
type Command struct {
	// Stdout and Stderr, when set, receive the process output as it is
	// produced in addition to the captured Result buffers.
	Stdout io.Writer
	Stderr io.Writer

	Name string
	Dir  string
	Args []string

	// Env entries (KEY=VALUE) are appended to the parent environment.
	Env []string
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the captured output of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned by Run when the process started but exited with a
// non-zero status.
type ExitError struct {
	Command string
	Stderr  string
	Code    int
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit status %d (stderr: %s)", e.Command, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
}

// ExitCode returns the process exit status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// ErrNotFound is returned (wrapped) when the executable is not on PATH.
var ErrNotFound = exec.ErrNotFound

// Runner spawns external processes synchronously.
type Runner interface {
	// Run starts the command and waits for it. A non-nil error means the
	// process could not start or exited non-zero (*ExitError).
	Run(ctx context.Context, cmd Command) (Result, error)

	// LookPath resolves an executable name the way Run would.
	LookPath(name string) (string, error)
}

// ExitCode extracts the process exit status from an error returned by Run.
// It returns 0 when the process never started.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 0
}

// Exec is the Runner backed by os/exec.
type Exec struct{}

// NewExec returns a Runner that spawns real processes.
func NewExec() *Exec {
	return &Exec{}
}

func (*Exec) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (*Exec) Run(ctx context.Context, c Command) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = teeWriter(&stdout, c.Stdout)
	cmd.Stderr = teeWriter(&stderr, c.Stderr)

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{
			Command: c.Name,
			Code:    res.ExitCode,
			Stderr:  strings.TrimSpace(stderr.String()),
		}
	}
	return res, fmt.Errorf("run %s: %w", c.Name, err)
}

func teeWriter(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
