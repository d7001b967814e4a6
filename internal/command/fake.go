package command

import (
	"context"
	"fmt"
	"sync"
)

// Handler simulates one executable for a Fake runner.
type Handler func(ctx context.Context, cmd Command) (Result, error)

// Fake is an in-memory Runner for tests. Commands without a registered
// handler behave as if the executable were missing from PATH.
type Fake struct {
	handlers map[string]Handler
	calls    []Command
	mu       sync.Mutex
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{handlers: make(map[string]Handler)}
}

// Handle registers a handler for the executable name.
func (f *Fake) Handle(name string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

// Output registers a handler that succeeds with the given stdout.
func (f *Fake) Output(name, stdout string) {
	f.Handle(name, func(context.Context, Command) (Result, error) {
		return Result{Stdout: []byte(stdout)}, nil
	})
}

// Fail registers a handler that exits with the given code.
func (f *Fake) Fail(name string, code int, stderr string) {
	f.Handle(name, func(context.Context, Command) (Result, error) {
		return Result{Stderr: []byte(stderr), ExitCode: code},
			&ExitError{Command: name, Code: code, Stderr: stderr}
	})
}

// Calls returns a copy of every command run so far, in order.
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded invocations of one executable.
func (f *Fake) CallsTo(name string) []Command {
	var out []Command
	for _, c := range f.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[name]; !ok {
		return "", fmt.Errorf("exec: %q: %w", name, ErrNotFound)
	}
	return "/fake/bin/" + name, nil
}

func (f *Fake) Run(ctx context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h, ok := f.handlers[cmd.Name]
	f.mu.Unlock()

	if !ok {
		return Result{}, fmt.Errorf("run %s: exec: %q: %w", cmd.Name, cmd.Name, ErrNotFound)
	}
	return h(ctx, cmd)
}
