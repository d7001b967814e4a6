// Package git provides typed access to the git CLI for the provenance
// recorder. All commands target a specific directory via the -C flag.
package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/wippyai/wasm-build/internal/command"
)

// Repository represents a git working tree at a specific directory.
type Repository struct {
	runner command.Runner
	dir    string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(runner command.Runner, dir string) *Repository {
	return &Repository{runner: runner, dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// trimmed stdout.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	res, err := r.runner.Run(ctx, command.Command{Name: "git", Args: fullArgs})
	if err != nil {
		return "", fmt.Errorf("git %s in %s: %w", strings.Join(args, " "), r.dir, err)
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Head returns the commit hash HEAD points at.
func (r *Repository) Head(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("git rev-parse HEAD in %s: empty output", r.dir)
	}
	return out, nil
}
