package toolchain

import (
	"context"
	"strings"

	"github.com/wippyai/wasm-build/internal/command"
)

// Versions holds the toolchain version strings recorded in provenance.
// Empty fields mean the query failed.
type Versions struct {
	Rustc string
	Cargo string
}

// QueryVersions runs `rustc --version` and `cargo --version`. Failures are
// not errors: the corresponding field stays empty.
func QueryVersions(ctx context.Context, runner command.Runner) Versions {
	return Versions{
		Rustc: queryVersion(ctx, runner, "rustc"),
		Cargo: queryVersion(ctx, runner, "cargo"),
	}
}

func queryVersion(ctx context.Context, runner command.Runner, tool string) string {
	res, err := runner.Run(ctx, command.Command{Name: tool, Args: []string{"--version"}})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(res.Stdout))
}
