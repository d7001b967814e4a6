package derive

import (
	"context"
	stderrors "errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/command"
	"github.com/wippyai/wasm-build/rwasm"
	"github.com/wippyai/wasm-build/wasm"
)

// ExternalTool runs an executable found on PATH.
type ExternalTool struct {
	Runner command.Runner

	// Args builds the argument list for one input/output pair.
	Args func(input, output string) []string

	Command string
}

// Name returns the tool's display name.
func (t *ExternalTool) Name() string {
	return t.Command
}

// Run invokes the tool. A missing executable yields a tool-unavailable
// error; a failed process yields a tool-failed error carrying its stderr.
func (t *ExternalTool) Run(ctx context.Context, input, output string) error {
	if _, err := t.Runner.LookPath(t.Command); err != nil {
		return errors.New(errors.PhaseDerive, errors.KindToolUnavailable).
			Tool(t.Command).
			Detail("not found on PATH").
			Cause(err).
			Build()
	}
	_, err := t.Runner.Run(ctx, command.Command{
		Name: t.Command,
		Args: t.Args(input, output),
	})
	if err == nil {
		return nil
	}
	if stderrors.Is(err, command.ErrNotFound) {
		return errors.ToolUnavailable(t.Command)
	}
	detail := "exited with code " + strconv.Itoa(command.ExitCode(err))
	var exitErr *command.ExitError
	if stderrors.As(err, &exitErr) && exitErr.Stderr != "" {
		detail = strings.TrimSpace(exitErr.Stderr)
	}
	return errors.ToolFailed(t.Command, detail, err)
}

// Wasm2Wat disassembles a module with wabt's wasm2wat. bin overrides the
// executable name when non-empty.
func Wasm2Wat(runner command.Runner, bin string) *ExternalTool {
	if bin == "" {
		bin = "wasm2wat"
	}
	return &ExternalTool{
		Runner:  runner,
		Command: bin,
		Args: func(input, output string) []string {
			return []string{input, "-o", output}
		},
	}
}

// WasmToolsStrip removes custom sections with `wasm-tools strip -a`.
func WasmToolsStrip(runner command.Runner) *ExternalTool {
	return &ExternalTool{
		Runner:  runner,
		Command: "wasm-tools",
		Args: func(input, output string) []string {
			return []string{"strip", "-a", input, "-o", output}
		},
	}
}

// WasmtimeCompile precompiles a module with `wasmtime compile`.
func WasmtimeCompile(runner command.Runner) *ExternalTool {
	return &ExternalTool{
		Runner:  runner,
		Command: "wasmtime",
		Args: func(input, output string) []string {
			return []string{"compile", input, "-o", output}
		},
	}
}

// transform adapts an in-process byte transformation to the Tool interface.
type transform struct {
	fn   func([]byte) ([]byte, error)
	wrap func(input string, err error) error
	name string
}

func (t *transform) Name() string {
	return t.name
}

func (t *transform) Run(_ context.Context, input, output string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return errors.IO(errors.PhaseDerive, input, err)
	}
	out, err := t.fn(data)
	if err != nil {
		return t.wrap(input, err)
	}
	if err := os.WriteFile(output, out, 0o644); err != nil {
		return errors.IO(errors.PhaseDerive, output, err)
	}
	return nil
}

// NativeStrip removes custom sections in-process.
func NativeStrip() Tool {
	return &transform{
		name: "strip",
		fn: func(data []byte) ([]byte, error) {
			names, err := wasm.CustomSectionNames(data)
			if err != nil {
				return nil, err
			}
			Logger().Debug("stripping custom sections", zap.Strings("sections", names))
			return wasm.Strip(data)
		},
		wrap: func(input string, err error) error {
			return errors.New(errors.PhaseDerive, errors.KindToolFailed).
				Subject(input).
				Tool("strip").
				Detail("not a valid module").
				Cause(err).
				Build()
		},
	}
}

// Bytecode compiles the module to rwasm in-process.
func Bytecode() Tool {
	return &transform{
		name: "rwasm",
		fn:   rwasm.Compile,
		wrap: func(input string, err error) error {
			var e *errors.Error
			if stderrors.As(err, &e) {
				e.Subject = input
				return e
			}
			return errors.BytecodeCompilation(input, err)
		},
	}
}
