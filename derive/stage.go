package derive

import (
	"context"
	stderrors "errors"

	"github.com/wippyai/wasm-build/errors"
)

// Stage names
const (
	StageRwasm       = "rwasm"
	StageWat         = "wat"
	StageStrip       = "strip"
	StageStrippedWat = "stripped-wat"
	StageCwasm       = "cwasm"
)

// Artifact file names
const (
	FilePrimary     = "lib.wasm"
	FileWat         = "lib.wat"
	FileStripped    = "lib.stripped.wasm"
	FileStrippedWat = "lib.stripped.wat"
	FileRwasm       = "lib.rwasm"
	FileCwasm       = "lib.cwasm"
)

// Tool turns an input file into an output file.
type Tool interface {
	Name() string
	Run(ctx context.Context, input, output string) error
}

// ErrToolUnavailable matches, via errors.Is, any error reporting that a
// tool is missing from the environment.
var ErrToolUnavailable error = &errors.Error{Phase: errors.PhaseDerive, Kind: errors.KindToolUnavailable}

func isUnavailable(err error) bool {
	return stderrors.Is(err, ErrToolUnavailable)
}

// Stage declares one derived artifact.
type Stage struct {
	Tool   Tool // nil disables the stage
	Name   string
	Output string // file name written into the executor's directory
	Needs  string // producing stage of the input; empty for the primary artifact
	Fatal  bool
}

// Toolset selects the tool for each stage. A nil field disables the stage
// (it settles as Skipped), except Bytecode, which is required.
type Toolset struct {
	Bytecode    Tool
	Disassemble Tool
	Strip       Tool
	AOT         Tool
}

// Stages returns the standard derivation graph in declaration order.
func Stages(tools Toolset) []Stage {
	return []Stage{
		{Name: StageRwasm, Output: FileRwasm, Tool: tools.Bytecode, Fatal: true},
		{Name: StageWat, Output: FileWat, Tool: tools.Disassemble},
		{Name: StageStrip, Output: FileStripped, Tool: tools.Strip},
		{Name: StageStrippedWat, Output: FileStrippedWat, Needs: StageStrip, Tool: tools.Disassemble},
		{Name: StageCwasm, Output: FileCwasm, Tool: tools.AOT},
	}
}
