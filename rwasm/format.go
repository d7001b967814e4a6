package rwasm

import (
	"github.com/wippyai/wasm-build/wasm"
)

// Magic opens every rwasm container.
const Magic = "rwsm"

// Version is the container format version.
const Version byte = 1

// Section IDs
const (
	SectionTypes     byte = 1
	SectionImports   byte = 2
	SectionFunctions byte = 3
	SectionTables    byte = 4
	SectionMemory    byte = 5
	SectionGlobals   byte = 6
	SectionExports   byte = 7
	SectionStart     byte = 8
	SectionElements  byte = 9
	SectionData      byte = 10
	SectionCode      byte = 11
)

// NullFunc stands in for ref.null in element segments.
const NullFunc uint32 = 0xFFFFFFFF

// Opcode is a two-byte rwasm opcode. Single-byte WebAssembly opcodes keep
// their value; 0xFC-prefixed ones become 0xFC00|sub.
type Opcode uint16

func opcodeOf(in wasm.Instruction) Opcode {
	if in.Opcode == wasm.OpPrefixMisc {
		return Opcode(0xFC00 | in.Misc)
	}
	return Opcode(in.Opcode)
}

func misc(sub uint32) Opcode {
	return Opcode(0xFC00 | sub)
}

// immediateSize returns the fixed immediate width of op in bytes, or -1 for
// br_table whose width depends on its label count.
func immediateSize(op Opcode) int {
	if op >= 0xFC00 {
		switch op {
		case misc(wasm.MiscTableInit), misc(wasm.MiscTableCopy):
			return 8
		case misc(wasm.MiscMemoryInit), misc(wasm.MiscDataDrop), misc(wasm.MiscElemDrop),
			misc(wasm.MiscTableGrow), misc(wasm.MiscTableSize), misc(wasm.MiscTableFill):
			return 4
		}
		return 0
	}

	b := byte(op)
	switch {
	case b >= wasm.OpI32Load && b <= wasm.OpI64Store32:
		return 8
	case b >= wasm.OpNumericFirst && b <= wasm.OpNumericLast:
		return 0
	}
	switch b {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		return 12
	case wasm.OpBr, wasm.OpBrIf, wasm.OpCallIndirect, wasm.OpI64Const, wasm.OpF64Const:
		return 8
	case wasm.OpElse, wasm.OpCall, wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee,
		wasm.OpGlobalGet, wasm.OpGlobalSet, wasm.OpTableGet, wasm.OpTableSet,
		wasm.OpRefFunc, wasm.OpI32Const, wasm.OpF32Const:
		return 4
	case wasm.OpSelectType, wasm.OpRefNull:
		return 1
	case wasm.OpBrTable:
		return -1
	}
	return 0
}
