package rwasm

import (
	"fmt"

	"github.com/wippyai/wasm-build/errors"
	"github.com/wippyai/wasm-build/internal/binary"
	"github.com/wippyai/wasm-build/wasm"
)

// Compile translates a WebAssembly binary into an rwasm container.
// Modules that fail to parse or validate, or that use proposals outside the
// supported set, are rejected with a bytecode compilation error.
func Compile(wasmBytes []byte) ([]byte, error) {
	m, err := wasm.ParseModuleValidate(wasmBytes)
	if err != nil {
		return nil, errors.BytecodeCompilation("module", err)
	}
	out, err := newCompiler(m).compile()
	if err != nil {
		return nil, errors.BytecodeCompilation("module", err)
	}
	return out, nil
}

type compiler struct {
	m *wasm.Module

	// per defined function: decoded body and absolute index of its first
	// instruction in the flattened stream
	bodies  [][]wasm.Instruction
	entries []uint32
	total   uint32
}

func newCompiler(m *wasm.Module) *compiler {
	return &compiler{m: m}
}

func (c *compiler) compile() ([]byte, error) {
	for i, body := range c.m.Code {
		instrs, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		c.bodies = append(c.bodies, instrs)
		c.entries = append(c.entries, c.total)
		c.total += uint32(len(instrs))
	}

	code, err := c.codeSection()
	if err != nil {
		return nil, err
	}
	elements, err := c.elementSection()
	if err != nil {
		return nil, err
	}

	w := binary.NewWriter()
	w.WriteBytes([]byte(Magic))
	w.Byte(Version)

	sections := []struct {
		payload []byte
		id      byte
		present bool
	}{
		{c.typeSection(), SectionTypes, len(c.m.Types) > 0},
		{c.importSection(), SectionImports, len(c.m.Imports) > 0},
		{c.functionSection(), SectionFunctions, len(c.m.Funcs) > 0},
		{c.tableSection(), SectionTables, len(c.m.Tables) > 0},
		{c.memorySection(), SectionMemory, len(c.m.Memories) > 0},
		{c.globalSection(), SectionGlobals, len(c.m.Globals) > 0},
		{c.exportSection(), SectionExports, len(c.m.Exports) > 0},
		{c.startSection(), SectionStart, c.m.Start != nil},
		{elements, SectionElements, len(c.m.Elements) > 0},
		{c.dataSection(), SectionData, len(c.m.Data) > 0},
		{code, SectionCode, len(c.m.Code) > 0},
	}
	for _, s := range sections {
		if s.present {
			w.Section(s.id, s.payload)
		}
	}
	return w.Bytes(), nil
}

func writeValTypes(w *binary.Writer, vts []wasm.ValType) {
	w.WriteU32(uint32(len(vts)))
	for _, vt := range vts {
		w.Byte(byte(vt))
	}
}

func writeLimits(w *binary.Writer, l wasm.Limits) {
	w.WriteU64(l.Min)
	if l.Max == nil {
		w.Byte(0)
		w.WriteU32(0)
		return
	}
	w.Byte(1)
	w.WriteU64(*l.Max)
}

func (c *compiler) typeSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Types)))
	for _, ft := range c.m.Types {
		writeValTypes(w, ft.Params)
		writeValTypes(w, ft.Results)
	}
	return w.Bytes()
}

func (c *compiler) importSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Imports)))
	for _, imp := range c.m.Imports {
		w.WriteName(imp.Module)
		w.WriteName(imp.Name)
		w.Byte(imp.Kind)
		switch imp.Kind {
		case wasm.KindFunc:
			w.WriteU32(imp.TypeIdx)
		case wasm.KindTable:
			w.Byte(byte(imp.Table.ElemType))
			writeLimits(w, imp.Table.Limits)
		case wasm.KindMemory:
			writeLimits(w, imp.Memory.Limits)
		case wasm.KindGlobal:
			w.Byte(byte(imp.Global.ValType))
			w.Byte(boolByte(imp.Global.Mutable))
		}
	}
	return w.Bytes()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (c *compiler) functionSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Funcs)))
	for i, typeIdx := range c.m.Funcs {
		w.WriteU32(typeIdx)
		w.WriteU32LE(c.entries[i])
		body := c.m.Code[i]
		w.WriteU64(body.NumLocals())
		for _, l := range body.Locals {
			for j := uint32(0); j < l.Count; j++ {
				w.Byte(byte(l.ValType))
			}
		}
	}
	return w.Bytes()
}

func (c *compiler) tableSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Tables)))
	for _, t := range c.m.Tables {
		w.Byte(byte(t.ElemType))
		writeLimits(w, t.Limits)
	}
	return w.Bytes()
}

func (c *compiler) memorySection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Memories)))
	for _, mem := range c.m.Memories {
		writeLimits(w, mem.Limits)
	}
	return w.Bytes()
}

// writeExpr encodes a constant expression without its terminating end.
func writeExpr(w *binary.Writer, expr []byte) {
	instrs, _ := wasm.DecodeInstructions(expr) // validated by ParseModuleValidate
	if n := len(instrs); n > 0 && instrs[n-1].Opcode == wasm.OpEnd {
		instrs = instrs[:n-1]
	}
	w.WriteU32(uint32(len(instrs)))
	for _, in := range instrs {
		writeInstruction(w, in, nil)
	}
}

func (c *compiler) globalSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Globals)))
	for _, g := range c.m.Globals {
		w.Byte(byte(g.Type.ValType))
		w.Byte(boolByte(g.Type.Mutable))
		writeExpr(w, g.Init)
	}
	return w.Bytes()
}

func (c *compiler) exportSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Exports)))
	for _, exp := range c.m.Exports {
		w.WriteName(exp.Name)
		w.Byte(exp.Kind)
		w.WriteU32(exp.Index)
	}
	return w.Bytes()
}

func (c *compiler) startSection() []byte {
	if c.m.Start == nil {
		return nil
	}
	w := binary.NewWriter()
	w.WriteU32(*c.m.Start)
	return w.Bytes()
}

func (c *compiler) elementSection() ([]byte, error) {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Elements)))
	for i, e := range c.m.Elements {
		if e.Type != wasm.ValFuncRef {
			return nil, fmt.Errorf("element %d: %s segments are not supported", i, e.Type)
		}
		w.Byte(byte(e.Mode))
		w.WriteU32(e.Table)
		writeExpr(w, e.Offset)

		funcs := e.FuncIndices
		if e.Exprs != nil {
			var err error
			if funcs, err = exprFuncIndices(e.Exprs); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		w.WriteU32(uint32(len(funcs)))
		for _, f := range funcs {
			w.WriteU32(f)
		}
	}
	return w.Bytes(), nil
}

// exprFuncIndices lowers ref.func/ref.null element expressions to indexes.
func exprFuncIndices(exprs [][]byte) ([]uint32, error) {
	out := make([]uint32, 0, len(exprs))
	for _, expr := range exprs {
		instrs, err := wasm.DecodeInstructions(expr)
		if err != nil {
			return nil, err
		}
		if len(instrs) != 2 {
			return nil, fmt.Errorf("element expression must be a single ref.func or ref.null")
		}
		switch instrs[0].Opcode {
		case wasm.OpRefFunc:
			out = append(out, instrs[0].Index)
		case wasm.OpRefNull:
			out = append(out, NullFunc)
		default:
			return nil, fmt.Errorf("element expression opcode 0x%02x not supported", instrs[0].Opcode)
		}
	}
	return out, nil
}

func (c *compiler) dataSection() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(c.m.Data)))
	for _, d := range c.m.Data {
		w.Byte(byte(d.Mode))
		w.WriteU32(d.Memory)
		writeExpr(w, d.Offset)
		w.WriteU32(uint32(len(d.Init)))
		w.WriteBytes(d.Init)
	}
	return w.Bytes()
}

func (c *compiler) codeSection() ([]byte, error) {
	w := binary.NewWriter()
	w.WriteU32LE(c.total)
	for i, instrs := range c.bodies {
		targets, err := resolveTargets(instrs, c.entries[i])
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", c.m.NumImportedFuncs()+i, err)
		}
		for pc, in := range instrs {
			writeInstruction(w, in, targets[pc])
		}
	}
	return w.Bytes(), nil
}
