package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-build/internal/binary"
)

// BlockType values for the single-byte encodings. Non-negative values are
// type indices.
const (
	BlockVoid int64 = -64
	BlockI32  int64 = -1
	BlockI64  int64 = -2
	BlockF32  int64 = -3
	BlockF64  int64 = -4
	BlockFunc int64 = -16 // funcref result
	BlockExt  int64 = -17 // externref result
)

// Instruction is a decoded instruction with its immediates flattened into
// fixed fields. Which fields are meaningful depends on Opcode (and Misc for
// the 0xFC prefix).
type Instruction struct {
	Labels []uint32  // br_table targets; the default label is last
	Types  []ValType // typed select

	Block int64  // block, loop, if
	Value uint64 // raw bits of i32/i64/f32/f64 constants

	Index  uint32 // label, function, local, global, table, type, data or elem index
	Index2 uint32 // second index: call_indirect table, table.copy source, *.init target
	Align  uint32
	Offset uint32

	Misc   uint32 // sub-opcode when Opcode is OpPrefixMisc
	Opcode byte
}

// IsMemoryAccess reports whether in is a load or store with a memarg.
func (in Instruction) IsMemoryAccess() bool {
	return in.Opcode >= OpI32Load && in.Opcode <= OpI64Store32
}

// DecodeInstructions decodes a function body or constant expression.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	var out []Instruction
	for r.Len() > 0 {
		pos := r.Position()
		in, err := decodeInstruction(r)
		if err != nil {
			return nil, fmt.Errorf("instruction at offset %d: %w", pos, err)
		}
		out = append(out, in)
	}
	return out, nil
}

func decodeInstruction(r *binary.Reader) (Instruction, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	in := Instruction{Opcode: op}

	switch {
	case op >= OpNumericFirst && op <= OpNumericLast:
		return in, nil
	case in.IsMemoryAccess():
		err = readMemArg(r, &in)
		return in, err
	}

	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull:

	case OpBlock, OpLoop, OpIf:
		in.Block, err = readBlockType(r)

	case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpLocalTee,
		OpGlobalGet, OpGlobalSet, OpTableGet, OpTableSet, OpRefFunc:
		in.Index, err = r.ReadU32()

	case OpBrTable:
		err = readVec(r, func(uint32) error {
			l, err := r.ReadU32()
			in.Labels = append(in.Labels, l)
			return err
		})
		if err == nil {
			var def uint32
			def, err = r.ReadU32()
			in.Labels = append(in.Labels, def)
		}

	case OpCallIndirect:
		if in.Index, err = r.ReadU32(); err == nil {
			in.Index2, err = r.ReadU32()
		}

	case OpSelectType:
		in.Types, err = readValTypes(r)
		if err == nil && len(in.Types) != 1 {
			err = fmt.Errorf("select: expected one result type, got %d", len(in.Types))
		}

	case OpMemorySize, OpMemoryGrow:
		err = readMemIndex(r)

	case OpI32Const:
		var v int32
		v, err = r.ReadS32()
		in.Value = uint64(uint32(v))
	case OpI64Const:
		var v int64
		v, err = r.ReadS64()
		in.Value = uint64(v)
	case OpF32Const:
		var v uint32
		v, err = r.ReadU32LE()
		in.Value = uint64(v)
	case OpF64Const:
		in.Value, err = r.ReadU64LE()

	case OpRefNull:
		var vt ValType
		vt, err = readRefType(r)
		in.Types = []ValType{vt}

	case OpPrefixMisc:
		err = decodeMisc(r, &in)

	case OpTry, OpThrow, OpRethrow, OpThrowRef, OpDelegate, OpCatchAll, OpTryTable, 0x07:
		err = unsupported("exception handling")
	case OpReturnCall, OpReturnCallIndirect:
		err = unsupported("tail calls")
	case OpPrefixSIMD:
		err = unsupported("simd")
	case OpPrefixAtomic:
		err = unsupported("threads (atomics)")
	case OpPrefixGC:
		err = unsupported("gc")
	default:
		err = fmt.Errorf("unknown opcode 0x%02x", op)
	}
	return in, err
}

func decodeMisc(r *binary.Reader, in *Instruction) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	in.Misc = sub
	switch {
	case sub <= MiscI64TruncSatF64U:
		return nil
	case sub == MiscMemoryInit:
		if in.Index, err = r.ReadU32(); err != nil {
			return err
		}
		return readMemIndex(r)
	case sub == MiscDataDrop, sub == MiscElemDrop,
		sub == MiscTableGrow, sub == MiscTableSize, sub == MiscTableFill:
		in.Index, err = r.ReadU32()
		return err
	case sub == MiscMemoryCopy:
		if err := readMemIndex(r); err != nil {
			return err
		}
		return readMemIndex(r)
	case sub == MiscMemoryFill:
		return readMemIndex(r)
	case sub == MiscTableInit, sub == MiscTableCopy:
		// table.init elem table; table.copy dst src
		if in.Index, err = r.ReadU32(); err != nil {
			return err
		}
		in.Index2, err = r.ReadU32()
		return err
	}
	return fmt.Errorf("unknown 0xFC sub-opcode %d", sub)
}

func readBlockType(r *binary.Reader) (int64, error) {
	bt, err := r.ReadS33()
	if err != nil {
		return 0, err
	}
	switch {
	case bt >= 0, bt == BlockVoid, bt == BlockI32, bt == BlockI64, bt == BlockF32,
		bt == BlockF64, bt == BlockFunc, bt == BlockExt:
		return bt, nil
	case bt == -5:
		return 0, unsupported("simd block type")
	}
	return 0, fmt.Errorf("invalid block type %d", bt)
}

// readMemArg reads align and offset. Bit 6 of align selects an explicit
// memory index (multi-memory).
func readMemArg(r *binary.Reader, in *Instruction) error {
	align, err := r.ReadU32()
	if err != nil {
		return err
	}
	if align&0x40 != 0 {
		return unsupported("multi-memory")
	}
	offset, err := r.ReadU64()
	if err != nil {
		return err
	}
	if offset > 0xFFFFFFFF {
		return unsupported("memory64 offset")
	}
	in.Align, in.Offset = align, uint32(offset)
	return nil
}

func readMemIndex(r *binary.Reader) error {
	idx, err := r.ReadByte()
	if err != nil {
		return err
	}
	if idx != 0 {
		return unsupported("multi-memory")
	}
	return nil
}
