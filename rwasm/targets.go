package rwasm

import (
	"fmt"

	"github.com/wippyai/wasm-build/internal/binary"
	"github.com/wippyai/wasm-build/wasm"
)

const functionLabel = -1

// resolveTargets computes, for every instruction of one function body, the
// absolute continuation indexes its immediates carry. base is the absolute
// index of the body's first instruction.
func resolveTargets(instrs []wasm.Instruction, base uint32) ([][]uint32, error) {
	n := len(instrs)
	endOf := make([]int, n)
	elseOf := make([]int, n)

	var open []int
	for pc, in := range instrs {
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			open = append(open, pc)
			elseOf[pc] = -1
		case wasm.OpElse:
			if len(open) == 0 {
				return nil, fmt.Errorf("else at %d outside if", pc)
			}
			elseOf[open[len(open)-1]] = pc
		case wasm.OpEnd:
			if len(open) == 0 {
				if pc != n-1 {
					return nil, fmt.Errorf("function end at %d before body end", pc)
				}
				continue
			}
			endOf[open[len(open)-1]] = pc
			open = open[:len(open)-1]
		}
	}
	if len(open) != 0 {
		return nil, fmt.Errorf("%d unterminated blocks", len(open))
	}

	abs := func(pc int) uint32 { return base + uint32(pc) }
	functionEnd := abs(n - 1)

	labelTarget := func(opener int) uint32 {
		if opener == functionLabel {
			return functionEnd
		}
		if instrs[opener].Opcode == wasm.OpLoop {
			return abs(opener + 1)
		}
		return abs(endOf[opener] + 1)
	}

	labels := []int{functionLabel}
	branch := func(depth uint32) (uint32, error) {
		if int(depth) >= len(labels) {
			return 0, fmt.Errorf("branch depth %d exceeds nesting %d", depth, len(labels))
		}
		return labelTarget(labels[len(labels)-1-int(depth)]), nil
	}

	targets := make([][]uint32, n)
	for pc, in := range instrs {
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			end := abs(endOf[pc] + 1)
			alt := end
			if elseOf[pc] >= 0 {
				alt = abs(elseOf[pc] + 1)
			}
			targets[pc] = []uint32{alt, end}
			labels = append(labels, pc)
		case wasm.OpElse:
			opener := labels[len(labels)-1]
			targets[pc] = []uint32{abs(endOf[opener] + 1)}
		case wasm.OpEnd:
			if len(labels) > 1 {
				labels = labels[:len(labels)-1]
			}
		case wasm.OpBr, wasm.OpBrIf:
			t, err := branch(in.Index)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", pc, err)
			}
			targets[pc] = []uint32{t}
		case wasm.OpBrTable:
			ts := make([]uint32, len(in.Labels))
			for i, depth := range in.Labels {
				t, err := branch(depth)
				if err != nil {
					return nil, fmt.Errorf("instruction %d: %w", pc, err)
				}
				ts[i] = t
			}
			targets[pc] = ts
		}
	}
	return targets, nil
}

// writeInstruction encodes in with its resolved targets (nil outside
// function bodies).
func writeInstruction(w *binary.Writer, in wasm.Instruction, targets []uint32) {
	op := opcodeOf(in)
	w.WriteU16LE(uint16(op))

	switch {
	case in.IsMemoryAccess():
		w.WriteU32LE(in.Align)
		w.WriteU32LE(in.Offset)
		return
	case immediateSize(op) == 0:
		return
	}

	switch op {
	case Opcode(wasm.OpBlock), Opcode(wasm.OpLoop), Opcode(wasm.OpIf):
		w.WriteU32LE(uint32(int32(in.Block)))
		w.WriteU32LE(targetAt(targets, 0))
		w.WriteU32LE(targetAt(targets, 1))
	case Opcode(wasm.OpElse):
		w.WriteU32LE(targetAt(targets, 0))
	case Opcode(wasm.OpBr), Opcode(wasm.OpBrIf):
		w.WriteU32LE(in.Index)
		w.WriteU32LE(targetAt(targets, 0))
	case Opcode(wasm.OpBrTable):
		w.WriteU32LE(uint32(len(in.Labels) - 1))
		for i, depth := range in.Labels {
			w.WriteU32LE(depth)
			w.WriteU32LE(targetAt(targets, i))
		}
	case Opcode(wasm.OpCallIndirect), misc(wasm.MiscTableInit), misc(wasm.MiscTableCopy):
		w.WriteU32LE(in.Index)
		w.WriteU32LE(in.Index2)
	case Opcode(wasm.OpI32Const), Opcode(wasm.OpF32Const):
		w.WriteU32LE(uint32(in.Value))
	case Opcode(wasm.OpI64Const), Opcode(wasm.OpF64Const):
		w.WriteU64LE(in.Value)
	case Opcode(wasm.OpSelectType), Opcode(wasm.OpRefNull):
		w.Byte(byte(in.Types[0]))
	default:
		w.WriteU32LE(in.Index)
	}
}

func targetAt(targets []uint32, i int) uint32 {
	if i < len(targets) {
		return targets[i]
	}
	return 0
}
