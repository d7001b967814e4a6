package rwasm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	wbinary "github.com/wippyai/wasm-build/internal/binary"
)

// Instruction is one decoded entry of the flattened code stream.
type Instruction struct {
	Immediate []byte
	Op        Opcode
}

// U32 returns the i-th little-endian u32 of the immediate.
func (in Instruction) U32(i int) uint32 {
	return binary.LittleEndian.Uint32(in.Immediate[4*i:])
}

// Program is the section-level view of an rwasm container. Only the code
// section is decoded; the others are kept as raw payloads.
type Program struct {
	Sections map[byte][]byte
	Code     []Instruction
}

// Parse reads an rwasm container produced by Compile.
func Parse(data []byte) (*Program, error) {
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return nil, fmt.Errorf("rwasm: invalid magic")
	}
	r := wbinary.NewReader(data[len(Magic):])
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("rwasm: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("rwasm: unsupported version %d", version)
	}

	p := &Program{Sections: make(map[byte][]byte)}
	var last byte
	for r.Len() > 0 {
		id, _ := r.ReadByte()
		if id <= last || id > SectionCode {
			return nil, fmt.Errorf("rwasm: section %d out of order", id)
		}
		last = id
		size, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("rwasm: section %d size: %w", id, err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("rwasm: section %d: %w", id, err)
		}
		p.Sections[id] = payload
	}

	if code, ok := p.Sections[SectionCode]; ok {
		if p.Code, err = parseCode(code); err != nil {
			return nil, fmt.Errorf("rwasm: code: %w", err)
		}
	}
	return p, nil
}

func parseCode(data []byte) ([]Instruction, error) {
	r := wbinary.NewReader(data)
	count, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len()/2 {
		return nil, fmt.Errorf("instruction count %d exceeds payload", count)
	}
	out := make([]Instruction, 0, count)
	for i := uint32(0); i < count; i++ {
		raw, err := r.ReadBytes(2)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		op := Opcode(binary.LittleEndian.Uint16(raw))
		size := immediateSize(op)
		if size < 0 {
			n, err := r.ReadU32LE()
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			rest, err := r.ReadBytes(int(n+1) * 8)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			imm := binary.LittleEndian.AppendUint32(nil, n)
			out = append(out, Instruction{Op: op, Immediate: append(imm, rest...)})
			continue
		}
		imm, err := r.ReadBytes(size)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, Instruction{Op: op, Immediate: imm})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return out, nil
}
