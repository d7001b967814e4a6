package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-build/internal/binary"
)

// Section is one raw top-level section of a module binary.
type Section struct {
	Data []byte // payload without id and size
	ID   byte
}

// ReadSections splits a module binary into its sections after checking the
// header, section sizes and the ordering of non-custom sections.
func ReadSections(data []byte) ([]Section, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	var sections []Section
	lastRank := 0
	for r.Len() > 0 {
		id, _ := r.ReadByte()
		if id != SectionCustom {
			rank, ok := sectionRank[id]
			if !ok {
				return nil, r.WrapError("section header", fmt.Errorf("unknown section id %d", id))
			}
			if rank <= lastRank {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastRank = rank
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}
		sections = append(sections, Section{ID: id, Data: payload})
	}
	return sections, nil
}

// EncodeSections writes a module header followed by sections.
func EncodeSections(sections []Section) []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)
	for _, s := range sections {
		w.Section(s.ID, s.Data)
	}
	return w.Bytes()
}

// Strip removes every custom section (name, producers, target_features,
// .debug_* and so on). The remaining sections are copied unchanged, so the
// result is semantically identical to the input.
func Strip(data []byte) ([]byte, error) {
	sections, err := ReadSections(data)
	if err != nil {
		return nil, err
	}
	kept := sections[:0:0]
	for _, s := range sections {
		if s.ID != SectionCustom {
			kept = append(kept, s)
		}
	}
	return EncodeSections(kept), nil
}

// CustomSectionNames lists the names of custom sections in binary order.
func CustomSectionNames(data []byte) ([]string, error) {
	sections, err := ReadSections(data)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range sections {
		if s.ID != SectionCustom {
			continue
		}
		name, err := binary.NewReader(s.Data).ReadName()
		if err != nil {
			return nil, fmt.Errorf("custom section name: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}
