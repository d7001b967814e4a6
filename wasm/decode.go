package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-build/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")

	// ErrUnsupported marks constructs from proposals this package does not
	// implement. Test with errors.Is.
	ErrUnsupported = errors.New("unsupported feature")
)

func unsupported(what string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, what)
}

type sectionParser struct {
	parse func(*binary.Reader, *Module) error
	name  string
}

var sectionParsers = map[byte]sectionParser{
	SectionType:      {parseTypeSection, "type"},
	SectionImport:    {parseImportSection, "import"},
	SectionFunction:  {parseFunctionSection, "function"},
	SectionTable:     {parseTableSection, "table"},
	SectionMemory:    {parseMemorySection, "memory"},
	SectionGlobal:    {parseGlobalSection, "global"},
	SectionExport:    {parseExportSection, "export"},
	SectionStart:     {parseStartSection, "start"},
	SectionElement:   {parseElementSection, "element"},
	SectionCode:      {parseCodeSection, "code"},
	SectionData:      {parseDataSection, "data"},
	SectionDataCount: {parseDataCountSection, "data count"},
}

// ParseModule parses a WebAssembly binary module.
func ParseModule(data []byte) (*Module, error) {
	sections, err := ReadSections(data)
	if err != nil {
		return nil, err
	}

	m := &Module{}
	for _, s := range sections {
		if s.ID == SectionCustom {
			if err := parseCustomSection(binary.NewReader(s.Data), m); err != nil {
				return nil, fmt.Errorf("custom section: %w", err)
			}
			continue
		}
		if s.ID == SectionTag {
			return nil, unsupported("exception handling (tag section)")
		}
		p, ok := sectionParsers[s.ID]
		if !ok {
			return nil, fmt.Errorf("unknown section id %d", s.ID)
		}
		sr := binary.NewReader(s.Data)
		if err := p.parse(sr, m); err != nil {
			return nil, fmt.Errorf("%s section: %w", p.name, err)
		}
		if sr.Len() != 0 {
			return nil, fmt.Errorf("%s section: %d trailing bytes", p.name, sr.Len())
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d vs %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.Customs = append(m.Customs, CustomSection{Name: name, Data: r.ReadRemaining()})
	return nil
}

// readVec reads a LEB128 count followed by count elements.
func readVec(r *binary.Reader, each func(i uint32) error) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("vector count %d exceeds remaining %d bytes", count, r.Len())
	}
	for i := uint32(0); i < count; i++ {
		if err := each(i); err != nil {
			return err
		}
	}
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(i uint32) error {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch form {
		case funcTypeForm:
		case gcRecType, gcSubType, gcSubFinal, gcStructType, gcArrayType:
			return unsupported("gc type definitions")
		default:
			return fmt.Errorf("type %d: invalid form 0x%02x", i, form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d params: %w", i, err)
		}
		results, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d results: %w", i, err)
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
		return nil
	})
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	var out []ValType
	err := readVec(r, func(uint32) error {
		vt, err := readValType(r)
		if err != nil {
			return err
		}
		out = append(out, vt)
		return nil
	})
	return out, err
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch vt := ValType(b); vt {
	case ValI32, ValI64, ValF32, ValF64, ValFuncRef, ValExternRef:
		return vt, nil
	case ValV128:
		return 0, unsupported("simd (v128)")
	}
	switch b {
	case 0x63, 0x64, 0x6E, 0x6D, 0x6C, 0x6B, 0x6A, 0x71, 0x72, 0x73:
		return 0, unsupported("gc reference types")
	case 0x69:
		return 0, unsupported("exception handling (exnref)")
	}
	return 0, fmt.Errorf("invalid value type 0x%02x", b)
}

func readRefType(r *binary.Reader) (ValType, error) {
	vt, err := readValType(r)
	if err != nil {
		return 0, err
	}
	if !vt.IsRef() {
		return 0, fmt.Errorf("expected reference type, got %s", vt)
	}
	return vt, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(i uint32) error {
		var imp Import
		var err error
		if imp.Module, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = r.ReadU32()
		case KindTable:
			imp.Table, err = readTableType(r)
		case KindMemory:
			imp.Memory, err = readMemoryType(r)
		case KindGlobal:
			imp.Global, err = readGlobalType(r)
		case KindTag:
			err = unsupported("exception handling (tag import)")
		default:
			err = fmt.Errorf("invalid import kind 0x%02x", imp.Kind)
		}
		if err != nil {
			return fmt.Errorf("import %d (%s.%s): %w", i, imp.Module, imp.Name, err)
		}
		m.Imports = append(m.Imports, imp)
		return nil
	})
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Funcs = append(m.Funcs, idx)
		return nil
	})
}

func parseTableSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		t, err := readTableType(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, t)
		return nil
	})
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		mt, err := readMemoryType(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, mt)
		return nil
	})
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readConstExpr(r)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
		return nil
	})
}

func parseExportSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		var exp Export
		var err error
		if exp.Name, err = r.ReadName(); err != nil {
			return err
		}
		if exp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if exp.Kind == KindTag {
			return unsupported("exception handling (tag export)")
		}
		if exp.Kind > KindGlobal {
			return fmt.Errorf("export %q: invalid kind 0x%02x", exp.Name, exp.Kind)
		}
		if exp.Index, err = r.ReadU32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, exp)
		return nil
	})
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &n
	return nil
}

// parseElementSection handles the eight segment encodings selected by the
// flag bits: bit 0 passive/declarative, bit 1 explicit table or declarative,
// bit 2 expressions instead of function indices.
func parseElementSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(i uint32) error {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("element %d: invalid flags %d", i, flags)
		}
		e := Element{Type: ValFuncRef}
		switch {
		case flags&1 == 0:
			e.Mode = SegmentActive
		case flags&2 == 0:
			e.Mode = SegmentPassive
		default:
			e.Mode = SegmentDeclarative
		}

		if e.Mode == SegmentActive {
			if flags&2 != 0 {
				if e.Table, err = r.ReadU32(); err != nil {
					return err
				}
			}
			if e.Offset, err = readConstExpr(r); err != nil {
				return fmt.Errorf("element %d offset: %w", i, err)
			}
		}

		usesExprs := flags&4 != 0
		// Flags 0 and 4 imply funcref; every other form carries a type byte.
		if flags&3 != 0 {
			if usesExprs {
				if e.Type, err = readRefType(r); err != nil {
					return err
				}
			} else {
				kind, err := r.ReadByte()
				if err != nil {
					return err
				}
				if kind != 0x00 {
					return fmt.Errorf("element %d: invalid elemkind 0x%02x", i, kind)
				}
			}
		}

		if usesExprs {
			e.Exprs = [][]byte{}
			err = readVec(r, func(uint32) error {
				expr, err := readConstExpr(r)
				if err != nil {
					return err
				}
				e.Exprs = append(e.Exprs, expr)
				return nil
			})
		} else {
			err = readVec(r, func(uint32) error {
				idx, err := r.ReadU32()
				if err != nil {
					return err
				}
				e.FuncIndices = append(e.FuncIndices, idx)
				return nil
			})
		}
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		m.Elements = append(m.Elements, e)
		return nil
	})
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(i uint32) error {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		br := binary.NewReader(body)
		var fb FuncBody
		var total uint64
		err = readVec(br, func(uint32) error {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			vt, err := readValType(br)
			if err != nil {
				return err
			}
			total += uint64(n)
			if total > 50000 {
				return fmt.Errorf("too many locals")
			}
			fb.Locals = append(fb.Locals, LocalEntry{Count: n, ValType: vt})
			return nil
		})
		if err != nil {
			return fmt.Errorf("function %d locals: %w", i, err)
		}
		fb.Code = br.ReadRemaining()
		if len(fb.Code) == 0 || fb.Code[len(fb.Code)-1] != OpEnd {
			return fmt.Errorf("function %d: body does not end with end opcode", i)
		}
		m.Code = append(m.Code, fb)
		return nil
	})
}

func parseDataSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(i uint32) error {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		var d DataSegment
		switch flags {
		case 0:
		case 1:
			d.Mode = SegmentPassive
		case 2:
			if d.Memory, err = r.ReadU32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("data %d: invalid flags %d", i, flags)
		}
		if d.Mode == SegmentActive {
			if d.Offset, err = readConstExpr(r); err != nil {
				return fmt.Errorf("data %d offset: %w", i, err)
			}
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		if d.Init, err = r.ReadBytes(int(n)); err != nil {
			return fmt.Errorf("data %d: %w", i, err)
		}
		m.Data = append(m.Data, d)
		return nil
	})
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&limitsMemory64 != 0 {
		return Limits{}, unsupported("memory64")
	}
	if flags&limitsShared != 0 {
		return Limits{}, unsupported("threads (shared memory)")
	}
	if flags&^limitsHasMax != 0 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	lo, err := r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: uint64(lo)}
	if flags&limitsHasMax != 0 {
		hi, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		upper := uint64(hi)
		l.Max = &upper
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elem, err := readRefType(r)
	if err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elem, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readConstExpr consumes a constant expression up to and including its end
// opcode and returns the raw bytes. Extended constant arithmetic is accepted.
func readConstExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			return r.Since(start), nil
		case OpI32Const:
			_, err = r.ReadS32()
		case OpI64Const:
			_, err = r.ReadS64()
		case OpF32Const:
			_, err = r.ReadBytes(4)
		case OpF64Const:
			_, err = r.ReadBytes(8)
		case OpGlobalGet, OpRefFunc:
			_, err = r.ReadU32()
		case OpRefNull:
			_, err = readRefType(r)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		case OpPrefixSIMD:
			return nil, unsupported("simd constant")
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
		}
		if err != nil {
			return nil, err
		}
	}
}
