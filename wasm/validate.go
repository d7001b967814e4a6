package wasm

import (
	"fmt"
)

// ParseModuleValidate parses and validates a module.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks index bounds, limits, export names, the start function,
// segment placement and the control structure of every function body.
// It does not type-check the operand stack.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateTypes,
		m.validateLimits,
		m.validateGlobals,
		m.validateExports,
		m.validateStart,
		m.validateElements,
		m.validateData,
		m.validateCode,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("validate: %w", err)
		}
	}
	return nil
}

func (m *Module) numFuncs() uint32 {
	return uint32(m.NumImportedFuncs() + len(m.Funcs))
}

func (m *Module) numTables() uint32 {
	return uint32(m.NumImportedTables() + len(m.Tables))
}

func (m *Module) numMemories() uint32 {
	return uint32(m.NumImportedMemories() + len(m.Memories))
}

func (m *Module) numGlobals() uint32 {
	return uint32(m.NumImportedGlobals() + len(m.Globals))
}

func (m *Module) validateTypes() error {
	n := uint32(len(m.Types))
	for i, imp := range m.Imports {
		if imp.Kind == KindFunc && imp.TypeIdx >= n {
			return fmt.Errorf("import %d: type index %d out of range", i, imp.TypeIdx)
		}
	}
	for i, idx := range m.Funcs {
		if idx >= n {
			return fmt.Errorf("function %d: type index %d out of range", i, idx)
		}
	}
	return nil
}

func checkLimits(l Limits, bound uint64, what string) error {
	if l.Min > bound {
		return fmt.Errorf("%s: minimum %d exceeds %d", what, l.Min, bound)
	}
	if l.Max != nil {
		if *l.Max > bound {
			return fmt.Errorf("%s: maximum %d exceeds %d", what, *l.Max, bound)
		}
		if *l.Max < l.Min {
			return fmt.Errorf("%s: maximum %d below minimum %d", what, *l.Max, l.Min)
		}
	}
	return nil
}

func (m *Module) validateLimits() error {
	if m.numMemories() > 1 {
		return unsupported("multi-memory")
	}
	for _, imp := range m.Imports {
		var err error
		switch imp.Kind {
		case KindMemory:
			err = checkLimits(imp.Memory.Limits, MaxMemoryPages, "imported memory")
		case KindTable:
			err = checkLimits(imp.Table.Limits, 0xFFFFFFFF, "imported table")
		}
		if err != nil {
			return err
		}
	}
	for i, mem := range m.Memories {
		if err := checkLimits(mem.Limits, MaxMemoryPages, fmt.Sprintf("memory %d", i)); err != nil {
			return err
		}
	}
	for i, t := range m.Tables {
		if err := checkLimits(t.Limits, 0xFFFFFFFF, fmt.Sprintf("table %d", i)); err != nil {
			return err
		}
	}
	return nil
}

// validateConstExpr checks a constant expression's references. Only
// imported globals may be read by global initializers.
func (m *Module) validateConstExpr(expr []byte, globalLimit uint32) error {
	instrs, err := DecodeInstructions(expr)
	if err != nil {
		return err
	}
	for _, in := range instrs {
		switch in.Opcode {
		case OpGlobalGet:
			if in.Index >= globalLimit {
				return fmt.Errorf("global.get %d out of range in constant expression", in.Index)
			}
			if gt, _ := m.GlobalTypeAt(in.Index); gt.Mutable {
				return fmt.Errorf("global.get %d of mutable global in constant expression", in.Index)
			}
		case OpRefFunc:
			if in.Index >= m.numFuncs() {
				return fmt.Errorf("ref.func %d out of range", in.Index)
			}
		}
	}
	return nil
}

func (m *Module) validateGlobals() error {
	imported := uint32(m.NumImportedGlobals())
	for i, g := range m.Globals {
		if err := m.validateConstExpr(g.Init, imported); err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool, len(m.Exports))
	for _, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q", exp.Name)
		}
		seen[exp.Name] = true

		var limit uint32
		switch exp.Kind {
		case KindFunc:
			limit = m.numFuncs()
		case KindTable:
			limit = m.numTables()
		case KindMemory:
			limit = m.numMemories()
		case KindGlobal:
			limit = m.numGlobals()
		}
		if exp.Index >= limit {
			return fmt.Errorf("export %q: index %d out of range", exp.Name, exp.Index)
		}
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	typeIdx, ok := m.FuncTypeIndex(*m.Start)
	if !ok {
		return fmt.Errorf("start function %d out of range", *m.Start)
	}
	ft := m.Types[typeIdx]
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return fmt.Errorf("start function %d must have type [] -> []", *m.Start)
	}
	return nil
}

func (m *Module) validateElements() error {
	for i, e := range m.Elements {
		if e.Mode == SegmentActive {
			if e.Table >= m.numTables() {
				return fmt.Errorf("element %d: table %d out of range", i, e.Table)
			}
			if err := m.validateConstExpr(e.Offset, m.numGlobals()); err != nil {
				return fmt.Errorf("element %d offset: %w", i, err)
			}
		}
		for _, idx := range e.FuncIndices {
			if idx >= m.numFuncs() {
				return fmt.Errorf("element %d: function %d out of range", i, idx)
			}
		}
		for _, expr := range e.Exprs {
			if err := m.validateConstExpr(expr, m.numGlobals()); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	}
	return nil
}

func (m *Module) validateData() error {
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return fmt.Errorf("data count %d does not match %d data segments", *m.DataCount, len(m.Data))
	}
	for i, d := range m.Data {
		if d.Mode != SegmentActive {
			continue
		}
		if d.Memory >= m.numMemories() {
			return fmt.Errorf("data %d: memory %d out of range", i, d.Memory)
		}
		if err := m.validateConstExpr(d.Offset, m.numGlobals()); err != nil {
			return fmt.Errorf("data %d offset: %w", i, err)
		}
	}
	return nil
}

func (m *Module) validateCode() error {
	imported := uint32(m.NumImportedFuncs())
	for i, body := range m.Code {
		instrs, err := DecodeInstructions(body.Code)
		if err != nil {
			return fmt.Errorf("function %d: %w", imported+uint32(i), err)
		}
		ft := m.Types[m.Funcs[i]]
		if err := m.validateBody(ft, body, instrs); err != nil {
			return fmt.Errorf("function %d: %w", imported+uint32(i), err)
		}
	}
	return nil
}

// validateBody checks block nesting, label depths and index operands.
func (m *Module) validateBody(ft FuncType, body FuncBody, instrs []Instruction) error {
	numLocals := uint64(len(ft.Params)) + body.NumLocals()
	var kinds []byte // open block opcodes; the function body is depth 0
	kinds = append(kinds, OpBlock)

	checkLabel := func(l uint32) error {
		if int(l) >= len(kinds) {
			return fmt.Errorf("branch depth %d exceeds nesting %d", l, len(kinds))
		}
		return nil
	}

	for pc, in := range instrs {
		if len(kinds) == 0 {
			return fmt.Errorf("instruction %d after function end", pc)
		}
		var err error
		switch in.Opcode {
		case OpBlock, OpLoop, OpIf:
			if in.Block >= 0 && in.Block >= int64(len(m.Types)) {
				err = fmt.Errorf("block type %d out of range", in.Block)
			}
			kinds = append(kinds, in.Opcode)
		case OpElse:
			if kinds[len(kinds)-1] != OpIf {
				err = fmt.Errorf("else without if")
			}
			kinds[len(kinds)-1] = OpElse
		case OpEnd:
			kinds = kinds[:len(kinds)-1]
		case OpBr, OpBrIf:
			err = checkLabel(in.Index)
		case OpBrTable:
			for _, l := range in.Labels {
				if err = checkLabel(l); err != nil {
					break
				}
			}
		case OpCall, OpRefFunc:
			if in.Index >= m.numFuncs() {
				err = fmt.Errorf("function index %d out of range", in.Index)
			}
		case OpCallIndirect:
			if in.Index >= uint32(len(m.Types)) {
				err = fmt.Errorf("type index %d out of range", in.Index)
			} else if in.Index2 >= m.numTables() {
				err = fmt.Errorf("table index %d out of range", in.Index2)
			}
		case OpLocalGet, OpLocalSet, OpLocalTee:
			if uint64(in.Index) >= numLocals {
				err = fmt.Errorf("local index %d out of range", in.Index)
			}
		case OpGlobalGet, OpGlobalSet:
			gt, ok := m.GlobalTypeAt(in.Index)
			if !ok {
				err = fmt.Errorf("global index %d out of range", in.Index)
			} else if in.Opcode == OpGlobalSet && !gt.Mutable {
				err = fmt.Errorf("global.set on immutable global %d", in.Index)
			}
		case OpTableGet, OpTableSet:
			if in.Index >= m.numTables() {
				err = fmt.Errorf("table index %d out of range", in.Index)
			}
		case OpMemorySize, OpMemoryGrow:
			err = m.requireMemory()
		case OpPrefixMisc:
			err = m.validateMisc(in)
		default:
			if in.IsMemoryAccess() {
				err = m.requireMemory()
			}
		}
		if err != nil {
			return fmt.Errorf("instruction %d: %w", pc, err)
		}
	}
	if len(kinds) != 0 {
		return fmt.Errorf("unterminated block")
	}
	return nil
}

func (m *Module) requireMemory() error {
	if m.numMemories() == 0 {
		return fmt.Errorf("memory instruction without a memory")
	}
	return nil
}

func (m *Module) validateMisc(in Instruction) error {
	switch in.Misc {
	case MiscMemoryInit, MiscDataDrop:
		if m.DataCount == nil {
			return fmt.Errorf("data index used without data count section")
		}
		if in.Index >= *m.DataCount {
			return fmt.Errorf("data index %d out of range", in.Index)
		}
		if in.Misc == MiscMemoryInit {
			return m.requireMemory()
		}
	case MiscMemoryCopy, MiscMemoryFill:
		return m.requireMemory()
	case MiscTableInit:
		if in.Index >= uint32(len(m.Elements)) {
			return fmt.Errorf("element index %d out of range", in.Index)
		}
		if in.Index2 >= m.numTables() {
			return fmt.Errorf("table index %d out of range", in.Index2)
		}
	case MiscElemDrop:
		if in.Index >= uint32(len(m.Elements)) {
			return fmt.Errorf("element index %d out of range", in.Index)
		}
	case MiscTableCopy:
		if in.Index >= m.numTables() || in.Index2 >= m.numTables() {
			return fmt.Errorf("table index out of range")
		}
	case MiscTableGrow, MiscTableSize, MiscTableFill:
		if in.Index >= m.numTables() {
			return fmt.Errorf("table index %d out of range", in.Index)
		}
	}
	return nil
}
