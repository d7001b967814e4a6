package wasm

// Module is a decoded WebAssembly core module.
type Module struct {
	Start     *uint32
	DataCount *uint32

	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index per defined function
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment
	Customs  []CustomSection
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Import describes one imported entity. Exactly one of the descriptor
// fields is meaningful, selected by Kind.
type Import struct {
	Module string
	Name   string
	Kind   byte

	TypeIdx uint32 // KindFunc
	Table   TableType
	Memory  MemoryType
	Global  GlobalType
}

// Limits bounds a table or memory size.
type Limits struct {
	Max *uint64
	Min uint64
}

// TableType describes a table.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory (in 64 KiB pages).
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a module-defined global with its constant initializer.
type Global struct {
	Init []byte // raw constant expression including the final end
	Type GlobalType
}

// Export makes an index-space entity visible under a name.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// ElemMode is the placement mode of an element or data segment.
type ElemMode byte

const (
	SegmentActive ElemMode = iota
	SegmentPassive
	SegmentDeclarative
)

// Element is an element segment. Either FuncIndices or Exprs is set.
type Element struct {
	Offset      []byte // active only
	FuncIndices []uint32
	Exprs       [][]byte
	Mode        ElemMode
	Table       uint32
	Type        ValType
}

// Len returns the number of entries in the segment.
func (e Element) Len() int {
	if e.Exprs != nil {
		return len(e.Exprs)
	}
	return len(e.FuncIndices)
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// FuncBody is the code of a defined function. Code includes the final end.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// NumLocals returns the total number of declared locals.
func (b FuncBody) NumLocals() uint64 {
	var n uint64
	for _, l := range b.Locals {
		n += uint64(l.Count)
	}
	return n
}

// DataSegment initializes a range of linear memory.
type DataSegment struct {
	Offset []byte // active only
	Init   []byte
	Mode   ElemMode
	Memory uint32
}

// CustomSection is a named custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs counts function imports.
func (m *Module) NumImportedFuncs() int {
	return m.countImports(KindFunc)
}

// NumImportedTables counts table imports.
func (m *Module) NumImportedTables() int {
	return m.countImports(KindTable)
}

// NumImportedMemories counts memory imports.
func (m *Module) NumImportedMemories() int {
	return m.countImports(KindMemory)
}

// NumImportedGlobals counts global imports.
func (m *Module) NumImportedGlobals() int {
	return m.countImports(KindGlobal)
}

func (m *Module) countImports(kind byte) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// FuncTypeIndex returns the type index of function idx in the combined
// import + definition index space.
func (m *Module) FuncTypeIndex(idx uint32) (uint32, bool) {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if n == idx {
			return imp.TypeIdx, true
		}
		n++
	}
	local := idx - n
	if idx < n || int(local) >= len(m.Funcs) {
		return 0, false
	}
	return m.Funcs[local], true
}

// GlobalTypeAt returns the type of global idx across imports and definitions.
func (m *Module) GlobalTypeAt(idx uint32) (GlobalType, bool) {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind != KindGlobal {
			continue
		}
		if n == idx {
			return imp.Global, true
		}
		n++
	}
	local := idx - n
	if idx < n || int(local) >= len(m.Globals) {
		return GlobalType{}, false
	}
	return m.Globals[local].Type, true
}

// CustomSection returns the first custom section with the given name.
func (m *Module) CustomSection(name string) (CustomSection, bool) {
	for _, c := range m.Customs {
		if c.Name == name {
			return c, true
		}
	}
	return CustomSection{}, false
}
