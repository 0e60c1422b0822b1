package wasm

// Module is the immutable, fully-decoded and validated in-memory
// representation of a Wasm binary. Index spaces count imports first, then
// definitions, per the core spec; helpers below (FunctionTypeOf,
// MemoryTypeOf, ...) transparently dispatch across that boundary so
// callers never need to know whether index i is imported or defined.
type Module struct {
	Types []FunctionType

	Imports []Import

	// NumImportedFuncs/Tables/Mems/Globals count the prefix of each index
	// space contributed by Imports, cached for O(1) dispatch.
	NumImportedFuncs   uint32
	NumImportedTables  uint32
	NumImportedMems    uint32
	NumImportedGlobals uint32

	// FuncTypeIndexes[i] / Funcs[i] describe the i-th *defined* function;
	// to get its absolute index in the func index space add
	// NumImportedFuncs.
	FuncTypeIndexes []Index
	Funcs           []Func

	Tables  []TableType
	Mems    []Limits
	Globals []Global

	Elems []Element
	Datas []Data

	HasStart bool
	Start    Index

	Exports []Export

	// DataCount is the value from an optional datacount section; -1 if
	// absent. When present it must equal len(Datas); the decoder cross
	// checks this per spec.md §4.1.
	DataCount int64

	// Bin is the original binary, kept alive for the lifetime of the
	// Module: Func/Expr/Element/Data bodies are byte-pointer slices into
	// it rather than copies.
	Bin []byte
}

// NumFuncs returns the total number of functions (imported + defined).
func (m *Module) NumFuncs() uint32 { return m.NumImportedFuncs + uint32(len(m.Funcs)) }

// NumTables returns the total number of tables (imported + defined).
func (m *Module) NumTables() uint32 { return m.NumImportedTables + uint32(len(m.Tables)) }

// NumMems returns the total number of memories (imported + defined).
func (m *Module) NumMems() uint32 { return m.NumImportedMems + uint32(len(m.Mems)) }

// NumGlobals returns the total number of globals (imported + defined).
func (m *Module) NumGlobals() uint32 { return m.NumImportedGlobals + uint32(len(m.Globals)) }

// FunctionTypeIndex returns the index into Types for function idx,
// dispatching transparently between imported and defined functions.
func (m *Module) FunctionTypeIndex(idx Index) Index {
	if idx < m.NumImportedFuncs {
		return m.Imports[m.importIndex(ImportKindFunc, idx)].DescFunc
	}
	return m.FuncTypeIndexes[idx-m.NumImportedFuncs]
}

// FunctionType returns the FunctionType of function idx.
func (m *Module) FunctionType(idx Index) *FunctionType {
	return &m.Types[m.FunctionTypeIndex(idx)]
}

// MemoryType returns the Limits of memory idx.
func (m *Module) MemoryType(idx Index) *Limits {
	if idx < m.NumImportedMems {
		return &m.Imports[m.importIndex(ImportKindMemory, idx)].DescMemory
	}
	return &m.Mems[idx-m.NumImportedMems]
}

// TableType returns the TableType of table idx.
func (m *Module) TableType(idx Index) *TableType {
	if idx < m.NumImportedTables {
		return &m.Imports[m.importIndex(ImportKindTable, idx)].DescTable
	}
	return &m.Tables[idx-m.NumImportedTables]
}

// GlobalType returns the GlobalType of global idx.
func (m *Module) GlobalType(idx Index) *GlobalType {
	if idx < m.NumImportedGlobals {
		return &m.Imports[m.importIndex(ImportKindGlobal, idx)].DescGlobal
	}
	return &m.Globals[idx-m.NumImportedGlobals].Type
}

// importIndex finds the i-th import of the given kind (0-based among
// imports of that kind only) and returns its index into m.Imports.
//
// This is linear in len(Imports), matching toywasm's module_find_import;
// callers only use it on the (typically small) imported prefix of an
// index space, so this is not the hot path.
func (m *Module) importIndex(kind ImportKind, idx Index) int {
	remaining := idx
	for i, imp := range m.Imports {
		if imp.Kind != kind {
			continue
		}
		if remaining == 0 {
			return i
		}
		remaining--
	}
	panic("wasm: import index out of range (validator should have rejected this module)")
}

// FindExport returns the export named name with the given kind, or
// (0, false).
func (m *Module) FindExport(name string, kind ExportKind) (Index, bool) {
	for _, e := range m.Exports {
		if e.Kind == kind && e.Name == name {
			return e.Index, true
		}
	}
	return 0, false
}
