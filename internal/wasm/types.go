package wasm

import (
	"bytes"
	"fmt"

	"github.com/yamt/toywasm-sub002/api"
)

// Index is an index into one of a module's index spaces (types, funcs,
// tables, mems, globals, elems, datas).
type Index = uint32

// FunctionType is a Wasm function signature: a parameter result type
// followed by a result result type.
type FunctionType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// String renders ft the way wasm-objdump does, e.g. "(i32, i32) -> (i32)".
func (ft *FunctionType) String() string {
	var b bytes.Buffer
	b.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(p))
	}
	b.WriteString(") -> (")
	for i, r := range ft.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(r))
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports whether ft and other have identical parameter and result
// types. Function import/export matching requires exact equality, unlike
// table/memory limits which use subtyping (see MatchLimits).
func (ft *FunctionType) Equal(other *FunctionType) bool {
	if ft == other {
		return true
	}
	if ft == nil || other == nil {
		return false
	}
	return bytes.Equal(ft.Params, other.Params) && bytes.Equal(ft.Results, other.Results)
}

// Limits bounds the size of a table or memory. Max, when present, is
// enforced on grow; toywasm represents "no max" with MaxUint32, we use a
// bool so the zero value doesn't accidentally mean "no max".
type Limits struct {
	Min     uint32
	Max     uint32
	HasMax  bool
	Shared  bool // memory only: threads proposal shared memory
}

// MatchLimits reports whether a limits import/export descriptor a is
// allowed to satisfy an expectation b, per the core spec's subtyping
// rule: a.min >= b.min, and b's max (if any) must be honoured by a.
func MatchLimits(a, b Limits) bool {
	if a.Min < b.Min {
		return false
	}
	if !b.HasMax {
		return true
	}
	return a.HasMax && a.Max <= b.Max
}

// TableType describes a table's element type and size limits.
type TableType struct {
	ElemType api.ValueType // funcref or externref
	Limits   Limits
}

// GlobalMutability is whether a global can be mutated after
// initialisation.
type GlobalMutability byte

const (
	GlobalConst GlobalMutability = 0x00
	GlobalVar   GlobalMutability = 0x01
)

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// ImportKind discriminates the four import descriptor shapes.
type ImportKind byte

const (
	ImportKindFunc   ImportKind = 0x00
	ImportKindTable  ImportKind = 0x01
	ImportKindMemory ImportKind = 0x02
	ImportKindGlobal ImportKind = 0x03
)

// Import is one entry of the import section. Exactly one of the
// type-specific fields is meaningful, selected by Kind.
type Import struct {
	Module string
	Name   string
	Kind   ImportKind

	// DescFunc is a type index, valid when Kind == ImportKindFunc.
	DescFunc   Index
	DescTable  TableType
	DescMemory Limits
	DescGlobal GlobalType
}

// ExportKind mirrors ImportKind for the export section.
type ExportKind = ImportKind

const (
	ExportKindFunc   = ImportKindFunc
	ExportKindTable  = ImportKindTable
	ExportKindMemory = ImportKindMemory
	ExportKindGlobal = ImportKindGlobal
)

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExportKind
	Index Index
}

// LocalChunk is a run of Count locals sharing Type, as encoded in the
// code section's locals vector.
type LocalChunk struct {
	Type  api.ValueType
	Count uint32
}

// Jump is one entry of a function's jump table: the instruction at PC
// branches to TargetPC once TargetPC has been resolved by the validator.
// An unresolved entry (only possible transiently during validation) has
// TargetPC == 0, which is never itself a valid jump target since byte 0
// of every function body is past the leading size varuint.
type Jump struct {
	PC       uint32
	TargetPC uint32
}

// SelectWidth records the cell width a plain (untyped) `select` at PC
// operates on, resolved by the validator from the type its two operands
// carried on the symbolic stack. The bytecode itself carries no type
// annotation for this form (that's what `select t` is for), so the
// interpreter has no way to recover it at execution time without this
// side table.
type SelectWidth struct {
	PC    uint32
	Width uint32
}

// ExprExecInfo holds the execution hints the validator precomputes for a
// function body or constant expression: the jump table (sorted by PC) and
// the high-watermarks used to size the interpreter's stacks up front.
type ExprExecInfo struct {
	Jumps     []Jump
	Selects   []SelectWidth
	MaxLabels uint32
	MaxCells  uint32
}

// FindJump returns the Jump whose PC equals pc, or nil. Jumps is kept
// sorted by PC so this can binary search; functions are usually small
// enough that a linear scan would also be fine, but we keep the contract
// validator emits (sorted) and rely on it.
func (ei *ExprExecInfo) FindJump(pc uint32) *Jump {
	lo, hi := 0, len(ei.Jumps)
	for lo < hi {
		mid := (lo + hi) / 2
		if ei.Jumps[mid].PC < pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(ei.Jumps) && ei.Jumps[lo].PC == pc {
		return &ei.Jumps[lo]
	}
	return nil
}

// FindSelectWidth returns the cell width recorded for the plain `select`
// at pc, or 1 if none was recorded (should not happen for a validated
// module, but 1 is the common case so it's a safe default).
func (ei *ExprExecInfo) FindSelectWidth(pc uint32) uint32 {
	lo, hi := 0, len(ei.Selects)
	for lo < hi {
		mid := (lo + hi) / 2
		if ei.Selects[mid].PC < pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(ei.Selects) && ei.Selects[lo].PC == pc {
		return ei.Selects[lo].Width
	}
	return 1
}

// Expr is an instruction sequence: either a function body or a constant
// expression (global/element/data offset initialiser). Start/End are
// byte offsets into the owning Module's original binary; bodies are
// never copied out of the source bytes.
type Expr struct {
	Start, End uint32
	Info       ExprExecInfo
}

// Func is a defined (non-imported) function: its type, its locals layout,
// and its body expression.
type Func struct {
	TypeIndex Index
	Locals    []LocalChunk
	NumLocals uint32 // sum of Locals[*].Count, cached
	Body      Expr
}

// ElementMode discriminates how an element segment initialises a table.
type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// Element is one entry of the element section.
type Element struct {
	Type api.ValueType
	Mode ElementMode

	// Funcs holds direct function-index initialisers, used when every
	// entry is a bare `ref.func` (the common case). InitExprs holds
	// general constant-expression initialisers (e.g. `ref.null`); exactly
	// one of the two is populated for a given Element.
	Funcs     []Index
	InitExprs []Expr

	// Table and Offset are only meaningful when Mode == ElementModeActive.
	Table  Index
	Offset Expr
}

// Count returns the number of entries in the segment regardless of which
// of Funcs/InitExprs is populated.
func (e *Element) Count() int {
	if e.Funcs != nil {
		return len(e.Funcs)
	}
	return len(e.InitExprs)
}

// DataMode discriminates how a data segment initialises memory.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// Data is one entry of the data section.
type Data struct {
	Mode DataMode
	Init []byte

	// Memory and Offset are only meaningful when Mode == DataModeActive.
	Memory Index
	Offset Expr
}

// Global is one entry of the global section: the module-level declared
// type plus its constant-expression initialiser.
type Global struct {
	Type GlobalType
	Init Expr
}

func (k ImportKind) String() string {
	switch k {
	case ImportKindFunc:
		return "func"
	case ImportKindTable:
		return "table"
	case ImportKindMemory:
		return "memory"
	case ImportKindGlobal:
		return "global"
	default:
		return fmt.Sprintf("ImportKind(%#x)", byte(k))
	}
}
