package wasm

import "github.com/yamt/toywasm-sub002/api"

// Cell is the 32-bit storage unit used by the operand stack and locals.
// A value of a given ValueType occupies a fixed number of consecutive
// cells; i32/f32 use one, i64/f64 use two, and references use
// pointerCells (2, wide enough to carry a Reference's tag and payload on
// any supported platform).
type Cell uint32

// pointerCells is the number of cells a reference value occupies. Kept
// at 2 regardless of host pointer width so cell layout is platform
// independent, mirroring toywasm's use of a full struct val slot for
// funcref/externref.
const pointerCells = 2

// CellSize returns the number of cells a value of type t occupies on the
// stack or in a local slot.
func CellSize(t api.ValueType) uint32 {
	switch t {
	case api.ValueTypeI32, api.ValueTypeF32:
		return 1
	case api.ValueTypeI64, api.ValueTypeF64:
		return 2
	case api.ValueTypeFuncref, api.ValueTypeExternref:
		return pointerCells
	case api.ValueTypeV128:
		return 4
	default:
		return 1
	}
}

// ResultTypeCellSize sums CellSize across every type in ts.
func ResultTypeCellSize(ts []api.ValueType) uint32 {
	var n uint32
	for _, t := range ts {
		n += CellSize(t)
	}
	return n
}

// ReferenceKind distinguishes the null reference from a resolved
// funcref/externref payload, per spec.md's Open Question about not
// conflating a sentinel "null" encoding with a real pointer value.
type ReferenceKind byte

const (
	// ReferenceKindNull is the null reference, valid for both funcref and
	// externref.
	ReferenceKindNull ReferenceKind = iota
	// ReferenceKindFunc holds a FuncIndex into an Instance's funcs.
	ReferenceKindFunc
	// ReferenceKindExtern holds an opaque host-assigned id. This is
	// wasi's "ref.extern 0" sentinel made explicit: External(0) is a
	// distinct, valid value, not to be confused with Null.
	ReferenceKindExtern
)

// Reference is a tagged funcref/externref value.
type Reference struct {
	Kind ReferenceKind
	// Func is valid when Kind == ReferenceKindFunc: an index into the
	// owning Instance's Funcs.
	Func uint32
	// Extern is valid when Kind == ReferenceKindExtern: an opaque id
	// assigned by the host module that produced it.
	Extern uint32
}

// Null is the null reference.
var Null = Reference{Kind: ReferenceKindNull}

// IsNull reports whether r is the null reference.
func (r Reference) IsNull() bool { return r.Kind == ReferenceKindNull }

// ToCells packs v (already validated against t) into dst, which must have
// len(dst) == CellSize(t).
func ToCells(t api.ValueType, v uint64, ref Reference, dst []Cell) {
	switch t {
	case api.ValueTypeI32, api.ValueTypeF32:
		dst[0] = Cell(uint32(v))
	case api.ValueTypeI64, api.ValueTypeF64:
		dst[0] = Cell(uint32(v))
		dst[1] = Cell(uint32(v >> 32))
	case api.ValueTypeFuncref, api.ValueTypeExternref:
		dst[0] = Cell(ref.Kind)<<24 | Cell(ref.Func)&0x00ffffff
		dst[1] = Cell(ref.Extern)
	default:
		dst[0] = Cell(uint32(v))
	}
}

// I32FromCells reads a 1-cell i32 value.
func I32FromCells(c []Cell) uint32 { return uint32(c[0]) }

// I64FromCells reads a 2-cell i64 value.
func I64FromCells(c []Cell) uint64 { return uint64(c[0]) | uint64(c[1])<<32 }

// RefFromCells reads a 2-cell reference value.
func RefFromCells(c []Cell) Reference {
	tag := ReferenceKind(c[0] >> 24)
	switch tag {
	case ReferenceKindFunc:
		return Reference{Kind: tag, Func: uint32(c[0]) & 0x00ffffff}
	case ReferenceKindExtern:
		return Reference{Kind: tag, Extern: uint32(c[1])}
	default:
		return Null
	}
}

// RefToCells packs ref into a freshly allocated 2-cell slice.
func RefToCells(ref Reference) [2]Cell {
	var c [2]Cell
	switch ref.Kind {
	case ReferenceKindFunc:
		c[0] = Cell(ReferenceKindFunc)<<24 | Cell(ref.Func)&0x00ffffff
	case ReferenceKindExtern:
		c[0] = Cell(ReferenceKindExtern) << 24
		c[1] = Cell(ref.Extern)
	}
	return c
}
