// Package api includes the types shared between the embedder-facing
// surface and the internal engine: value types, external kinds and the
// small set of conversions between Wasm values and Go types.
package api

import (
	"fmt"
	"math"
)

// ValueType classifies a Wasm value on the stack, in locals, or in a
// function signature.
//
// See https://webassembly.github.io/spec/core/binary/types.html#value-types
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit IEEE 754 float.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit IEEE 754 float.
	ValueTypeF64 ValueType = 0x7c
	// ValueTypeV128 is a 128-bit vector (SIMD proposal); execution of v128
	// instructions is optional per this runtime's non-goals.
	ValueTypeV128 ValueType = 0x7b
	// ValueTypeFuncref is a nullable reference to a function.
	ValueTypeFuncref ValueType = 0x70
	// ValueTypeExternref is a nullable opaque host reference.
	ValueTypeExternref ValueType = 0x6f

	// valueTypeAnyref and valueTypeUnknown are pseudo-types used only by
	// the validator's symbolic operand stack; they never appear in a
	// decoded module.
	valueTypeAnyref  ValueType = 0xfe
	valueTypeUnknown ValueType = 0xff
)

// ValueTypeName returns the Wasm text-format name of t, or "unknown".
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	case valueTypeAnyref:
		return "anyref"
	default:
		return "unknown"
	}
}

// IsReferenceType reports whether t is funcref, externref, or the
// validator's internal anyref pseudo-type.
func IsReferenceType(t ValueType) bool {
	return t == ValueTypeFuncref || t == ValueTypeExternref || t == valueTypeAnyref
}

// ExternType classifies an import or export.
//
// See https://webassembly.github.io/spec/core/binary/modules.html#binary-importdesc
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the Wasm text-format field name for et.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	default:
		return fmt.Sprintf("%#x", et)
	}
}

// EncodeF32 converts a float32 to its uint64 cell-compatible bit pattern,
// for use as a parameter to functions that accept api.ValueTypeF32.
func EncodeF32(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

// DecodeF32 converts bit pattern produced by EncodeF32 (or the interpreter)
// back into a float32.
func DecodeF32(v uint64) float32 {
	return math.Float32frombits(uint32(v))
}

// EncodeF64 converts a float64 into its uint64 bit pattern.
func EncodeF64(v float64) uint64 {
	return math.Float64bits(v)
}

// DecodeF64 converts bit pattern produced by EncodeF64 back into a float64.
func DecodeF64(v uint64) float64 {
	return math.Float64frombits(v)
}
