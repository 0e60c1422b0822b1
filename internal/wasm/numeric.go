package wasm

import "github.com/yamt/toywasm-sub002/api"

// numericSignature returns the parameter and result types of a no-immediate
// numeric instruction (opcodes 0x45 through 0xc4: comparisons, arithmetic,
// conversions). The Wasm opcode space in this range is laid out in
// contiguous same-shaped runs; rather than a 128-entry table we classify by
// range, matching the regularity of the spec's own opcode assignment.
func numericSignature(op Opcode) (params, results []api.ValueType, ok bool) {
	i32, i64, f32, f64 := api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64
	one := func(t api.ValueType) []api.ValueType { return []api.ValueType{t} }
	two := func(t api.ValueType) []api.ValueType { return []api.ValueType{t, t} }

	switch {
	case op == 0x45: // i32.eqz
		return one(i32), one(i32), true
	case op >= 0x46 && op <= 0x4f: // i32 comparisons
		return two(i32), one(i32), true
	case op == 0x50: // i64.eqz
		return one(i64), one(i32), true
	case op >= 0x51 && op <= 0x5a: // i64 comparisons
		return two(i64), one(i32), true
	case op >= 0x5b && op <= 0x60: // f32 comparisons
		return two(f32), one(i32), true
	case op >= 0x61 && op <= 0x66: // f64 comparisons
		return two(f64), one(i32), true
	case op >= 0x67 && op <= 0x69: // i32 clz/ctz/popcnt
		return one(i32), one(i32), true
	case op >= 0x6a && op <= 0x78: // i32 arithmetic/bitwise/shift
		return two(i32), one(i32), true
	case op >= 0x79 && op <= 0x7b: // i64 clz/ctz/popcnt
		return one(i64), one(i64), true
	case op >= 0x7c && op <= 0x8a: // i64 arithmetic/bitwise/shift
		return two(i64), one(i64), true
	case op >= 0x8b && op <= 0x91: // f32 abs/neg/ceil/floor/trunc/nearest/sqrt
		return one(f32), one(f32), true
	case op >= 0x92 && op <= 0x98: // f32 add/sub/mul/div/min/max/copysign
		return two(f32), one(f32), true
	case op >= 0x99 && op <= 0x9f: // f64 abs/neg/ceil/floor/trunc/nearest/sqrt
		return one(f64), one(f64), true
	case op >= 0xa0 && op <= 0xa6: // f64 add/sub/mul/div/min/max/copysign
		return two(f64), one(f64), true
	case op == 0xa7: // i32.wrap_i64
		return one(i64), one(i32), true
	case op >= 0xa8 && op <= 0xa9: // i32.trunc_f32_s/u
		return one(f32), one(i32), true
	case op >= 0xaa && op <= 0xab: // i32.trunc_f64_s/u
		return one(f64), one(i32), true
	case op >= 0xac && op <= 0xad: // i64.extend_i32_s/u
		return one(i32), one(i64), true
	case op >= 0xae && op <= 0xaf: // i64.trunc_f32_s/u
		return one(f32), one(i64), true
	case op >= 0xb0 && op <= 0xb1: // i64.trunc_f64_s/u
		return one(f64), one(i64), true
	case op >= 0xb2 && op <= 0xb3: // f32.convert_i32_s/u
		return one(i32), one(f32), true
	case op >= 0xb4 && op <= 0xb5: // f32.convert_i64_s/u
		return one(i64), one(f32), true
	case op == 0xb6: // f32.demote_f64
		return one(f64), one(f32), true
	case op >= 0xb7 && op <= 0xb8: // f64.convert_i32_s/u
		return one(i32), one(f64), true
	case op >= 0xb9 && op <= 0xba: // f64.convert_i64_s/u
		return one(i64), one(f64), true
	case op == 0xbb: // f64.promote_f32
		return one(f32), one(f64), true
	case op == 0xbc: // i32.reinterpret_f32
		return one(f32), one(i32), true
	case op == 0xbd: // i64.reinterpret_f64
		return one(f64), one(i64), true
	case op == 0xbe: // f32.reinterpret_i32
		return one(i32), one(f32), true
	case op == 0xbf: // f64.reinterpret_i64
		return one(i64), one(f64), true
	case op == 0xc0 || op == 0xc1: // i32.extend8_s/extend16_s
		return one(i32), one(i32), true
	case op >= 0xc2 && op <= 0xc4: // i64.extend8_s/extend16_s/extend32_s
		return one(i64), one(i64), true
	default:
		return nil, nil, false
	}
}

// truncSatSignature returns the signature for a saturating truncation
// instruction under the 0xfc prefix (sub-opcodes 0-7).
func truncSatSignature(sub MiscOpcode) (params, results []api.ValueType, ok bool) {
	i32, i64, f32, f64 := api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64
	switch sub {
	case MiscOpcodeI32TruncSatF32S, MiscOpcodeI32TruncSatF32U:
		return []api.ValueType{f32}, []api.ValueType{i32}, true
	case MiscOpcodeI32TruncSatF64S, MiscOpcodeI32TruncSatF64U:
		return []api.ValueType{f64}, []api.ValueType{i32}, true
	case MiscOpcodeI64TruncSatF32S, MiscOpcodeI64TruncSatF32U:
		return []api.ValueType{f32}, []api.ValueType{i64}, true
	case MiscOpcodeI64TruncSatF64S, MiscOpcodeI64TruncSatF64U:
		return []api.ValueType{f64}, []api.ValueType{i64}, true
	default:
		return nil, nil, false
	}
}
