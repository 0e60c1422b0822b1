package interpreter

import (
	"math"
	"math/bits"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/leb128"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

func (f *frame) readByte() byte {
	b := f.inst.Module.Bin[f.pc]
	f.pc++
	return b
}

func (f *frame) readU32() uint32 {
	v, n, _ := leb128.LoadUint32(f.inst.Module.Bin[f.pc:])
	f.pc += uint32(n)
	return v
}

func (f *frame) readI32() int32 {
	v, n, _ := leb128.LoadInt32(f.inst.Module.Bin[f.pc:])
	f.pc += uint32(n)
	return v
}

func (f *frame) readI64() int64 {
	v, n, _ := leb128.LoadInt64(f.inst.Module.Bin[f.pc:])
	f.pc += uint32(n)
	return v
}

func (f *frame) readF32Bits() uint32 {
	b := f.inst.Module.Bin[f.pc : f.pc+4]
	f.pc += 4
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (f *frame) readF64Bits() uint64 {
	b := f.inst.Module.Bin[f.pc : f.pc+8]
	f.pc += 8
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (f *frame) readValueType() api.ValueType { return f.readByte() }

func (f *frame) readBlockType() wasm.BlockType {
	start := f.pc
	b := f.inst.Module.Bin[start]
	if b == 0x40 {
		f.pc++
		return wasm.BlockType{Kind: wasm.BlockTypeEmpty}
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeV128, api.ValueTypeFuncref, api.ValueTypeExternref:
		f.pc++
		return wasm.BlockType{Kind: wasm.BlockTypeValue, ValType: b}
	}
	idx := f.readI32()
	return wasm.BlockType{Kind: wasm.BlockTypeIndex, TypeIndex: uint32(idx)}
}

// step executes exactly one instruction, already fetched as op at pc (pc
// is op's own offset, used for diagnostics; f.pc already points past op).
func (ec *ExecContext) step(op wasm.Opcode, pc uint32) error {
	f := ec.curFrame()
	switch op {
	case wasm.OpcodeUnreachable:
		return newTrap(TrapUnreachable, "")
	case wasm.OpcodeNop:
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		return ec.execStructured(f, op, pc)
	case wasm.OpcodeElse:
		// Reached by falling out of a taken `if` branch: behave like an
		// implicit `end` for that branch, then skip the else-branch body.
		l := ec.popLabel()
		target := ec.resolveTarget(f, pc, false)
		f.pc = target
		_ = l
	case wasm.OpcodeEnd:
		ec.popLabel()
	case wasm.OpcodeBr:
		idx := f.readU32()
		ec.branch(idx)
	case wasm.OpcodeBrIf:
		idx := f.readU32()
		if ec.popI32() != 0 {
			ec.branch(idx)
		}
	case wasm.OpcodeBrTable:
		n := f.readU32()
		targets := make([]uint32, n)
		for i := range targets {
			targets[i] = f.readU32()
		}
		def := f.readU32()
		idx := ec.popI32()
		if idx < uint32(len(targets)) {
			ec.branch(targets[idx])
		} else {
			ec.branch(def)
		}
	case wasm.OpcodeReturn:
		ec.execReturn()
	case wasm.OpcodeCall:
		idx := f.readU32()
		return ec.execCall(f.inst, idx)
	case wasm.OpcodeCallIndirect:
		typeIdx := f.readU32()
		tableIdx := f.readU32()
		return ec.execCallIndirect(f.inst, typeIdx, tableIdx)
	case wasm.OpcodeDrop:
		width := f.fn.Body.Info.FindSelectWidth(pc) // reuses the same side table: drop needs its operand's width too
		ec.dropCells(width)
	case wasm.OpcodeSelect:
		width := f.fn.Body.Info.FindSelectWidth(pc)
		ec.execSelect(width)
	case wasm.OpcodeSelectT:
		n := f.readU32()
		for i := uint32(0); i < n; i++ {
			f.readValueType()
		}
		width := f.fn.Body.Info.FindSelectWidth(pc)
		ec.execSelect(width)
	case wasm.OpcodeLocalGet:
		idx := f.readU32()
		ec.execLocalGet(f, idx)
	case wasm.OpcodeLocalSet:
		idx := f.readU32()
		ec.execLocalSet(f, idx)
	case wasm.OpcodeLocalTee:
		idx := f.readU32()
		ec.execLocalTee(f, idx)
	case wasm.OpcodeGlobalGet:
		idx := f.readU32()
		g := f.inst.Globals[idx]
		ec.pushValue(g.Type.ValType, g.Value, g.Ref)
	case wasm.OpcodeGlobalSet:
		idx := f.readU32()
		g := f.inst.Globals[idx]
		v, r := ec.popValue(g.Type.ValType)
		g.Value, g.Ref = v, r
	case wasm.OpcodeTableGet:
		idx := f.readU32()
		i := ec.popI32()
		t := f.inst.Tables[idx]
		if i >= uint32(len(t.Elems)) {
			return newTrap(TrapOutOfBoundsTableAccess, "index %d", i)
		}
		ec.pushRef(t.Elems[i])
	case wasm.OpcodeTableSet:
		idx := f.readU32()
		ref := ec.popRef()
		i := ec.popI32()
		t := f.inst.Tables[idx]
		if i >= uint32(len(t.Elems)) {
			return newTrap(TrapOutOfBoundsTableAccess, "index %d", i)
		}
		t.Elems[i] = ref
	case wasm.OpcodeMemorySize:
		f.readByte()
		m := f.inst.Mems[0]
		ec.pushI32(uint32(len(m.Data) / wasm.PageSize))
	case wasm.OpcodeMemoryGrow:
		f.readByte()
		m := f.inst.Mems[0]
		delta := ec.popI32()
		old, ok := m.Grow(delta)
		if !ok {
			ec.pushI32(0xffffffff)
		} else {
			ec.pushI32(old)
		}
	case wasm.OpcodeI32Const:
		ec.pushI32(uint32(f.readI32()))
	case wasm.OpcodeI64Const:
		ec.pushI64(uint64(f.readI64()))
	case wasm.OpcodeF32Const:
		ec.pushF32(f.readF32Bits())
	case wasm.OpcodeF64Const:
		ec.pushF64(f.readF64Bits())
	case wasm.OpcodeRefNull:
		f.readValueType()
		ec.pushRef(wasm.Null)
	case wasm.OpcodeRefIsNull:
		ec.pushI32(boolToI32(ec.popRef().IsNull()))
	case wasm.OpcodeRefFunc:
		idx := f.readU32()
		ec.pushRef(wasm.Reference{Kind: wasm.ReferenceKindFunc, Func: idx})
	case wasm.OpcodeMiscPrefix:
		return ec.execMisc(f)
	case wasm.OpcodeAtomicPrefix:
		return ec.execAtomic(f)
	case wasm.OpcodeSIMDPrefix:
		return newTrap(TrapUnreachable, "SIMD execution is not supported")
	default:
		if _, _, isMem := memArgShape(op); isMem {
			return ec.execMemOp(f, op)
		}
		return ec.execNumeric(op)
	}
	return nil
}

// dropCells discards the top value, which occupies width cells (resolved
// by the validator via ExprExecInfo.Selects since drop's own bytecode
// carries no type immediate).
func (ec *ExecContext) dropCells(width uint32) {
	ec.stack = ec.stack[:uint32(len(ec.stack))-width]
}

func (ec *ExecContext) execReturn() {
	f := ec.curFrame()
	n := wasm.ResultTypeCellSize(f.resultTypes)
	results := append([]wasm.Cell(nil), ec.stack[uint32(len(ec.stack))-n:]...)
	ec.labels = ec.labels[:f.labelBase]
	ec.stack = ec.stack[:f.stackBase]
	ec.stack = append(ec.stack, results...)
	ec.frames = ec.frames[:len(ec.frames)-1]
}

func (ec *ExecContext) execStructured(f *frame, op wasm.Opcode, pc uint32) error {
	bt := f.readBlockType()
	ft := bt.FunctionType(f.inst.Module)
	switch op {
	case wasm.OpcodeBlock:
		ec.pushLabel(label{stackHeight: uint32(len(ec.stack)) - wasm.ResultTypeCellSize(ft.Params), arity: wasm.ResultTypeCellSize(ft.Results), continuation: ec.resolveTarget(f, pc, false)})
	case wasm.OpcodeLoop:
		ec.pushLabel(label{isLoop: true, stackHeight: uint32(len(ec.stack)) - wasm.ResultTypeCellSize(ft.Params), arity: wasm.ResultTypeCellSize(ft.Params), continuation: pc})
	case wasm.OpcodeIf:
		cond := ec.popI32()
		end := ec.resolveTarget(f, pc, false)
		ec.pushLabel(label{stackHeight: uint32(len(ec.stack)) - wasm.ResultTypeCellSize(ft.Params), arity: wasm.ResultTypeCellSize(ft.Results), continuation: end})
		if cond == 0 {
			if elseTarget := ec.resolveTarget(f, pc, true); elseTarget != end {
				f.pc = elseTarget
			} else {
				// no else arm: jumping past `end` also skips its label pop
				ec.popLabel()
				f.pc = end
			}
		}
	}
	return nil
}

func (ec *ExecContext) execCall(inst *wasm.Instance, idx wasm.Index) error {
	fi := &inst.Funcs[idx]
	if fi.Host != nil {
		args, err := ec.popArgs(fi.Type)
		if err != nil {
			return err
		}
		results, err := ec.callHostSync(inst, fi, args, nil)
		if err != nil {
			return err
		}
		ec.pushResults(fi.Type, results)
		return nil
	}
	return ec.callWasm(inst, fi)
}

func (ec *ExecContext) execCallIndirect(inst *wasm.Instance, typeIdx, tableIdx wasm.Index) error {
	t := inst.Tables[tableIdx]
	i := ec.popI32()
	if i >= uint32(len(t.Elems)) {
		return newTrap(TrapOutOfBoundsTableAccess, "call_indirect index %d", i)
	}
	ref := t.Elems[i]
	if ref.IsNull() {
		return newTrap(TrapUninitializedElement, "")
	}
	if ref.Kind != wasm.ReferenceKindFunc {
		return newTrap(TrapIndirectCallTypeMismatch, "table element is not a function")
	}
	fi := &inst.Funcs[ref.Func]
	want := &inst.Module.Types[typeIdx]
	if !want.Equal(fi.Type) {
		return newTrap(TrapIndirectCallTypeMismatch, "expected %s, got %s", want, fi.Type)
	}
	if fi.Host != nil {
		args, err := ec.popArgs(fi.Type)
		if err != nil {
			return err
		}
		results, err := ec.callHostSync(inst, fi, args, nil)
		if err != nil {
			return err
		}
		ec.pushResults(fi.Type, results)
		return nil
	}
	return ec.callWasm(inst, fi)
}

// callWasm pushes a new frame for fi and runs it to completion before
// returning to the caller's instruction stream; this keeps Go's call
// stack depth proportional to Wasm call depth (bounded by maxCallDepth)
// rather than unbounded, since run()'s loop drives every nested call.
func (ec *ExecContext) callWasm(inst *wasm.Instance, fi *wasm.FuncInst) error {
	args, err := ec.popArgs(fi.Type)
	if err != nil {
		return err
	}
	if err := ec.pushFrame(inst, fi, args); err != nil {
		return err
	}
	depth := len(ec.frames) - 1
	if err := ec.run(depth); err != nil {
		return err
	}
	return nil
}

// popArgs pops ft.Params off the stack (already pushed by the caller's
// preceding code, in left-to-right evaluation order) and converts them to
// the one-uint64-per-value ABI pushFrame/Host.Call expect.
func (ec *ExecContext) popArgs(ft *wasm.FunctionType) ([]uint64, error) {
	args := make([]uint64, len(ft.Params))
	for i := len(ft.Params) - 1; i >= 0; i-- {
		v, ref := ec.popValue(ft.Params[i])
		if api.IsReferenceType(ft.Params[i]) {
			args[i] = packRef(ref)
		} else {
			args[i] = v
		}
	}
	return args, nil
}

func (ec *ExecContext) pushResults(ft *wasm.FunctionType, results []uint64) {
	for i, t := range ft.Results {
		if api.IsReferenceType(t) {
			ec.pushRef(unpackRef(results[i]))
		} else {
			ec.pushValue(t, results[i], wasm.Null)
		}
	}
}

// execSelect implements both select forms: pop the i32 condition, then
// pop two width-cell values (b then a, matching push order) and push
// back whichever the condition selects.
func (ec *ExecContext) execSelect(width uint32) {
	cond := ec.popI32()
	b := append([]wasm.Cell(nil), ec.stack[uint32(len(ec.stack))-width:]...)
	ec.stack = ec.stack[:uint32(len(ec.stack))-width]
	a := append([]wasm.Cell(nil), ec.stack[uint32(len(ec.stack))-width:]...)
	ec.stack = ec.stack[:uint32(len(ec.stack))-width]
	if cond != 0 {
		ec.stack = append(ec.stack, a...)
	} else {
		ec.stack = append(ec.stack, b...)
	}
}

func (ec *ExecContext) execLocalGet(f *frame, idx wasm.Index) {
	off, width := ec.localOffset(f, idx)
	for i := uint32(0); i < width; i++ {
		ec.pushCell(f.locals[off+i])
	}
}

func (ec *ExecContext) execLocalSet(f *frame, idx wasm.Index) {
	off, width := ec.localOffset(f, idx)
	for i := width; i > 0; i-- {
		f.locals[off+i-1] = ec.popCell()
	}
}

func (ec *ExecContext) execLocalTee(f *frame, idx wasm.Index) {
	off, width := ec.localOffset(f, idx)
	for i := width; i > 0; i-- {
		f.locals[off+i-1] = ec.stack[uint32(len(ec.stack))-(width-i+1)]
	}
}

// localOffset computes local idx's cell offset and width. Locals are
// stored params-then-declared-locals in declaration order, each occupying
// CellSize(type) consecutive cells; since this is looked up on every
// local access, a real implementation would cache per-function offset
// tables alongside the jump table, but functions are small enough in
// practice that a linear scan here stays cheap.
func (ec *ExecContext) localOffset(f *frame, idx wasm.Index) (off, width uint32) {
	types := localTypes(f)
	for i, t := range types {
		w := wasm.CellSize(t)
		if uint32(i) == idx {
			return off, w
		}
		off += w
	}
	return off, 1
}

func localTypes(f *frame) []api.ValueType {
	ts := append([]api.ValueType(nil), f.funcType.Params...)
	for _, c := range f.fn.Locals {
		for i := uint32(0); i < c.Count; i++ {
			ts = append(ts, c.Type)
		}
	}
	return ts
}

// execNumeric executes the no-immediate instructions classified by
// numericSignature in the wasm package: comparisons, arithmetic,
// conversions. Grouped by contiguous opcode range like the validator's
// own classification.
func (ec *ExecContext) execNumeric(op wasm.Opcode) error {
	switch {
	case op == 0x45: // i32.eqz
		ec.pushI32(boolToI32(ec.popI32() == 0))
	case op >= 0x46 && op <= 0x4f:
		b, a := ec.popI32(), ec.popI32()
		ec.pushI32(boolToI32(cmpI32(op, a, b)))
	case op == 0x50:
		ec.pushI32(boolToI32(ec.popI64() == 0))
	case op >= 0x51 && op <= 0x5a:
		b, a := ec.popI64(), ec.popI64()
		ec.pushI32(boolToI32(cmpI64(op, a, b)))
	case op >= 0x5b && op <= 0x60:
		b, a := math.Float32frombits(ec.popF32()), math.Float32frombits(ec.popF32())
		ec.pushI32(boolToI32(cmpF(op-0x5b, float64(a), float64(b))))
	case op >= 0x61 && op <= 0x66:
		b, a := math.Float64frombits(ec.popF64()), math.Float64frombits(ec.popF64())
		ec.pushI32(boolToI32(cmpF(op-0x61, a, b)))
	case op >= 0x67 && op <= 0x69:
		v := ec.popI32()
		ec.pushI32(unaryBitsI32(op, v))
	case op >= 0x6a && op <= 0x78:
		b, a := ec.popI32(), ec.popI32()
		r, trap := binI32(op, a, b)
		if trap != nil {
			return trap
		}
		ec.pushI32(r)
	case op >= 0x79 && op <= 0x7b:
		v := ec.popI64()
		ec.pushI64(unaryBitsI64(op, v))
	case op >= 0x7c && op <= 0x8a:
		b, a := ec.popI64(), ec.popI64()
		r, trap := binI64(op, a, b)
		if trap != nil {
			return trap
		}
		ec.pushI64(r)
	case op >= 0x8b && op <= 0x91:
		v := math.Float32frombits(ec.popF32())
		ec.pushF32(math.Float32bits(unaryF32(op, v)))
	case op >= 0x92 && op <= 0x98:
		b, a := math.Float32frombits(ec.popF32()), math.Float32frombits(ec.popF32())
		ec.pushF32(math.Float32bits(binF32(op, a, b)))
	case op >= 0x99 && op <= 0x9f:
		v := math.Float64frombits(ec.popF64())
		ec.pushF64(math.Float64bits(unaryF64(op, v)))
	case op >= 0xa0 && op <= 0xa6:
		b, a := math.Float64frombits(ec.popF64()), math.Float64frombits(ec.popF64())
		ec.pushF64(math.Float64bits(binF64(op, a, b)))
	case op == 0xa7: // i32.wrap_i64
		ec.pushI32(uint32(ec.popI64()))
	case op == 0xa8: // i32.trunc_f32_s
		v, err := truncTrap(float64(math.Float32frombits(ec.popF32())), true, 32)
		if err != nil {
			return err
		}
		ec.pushI32(uint32(v))
	case op == 0xa9: // i32.trunc_f32_u
		v, err := truncTrap(float64(math.Float32frombits(ec.popF32())), false, 32)
		if err != nil {
			return err
		}
		ec.pushI32(uint32(v))
	case op == 0xaa:
		v, err := truncTrap(math.Float64frombits(ec.popF64()), true, 32)
		if err != nil {
			return err
		}
		ec.pushI32(uint32(v))
	case op == 0xab:
		v, err := truncTrap(math.Float64frombits(ec.popF64()), false, 32)
		if err != nil {
			return err
		}
		ec.pushI32(uint32(v))
	case op == 0xac: // i64.extend_i32_s
		ec.pushI64(uint64(int64(int32(ec.popI32()))))
	case op == 0xad: // i64.extend_i32_u
		ec.pushI64(uint64(ec.popI32()))
	case op == 0xae:
		v, err := truncTrap(float64(math.Float32frombits(ec.popF32())), true, 64)
		if err != nil {
			return err
		}
		ec.pushI64(v)
	case op == 0xaf:
		v, err := truncTrap(float64(math.Float32frombits(ec.popF32())), false, 64)
		if err != nil {
			return err
		}
		ec.pushI64(v)
	case op == 0xb0:
		v, err := truncTrap(math.Float64frombits(ec.popF64()), true, 64)
		if err != nil {
			return err
		}
		ec.pushI64(v)
	case op == 0xb1:
		v, err := truncTrap(math.Float64frombits(ec.popF64()), false, 64)
		if err != nil {
			return err
		}
		ec.pushI64(v)
	case op == 0xb2: // f32.convert_i32_s
		ec.pushF32(math.Float32bits(float32(int32(ec.popI32()))))
	case op == 0xb3: // f32.convert_i32_u
		ec.pushF32(math.Float32bits(float32(ec.popI32())))
	case op == 0xb4:
		ec.pushF32(math.Float32bits(float32(int64(ec.popI64()))))
	case op == 0xb5:
		ec.pushF32(math.Float32bits(float32(ec.popI64())))
	case op == 0xb6: // f32.demote_f64
		ec.pushF32(math.Float32bits(float32(math.Float64frombits(ec.popF64()))))
	case op == 0xb7:
		ec.pushF64(math.Float64bits(float64(int32(ec.popI32()))))
	case op == 0xb8:
		ec.pushF64(math.Float64bits(float64(ec.popI32())))
	case op == 0xb9:
		ec.pushF64(math.Float64bits(float64(int64(ec.popI64()))))
	case op == 0xba:
		ec.pushF64(math.Float64bits(float64(ec.popI64())))
	case op == 0xbb: // f64.promote_f32
		ec.pushF64(math.Float64bits(float64(math.Float32frombits(ec.popF32()))))
	case op == 0xbc: // i32.reinterpret_f32
		ec.pushI32(ec.popF32())
	case op == 0xbd: // i64.reinterpret_f64
		ec.pushI64(ec.popF64())
	case op == 0xbe: // f32.reinterpret_i32
		ec.pushF32(ec.popI32())
	case op == 0xbf: // f64.reinterpret_i64
		ec.pushF64(ec.popI64())
	case op == 0xc0: // i32.extend8_s
		ec.pushI32(uint32(int32(int8(ec.popI32()))))
	case op == 0xc1: // i32.extend16_s
		ec.pushI32(uint32(int32(int16(ec.popI32()))))
	case op == 0xc2: // i64.extend8_s
		ec.pushI64(uint64(int64(int8(ec.popI64()))))
	case op == 0xc3: // i64.extend16_s
		ec.pushI64(uint64(int64(int16(ec.popI64()))))
	case op == 0xc4: // i64.extend32_s
		ec.pushI64(uint64(int64(int32(ec.popI64()))))
	default:
		return newTrap(TrapUnreachable, "unknown opcode %#x", op)
	}
	return nil
}

func cmpI32(op wasm.Opcode, a, b uint32) bool {
	switch op {
	case wasm.OpcodeI32Eq:
		return a == b
	case wasm.OpcodeI32Ne:
		return a != b
	case wasm.OpcodeI32LtS:
		return int32(a) < int32(b)
	case wasm.OpcodeI32LtU:
		return a < b
	case wasm.OpcodeI32GtS:
		return int32(a) > int32(b)
	case wasm.OpcodeI32GtU:
		return a > b
	case wasm.OpcodeI32LeS:
		return int32(a) <= int32(b)
	case wasm.OpcodeI32LeU:
		return a <= b
	case wasm.OpcodeI32GeS:
		return int32(a) >= int32(b)
	case wasm.OpcodeI32GeU:
		return a >= b
	default:
		return false
	}
}

func cmpI64(op wasm.Opcode, a, b uint64) bool {
	switch op {
	case 0x51:
		return a == b
	case 0x52:
		return a != b
	case 0x53:
		return int64(a) < int64(b)
	case 0x54:
		return a < b
	case 0x55:
		return int64(a) > int64(b)
	case 0x56:
		return a > b
	case 0x57:
		return int64(a) <= int64(b)
	case 0x58:
		return a <= b
	case 0x59:
		return int64(a) >= int64(b)
	case 0x5a:
		return a >= b
	default:
		return false
	}
}

// cmpF implements both the f32 (offset from 0x5b) and f64 (offset from
// 0x61) comparison families, which share the same eq/ne/lt/gt/le/ge
// ordering.
func cmpF(sub wasm.Opcode, a, b float64) bool {
	switch sub {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a > b
	case 4:
		return a <= b
	case 5:
		return a >= b
	default:
		return false
	}
}

func unaryBitsI32(op wasm.Opcode, v uint32) uint32 {
	switch op {
	case 0x67: // i32.clz
		return uint32(bits.LeadingZeros32(v))
	case 0x68: // i32.ctz
		return uint32(bits.TrailingZeros32(v))
	default: // i32.popcnt
		return uint32(bits.OnesCount32(v))
	}
}

func unaryBitsI64(op wasm.Opcode, v uint64) uint64 {
	switch op {
	case 0x79: // i64.clz
		return uint64(bits.LeadingZeros64(v))
	case 0x7a: // i64.ctz
		return uint64(bits.TrailingZeros64(v))
	default: // i64.popcnt
		return uint64(bits.OnesCount64(v))
	}
}

func binI32(op wasm.Opcode, a, b uint32) (uint32, *Trap) {
	switch op {
	case wasm.OpcodeI32Add:
		return a + b, nil
	case wasm.OpcodeI32Sub:
		return a - b, nil
	case wasm.OpcodeI32Mul:
		return a * b, nil
	case wasm.OpcodeI32DivS:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return 0, newTrap(TrapIntegerOverflow, "")
		}
		return uint32(int32(a) / int32(b)), nil
	case wasm.OpcodeI32DivU:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		return a / b, nil
	case wasm.OpcodeI32RemS:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return 0, nil
		}
		return uint32(int32(a) % int32(b)), nil
	case wasm.OpcodeI32RemU:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		return a % b, nil
	case wasm.OpcodeI32And:
		return a & b, nil
	case wasm.OpcodeI32Or:
		return a | b, nil
	case wasm.OpcodeI32Xor:
		return a ^ b, nil
	case wasm.OpcodeI32Shl:
		return a << (b & 31), nil
	case wasm.OpcodeI32ShrS:
		return uint32(int32(a) >> (b & 31)), nil
	case wasm.OpcodeI32ShrU:
		return a >> (b & 31), nil
	case wasm.OpcodeI32Rotl:
		return bits.RotateLeft32(a, int(b&31)), nil
	default: // rotr
		return bits.RotateLeft32(a, -int(b&31)), nil
	}
}

func binI64(op wasm.Opcode, a, b uint64) (uint64, *Trap) {
	switch op {
	case wasm.OpcodeI64Add:
		return a + b, nil
	case wasm.OpcodeI64Sub:
		return a - b, nil
	case wasm.OpcodeI64Mul:
		return a * b, nil
	case wasm.OpcodeI64DivS:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, newTrap(TrapIntegerOverflow, "")
		}
		return uint64(int64(a) / int64(b)), nil
	case wasm.OpcodeI64DivU:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		return a / b, nil
	case wasm.OpcodeI64RemS:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, nil
		}
		return uint64(int64(a) % int64(b)), nil
	case wasm.OpcodeI64RemU:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		return a % b, nil
	case 0x83: // and
		return a & b, nil
	case 0x84: // or
		return a | b, nil
	case 0x85: // xor
		return a ^ b, nil
	case 0x86: // shl
		return a << (b & 63), nil
	case 0x87: // shr_s
		return uint64(int64(a) >> (b & 63)), nil
	case 0x88: // shr_u
		return a >> (b & 63), nil
	case 0x89: // rotl
		return bits.RotateLeft64(a, int(b&63)), nil
	default: // rotr
		return bits.RotateLeft64(a, -int(b&63)), nil
	}
}

func unaryF32(op wasm.Opcode, v float32) float32 {
	switch op {
	case 0x8b:
		return float32(math.Abs(float64(v)))
	case 0x8c:
		return -v
	case 0x8d:
		return float32(math.Ceil(float64(v)))
	case 0x8e:
		return float32(math.Floor(float64(v)))
	case 0x8f:
		return float32(math.Trunc(float64(v)))
	case 0x90:
		return float32(math.RoundToEven(float64(v)))
	default: // sqrt
		return float32(math.Sqrt(float64(v)))
	}
}

func binF32(op wasm.Opcode, a, b float32) float32 {
	switch op {
	case 0x92:
		return a + b
	case 0x93:
		return a - b
	case 0x94:
		return a * b
	case 0x95:
		return a / b
	case 0x96:
		return float32(math.Min(float64(a), float64(b)))
	case 0x97:
		return float32(math.Max(float64(a), float64(b)))
	default: // copysign
		return float32(math.Copysign(float64(a), float64(b)))
	}
}

func unaryF64(op wasm.Opcode, v float64) float64 {
	switch op {
	case 0x99:
		return math.Abs(v)
	case 0x9a:
		return -v
	case 0x9b:
		return math.Ceil(v)
	case 0x9c:
		return math.Floor(v)
	case 0x9d:
		return math.Trunc(v)
	case 0x9e:
		return math.RoundToEven(v)
	default:
		return math.Sqrt(v)
	}
}

func binF64(op wasm.Opcode, a, b float64) float64 {
	switch op {
	case 0xa0:
		return a + b
	case 0xa1:
		return a - b
	case 0xa2:
		return a * b
	case 0xa3:
		return a / b
	case 0xa4:
		return math.Min(a, b)
	case 0xa5:
		return math.Max(a, b)
	default:
		return math.Copysign(a, b)
	}
}
