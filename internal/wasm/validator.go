package wasm

import (
	"github.com/sirupsen/logrus"

	"github.com/yamt/toywasm-sub002/api"
)

// ctrlFrameOp mirrors toywasm's enum ctrlframe_op: which structured
// instruction opened this control frame.
type ctrlFrameOp byte

const (
	ctrlFrameBlock  ctrlFrameOp = OpcodeBlock
	ctrlFrameLoop   ctrlFrameOp = OpcodeLoop
	ctrlFrameIf     ctrlFrameOp = OpcodeIf
	ctrlFrameElse   ctrlFrameOp = OpcodeElse
	ctrlFrameInvoke ctrlFrameOp = 0xff // pseudo frame: the function body itself
)

// ctrlFrame is the validator's counterpart to a runtime Label: it tracks
// the symbolic operand-stack height at block entry, the block's start/end
// types, and (when jump-table generation is enabled) the index of the
// jump-table slot(s) this block reserved.
type ctrlFrame struct {
	op          ctrlFrameOp
	jumpSlot    uint32
	startTypes  []api.ValueType
	endTypes    []api.ValueType
	height      uint32
	unreachable bool
}

// labelTypes returns the types a branch to this frame must supply: a
// loop's label targets its start (it re-executes from the top), every
// other block's label targets what comes after `end` (its declared
// results).
func (f *ctrlFrame) labelTypes() []api.ValueType {
	if f.op == ctrlFrameLoop {
		return f.startTypes
	}
	return f.endTypes
}

// validator runs the per-function (or per-const-expr) typecheck pass
// described in spec.md §4.2: a symbolic operand-type stack plus a
// control-frame stack, walking the instruction stream once and emitting a
// jump table as it goes.
type validator struct {
	m   *Module
	log *logrus.Logger

	r reader

	valtypes []api.ValueType
	cframes  []ctrlFrame

	locals []api.ValueType

	constExprOnly  bool
	generateJumps  bool

	ei ExprExecInfo
}

const valtypeUnknown api.ValueType = 0xff

func newValidator(m *Module, log *logrus.Logger, generateJumps bool) *validator {
	return &validator{m: m, log: log, generateJumps: generateJumps}
}

func (v *validator) pushValType(t api.ValueType) {
	v.valtypes = append(v.valtypes, t)
}

func (v *validator) popValType(expected api.ValueType) (api.ValueType, error) {
	top := v.cframes[len(v.cframes)-1]
	if uint32(len(v.valtypes)) == top.height {
		if top.unreachable {
			return valtypeUnknown, nil
		}
		return 0, newValidationError(v.r.offset(), "type mismatch: expected %s, stack is empty", api.ValueTypeName(expected))
	}
	got := v.valtypes[len(v.valtypes)-1]
	v.valtypes = v.valtypes[:len(v.valtypes)-1]
	if got == valtypeUnknown || expected == valtypeUnknown {
		return got, nil
	}
	if expected == 0xfe { // anyref: only requires got to be a reference type
		if !api.IsReferenceType(got) {
			return 0, newValidationError(v.r.offset(), "type mismatch: expected a reference type, got %s", api.ValueTypeName(got))
		}
		return got, nil
	}
	if got != expected {
		return 0, newValidationError(v.r.offset(), "type mismatch: expected %s, got %s", api.ValueTypeName(expected), api.ValueTypeName(got))
	}
	return got, nil
}

func (v *validator) pushValTypes(ts []api.ValueType) {
	for _, t := range ts {
		v.pushValType(t)
	}
}

func (v *validator) popValTypes(ts []api.ValueType) error {
	for i := len(ts) - 1; i >= 0; i-- {
		if _, err := v.popValType(ts[i]); err != nil {
			return err
		}
	}
	return nil
}

// peekValTypes pops and immediately restores ts, used by br/br_if which
// must typecheck the label's argument types without consuming them (the
// branch may not be taken).
func (v *validator) peekValTypes(ts []api.ValueType) error {
	saved := len(v.valtypes)
	err := v.popValTypes(ts)
	v.valtypes = v.valtypes[:saved]
	return err
}

func (v *validator) markUnreachable() {
	top := &v.cframes[len(v.cframes)-1]
	v.valtypes = v.valtypes[:top.height]
	top.unreachable = true
}

// pushCtrlFrame reserves jump-table slots (one for most block kinds, two
// for `if` so the "jump to else" arrow has a home) and pushes the new
// frame, exactly mirroring toywasm's push_ctrlframe.
func (v *validator) pushCtrlFrame(pc uint32, op ctrlFrameOp, startTypes, endTypes []api.ValueType) {
	nslots := uint32(1)
	if !v.generateJumps || op == ctrlFrameInvoke {
		nslots = 0
	} else if op == ctrlFrameIf {
		nslots = 2
	}
	slot := uint32(len(v.ei.Jumps))
	if nslots > 0 {
		v.ei.Jumps = append(v.ei.Jumps, Jump{PC: pc})
		if nslots == 2 {
			v.ei.Jumps = append(v.ei.Jumps, Jump{PC: pc + 1})
		}
	}
	v.cframes = append(v.cframes, ctrlFrame{
		op:         op,
		jumpSlot:   slot,
		startTypes: startTypes,
		endTypes:   endTypes,
		height:     uint32(len(v.valtypes)),
	})
	if uint32(len(v.cframes)) > v.ei.MaxLabels {
		v.ei.MaxLabels = uint32(len(v.cframes))
	}
	v.pushValTypes(startTypes)
}

// popCtrlFrame closes the innermost control frame at pc (isElse selects
// the second jump slot of an `if`, used when popping at `else`) and
// resolves its jump-table target: loops target their own header (so a
// forward `br` to a loop's label restarts it), everything else targets
// the instruction right after `end`.
func (v *validator) popCtrlFrame(pc uint32, isElse bool) (ctrlFrame, error) {
	if len(v.cframes) == 0 {
		return ctrlFrame{}, newValidationError(pc, "control frame stack underflow")
	}
	top := v.cframes[len(v.cframes)-1]
	if isElse && top.op != ctrlFrameIf {
		return ctrlFrame{}, newValidationError(pc, "else without matching if")
	}
	if v.generateJumps && top.op != ctrlFrameInvoke {
		slot := top.jumpSlot
		if isElse {
			slot++
		}
		if slot < uint32(len(v.ei.Jumps)) {
			if top.op == ctrlFrameLoop {
				v.ei.Jumps[slot].TargetPC = v.ei.Jumps[slot].PC
			} else {
				v.ei.Jumps[slot].TargetPC = pc + 1 // past the one-byte end/else at pc
			}
		}
	}
	if err := v.popValTypes(top.endTypes); err != nil {
		return ctrlFrame{}, err
	}
	if uint32(len(v.valtypes)) != top.height {
		return ctrlFrame{}, newValidationError(pc, "unexpected stack height after popping control frame: %d != %d", len(v.valtypes), top.height)
	}
	v.cframes = v.cframes[:len(v.cframes)-1]
	return top, nil
}

func (v *validator) trackMaxCells(extra uint32) {
	cells := extra
	for _, t := range v.valtypes {
		cells += CellSize(t)
	}
	if cells > v.ei.MaxCells {
		v.ei.MaxCells = cells
	}
}

func (v *validator) labelFrame(labelIdx uint32) (*ctrlFrame, error) {
	if labelIdx >= uint32(len(v.cframes)) {
		return nil, newValidationError(v.r.offset(), "invalid label index %d", labelIdx)
	}
	return &v.cframes[uint32(len(v.cframes))-1-labelIdx], nil
}

// ValidateFunction typechecks function funcIdx's body and returns the
// jump table and stack-size high-watermarks the interpreter needs.
// generateJumps selects whether a jump table is emitted (see spec.md §4.4:
// the interpreter must support both a precomputed jump table and scanning
// for the matching `end`, toggled by a load option).
func ValidateFunction(m *Module, funcIdx Index, f *Func, log *logrus.Logger, generateJumps bool) (ExprExecInfo, error) {
	ft := m.FunctionType(m.NumImportedFuncs + funcIdx)
	v := newValidator(m, log, generateJumps)
	v.r = reader{b: m.Bin, pos: f.Body.Start}
	v.locals = make([]api.ValueType, 0, len(ft.Params)+int(f.NumLocals))
	v.locals = append(v.locals, ft.Params...)
	for _, c := range f.Locals {
		for i := uint32(0); i < c.Count; i++ {
			v.locals = append(v.locals, c.Type)
		}
	}
	v.pushCtrlFrame(f.Body.Start, ctrlFrameInvoke, nil, ft.Results)
	if err := v.run(f.Body.End); err != nil {
		return ExprExecInfo{}, err
	}
	return v.ei, nil
}

// ValidateConstExpr typechecks a constant expression (global/element/data
// initialiser), enforcing spec.md §4.3 step 5's whitelist: only t.const,
// ref.null, ref.func, and global.get of an imported immutable global.
func ValidateConstExpr(m *Module, e Expr, expected api.ValueType) error {
	v := newValidator(m, logrus.StandardLogger(), false)
	v.constExprOnly = true
	v.r = reader{b: m.Bin, pos: e.Start}
	v.pushCtrlFrame(e.Start, ctrlFrameInvoke, nil, []api.ValueType{expected})
	return v.run(e.End)
}

func (v *validator) run(end uint32) error {
	for v.r.pos < end {
		pc := v.r.pos
		op, err := v.r.requireByte()
		if err != nil {
			return err
		}
		if err := v.step(pc, op); err != nil {
			return err
		}
		if len(v.cframes) == 0 {
			// The outermost (invoke) frame was just popped by `end`.
			return nil
		}
	}
	if len(v.cframes) != 0 {
		return newValidationError(end, "function body ended without closing every block")
	}
	return nil
}

func (v *validator) step(pc uint32, op Opcode) error {
	if v.constExprOnly {
		return v.stepConst(pc, op)
	}
	switch op {
	case OpcodeUnreachable:
		v.markUnreachable()
	case OpcodeNop:
	case OpcodeBlock, OpcodeLoop, OpcodeIf:
		bt, err := v.readBlockType()
		if err != nil {
			return err
		}
		ft := bt.FunctionType(v.m)
		if err := v.popValTypes(ft.Params); err != nil {
			return err
		}
		frameOp := ctrlFrameOp(op)
		if op == OpcodeIf {
			if _, err := v.popValType(api.ValueTypeI32); err != nil {
				return err
			}
		}
		v.pushCtrlFrame(pc, frameOp, ft.Params, ft.Results)
	case OpcodeElse:
		frame, err := v.popCtrlFrame(pc, true)
		if err != nil {
			return err
		}
		v.pushCtrlFrame(pc, ctrlFrameElse, frame.startTypes, frame.endTypes)
	case OpcodeEnd:
		if _, err := v.popCtrlFrame(pc, false); err != nil {
			return err
		}
	case OpcodeBr:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		frame, err := v.labelFrame(idx)
		if err != nil {
			return err
		}
		if err := v.popValTypes(frame.labelTypes()); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeBrIf:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		frame, err := v.labelFrame(idx)
		if err != nil {
			return err
		}
		if err := v.peekValTypes(frame.labelTypes()); err != nil {
			return err
		}
	case OpcodeBrTable:
		targets, err := v.r.indexVec()
		if err != nil {
			return err
		}
		def, err := v.r.u32()
		if err != nil {
			return err
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		defFrame, err := v.labelFrame(def)
		if err != nil {
			return err
		}
		arity := len(defFrame.labelTypes())
		for _, t := range targets {
			f, err := v.labelFrame(t)
			if err != nil {
				return err
			}
			if len(f.labelTypes()) != arity {
				return newValidationError(pc, "br_table labels have mismatched arities")
			}
			if err := v.peekValTypes(f.labelTypes()); err != nil {
				return err
			}
		}
		if err := v.popValTypes(defFrame.labelTypes()); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeReturn:
		outer := v.cframes[0]
		if err := v.popValTypes(outer.endTypes); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeCall:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumFuncs() {
			return newValidationError(pc, "invalid function index %d", idx)
		}
		ft := v.m.FunctionType(idx)
		if err := v.popValTypes(ft.Params); err != nil {
			return err
		}
		v.pushValTypes(ft.Results)
	case OpcodeCallIndirect:
		typeIdx, err := v.r.u32()
		if err != nil {
			return err
		}
		tableIdx, err := v.r.u32()
		if err != nil {
			return err
		}
		if tableIdx >= v.m.NumTables() {
			return newValidationError(pc, "invalid table index %d", tableIdx)
		}
		if typeIdx >= uint32(len(v.m.Types)) {
			return newValidationError(pc, "invalid type index %d", typeIdx)
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		ft := &v.m.Types[typeIdx]
		if err := v.popValTypes(ft.Params); err != nil {
			return err
		}
		v.pushValTypes(ft.Results)
	case OpcodeDrop:
		t, err := v.popValType(valtypeUnknown)
		if err != nil {
			return err
		}
		width := uint32(1)
		if t != valtypeUnknown {
			width = CellSize(t)
		}
		v.ei.Selects = append(v.ei.Selects, SelectWidth{PC: pc, Width: width})
	case OpcodeSelect:
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		t, err := v.popValType(valtypeUnknown)
		if err != nil {
			return err
		}
		if _, err := v.popValType(t); err != nil {
			return err
		}
		v.pushValType(t)
		width := uint32(1)
		if t != valtypeUnknown {
			width = CellSize(t)
		}
		v.ei.Selects = append(v.ei.Selects, SelectWidth{PC: pc, Width: width})
	case OpcodeSelectT:
		ts, err := v.r.valueTypeVec()
		if err != nil {
			return err
		}
		if len(ts) != 1 {
			return newValidationError(pc, "select with explicit types must name exactly one type")
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		if err := v.popValTypes(ts); err != nil {
			return err
		}
		if err := v.popValTypes(ts); err != nil {
			return err
		}
		v.pushValTypes(ts)
	case OpcodeLocalGet:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		t, err := v.localType(pc, idx)
		if err != nil {
			return err
		}
		v.pushValType(t)
	case OpcodeLocalSet:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		t, err := v.localType(pc, idx)
		if err != nil {
			return err
		}
		if _, err := v.popValType(t); err != nil {
			return err
		}
	case OpcodeLocalTee:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		t, err := v.localType(pc, idx)
		if err != nil {
			return err
		}
		if _, err := v.popValType(t); err != nil {
			return err
		}
		v.pushValType(t)
	case OpcodeGlobalGet:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumGlobals() {
			return newValidationError(pc, "invalid global index %d", idx)
		}
		v.pushValType(v.m.GlobalType(idx).ValType)
	case OpcodeGlobalSet:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumGlobals() {
			return newValidationError(pc, "invalid global index %d", idx)
		}
		gt := v.m.GlobalType(idx)
		if !gt.Mutable {
			return newValidationError(pc, "global.set on immutable global %d", idx)
		}
		if _, err := v.popValType(gt.ValType); err != nil {
			return err
		}
	case OpcodeTableGet:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumTables() {
			return newValidationError(pc, "invalid table index %d", idx)
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		v.pushValType(v.m.TableType(idx).ElemType)
	case OpcodeTableSet:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumTables() {
			return newValidationError(pc, "invalid table index %d", idx)
		}
		tt := v.m.TableType(idx)
		if _, err := v.popValType(tt.ElemType); err != nil {
			return err
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
	case OpcodeMemorySize:
		if _, err := v.r.requireByte(); err != nil { // reserved
			return err
		}
		v.pushValType(api.ValueTypeI32)
	case OpcodeMemoryGrow:
		if _, err := v.r.requireByte(); err != nil {
			return err
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI32)
	case OpcodeI32Const:
		if _, err := v.r.i32(); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI32)
	case OpcodeI64Const:
		if _, err := v.r.i64(); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI64)
	case OpcodeF32Const:
		if _, err := v.r.f32(); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeF32)
	case OpcodeF64Const:
		if _, err := v.r.f64(); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeF64)
	case OpcodeRefNull:
		t, err := v.r.valueType()
		if err != nil {
			return err
		}
		v.pushValType(t)
	case OpcodeRefIsNull:
		if _, err := v.popValType(0xfe); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI32)
	case OpcodeRefFunc:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumFuncs() {
			return newValidationError(pc, "invalid function index %d", idx)
		}
		v.pushValType(api.ValueTypeFuncref)
	case OpcodeMiscPrefix:
		return v.stepMisc(pc)
	case OpcodeAtomicPrefix:
		return v.stepAtomic(pc)
	case OpcodeSIMDPrefix:
		return newValidationError(pc, "SIMD instructions are not supported by this runtime")
	default:
		if _, _, isMemOp := memArgShape(op); isMemOp {
			return v.stepMemOp(pc, op)
		}
		if params, results, ok := numericSignature(op); ok {
			if err := v.popValTypes(params); err != nil {
				return err
			}
			v.pushValTypes(results)
			break
		}
		return newValidationError(pc, "unknown or unsupported opcode %#x", op)
	}
	v.trackMaxCells(0)
	return nil
}

// memArgShape reports whether op is a load/store that takes a memarg
// (align, offset) immediate, and the value types it reads/writes.
func memArgShape(op Opcode) (valType api.ValueType, isStore bool, ok bool) {
	switch op {
	case OpcodeI32Load, OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI32Load16S, OpcodeI32Load16U:
		return api.ValueTypeI32, false, true
	case OpcodeI64Load, OpcodeI64Load8S, OpcodeI64Load8U, OpcodeI64Load16S, OpcodeI64Load16U, OpcodeI64Load32S, OpcodeI64Load32U:
		return api.ValueTypeI64, false, true
	case OpcodeF32Load:
		return api.ValueTypeF32, false, true
	case OpcodeF64Load:
		return api.ValueTypeF64, false, true
	case OpcodeI32Store, OpcodeI32Store8, OpcodeI32Store16:
		return api.ValueTypeI32, true, true
	case OpcodeI64Store, OpcodeI64Store8, OpcodeI64Store16, OpcodeI64Store32:
		return api.ValueTypeI64, true, true
	case OpcodeF32Store:
		return api.ValueTypeF32, true, true
	case OpcodeF64Store:
		return api.ValueTypeF64, true, true
	default:
		return 0, false, false
	}
}

func (v *validator) stepMemOp(pc uint32, op Opcode) error {
	if v.m.NumMems() == 0 {
		return newValidationError(pc, "memory instruction without a memory")
	}
	if _, err := v.r.u32(); err != nil { // align
		return err
	}
	if _, err := v.r.u32(); err != nil { // offset
		return err
	}
	vt, isStore, _ := memArgShape(op)
	if isStore {
		if _, err := v.popValType(vt); err != nil {
			return err
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
	} else {
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		v.pushValType(vt)
	}
	return nil
}

func (v *validator) stepMisc(pc uint32) error {
	sub, err := v.r.u32()
	if err != nil {
		return err
	}
	if params, results, ok := truncSatSignature(sub); ok {
		if err := v.popValTypes(params); err != nil {
			return err
		}
		v.pushValTypes(results)
		return nil
	}
	switch sub {
	case MiscOpcodeMemoryInit:
		dataIdx, err := v.r.u32()
		if err != nil {
			return err
		}
		if _, err := v.r.requireByte(); err != nil { // memidx, reserved as 0x00
			return err
		}
		if v.m.DataCount >= 0 && int64(dataIdx) >= v.m.DataCount {
			return newValidationError(pc, "invalid data index %d", dataIdx)
		}
		return v.popValTypes([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32})
	case MiscOpcodeDataDrop:
		if _, err := v.r.u32(); err != nil {
			return err
		}
		return nil
	case MiscOpcodeMemoryCopy:
		if _, err := v.r.requireByte(); err != nil {
			return err
		}
		if _, err := v.r.requireByte(); err != nil {
			return err
		}
		return v.popValTypes([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32})
	case MiscOpcodeMemoryFill:
		if _, err := v.r.requireByte(); err != nil {
			return err
		}
		return v.popValTypes([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32})
	case MiscOpcodeTableInit:
		elemIdx, err := v.r.u32()
		if err != nil {
			return err
		}
		tableIdx, err := v.r.u32()
		if err != nil {
			return err
		}
		if elemIdx >= uint32(len(v.m.Elems)) || tableIdx >= v.m.NumTables() {
			return newValidationError(pc, "invalid element/table index")
		}
		return v.popValTypes([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32})
	case MiscOpcodeElemDrop:
		if _, err := v.r.u32(); err != nil {
			return err
		}
		return nil
	case MiscOpcodeTableCopy:
		if _, err := v.r.u32(); err != nil {
			return err
		}
		if _, err := v.r.u32(); err != nil {
			return err
		}
		return v.popValTypes([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32})
	case MiscOpcodeTableGrow:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumTables() {
			return newValidationError(pc, "invalid table index %d", idx)
		}
		tt := v.m.TableType(idx)
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.popValType(tt.ElemType); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI32)
		return nil
	case MiscOpcodeTableSize:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumTables() {
			return newValidationError(pc, "invalid table index %d", idx)
		}
		v.pushValType(api.ValueTypeI32)
		return nil
	case MiscOpcodeTableFill:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumTables() {
			return newValidationError(pc, "invalid table index %d", idx)
		}
		tt := v.m.TableType(idx)
		if err := v.popValType2(api.ValueTypeI32); err != nil {
			return err
		}
		if _, err := v.popValType(tt.ElemType); err != nil {
			return err
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		return nil
	default:
		return newValidationError(pc, "unsupported 0xfc sub-opcode %d", sub)
	}
}

// popValType2 is a convenience wrapper where callers only need the error.
func (v *validator) popValType2(expected api.ValueType) error {
	_, err := v.popValType(expected)
	return err
}

func (v *validator) stepAtomic(pc uint32) error {
	sub, err := v.r.u32()
	if err != nil {
		return err
	}
	switch sub {
	case AtomicOpcodeFence:
		if _, err := v.r.requireByte(); err != nil {
			return err
		}
		return nil
	case AtomicOpcodeMemoryAtomicNotify:
		if _, err := v.r.u32(); err != nil {
			return err
		}
		if _, err := v.r.u32(); err != nil {
			return err
		}
		if err := v.popValTypes([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI32)
		return nil
	case AtomicOpcodeMemoryAtomicWait32, AtomicOpcodeMemoryAtomicWait64:
		if _, err := v.r.u32(); err != nil {
			return err
		}
		if _, err := v.r.u32(); err != nil {
			return err
		}
		expectedType := api.ValueTypeI32
		if sub == AtomicOpcodeMemoryAtomicWait64 {
			expectedType = api.ValueTypeI64
		}
		if err := v.popValTypes([]api.ValueType{api.ValueTypeI32, expectedType, api.ValueTypeI64}); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI32)
		return nil
	default:
		// Atomic load/store/rmw: all take a memarg and operate on i32 or
		// i64 depending on the sub-opcode's low nibble grouping. We
		// accept them generically as (i32 addr [, value]) -> value? using
		// the same classification the interpreter's atomic dispatch
		// uses, so decode/validate never rejects a well-formed program
		// even though this runtime only executes a subset at runtime.
		if _, err := v.r.u32(); err != nil {
			return err
		}
		if _, err := v.r.u32(); err != nil {
			return err
		}
		return v.stepAtomicRMW(pc, sub)
	}
}

func (v *validator) stepAtomicRMW(pc uint32, sub AtomicOpcode) error {
	// load/store/rmw sub-opcodes come in groups of 7 starting at
	// i32.atomic.load: i32, i64, i32 8-bit, i32 16-bit, i64 8-bit,
	// i64 16-bit, i64 32-bit.
	k := (sub - AtomicOpcodeI32AtomicLoad) % 7
	is64 := sub >= AtomicOpcodeI32AtomicLoad && (k == 1 || k >= 4)
	vt := api.ValueTypeI32
	if is64 {
		vt = api.ValueTypeI64
	}
	isStore := sub == AtomicOpcodeI32AtomicStore || sub == AtomicOpcodeI64AtomicStore ||
		(sub >= 0x19 && sub <= 0x1d)
	isLoad := sub == AtomicOpcodeI32AtomicLoad || sub == AtomicOpcodeI64AtomicLoad ||
		(sub >= 0x12 && sub <= 0x16)
	switch {
	case isLoad:
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		v.pushValType(vt)
	case isStore:
		if _, err := v.popValType(vt); err != nil {
			return err
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
	default: // rmw ops: (addr i32, value t) -> t
		if _, err := v.popValType(vt); err != nil {
			return err
		}
		if _, err := v.popValType(api.ValueTypeI32); err != nil {
			return err
		}
		v.pushValType(vt)
	}
	_ = pc
	return nil
}

func (v *validator) localType(pc uint32, idx Index) (api.ValueType, error) {
	if idx >= uint32(len(v.locals)) {
		return 0, newValidationError(pc, "invalid local index %d", idx)
	}
	return v.locals[idx], nil
}

func (v *validator) readBlockType() (BlockType, error) {
	start := v.r.pos
	b, err := v.r.requireByte()
	if err != nil {
		return BlockType{}, err
	}
	if b == 0x40 {
		return BlockType{Kind: BlockTypeEmpty}, nil
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeV128, api.ValueTypeFuncref, api.ValueTypeExternref:
		return BlockType{Kind: BlockTypeValue, ValType: b}, nil
	}
	// Otherwise it's a signed LEB128 type index (33-bit signed per spec,
	// but never negative for a valid index; re-read from start as i32
	// since we already consumed one byte checking for the shortcuts).
	v.r.pos = start
	idx, err := v.r.i32()
	if err != nil {
		return BlockType{}, err
	}
	if idx < 0 || uint32(idx) >= uint32(len(v.m.Types)) {
		return BlockType{}, newValidationError(start, "invalid block type index %d", idx)
	}
	return BlockType{Kind: BlockTypeIndex, TypeIndex: uint32(idx)}, nil
}

func (v *validator) stepConst(pc uint32, op Opcode) error {
	switch op {
	case OpcodeEnd:
		_, err := v.popCtrlFrame(pc, false)
		return err
	case OpcodeI32Const:
		if _, err := v.r.i32(); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI32)
	case OpcodeI64Const:
		if _, err := v.r.i64(); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeI64)
	case OpcodeF32Const:
		if _, err := v.r.f32(); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeF32)
	case OpcodeF64Const:
		if _, err := v.r.f64(); err != nil {
			return err
		}
		v.pushValType(api.ValueTypeF64)
	case OpcodeRefNull:
		t, err := v.r.valueType()
		if err != nil {
			return err
		}
		v.pushValType(t)
	case OpcodeRefFunc:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumFuncs() {
			return newValidationError(pc, "invalid function index %d", idx)
		}
		v.pushValType(api.ValueTypeFuncref)
	case OpcodeGlobalGet:
		idx, err := v.r.u32()
		if err != nil {
			return err
		}
		if idx >= v.m.NumImportedGlobals {
			return newValidationError(pc, "global.get in a constant expression must reference an imported global")
		}
		gt := v.m.GlobalType(idx)
		if gt.Mutable {
			return newValidationError(pc, "global.get in a constant expression must reference an immutable global")
		}
		v.pushValType(gt.ValType)
	default:
		return newValidationError(pc, "opcode %#x is not valid in a constant expression", op)
	}
	return nil
}
