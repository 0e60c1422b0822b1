package interpreter

import (
	"errors"
	"math"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// Invoke runs fn to completion with args (already converted to the ABI's
// one-uint64-per-logical-value form, i32s zero/sign-extended into the low
// 32 bits, f32/f64 as their IEEE bit patterns) and returns its results in
// the same form. It satisfies wasm.InvokeFunc, so it can also be handed
// to wasm.Instantiate to run a module's start function.
func (ec *ExecContext) Invoke(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
	fi := &inst.Funcs[funcIdx]

	if fi.Host != nil {
		return ec.callHostSync(inst, fi, args, nil)
	}

	if err := ec.pushFrame(inst, fi, args); err != nil {
		return nil, err
	}
	entryDepth := len(ec.frames) - 1

	if err := ec.run(entryDepth); err != nil {
		return nil, err
	}

	f := ec.frames[entryDepth]
	results := make([]uint64, len(f.resultTypes))
	for i := len(f.resultTypes) - 1; i >= 0; i-- {
		v, ref := ec.popValue(f.resultTypes[i])
		if api.IsReferenceType(f.resultTypes[i]) {
			results[i] = packRef(ref)
		} else {
			results[i] = v
		}
	}
	ec.frames = ec.frames[:entryDepth]
	return results, nil
}

// callHostSync invokes a host function and, if it returns a SuspendError
// naming a callback target (§4.4), resolves the whole chain before
// returning: it calls the target via Invoke itself, then re-enters the
// host function with the callback's outcome in HostCallResume, repeating
// until the function returns a real result or a trap. Every caller here
// (Invoke, execCall, execCallIndirect) is already inside a running Wasm
// call with no restart boundary to return through, so Go's own call
// stack plays the role of the restart-record stack ExecuteFunc/
// ExecuteContinue expose at the embedder boundary (see restart.go) - a
// function that suspends with no callback target has nothing to resolve
// inline and traps, since only that outer boundary can resume it later.
func (ec *ExecContext) callHostSync(inst *wasm.Instance, fi *wasm.FuncInst, args []uint64, resume *wasm.HostCallResume) ([]uint64, error) {
	results, err := fi.Host.Call(inst, args, resume)
	var se *wasm.SuspendError
	if errors.As(err, &se) {
		if !se.HasTarget {
			return nil, newTrap(TrapUnreachable, "host function suspended with no callback target outside instance_execute_func/instance_execute_continue")
		}
		targetResults, cerr := ec.Invoke(inst, se.Target, se.Args)
		return ec.callHostSync(inst, fi, args, &wasm.HostCallResume{Step: se.Step, User1: se.User1, User2: se.User2, Results: targetResults, Err: cerr})
	}
	return results, err
}

func packRef(ref wasm.Reference) uint64 {
	cells := wasm.RefToCells(ref)
	return uint64(uint32(cells[0])) | uint64(uint32(cells[1]))<<32
}

func unpackRef(v uint64) wasm.Reference {
	return wasm.RefFromCells([]wasm.Cell{wasm.Cell(uint32(v)), wasm.Cell(uint32(v >> 32))})
}

// pushFrame allocates a new activation record for a Wasm (non-host)
// function and copies args into its locals, zero-filling the declared
// locals that follow the parameters.
func (ec *ExecContext) pushFrame(inst *wasm.Instance, fi *wasm.FuncInst, args []uint64) error {
	if len(ec.frames) >= maxCallDepth {
		return newTrap(TrapCallStackExhausted, "call depth exceeds %d", maxCallDepth)
	}
	wfi := fi.Wasm
	fn := &inst.Module.Funcs[wfi.FuncIndex]
	ft := fi.Type

	locals := make([]wasm.Cell, 0, wasm.ResultTypeCellSize(ft.Params)+fn.NumLocals)
	for i, t := range ft.Params {
		if api.IsReferenceType(t) {
			cells := wasm.RefToCells(unpackRef(args[i]))
			locals = append(locals, cells[0], cells[1])
		} else {
			locals = append(locals, wasm.Cell(uint32(args[i])))
			if t == api.ValueTypeI64 || t == api.ValueTypeF64 {
				locals = append(locals, wasm.Cell(uint32(args[i]>>32)))
			}
		}
	}
	for _, chunk := range fn.Locals {
		for i := uint32(0); i < chunk.Count; i++ {
			for c := uint32(0); c < wasm.CellSize(chunk.Type); c++ {
				locals = append(locals, 0)
			}
		}
	}

	ec.frames = append(ec.frames, frame{
		inst:        inst,
		fn:          fn,
		funcType:    ft,
		locals:      locals,
		pc:          fn.Body.Start,
		stackBase:   uint32(len(ec.stack)),
		labelBase:   len(ec.labels),
		resultTypes: ft.Results,
	})
	// The function body itself is an implicit block. Its label has no
	// jump slot (the validator's ctrlFrameInvoke reserves none): a `br` to
	// it lands on Body.End through continuation, and `return` unwinds to
	// it, so we still track its arity.
	ec.pushLabel(label{stackHeight: uint32(len(ec.stack)), arity: wasm.ResultTypeCellSize(ft.Results), continuation: fn.Body.End})
	return nil
}

// run drives the dispatch loop until the frame at stopDepth returns
// (i.e. len(ec.frames) == stopDepth, meaning that frame itself popped).
func (ec *ExecContext) run(stopDepth int) error {
	for len(ec.frames) > stopDepth {
		if ec.Cluster != nil && ec.Cluster.Interrupted() {
			ec.trap = newTrap(TrapInterrupted, "cluster interrupt raised")
			return ec.trap
		}
		f := ec.curFrame()
		if f.pc >= f.fn.Body.End {
			ec.implicitReturn()
			continue
		}
		op, pc, err := ec.fetch(f)
		if err != nil {
			return err
		}
		if err := ec.step(op, pc); err != nil {
			return err
		}
	}
	return nil
}

func (ec *ExecContext) fetch(f *frame) (wasm.Opcode, uint32, error) {
	pc := f.pc
	op := f.inst.Module.Bin[pc]
	f.pc++
	return op, pc, nil
}

// implicitReturn handles falling off the end of a function body without
// an explicit `return`: pop the function's own label, splice its result
// cells down to the frame's entry height, and pop the frame.
func (ec *ExecContext) implicitReturn() {
	f := ec.curFrame()
	n := wasm.ResultTypeCellSize(f.resultTypes)
	results := append([]wasm.Cell(nil), ec.stack[uint32(len(ec.stack))-n:]...)
	ec.labels = ec.labels[:f.labelBase]
	ec.stack = ec.stack[:f.stackBase]
	ec.stack = append(ec.stack, results...)
	ec.frames = ec.frames[:len(ec.frames)-1]
}

// branch implements the control-transfer shared by br/br_if/br_table:
// pop labelIdx+1 labels (the target's own included), splice the label's
// arity worth of result cells down to its entry height, and (for a loop)
// land back at the loop header, whose re-execution pushes the label
// again, instead of falling through past `end`.
func (ec *ExecContext) branch(labelIdx uint32) {
	idx := len(ec.labels) - 1 - int(labelIdx)
	target := ec.labels[idx]
	n := target.arity
	results := append([]wasm.Cell(nil), ec.stack[uint32(len(ec.stack))-n:]...)
	ec.labels = ec.labels[:idx]
	ec.stack = ec.stack[:target.stackHeight]
	ec.stack = append(ec.stack, results...)
	f := ec.curFrame()
	if target.isLoop {
		f.pc = target.continuation
	} else {
		f.pc = target.continuation
	}
}

// resolveTarget finds the PC a structured instruction at pc jumps to,
// either via the validator's jump table or, in scan mode, by walking
// forward counting nested block depth (see spec.md §4.4).
func (ec *ExecContext) resolveTarget(f *frame, pc uint32, isElse bool) uint32 {
	if ec.useJumpTable {
		if j := f.fn.Body.Info.FindJump(pc); j != nil {
			return j.TargetPC
		}
	}
	return ec.scanForEnd(f, pc, isElse)
}

// scanForEnd implements the naive linear-scan branch-resolution mode: walk
// forward from pc counting nested block/loop/if depth until the matching
// end (or, if isElse, the matching else) is found.
func (ec *ExecContext) scanForEnd(f *frame, pc uint32, wantElse bool) uint32 {
	bin := f.inst.Module.Bin
	depth := 0
	p := pc
	switch bin[p] {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		// the structured instruction at pc opens the block being matched
		p = skipBlockType(bin, p+1)
	}
	for {
		op := bin[p]
		p++
		switch op {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			depth++
			p = skipBlockType(bin, p)
		case wasm.OpcodeElse:
			if depth == 0 && wantElse {
				return p
			}
		case wasm.OpcodeEnd:
			if depth == 0 {
				return p
			}
			depth--
		default:
			p = skipImmediate(bin, op, p)
		}
	}
}

func skipBlockType(bin []byte, p uint32) uint32 {
	b := bin[p]
	if b == 0x40 {
		return p + 1
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeV128, api.ValueTypeFuncref, api.ValueTypeExternref:
		return p + 1
	}
	// signed LEB128 type index
	q := p
	for bin[q]&0x80 != 0 {
		q++
	}
	return q + 1
}

// skipImmediate advances past op's immediate operand(s) during a
// scan-mode branch-target search. It does not need to validate anything
// (the validator already has); it only needs byte-accurate lengths.
func skipImmediate(bin []byte, op wasm.Opcode, p uint32) uint32 {
	leb := func(q uint32) uint32 {
		for bin[q]&0x80 != 0 {
			q++
		}
		return q + 1
	}
	switch op {
	case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall, wasm.OpcodeLocalGet, wasm.OpcodeLocalSet,
		wasm.OpcodeLocalTee, wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet, wasm.OpcodeTableGet,
		wasm.OpcodeTableSet, wasm.OpcodeRefFunc, wasm.OpcodeI32Const:
		return leb(p)
	case wasm.OpcodeI64Const:
		return leb(p)
	case wasm.OpcodeF32Const:
		return p + 4
	case wasm.OpcodeF64Const:
		return p + 8
	case wasm.OpcodeRefNull:
		return p + 1
	case wasm.OpcodeCallIndirect:
		p = leb(p)
		return leb(p)
	case wasm.OpcodeBrTable:
		n, q := readU32At(bin, p)
		for i := uint32(0); i < n; i++ {
			q = leb(q)
		}
		return leb(q)
	case wasm.OpcodeSelectT:
		n, q := readU32At(bin, p)
		return q + n
	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		return p + 1
	case wasm.OpcodeMiscPrefix:
		sub, q := readU32At(bin, p)
		switch sub {
		case wasm.MiscOpcodeMemoryInit, wasm.MiscOpcodeTableInit, wasm.MiscOpcodeTableCopy:
			q = leb(q)
			return leb(q)
		case wasm.MiscOpcodeDataDrop, wasm.MiscOpcodeElemDrop, wasm.MiscOpcodeTableGrow,
			wasm.MiscOpcodeTableSize, wasm.MiscOpcodeTableFill:
			return leb(q)
		case wasm.MiscOpcodeMemoryCopy:
			return q + 2
		case wasm.MiscOpcodeMemoryFill:
			return q + 1
		default: // saturating truncation: no immediate beyond the sub-opcode
			return q
		}
	case wasm.OpcodeAtomicPrefix:
		sub, q := readU32At(bin, p)
		if sub == wasm.AtomicOpcodeFence {
			return q + 1
		}
		q = leb(q)
		return leb(q)
	default:
		if _, isStore, isMem := memArgShape(op); isMem {
			_ = isStore
			q := leb(p)
			return leb(q)
		}
		return p // no-immediate numeric instruction
	}
}

func readU32At(bin []byte, p uint32) (uint32, uint32) {
	var v uint32
	var shift uint
	q := p
	for {
		b := bin[q]
		q++
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return v, q
}

// memArgShape mirrors the validator's helper of the same name; kept
// separate since the two packages must not import each other's
// internals, only wasm's public types.
func memArgShape(op wasm.Opcode) (valType api.ValueType, isStore, ok bool) {
	switch op {
	case wasm.OpcodeI32Load, wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U:
		return api.ValueTypeI32, false, true
	case wasm.OpcodeI64Load, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		return api.ValueTypeI64, false, true
	case wasm.OpcodeF32Load:
		return api.ValueTypeF32, false, true
	case wasm.OpcodeF64Load:
		return api.ValueTypeF64, false, true
	case wasm.OpcodeI32Store, wasm.OpcodeI32Store8, wasm.OpcodeI32Store16:
		return api.ValueTypeI32, true, true
	case wasm.OpcodeI64Store, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
		return api.ValueTypeI64, true, true
	case wasm.OpcodeF32Store:
		return api.ValueTypeF32, true, true
	case wasm.OpcodeF64Store:
		return api.ValueTypeF64, true, true
	default:
		return 0, false, false
	}
}

func i32ToBool(v uint32) bool { return v != 0 }
func boolToI32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// truncTrap truncates f to an integer of the given bit width, trapping on
// NaN or out-of-range values per spec.md's non-nullable conversion
// semantics rather than saturating (that's what the *_sat instructions
// are for).
func truncTrap(f float64, signed bool, bits int) (uint64, error) {
	if math.IsNaN(f) {
		return 0, newTrap(TrapInvalidConversionToInteger, "NaN")
	}
	var lo, hi float64
	switch {
	case signed && bits == 32:
		lo, hi = -2147483649.0, 2147483648.0
	case !signed && bits == 32:
		lo, hi = -1.0, 4294967296.0
	case signed && bits == 64:
		lo, hi = -9223372036854777856.0, 9223372036854775808.0
	default: // !signed && bits == 64
		lo, hi = -1.0, 18446744073709551616.0
	}
	if f <= lo || f >= hi {
		return 0, newTrap(TrapIntegerOverflow, "value %v out of range", f)
	}
	t := math.Trunc(f)
	if signed {
		return uint64(int64(t)), nil
	}
	return uint64(t), nil
}

func truncSat(f float64, signed bool, bitsWide int) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case signed && bitsWide == 32:
		if t <= -2147483648.0 {
			return uint64(uint32(int32(math.MinInt32)))
		}
		if t >= 2147483648.0 {
			return uint64(uint32(int32(math.MaxInt32)))
		}
		return uint64(uint32(int32(t)))
	case !signed && bitsWide == 32:
		if t <= 0 {
			return 0
		}
		if t >= 4294967296.0 {
			return uint64(uint32(math.MaxUint32))
		}
		return uint64(uint32(t))
	case signed && bitsWide == 64:
		if t <= -9223372036854775808.0 {
			return uint64(int64(math.MinInt64))
		}
		if t >= 9223372036854775808.0 {
			return uint64(int64(math.MaxInt64))
		}
		return uint64(int64(t))
	default: // !signed && bitsWide == 64
		if t <= 0 {
			return 0
		}
		if t >= 18446744073709551615.0 {
			return math.MaxUint64
		}
		return uint64(t)
	}
}
