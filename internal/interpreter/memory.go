package interpreter

import (
	"math"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// effectiveAddr computes the byte address a memarg-bearing instruction
// accesses, trapping on overflow or out-of-bounds rather than silently
// wrapping, per spec.md's memory-safety invariant.
func effectiveAddr(mem *wasm.MemInst, base uint32, offset uint32, width uint32) (uint32, error) {
	addr := uint64(base) + uint64(offset)
	if addr+uint64(width) > uint64(len(mem.Data)) {
		return 0, newTrap(TrapOutOfBoundsMemoryAccess, "address %d+%d exceeds memory size %d", addr, width, len(mem.Data))
	}
	return uint32(addr), nil
}

func (ec *ExecContext) execMemOp(f *frame, op wasm.Opcode) error {
	_ = f.readU32() // align hint, unused by this interpreter
	offset := f.readU32()
	mem := f.inst.Mems[0]
	vt, isStore, _ := memArgShape(op)

	width := byteWidth(op)
	if isStore {
		var bytes8 [8]byte
		var v uint64
		if vt == api.ValueTypeI64 || vt == api.ValueTypeF64 {
			v = ec.popI64()
		} else {
			v = uint64(ec.popI32())
		}
		base := ec.popI32()
		addr, err := effectiveAddr(mem, base, offset, width)
		if err != nil {
			return err
		}
		putLE(bytes8[:], v)
		copy(mem.Data[addr:addr+width], bytes8[:width])
		return nil
	}

	base := ec.popI32()
	addr, err := effectiveAddr(mem, base, offset, width)
	if err != nil {
		return err
	}
	raw := getLE(mem.Data[addr : addr+width])
	switch op {
	case wasm.OpcodeI32Load8S:
		ec.pushI32(uint32(int32(int8(raw))))
	case wasm.OpcodeI32Load16S:
		ec.pushI32(uint32(int32(int16(raw))))
	case wasm.OpcodeI64Load8S:
		ec.pushI64(uint64(int64(int8(raw))))
	case wasm.OpcodeI64Load16S:
		ec.pushI64(uint64(int64(int16(raw))))
	case wasm.OpcodeI64Load32S:
		ec.pushI64(uint64(int64(int32(raw))))
	default:
		if vt == api.ValueTypeI64 || vt == api.ValueTypeF64 {
			ec.pushI64(raw)
		} else {
			ec.pushI32(uint32(raw))
		}
	}
	return nil
}

// byteWidth returns the number of bytes a load/store touches, which for
// the narrow forms (i32.load8_u etc) differs from the pushed/popped
// value's cell width.
func byteWidth(op wasm.Opcode) uint32 {
	switch op {
	case wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U,
		wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		return 1
	case wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		return 2
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load, wasm.OpcodeI32Store, wasm.OpcodeF32Store,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U, wasm.OpcodeI64Store32:
		return 4
	default: // i64/f64 full width
		return 8
	}
}

func putLE(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v)
		v >>= 8
	}
}

func getLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// execMisc dispatches the 0xfc-prefixed bulk-memory/table and saturating
// truncation instructions.
func (ec *ExecContext) execMisc(f *frame) error {
	sub := f.readU32()
	switch sub {
	case wasm.MiscOpcodeI32TruncSatF32S:
		return ec.truncSatPush(true, 32, true)
	case wasm.MiscOpcodeI32TruncSatF32U:
		return ec.truncSatPush(true, 32, false)
	case wasm.MiscOpcodeI32TruncSatF64S:
		return ec.truncSatPush(false, 32, true)
	case wasm.MiscOpcodeI32TruncSatF64U:
		return ec.truncSatPush(false, 32, false)
	case wasm.MiscOpcodeI64TruncSatF32S:
		return ec.truncSatPush(true, 64, true)
	case wasm.MiscOpcodeI64TruncSatF32U:
		return ec.truncSatPush(true, 64, false)
	case wasm.MiscOpcodeI64TruncSatF64S:
		return ec.truncSatPush(false, 64, true)
	case wasm.MiscOpcodeI64TruncSatF64U:
		return ec.truncSatPush(false, 64, false)
	case wasm.MiscOpcodeMemoryInit:
		return ec.execMemoryInit(f)
	case wasm.MiscOpcodeDataDrop:
		idx := f.readU32()
		f.inst.DropData(idx)
		return nil
	case wasm.MiscOpcodeMemoryCopy:
		f.readByte()
		f.readByte()
		return ec.execMemoryCopy(f)
	case wasm.MiscOpcodeMemoryFill:
		f.readByte()
		return ec.execMemoryFill(f)
	case wasm.MiscOpcodeTableInit:
		return ec.execTableInit(f)
	case wasm.MiscOpcodeElemDrop:
		idx := f.readU32()
		f.inst.DropElement(idx)
		return nil
	case wasm.MiscOpcodeTableCopy:
		return ec.execTableCopy(f)
	case wasm.MiscOpcodeTableGrow:
		idx := f.readU32()
		t := f.inst.Tables[idx]
		n := ec.popI32()
		init := ec.popRef()
		old, ok := t.Grow(n, init)
		if !ok {
			ec.pushI32(0xffffffff)
		} else {
			ec.pushI32(old)
		}
		return nil
	case wasm.MiscOpcodeTableSize:
		idx := f.readU32()
		ec.pushI32(uint32(len(f.inst.Tables[idx].Elems)))
		return nil
	case wasm.MiscOpcodeTableFill:
		idx := f.readU32()
		t := f.inst.Tables[idx]
		n := ec.popI32()
		val := ec.popRef()
		i := ec.popI32()
		if uint64(i)+uint64(n) > uint64(len(t.Elems)) {
			return newTrap(TrapOutOfBoundsTableAccess, "table.fill out of bounds")
		}
		for j := uint32(0); j < n; j++ {
			t.Elems[i+j] = val
		}
		return nil
	default:
		return newTrap(TrapUnreachable, "unsupported 0xfc sub-opcode %d", sub)
	}
}

func (ec *ExecContext) truncSatPush(isF32 bool, intBits int, signed bool) error {
	var f float64
	if isF32 {
		f = float64(math.Float32frombits(ec.popF32()))
	} else {
		f = math.Float64frombits(ec.popF64())
	}
	v := truncSat(f, signed, intBits)
	if intBits == 32 {
		ec.pushI32(uint32(v))
	} else {
		ec.pushI64(v)
	}
	return nil
}

func (ec *ExecContext) execMemoryInit(f *frame) error {
	dataIdx := f.readU32()
	f.readByte() // memidx, always 0
	n := ec.popI32()
	src := ec.popI32()
	dst := ec.popI32()
	data, ok := f.inst.DataBytes(dataIdx)
	if !ok {
		return newTrap(TrapOutOfBoundsMemoryAccess, "memory.init on dropped data segment")
	}
	if uint64(src)+uint64(n) > uint64(len(data)) {
		return newTrap(TrapOutOfBoundsMemoryAccess, "memory.init source out of bounds")
	}
	mem := f.inst.Mems[0]
	if uint64(dst)+uint64(n) > uint64(len(mem.Data)) {
		return newTrap(TrapOutOfBoundsMemoryAccess, "memory.init destination out of bounds")
	}
	copy(mem.Data[dst:dst+n], data[src:src+n])
	return nil
}

func (ec *ExecContext) execMemoryCopy(f *frame) error {
	n := ec.popI32()
	src := ec.popI32()
	dst := ec.popI32()
	mem := f.inst.Mems[0]
	if uint64(src)+uint64(n) > uint64(len(mem.Data)) || uint64(dst)+uint64(n) > uint64(len(mem.Data)) {
		return newTrap(TrapOutOfBoundsMemoryAccess, "memory.copy out of bounds")
	}
	copy(mem.Data[dst:dst+n], mem.Data[src:src+n])
	return nil
}

func (ec *ExecContext) execMemoryFill(f *frame) error {
	n := ec.popI32()
	val := byte(ec.popI32())
	dst := ec.popI32()
	mem := f.inst.Mems[0]
	if uint64(dst)+uint64(n) > uint64(len(mem.Data)) {
		return newTrap(TrapOutOfBoundsMemoryAccess, "memory.fill out of bounds")
	}
	for i := uint32(0); i < n; i++ {
		mem.Data[dst+i] = val
	}
	return nil
}

func (ec *ExecContext) execTableInit(f *frame) error {
	elemIdx := f.readU32()
	tableIdx := f.readU32()
	n := ec.popI32()
	src := ec.popI32()
	dst := ec.popI32()
	refs, ok := f.inst.ElementRefs(elemIdx)
	if !ok {
		return newTrap(TrapOutOfBoundsTableAccess, "table.init on dropped element segment")
	}
	if uint64(src)+uint64(n) > uint64(len(refs)) {
		return newTrap(TrapOutOfBoundsTableAccess, "table.init source out of bounds")
	}
	t := f.inst.Tables[tableIdx]
	if uint64(dst)+uint64(n) > uint64(len(t.Elems)) {
		return newTrap(TrapOutOfBoundsTableAccess, "table.init destination out of bounds")
	}
	copy(t.Elems[dst:dst+n], refs[src:src+n])
	return nil
}

func (ec *ExecContext) execTableCopy(f *frame) error {
	dstIdx := f.readU32()
	srcIdx := f.readU32()
	n := ec.popI32()
	src := ec.popI32()
	dst := ec.popI32()
	srcT := f.inst.Tables[srcIdx]
	dstT := f.inst.Tables[dstIdx]
	if uint64(src)+uint64(n) > uint64(len(srcT.Elems)) || uint64(dst)+uint64(n) > uint64(len(dstT.Elems)) {
		return newTrap(TrapOutOfBoundsTableAccess, "table.copy out of bounds")
	}
	copy(dstT.Elems[dst:dst+n], srcT.Elems[src:src+n])
	return nil
}
