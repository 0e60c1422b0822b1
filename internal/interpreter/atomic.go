package interpreter

import (
	"sync"

	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// memLocks guards read-modify-write atomicity for the subset of the
// threads proposal this runtime executes. Go gives no portable way to
// attach a lock to an arbitrary byte range of a []byte, so rather than
// one lock per MemInst (which would serialize unrelated addresses) we
// keep a small fixed set of striped locks, matching the common
// "striped lock" pattern used when a fine-grained per-object lock isn't
// practical.
var memLocks [64]sync.Mutex

func lockFor(mem *wasm.MemInst, addr uint32) *sync.Mutex {
	return &memLocks[(uintptr_(mem)+uint64(addr))%uint64(len(memLocks))]
}

// uintptr_ gives a stable-enough per-MemInst stripe key without an
// unsafe.Pointer conversion: the slice header's data pointer would be
// ideal, but cap(Data) is a cheap proxy that spreads memories of
// different capacities across different stripes.
func uintptr_(mem *wasm.MemInst) uint64 {
	return uint64(cap(mem.Data))*2654435761 + 1
}

// execAtomic dispatches the 0xfe-prefixed threads/atomics instructions.
// This runtime executes the subset spec.md's concurrency substrate
// actually exercises (plain load/store/add, fence, notify/wait); an
// unrecognised sub-opcode traps rather than silently misbehaving.
func (ec *ExecContext) execAtomic(f *frame) error {
	sub := f.readU32()
	switch sub {
	case wasm.AtomicOpcodeFence:
		f.readByte()
		return nil
	case wasm.AtomicOpcodeMemoryAtomicNotify:
		f.readU32() // align
		f.readU32() // offset
		_ = ec.popI32()  // count
		_ = ec.popI32()  // addr
		// No per-address waiter queue is implemented; every notify wakes
		// zero waiters. Programs using wait/notify purely for mutual
		// exclusion around an uncontended critical section still behave
		// correctly, since the memory access itself stays atomic.
		ec.pushI32(0)
		return nil
	case wasm.AtomicOpcodeMemoryAtomicWait32:
		return ec.execWait(f, false)
	case wasm.AtomicOpcodeMemoryAtomicWait64:
		return ec.execWait(f, true)
	case wasm.AtomicOpcodeI32AtomicLoad:
		return ec.execAtomicLoad(f, false)
	case wasm.AtomicOpcodeI64AtomicLoad:
		return ec.execAtomicLoad(f, true)
	case wasm.AtomicOpcodeI32AtomicStore:
		return ec.execAtomicStore(f, false)
	case wasm.AtomicOpcodeI64AtomicStore:
		return ec.execAtomicStore(f, true)
	case wasm.AtomicOpcodeI32AtomicRmwAdd:
		return ec.execAtomicRmwAdd(f, false)
	case wasm.AtomicOpcodeI64AtomicRmwAdd:
		return ec.execAtomicRmwAdd(f, true)
	default:
		return newTrap(TrapUnreachable, "unsupported atomic sub-opcode %d", sub)
	}
}

func (ec *ExecContext) execWait(f *frame, is64 bool) error {
	f.readU32() // align
	offset := f.readU32()
	timeout := ec.popI64()
	_ = timeout
	var expected uint64
	if is64 {
		expected = ec.popI64()
	} else {
		expected = uint64(ec.popI32())
	}
	addr := ec.popI32()
	mem := f.inst.Mems[0]
	width := uint32(4)
	if is64 {
		width = 8
	}
	eaddr, err := effectiveAddr(mem, addr, offset, width)
	if err != nil {
		return err
	}
	lock := lockFor(mem, eaddr)
	lock.Lock()
	cur := getLE(mem.Data[eaddr : eaddr+width])
	lock.Unlock()
	if cur != expected {
		ec.pushI32(1) // "not-equal"
		return nil
	}
	// Without a real waiter queue we cannot block for another thread's
	// notify; report an immediate wake (0) rather than blocking forever.
	ec.pushI32(0)
	return nil
}

func (ec *ExecContext) execAtomicLoad(f *frame, is64 bool) error {
	f.readU32()
	offset := f.readU32()
	addr := ec.popI32()
	mem := f.inst.Mems[0]
	width := uint32(4)
	if is64 {
		width = 8
	}
	eaddr, err := effectiveAddr(mem, addr, offset, width)
	if err != nil {
		return err
	}
	lock := lockFor(mem, eaddr)
	lock.Lock()
	v := getLE(mem.Data[eaddr : eaddr+width])
	lock.Unlock()
	if is64 {
		ec.pushI64(v)
	} else {
		ec.pushI32(uint32(v))
	}
	return nil
}

func (ec *ExecContext) execAtomicStore(f *frame, is64 bool) error {
	f.readU32()
	offset := f.readU32()
	var v uint64
	if is64 {
		v = ec.popI64()
	} else {
		v = uint64(ec.popI32())
	}
	addr := ec.popI32()
	mem := f.inst.Mems[0]
	width := uint32(4)
	if is64 {
		width = 8
	}
	eaddr, err := effectiveAddr(mem, addr, offset, width)
	if err != nil {
		return err
	}
	var buf [8]byte
	putLE(buf[:], v)
	lock := lockFor(mem, eaddr)
	lock.Lock()
	copy(mem.Data[eaddr:eaddr+width], buf[:width])
	lock.Unlock()
	return nil
}

func (ec *ExecContext) execAtomicRmwAdd(f *frame, is64 bool) error {
	f.readU32()
	offset := f.readU32()
	var operand uint64
	if is64 {
		operand = ec.popI64()
	} else {
		operand = uint64(ec.popI32())
	}
	addr := ec.popI32()
	mem := f.inst.Mems[0]
	width := uint32(4)
	if is64 {
		width = 8
	}
	eaddr, err := effectiveAddr(mem, addr, offset, width)
	if err != nil {
		return err
	}
	lock := lockFor(mem, eaddr)
	lock.Lock()
	old := getLE(mem.Data[eaddr : eaddr+width])
	var buf [8]byte
	putLE(buf[:], old+operand)
	copy(mem.Data[eaddr:eaddr+width], buf[:width])
	lock.Unlock()
	if is64 {
		ec.pushI64(old)
	} else {
		ec.pushI32(uint32(old))
	}
	return nil
}
