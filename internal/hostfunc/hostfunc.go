// Package hostfunc implements the host-function ABI (C6): registering a Go
// function as a Wasm import, parsing toywasm's compact type-string
// signatures, and copying bytes between host and Wasm linear memory safely
// across a memory.grow that may relocate the backing array mid-call.
//
// Grounded on original_source/host_instance.c (import_object_create_for_host_funcs)
// and original_source/type.h's functype_from_string signature convention.
package hostfunc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// Func is a single host function entry, mirroring struct host_func: a name,
// a compact type signature, and the Go implementation.
type Func struct {
	Name string
	Sig  string // e.g. "(ii)i": params then ")" then results, one letter each
	Impl func(inst *wasm.Instance, params []uint64) ([]uint64, error)
}

// boundFunc adapts a Func to wasm.HostFunction once its signature has been
// parsed, so FunctionType parsing happens once at registration time rather
// than on every call.
type boundFunc struct {
	ft   *wasm.FunctionType
	impl func(inst *wasm.Instance, params []uint64) ([]uint64, error)
}

func (b *boundFunc) Type() *wasm.FunctionType { return b.ft }

// Call satisfies wasm.HostFunction. Func.Impl never suspends (none of
// the simple host functions this package registers need to call back
// into the instance), so resume is always nil here and is ignored; a
// host function that does need §4.4's restart machinery implements
// wasm.HostFunction directly instead of going through Func/Impl.
func (b *boundFunc) Call(inst *wasm.Instance, params []uint64, resume *wasm.HostCallResume) ([]uint64, error) {
	return b.impl(inst, params)
}

// letterType maps one signature letter to its api.ValueType.
func letterType(c byte) (api.ValueType, error) {
	switch c {
	case 'i':
		return api.ValueTypeI32, nil
	case 'I':
		return api.ValueTypeI64, nil
	case 'f':
		return api.ValueTypeF32, nil
	case 'F':
		return api.ValueTypeF64, nil
	case 'r':
		return api.ValueTypeFuncref, nil
	case 'e':
		return api.ValueTypeExternref, nil
	default:
		return 0, errors.Errorf("unknown type letter %q", c)
	}
}

// ParseSignature parses a toywasm-style compact signature, e.g. "(iI)i" for
// a function taking (i32, i64) and returning i32, or "(i)" for one
// returning nothing. Grounded on type.h's functype_from_string contract.
func ParseSignature(sig string) (*wasm.FunctionType, error) {
	if len(sig) < 2 || sig[0] != '(' {
		return nil, errors.Errorf("malformed signature %q: must start with '('", sig)
	}
	close := -1
	for i := 1; i < len(sig); i++ {
		if sig[i] == ')' {
			close = i
			break
		}
	}
	if close < 0 {
		return nil, errors.Errorf("malformed signature %q: missing ')'", sig)
	}
	ft := &wasm.FunctionType{}
	for i := 1; i < close; i++ {
		t, err := letterType(sig[i])
		if err != nil {
			return nil, errors.Wrapf(err, "signature %q params", sig)
		}
		ft.Params = append(ft.Params, t)
	}
	for i := close + 1; i < len(sig); i++ {
		t, err := letterType(sig[i])
		if err != nil {
			return nil, errors.Wrapf(err, "signature %q results", sig)
		}
		ft.Results = append(ft.Results, t)
	}
	return ft, nil
}

// NewImportObject builds an ImportObject exposing funcs under moduleName,
// mirroring import_object_create_for_host_funcs. Each Func's signature is
// parsed once, up front; a malformed signature fails the whole batch so a
// typo in one host function can't silently export the wrong arity.
func NewImportObject(moduleName string, funcs []Func) (*wasm.ImportObject, error) {
	io := wasm.NewImportObject(moduleName)
	for _, f := range funcs {
		ft, err := ParseSignature(f.Sig)
		if err != nil {
			return nil, errors.Wrapf(err, "host function %s.%s", moduleName, f.Name)
		}
		io.Entries[f.Name] = wasm.ImportEntry{
			Kind: wasm.ImportKindFunc,
			Func: wasm.FuncInst{
				Type: ft,
				Host: &boundFunc{ft: ft, impl: f.Impl},
			},
		}
	}
	return io, nil
}

// ErrMemoryMoved reports that a nested call (reachable when a host
// function calls back into Wasm, e.g. wasi's poll_oneoff) grew memory and
// the backing array was reallocated, so any raw pointer into it the caller
// cached is stale and must be recomputed. CopyIn/CopyOut do not return
// it: they index memory 0's current Data on every call.
var ErrMemoryMoved = errors.New("hostfunc: memory was relocated by memory.grow during the call, retry with the current base")

// CopyOut copies size bytes out of inst's memory 0 at wasmAddr into dst,
// validating the range against the (current) memory size first. align
// documents the field's required alignment per the Wasm ABI; violating it
// is a host function bug, not a guest-triggerable condition, so it panics
// rather than returning an error.
func CopyOut(inst *wasm.Instance, dst []byte, wasmAddr, size, align uint32) error {
	if wasmAddr%align != 0 {
		panic(fmt.Sprintf("hostfunc: address %#x is not %d-aligned", wasmAddr, align))
	}
	mem := inst.Mems[0]
	if uint64(wasmAddr)+uint64(size) > uint64(len(mem.Data)) {
		return errors.Errorf("hostfunc: copyout [%#x, %#x) exceeds memory size %d", wasmAddr, uint64(wasmAddr)+uint64(size), len(mem.Data))
	}
	copy(dst, mem.Data[wasmAddr:uint64(wasmAddr)+uint64(size)])
	return nil
}

// CopyIn copies src into inst's memory 0 at wasmAddr, with the same bounds
// and alignment checks as CopyOut.
func CopyIn(inst *wasm.Instance, wasmAddr uint32, src []byte, align uint32) error {
	if wasmAddr%align != 0 {
		panic(fmt.Sprintf("hostfunc: address %#x is not %d-aligned", wasmAddr, align))
	}
	mem := inst.Mems[0]
	size := uint32(len(src))
	if uint64(wasmAddr)+uint64(size) > uint64(len(mem.Data)) {
		return errors.Errorf("hostfunc: copyin [%#x, %#x) exceeds memory size %d", wasmAddr, uint64(wasmAddr)+uint64(size), len(mem.Data))
	}
	copy(mem.Data[wasmAddr:uint64(wasmAddr)+uint64(size)], src)
	return nil
}

// MemorySnapshot captures the identity of inst's memory 0 backing array, so
// a host function that holds a raw byte slice across a call that could
// trigger memory.grow (e.g. invoking back into the guest) can detect
// relocation afterward by comparing snapshots, per §4.5's "moved" signal.
type MemorySnapshot struct {
	basePtr *byte
	size    int
}

// Snapshot records inst's current memory 0 identity.
func Snapshot(inst *wasm.Instance) MemorySnapshot {
	mem := inst.Mems[0]
	if len(mem.Data) == 0 {
		return MemorySnapshot{}
	}
	return MemorySnapshot{basePtr: &mem.Data[0], size: len(mem.Data)}
}

// Moved reports whether inst's memory 0 has been relocated or resized since
// s was captured.
func (s MemorySnapshot) Moved(inst *wasm.Instance) bool {
	mem := inst.Mems[0]
	if len(mem.Data) == 0 {
		return s.basePtr != nil
	}
	return s.basePtr != &mem.Data[0] || s.size != len(mem.Data)
}
