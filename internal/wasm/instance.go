package wasm

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PageSize is the size in bytes of one unit of linear memory growth, per
// the core spec (64 KiB).
const PageSize = 65536

// MaxPages bounds the number of pages a 32-bit memory can ever reach
// (2^16 pages * 64KiB == 2^32 bytes).
const MaxPages = 1 << 16

// HostFunction is the ABI a host-provided import satisfies (C6). params
// and the returned slice are raw Cell-compatible uint64s in the callee's
// declared parameter/result order; a HostFunction reads/writes the
// calling Instance's memory directly rather than through a copy.
//
// resume is nil on a fresh call. It is non-nil when this Call is a
// re-entry requested by the function's own prior return of a
// SuspendError (§4.4's restartable host calls): Step/User1/User2 are
// exactly what that SuspendError carried, letting the function resume
// whatever state machine it was in, and Results/Err hold the outcome of
// the callback it asked to run (nil/nil if it suspended without naming a
// callback target, meaning the embedder simply retried it later).
type HostFunction interface {
	Type() *FunctionType
	Call(inst *Instance, params []uint64, resume *HostCallResume) ([]uint64, error)
}

// HostCallResume is the continuation state a HostFunction receives when
// re-entered after a SuspendError it returned has been resolved.
type HostCallResume struct {
	Step         int
	User1, User2 uint64

	// Results/Err hold the outcome of the callback SuspendError.Target
	// named, if any. Both are zero when the function suspended with no
	// target (HasTarget false) and is simply being retried.
	Results []uint64
	Err     error
}

// SuspendError is returned by a HostFunction's Call to suspend instead of
// returning a result or trapping. Two shapes:
//
//   - HasTarget: the function wants Target (a func index in the calling
//     Instance's func index space, Wasm or host) called with Args before
//     it resumes; the interpreter runs Target and re-enters Call with
//     Results/Err in HostCallResume once Target finishes.
//   - no target: the function itself cannot make progress right now and
//     wants the embedder to resume it later (instance_execute_continue);
//     Step/User1/User2 come back unchanged and Results/Err stay nil.
//
// Step/User1/User2 are opaque to the interpreter: a function pushing a
// callback onto the stack must save here whatever scalar state its state
// machine needs to pick up where it left off.
type SuspendError struct {
	HasTarget    bool
	Target       Index
	Args         []uint64
	Step         int
	User1, User2 uint64
}

func (e *SuspendError) Error() string {
	if e.HasTarget {
		return "wasm: host call suspended pending a callback into the instance"
	}
	return "wasm: host call suspended, resume via instance_execute_continue"
}

// Suspend requests that the embedder resume this call later (e.g. once an
// external operation the host function started completes), with no
// callback into the instance in between.
func Suspend(step int, user1, user2 uint64) error {
	return &SuspendError{Step: step, User1: user1, User2: user2}
}

// SuspendCall requests that target run (with args) before this function
// resumes; see HostFunction's resume parameter for how the callback's
// outcome comes back.
func SuspendCall(target Index, args []uint64, step int, user1, user2 uint64) error {
	return &SuspendError{HasTarget: true, Target: target, Args: args, Step: step, User1: user1, User2: user2}
}

// WasmFuncInst identifies a defined (non-host) function: the Instance
// that owns its code and its index into that Instance's Module.Funcs.
type WasmFuncInst struct {
	Instance  *Instance
	FuncIndex Index // index into Instance.Module.Funcs, i.e. already offset past imports
}

// FuncInst is a resolved function value, in any of the module's func
// index space slots: exactly one of Wasm/Host is set.
type FuncInst struct {
	Type *FunctionType
	Wasm *WasmFuncInst
	Host HostFunction
}

// MemInst is an instantiated linear memory.
type MemInst struct {
	Limits Limits
	Data   []byte
}

// Grow attempts to grow m by delta pages, returning the previous size in
// pages and whether the grow succeeded. A failed grow per spec must not
// alter m.
func (m *MemInst) Grow(delta uint32) (oldPages uint32, ok bool) {
	old := uint32(len(m.Data) / PageSize)
	newPages := uint64(old) + uint64(delta)
	if newPages > MaxPages {
		return old, false
	}
	if m.Limits.HasMax && newPages > uint64(m.Limits.Max) {
		return old, false
	}
	grown := make([]byte, newPages*PageSize)
	copy(grown, m.Data)
	m.Data = grown
	return old, true
}

// TableInst is an instantiated table.
type TableInst struct {
	Type  TableType
	Elems []Reference
}

// Grow attempts to grow t by delta elements, filling new slots with init.
func (t *TableInst) Grow(delta uint32, init Reference) (oldSize uint32, ok bool) {
	old := uint32(len(t.Elems))
	newSize := uint64(old) + uint64(delta)
	if newSize > 1<<32-1 {
		return old, false
	}
	if t.Type.Limits.HasMax && newSize > uint64(t.Type.Limits.Max) {
		return old, false
	}
	grown := make([]Reference, newSize)
	copy(grown, t.Elems)
	for i := old; i < uint32(newSize); i++ {
		grown[i] = init
	}
	t.Elems = grown
	return old, true
}

// GlobalInst is an instantiated global variable. Value holds the raw
// bit pattern for numeric types; Ref holds the tagged reference for
// funcref/externref globals.
type GlobalInst struct {
	Type  GlobalType
	Value uint64
	Ref   Reference
}

// elemSegInst tracks a per-instance element segment's runtime state: its
// static Funcs/InitExprs never change, but elem.drop (and a declarative
// segment, dropped at instantiation time) makes it unavailable to a later
// table.init.
type elemSegInst struct {
	def     *Element
	dropped bool
}

// dataSegInst is the data-section counterpart of elemSegInst.
type dataSegInst struct {
	def     *Data
	dropped bool
}

// Instance is a module instantiated against a concrete set of imports:
// the mutable state (memories, tables, globals, and the function index
// space joining imports to definitions) that an ExecContext operates on.
//
// Tables/Mems/Globals hold pointers, not values: an imported table/mem/
// global is the same *TableInst/*MemInst/*GlobalInst the exporting
// instance holds (per spec.md §3, imports are shared references whose
// lifetime must outlive the instance), so a write through one instance
// - including a memory.grow reallocating Data - is visible through every
// other instance that imported it. Defined (non-imported) entries get
// their own freshly allocated pointee in Instantiate.
type Instance struct {
	Module *Module

	Funcs   []FuncInst
	Tables  []*TableInst
	Mems    []*MemInst
	Globals []*GlobalInst

	elems []elemSegInst
	datas []dataSegInst

	// Dropped during wasi-threads/cluster teardown; see internal/cluster.
	// Instances are otherwise free of concurrency concerns of their own:
	// an ExecContext (one per thread) references an Instance, never owns
	// one, so two threads sharing a module share a *Instance too.
}

// ImportEntry is one name binding contributed by an ImportObject: exactly
// one of the four fields is populated, selected by Kind.
type ImportEntry struct {
	Kind ImportKind

	Func   FuncInst
	Table  *TableInst
	Mem    *MemInst
	Global *GlobalInst
}

// ImportObject is a singly-linked list of named binding sets, mirroring
// toywasm's import_object chain: instantiation resolves each of a
// module's imports by module name and then by entry name, searching the
// chain head-first so the first link to define a given (module, name)
// pair wins, letting a caller override part of an otherwise-shared import
// object by prepending a new link.
type ImportObject struct {
	ModuleName string
	Entries    map[string]ImportEntry
	Next       *ImportObject
}

// NewImportObject returns a single-link ImportObject exposing entries
// under moduleName.
func NewImportObject(moduleName string) *ImportObject {
	return &ImportObject{ModuleName: moduleName, Entries: map[string]ImportEntry{}}
}

// Chain links rest onto the end of io's list so io's own bindings take
// precedence over anything rest provides for the same (module, name).
func (io *ImportObject) Chain(rest *ImportObject) *ImportObject {
	if io == nil {
		return rest
	}
	head := io
	for head.Next != nil {
		head = head.Next
	}
	head.Next = rest
	return io
}

// resolve searches the chain for moduleName/name, returning the first
// match found.
func (io *ImportObject) resolve(moduleName, name string) (ImportEntry, bool) {
	for n := io; n != nil; n = n.Next {
		if n.ModuleName != moduleName {
			continue
		}
		if e, ok := n.Entries[name]; ok {
			return e, true
		}
	}
	return ImportEntry{}, false
}

// InvokeFunc runs funcIdx (a defined function, i.e. already resolved past
// the start function's own index space) to completion and returns its
// results. Instantiate takes one of these rather than depending on
// internal/interpreter directly, so the start function can be executed
// without this package importing the engine that executes it.
type InvokeFunc func(inst *Instance, funcIdx Index, args []uint64) ([]uint64, error)

// Instantiate runs the instantiation pipeline described by spec.md §4.3:
// resolve imports, allocate funcs/tables/mems/globals, run global
// initialisers, process element and data segments, and finally invoke
// the start function if present. Grounded on toywasm's instance_create.
func Instantiate(m *Module, imports *ImportObject, invoke InvokeFunc, log *logrus.Logger) (inst *Instance, err error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	inst = &Instance{Module: m}

	// Step 1: resolve imports. Every failure is collected so a caller
	// debugging a missing host module sees every broken import in one
	// report instead of one-at-a-time.
	var linkErrs *multierror.Error
	for _, imp := range m.Imports {
		entry, ok := imports.resolve(imp.Module, imp.Name)
		if !ok {
			linkErrs = multierror.Append(linkErrs, newLinkError(imp.Module, imp.Name, LinkErrorNoEntry, "no such import"))
			continue
		}
		if entry.Kind != imp.Kind {
			linkErrs = multierror.Append(linkErrs, newLinkError(imp.Module, imp.Name, LinkErrorKindMismatch,
				fmt.Sprintf("expected %s, import object provides %s", imp.Kind, entry.Kind)))
			continue
		}
		switch imp.Kind {
		case ImportKindFunc:
			want := &m.Types[imp.DescFunc]
			if !want.Equal(entry.Func.Type) {
				linkErrs = multierror.Append(linkErrs, newLinkError(imp.Module, imp.Name, LinkErrorTypeMismatch,
					fmt.Sprintf("expected %s, got %s", want, entry.Func.Type)))
				continue
			}
			inst.Funcs = append(inst.Funcs, entry.Func)
		case ImportKindTable:
			if entry.Table == nil || entry.Table.Type.ElemType != imp.DescTable.ElemType || !MatchLimits(entry.Table.Type.Limits, imp.DescTable.Limits) {
				linkErrs = multierror.Append(linkErrs, newLinkError(imp.Module, imp.Name, LinkErrorTypeMismatch, "table type mismatch"))
				continue
			}
			inst.Tables = append(inst.Tables, entry.Table)
		case ImportKindMemory:
			if entry.Mem == nil || !MatchLimits(entry.Mem.Limits, imp.DescMemory) {
				linkErrs = multierror.Append(linkErrs, newLinkError(imp.Module, imp.Name, LinkErrorTypeMismatch, "memory limits mismatch"))
				continue
			}
			inst.Mems = append(inst.Mems, entry.Mem)
		case ImportKindGlobal:
			if entry.Global == nil || entry.Global.Type != imp.DescGlobal {
				linkErrs = multierror.Append(linkErrs, newLinkError(imp.Module, imp.Name, LinkErrorTypeMismatch, "global type mismatch"))
				continue
			}
			inst.Globals = append(inst.Globals, entry.Global)
		}
	}
	if linkErrs.ErrorOrNil() != nil {
		return nil, errors.WithStack(linkErrs)
	}

	// Step 2: allocate defined functions. FuncIndex is recorded relative
	// to Module.Funcs (definitions only); the absolute func-index-space
	// position of Funcs[i] is NumImportedFuncs+i, same convention module.go
	// uses throughout.
	for i := range m.Funcs {
		inst.Funcs = append(inst.Funcs, FuncInst{
			Type: m.FunctionType(m.NumImportedFuncs + uint32(i)),
			Wasm: &WasmFuncInst{Instance: inst, FuncIndex: uint32(i)},
		})
	}

	// Step 3: allocate defined tables.
	for _, tt := range m.Tables {
		elems := make([]Reference, tt.Limits.Min)
		for i := range elems {
			elems[i] = Null
		}
		inst.Tables = append(inst.Tables, &TableInst{Type: tt, Elems: elems})
	}

	// Step 4: allocate defined memories.
	for _, lim := range m.Mems {
		inst.Mems = append(inst.Mems, &MemInst{Limits: lim, Data: make([]byte, uint64(lim.Min)*PageSize)})
	}

	// Step 5: allocate defined globals and run their initialisers. A
	// global initialiser may only reference *imported* globals (enforced
	// by the validator), so it is always safe to evaluate in the order
	// declared even though inst.Globals is still being built up.
	for _, g := range m.Globals {
		val, ref, err := evalConstExpr(inst, m, g.Init)
		if err != nil {
			return nil, err
		}
		inst.Globals = append(inst.Globals, &GlobalInst{Type: g.Type, Value: val, Ref: ref})
	}

	// Step 6: process element segments.
	inst.elems = make([]elemSegInst, len(m.Elems))
	for i := range m.Elems {
		e := &m.Elems[i]
		inst.elems[i] = elemSegInst{def: e}
		switch e.Mode {
		case ElementModeDeclarative:
			inst.elems[i].dropped = true
		case ElementModeActive:
			refs, err := evalElementRefs(inst, m, e)
			if err != nil {
				return nil, err
			}
			offVal, _, err := evalConstExpr(inst, m, e.Offset)
			if err != nil {
				return nil, err
			}
			off := uint32(offVal)
			tbl := inst.Tables[e.Table]
			if uint64(off)+uint64(len(refs)) > uint64(len(tbl.Elems)) {
				return nil, newValidationError(e.Offset.Start, "active element segment out of table bounds")
			}
			copy(tbl.Elems[off:], refs)
		}
	}

	// Step 7: process data segments.
	inst.datas = make([]dataSegInst, len(m.Datas))
	for i := range m.Datas {
		d := &m.Datas[i]
		inst.datas[i] = dataSegInst{def: d}
		if d.Mode != DataModeActive {
			continue
		}
		offVal, _, err := evalConstExpr(inst, m, d.Offset)
		if err != nil {
			return nil, err
		}
		off := uint32(offVal)
		mem := inst.Mems[d.Memory]
		if uint64(off)+uint64(len(d.Init)) > uint64(len(mem.Data)) {
			return nil, newValidationError(d.Offset.Start, "active data segment out of memory bounds")
		}
		copy(mem.Data[off:], d.Init)
	}

	// Step 8: invoke the start function, if any. A trap here aborts
	// instantiation entirely: the caller gets no Instance back, matching
	// toywasm's instance_create behaviour of tearing down on a failed
	// start call.
	if m.HasStart {
		if invoke == nil {
			return nil, errors.New("wasm: module declares a start function but no InvokeFunc was supplied")
		}
		if _, err := invoke(inst, m.Start, nil); err != nil {
			return nil, errors.Wrap(err, "start function trapped")
		}
	}

	log.WithField("module", "instantiate").Debugf("instantiated module with %d funcs, %d tables, %d mems, %d globals",
		len(inst.Funcs), len(inst.Tables), len(inst.Mems), len(inst.Globals))
	return inst, nil
}

// evalElementRefs materialises the Reference values an element segment
// contributes, from whichever of Funcs/InitExprs is populated.
func evalElementRefs(inst *Instance, m *Module, e *Element) ([]Reference, error) {
	if e.Funcs != nil {
		out := make([]Reference, len(e.Funcs))
		for i, fi := range e.Funcs {
			out[i] = Reference{Kind: ReferenceKindFunc, Func: fi}
		}
		return out, nil
	}
	out := make([]Reference, len(e.InitExprs))
	for i, ie := range e.InitExprs {
		_, ref, err := evalConstExpr(inst, m, ie)
		if err != nil {
			return nil, err
		}
		out[i] = ref
	}
	return out, nil
}

// evalConstExpr evaluates a constant expression in isolation from the
// main interpreter (instantiation runs before any ExecContext exists).
// Per spec.md §4.3 step 5 the grammar is small enough that a dedicated
// mini-evaluator is simpler and cheaper than standing up a full
// interpreter frame just to run one instruction; this mirrors toywasm's
// eval_const_expr in instance.c.
func evalConstExpr(inst *Instance, m *Module, e Expr) (value uint64, ref Reference, err error) {
	r := reader{b: m.Bin, pos: e.Start}
	for {
		op, rerr := r.requireByte()
		if rerr != nil {
			return 0, Null, rerr
		}
		switch op {
		case OpcodeEnd:
			return value, ref, nil
		case OpcodeI32Const:
			v, rerr := r.i32()
			if rerr != nil {
				return 0, Null, rerr
			}
			value = uint64(uint32(v))
		case OpcodeI64Const:
			v, rerr := r.i64()
			if rerr != nil {
				return 0, Null, rerr
			}
			value = uint64(v)
		case OpcodeF32Const:
			v, rerr := r.f32()
			if rerr != nil {
				return 0, Null, rerr
			}
			value = uint64(v)
		case OpcodeF64Const:
			v, rerr := r.f64()
			if rerr != nil {
				return 0, Null, rerr
			}
			value = v
		case OpcodeRefNull:
			if _, rerr := r.valueType(); rerr != nil {
				return 0, Null, rerr
			}
			ref = Null
		case OpcodeRefFunc:
			idx, rerr := r.u32()
			if rerr != nil {
				return 0, Null, rerr
			}
			ref = Reference{Kind: ReferenceKindFunc, Func: idx}
		case OpcodeGlobalGet:
			idx, rerr := r.u32()
			if rerr != nil {
				return 0, Null, rerr
			}
			g := inst.Globals[idx]
			value, ref = g.Value, g.Ref
		default:
			return 0, Null, newValidationError(r.pos-1, "opcode %#x is not valid in a constant expression", op)
		}
	}
}

// DropElement marks element segment idx dropped (elem.drop), so a later
// table.init referencing it traps.
func (inst *Instance) DropElement(idx Index) { inst.elems[idx].dropped = true }

// DropData marks data segment idx dropped (data.drop).
func (inst *Instance) DropData(idx Index) { inst.datas[idx].dropped = true }

// ElementRefs returns the live contents of element segment idx, or false
// if it has been dropped (including declarative segments, dropped at
// instantiation time).
func (inst *Instance) ElementRefs(idx Index) ([]Reference, bool) {
	seg := &inst.elems[idx]
	if seg.dropped {
		return nil, false
	}
	refs, err := evalElementRefs(inst, inst.Module, seg.def)
	if err != nil {
		return nil, false
	}
	return refs, true
}

// DataBytes returns the live contents of data segment idx, or false if it
// has been dropped.
func (inst *Instance) DataBytes(idx Index) ([]byte, bool) {
	seg := &inst.datas[idx]
	if seg.dropped {
		return nil, false
	}
	return seg.def.Init, true
}
