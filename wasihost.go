package toywasm

import (
	"github.com/yamt/toywasm-sub002/internal/wasm"
	"github.com/yamt/toywasm-sub002/wasi"
	"github.com/yamt/toywasm-sub002/wasithreads"
)

// WASI is an embedder-facing handle on a wasi_snapshot_preview1 host
// module bound to this Runtime's cluster and logger, re-exported so
// callers need not import the wasi package directly.
type WASI struct {
	inst *wasi.Instance
}

// NewWASI implements the setup half of import_object_create_for_wasi:
// creates a wasi instance with the given argv/environ, bound to r's
// cluster so proc_exit can raise the cluster interrupt.
func (r *Runtime) NewWASI(args, environ []string) *WASI {
	return &WASI{inst: wasi.NewInstance(r.cluster, args, environ, r.log)}
}

// ImportObjectForWASI implements import_object_create_for_wasi: builds the
// "wasi_snapshot_preview1" import object out.
func ImportObjectForWASI(w *WASI) (*ImportObject, error) {
	return w.inst.ImportObject()
}

// PrestatAdd implements wasi_instance_prestat_add: exposes hostPath as a
// preopened directory, returning the wasi fd it was assigned.
func (w *WASI) PrestatAdd(hostPath string) (uint32, error) {
	return w.inst.PrestatAdd(hostPath)
}

// ExitCode reports the code a guest's proc_exit call recorded, and
// whether proc_exit was ever called.
func (w *WASI) ExitCode() (code int, exited bool) {
	return w.inst.ExitCode(), w.inst.Exited()
}

// WasiThreads is an embedder-facing handle on a wasi-threads host module
// (thread_spawn), bound to one Module + ImportObject pair: every spawned
// thread re-instantiates that same pair sharing its `shared` memory.
type WasiThreads struct {
	inst *wasithreads.Instance
}

// NewWasiThreads wires up thread_spawn for m, to be linked against
// imports. newExec must return a fresh per-thread executor each call (a
// Runtime's NewExecContext().ExecuteFunc, adapted to wasithreads.Executor's
// shape, is the expected source).
func (r *Runtime) NewWasiThreads(m *Module, imports *ImportObject, newExec func() wasithreads.Executor) *WasiThreads {
	return &WasiThreads{inst: wasithreads.NewInstance(r.cluster, m.m, imports, newExec, r.log)}
}

// ImportObjectForWasiThreads exposes thread_spawn as an ImportObject,
// chainable onto a WASI import object via Chain.
func ImportObjectForWasiThreads(wt *WasiThreads) (*ImportObject, error) {
	return wt.inst.ImportObject()
}

// ExecutorFromRuntime adapts a Runtime's per-call ExecuteFunc into the
// wasithreads.Executor shape thread_spawn needs: a plain (inst, funcIdx,
// args) -> (results, error) function, dropping the Status/suspend
// distinction since a spawned thread's top-level call is never expected
// to suspend into a host-call restart.
func ExecutorFromRuntime(r *Runtime) wasithreads.Executor {
	ec := r.NewExecContext()
	return func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
		results, status, err := ec.ec.ExecuteFunc(inst, funcIdx, args)
		if status == StatusTrap {
			return nil, err
		}
		return results, err
	}
}
