// Package wasithreads implements the wasi-threads proposal's thread_spawn
// host import on top of internal/cluster: spawning a thread re-instantiates
// the owning module against the same import object (so the new instance
// shares the original's `shared` memory) and runs its exported
// wasi_thread_start(tid, arg) on a cluster-managed goroutine.
//
// Grounded on original_source/libwasi_threads/wasi_threads.c.
package wasithreads

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yamt/toywasm-sub002/internal/cluster"
	"github.com/yamt/toywasm-sub002/internal/hostfunc"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// Executor runs a function on a fresh ExecContext, the same shape
// interpreter.ExecContext.Invoke has. wasithreads depends on this function
// type rather than the interpreter package directly so a caller can plug in
// whichever ExecContext pooling/scheduling strategy it likes per thread.
type Executor func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error)

// startFuncName is the export wasi-threads re-instantiation looks for, per
// the proposal: exactly "(i32, i32) -> ()".
const startFuncName = "wasi_thread_start"

// Instance is a wasi-threads host module bound to one module + import
// object pair: every thread_spawn re-instantiates that same (module,
// imports) combination.
type Instance struct {
	Cluster  *cluster.Cluster
	Module   *wasm.Module
	Imports  *wasm.ImportObject
	NewExec  func() Executor // constructs a fresh ExecContext's Invoke-equivalent per spawned thread
	Log      *logrus.Logger
	startIdx wasm.Index
	hasStart bool
}

// NewInstance creates a wasi-threads host module. It is not an error for m
// to lack a wasi_thread_start export: modules that don't use threads simply
// never call thread_spawn (mirrors
// wasi_threads_instance_set_thread_spawn_args's "ignore and continue").
func NewInstance(cl *cluster.Cluster, m *wasm.Module, imports *wasm.ImportObject, newExec func() Executor, log *logrus.Logger) *Instance {
	if log == nil {
		log = logrus.StandardLogger()
	}
	inst := &Instance{Cluster: cl, Module: m, Imports: imports, NewExec: newExec, Log: log}
	for _, ex := range m.Exports {
		if ex.Kind == wasm.ExportKindFunc && ex.Name == startFuncName {
			ft := m.FunctionType(ex.Index)
			if len(ft.Results) == 0 && len(ft.Params) == 2 {
				inst.startIdx = ex.Index
				inst.hasStart = true
			}
			break
		}
	}
	return inst
}

// ImportObject exposes "wasi"."thread_spawn" (the import module name used
// by the proposal's reference toolchains).
func (wt *Instance) ImportObject() (*wasm.ImportObject, error) {
	return hostfunc.NewImportObject("wasi", []hostfunc.Func{
		{Name: "thread_spawn", Sig: "(i)i", Impl: wt.threadSpawn},
	})
}

// threadSpawn implements the thread_spawn host call: (user_arg: i32) -> tid:
// i32, where a negative return means spawning failed (per the proposal,
// -1 on failure).
func (wt *Instance) threadSpawn(callerInst *wasm.Instance, params []uint64) ([]uint64, error) {
	userArg := uint32(params[0])
	if !wt.hasStart {
		return []uint64{uint64(uint32(int32(-1)))}, nil
	}

	tid, err := wt.Cluster.AllocateTID()
	if err != nil {
		wt.Log.WithError(err).Warn("thread_spawn: TID space exhausted")
		return []uint64{uint64(uint32(int32(-1)))}, nil
	}

	newInst, err := wasm.Instantiate(wt.Module, wt.Imports, func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
		return wt.NewExec()(inst, funcIdx, args)
	}, wt.Log)
	if err != nil {
		wt.Cluster.ReleaseTID(tid)
		wt.Log.WithError(err).Warn("thread_spawn: re-instantiation failed")
		return []uint64{uint64(uint32(int32(-1)))}, nil
	}

	invoke := wt.NewExec()
	startIdx := wt.startIdx
	spawnErr := wt.Cluster.Spawn(func(ctx context.Context) error {
		defer wt.Cluster.ReleaseTID(tid)
		_, err := invoke(newInst, startIdx, []uint64{uint64(tid), uint64(userArg)})
		return err
	})
	if spawnErr != nil {
		wt.Cluster.ReleaseTID(tid)
		return []uint64{uint64(uint32(int32(-1)))}, nil
	}
	return []uint64{uint64(tid)}, nil
}
