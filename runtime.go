// Package toywasm is the embedder API spec.md §6 describes: compile a
// binary into a Module, link it against an import chain into an Instance,
// and drive it to completion (or suspension) through an ExecContext.
//
// It is a thin façade over internal/wasm (decode/validate/instantiate) and
// internal/interpreter (dispatch), following the teacher's Runtime/Module
// split (tetratelabs/wazero's runtime.go) rather than exposing those
// internal packages directly.
package toywasm

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yamt/toywasm-sub002/internal/cluster"
	"github.com/yamt/toywasm-sub002/internal/interpreter"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// Runtime owns one Config and the thread Cluster every Instance it creates
// shares: instances from the same Runtime interrupt each other on trap,
// per spec.md §7.
type Runtime struct {
	config  *Config
	cluster *cluster.Cluster
	log     *logrus.Logger
}

// NewRuntime creates a Runtime from config, or toywasm's defaults if
// config is nil.
func NewRuntime(config *Config) *Runtime {
	if config == nil {
		config = NewConfig()
	}
	return &Runtime{
		config:  config,
		cluster: cluster.New(config.maxConcurrentThreads),
		log:     config.logger,
	}
}

// Cluster exposes the Runtime's thread cluster, for packages (wasi,
// wasithreads) that need to report traps or spawn threads against it.
func (r *Runtime) Cluster() *cluster.Cluster { return r.cluster }

// Log exposes the Runtime's logger.
func (r *Runtime) Log() *logrus.Logger { return r.log }

// Module is an immutable, decoded-and-validated Wasm module: module_create's
// result.
type Module struct {
	m *wasm.Module
}

// CompileModule implements module_create: decodes bin and runs every
// validation check spec.md §4.3 requires before the result may be
// instantiated. A malformed or ill-typed module reports a *wasm.DecodeError
// or *wasm.ValidationError, each carrying {offset, message}.
func (r *Runtime) CompileModule(bin []byte) (*Module, error) {
	m, err := wasm.Decode(bin, r.log)
	if err != nil {
		return nil, err
	}
	if err := wasm.ValidateModule(m, r.log, r.config.jumpTable); err != nil {
		return nil, err
	}
	return &Module{m: m}, nil
}

// Close implements module_destroy: releases the Module's IR. It does not
// own or free the original byte slice CompileModule was given — the
// caller retains that, per spec.md's "releases IR but not the underlying
// bytes".
func (m *Module) Close() {
	m.m = nil
}

// FindExport implements module_find_export: returns the export's index and
// true, or (0, false) for "no_entry".
func (m *Module) FindExport(name string, kind wasm.ExportKind) (wasm.Index, bool) {
	return m.m.FindExport(name, kind)
}

// ExportKind distinguishes func/table/mem/global exports for
// module_find_export, re-exported so callers need not import internal/wasm
// directly.
type ExportKind = wasm.ExportKind

const (
	ExportKindFunc   = wasm.ExportKindFunc
	ExportKindTable  = wasm.ExportKindTable
	ExportKindMemory = wasm.ExportKindMemory
	ExportKindGlobal = wasm.ExportKindGlobal
)

// ImportObject is the linked import chain instance_create's "imports"
// parameter expects; re-exported so callers need not import internal/wasm
// directly.
type ImportObject = wasm.ImportObject

// NewImportObject starts an import chain under moduleName; chain further
// objects onto it with Chain.
func NewImportObject(moduleName string) *ImportObject {
	return wasm.NewImportObject(moduleName)
}

// Instance is a linked, started module instantiation: instance_create's
// result.
type Instance struct {
	inst    *wasm.Instance
	runtime *Runtime
}

// Instantiate implements instance_create: links m against imports,
// allocates its memories/tables/globals, and (if present) runs its start
// function. A link failure (missing or mismatched import) reports a
// *wasm.LinkError; a trap raised by the start function is reported as
// returned by the ExecContext that ran it, wrapped by internal/wasm's
// Instantiate with a "start function trapped" message.
func (r *Runtime) Instantiate(m *Module, imports *ImportObject) (*Instance, error) {
	ec := interpreter.NewExecContext(r.cluster, r.config.jumpTable)
	invoke := func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
		return ec.Invoke(inst, funcIdx, args)
	}
	inst, err := wasm.Instantiate(m.m, imports, invoke, r.log)
	if err != nil {
		return nil, err
	}
	return &Instance{inst: inst, runtime: r}, nil
}

// Close implements instance_destroy: drops the Instance's owned
// memories/tables/globals so they become eligible for garbage collection.
// Shared memories/tables (imported, still referenced by another Instance)
// are left alone — Close only clears this Instance's own reference.
func (i *Instance) Close() {
	i.inst = nil
}

// Module returns the underlying *wasm.Instance, for host modules (wasi,
// wasithreads) that need direct access to its memories/tables when
// building their ImportObject closures.
func (i *Instance) Module() *wasm.Instance { return i.inst }

// Status mirrors interpreter.Status: the three outcomes instance_execute_func
// and instance_execute_continue may report.
type Status = interpreter.Status

const (
	StatusOK      = interpreter.StatusOK
	StatusTrap    = interpreter.StatusTrap
	StatusRestart = interpreter.StatusRestart
)

// ExecContext is one thread's execution state, driving calls into one or
// more Instances from the same Runtime. Two goroutines must never share
// an ExecContext.
type ExecContext struct {
	ec *interpreter.ExecContext
}

// NewExecContext creates an ExecContext bound to r's cluster and dispatch
// mode.
func (r *Runtime) NewExecContext() *ExecContext {
	return &ExecContext{ec: interpreter.NewExecContext(r.cluster, r.config.jumpTable)}
}

// ExecuteFunc implements instance_execute_func: invokes the exported or
// internal function at funcIdx in inst with params, returning its results
// on StatusOK, nil on StatusTrap (with the trap as err), or nil on
// StatusRestart (meaning a host call suspended; resume with
// ExecuteContinue).
func (ctx *ExecContext) ExecuteFunc(inst *Instance, funcIdx wasm.Index, params []uint64) ([]uint64, Status, error) {
	return ctx.ec.ExecuteFunc(inst.inst, funcIdx, params)
}

// ExecuteContinue implements instance_execute_continue: resumes the most
// recently suspended call on ctx. It is an error to call this without a
// prior StatusRestart.
func (ctx *ExecContext) ExecuteContinue() ([]uint64, Status, error) {
	return ctx.ec.ExecuteContinue()
}

// TrapReport is the embedder-facing shape of a trap: spec.md §6's
// "{ trapid, optional message, optional exit code for VOLUNTARY_EXIT }".
type TrapReport struct {
	TrapID   interpreter.TrapID
	Message  string
	HasExit  bool
	ExitCode int
}

// exitCoder is implemented by wasi's voluntaryExit: proc_exit reports its
// code this way rather than through a generic trap.
type exitCoder interface {
	ExitCode() int
}

// AsTrapReport converts an error returned by ExecuteFunc/ExecuteContinue
// into a TrapReport, or returns (nil, false) if err is not a recognized
// trap shape (e.g. a *wasm.LinkError from a failed Instantiate, which is
// never a trap).
func AsTrapReport(err error) (*TrapReport, bool) {
	if err == nil {
		return nil, false
	}
	if ec, ok := err.(exitCoder); ok {
		return &TrapReport{TrapID: interpreter.TrapVoluntaryExit, HasExit: true, ExitCode: ec.ExitCode()}, true
	}
	var trap *interpreter.Trap
	if errors.As(err, &trap) {
		return &TrapReport{TrapID: trap.ID, Message: trap.Message}, true
	}
	return nil, false
}
