package interpreter_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/interpreter"
	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// TestExecuteFuncRestartsOnSuspendAndResumesOnContinue exercises the
// host-call suspend/resume path: the imported function suspends with no
// callback target the first time it runs (modelling a host call blocked
// on an external operation the embedder must drive) and succeeds once
// ExecuteContinue re-enters it.
func TestExecuteFuncRestartsOnSuspendAndResumesOnContinue(t *testing.T) {
	calls := 0
	suspendable := wasm.FuncInst{
		Type: &wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI32}},
		Host: &suspendOnceHost{calls: &calls, result: 42},
	}

	imports := wasm.NewImportObject("env")
	imports.Entries["suspendable"] = wasm.ImportEntry{Kind: wasm.ImportKindFunc, Func: suspendable}

	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Results: []api.ValueType{api.ValueTypeI32}},
		},
		Imports: []wasmbuild.Import{
			{Module: "env", Name: "suspendable", Kind: 0x00, FuncTypeIdx: 0},
		},
		Exports: []wasmbuild.Export{{Name: "suspendable", Kind: wasm.ExportKindFunc, Index: 0}},
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))
	inst, err := wasm.Instantiate(m, imports, nil, logrus.StandardLogger())
	require.NoError(t, err)

	idx, ok := inst.Module.FindExport("suspendable", wasm.ExportKindFunc)
	require.True(t, ok)

	ec := newExecContext()
	results, status, err := ec.ExecuteFunc(inst, idx, nil)
	require.NoError(t, err)
	require.Equal(t, interpreter.StatusRestart, status)
	require.Nil(t, results)

	results, status, err = ec.ExecuteContinue()
	require.NoError(t, err)
	require.Equal(t, interpreter.StatusOK, status)
	require.Equal(t, []uint64{42}, results)
	require.Equal(t, 2, calls)
}

func TestExecuteContinueWithoutPendingRestartTraps(t *testing.T) {
	ec := newExecContext()
	_, status, err := ec.ExecuteContinue()
	require.Equal(t, interpreter.StatusTrap, status)
	require.Error(t, err)
}

// suspendOnceHost suspends with no callback target on its first call and
// returns result once re-entered via ExecuteContinue.
type suspendOnceHost struct {
	calls  *int
	result uint64
}

func (h *suspendOnceHost) Type() *wasm.FunctionType {
	return &wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI32}}
}

func (h *suspendOnceHost) Call(inst *wasm.Instance, params []uint64, resume *wasm.HostCallResume) ([]uint64, error) {
	*h.calls++
	if resume == nil {
		return nil, wasm.Suspend(1, 0, 0)
	}
	return []uint64{h.result}, nil
}

// callbackHost suspends naming a Wasm function as its callback target
// (spec.md §4.4's restartable host calls: a host function calling into a
// funcidx and resuming once that call returns), rather than yielding to
// the embedder at all.
type callbackHost struct {
	calls  *int
	target wasm.Index
}

func (h *callbackHost) Type() *wasm.FunctionType {
	return &wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI32}}
}

func (h *callbackHost) Call(inst *wasm.Instance, params []uint64, resume *wasm.HostCallResume) ([]uint64, error) {
	*h.calls++
	if resume == nil {
		return nil, wasm.SuspendCall(h.target, []uint64{20}, 1, 0, 0)
	}
	return resume.Results, resume.Err
}

// TestExecuteFuncHostCallsBackIntoWasmViaSuspendCall exercises the
// scenario that motivates the restart record's step/user1/user2 fields: a
// host function names a funcidx to call before it resumes. The whole
// chain resolves inline inside drive - the embedder only ever sees
// StatusOK here, never StatusRestart, since nothing external was needed
// to finish the call.
func TestExecuteFuncHostCallsBackIntoWasmViaSuspendCall(t *testing.T) {
	calls := 0
	// func index 1: one imported func (index 0) ahead of it in the func
	// index space, then this module's one defined func.
	host := &callbackHost{calls: &calls, target: 1}

	imports := wasm.NewImportObject("env")
	imports.Entries["callback"] = wasm.ImportEntry{
		Kind: wasm.ImportKindFunc,
		Func: wasm.FuncInst{Type: host.Type(), Host: host},
	}

	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Results: []api.ValueType{api.ValueTypeI32}},
			{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		Imports: []wasmbuild.Import{
			{Module: "env", Name: "callback", Kind: 0x00, FuncTypeIdx: 0},
		},
		Funcs: []wasmbuild.Func{
			// local.get 0; i32.const 1; i32.add; end -> x + 1
			{TypeIdx: 1, Body: []byte{0x20, 0x00, 0x41, 0x01, 0x6a, 0x0b}},
		},
		Exports: []wasmbuild.Export{{Name: "callback", Kind: wasm.ExportKindFunc, Index: 0}},
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))
	inst, err := wasm.Instantiate(m, imports, nil, logrus.StandardLogger())
	require.NoError(t, err)

	idx, ok := inst.Module.FindExport("callback", wasm.ExportKindFunc)
	require.True(t, ok)

	ec := newExecContext()
	results, status, err := ec.ExecuteFunc(inst, idx, nil)
	require.NoError(t, err)
	require.Equal(t, interpreter.StatusOK, status)
	require.Equal(t, []uint64{21}, results)
	require.Equal(t, 2, calls)
}
