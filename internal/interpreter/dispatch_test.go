package interpreter_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/cluster"
	"github.com/yamt/toywasm-sub002/internal/interpreter"
	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

func instantiate(t *testing.T, bin []byte) *wasm.Instance {
	t.Helper()
	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))
	inst, err := wasm.Instantiate(m, wasm.NewImportObject("env"), nil, logrus.StandardLogger())
	require.NoError(t, err)
	return inst
}

func newExecContext() *interpreter.ExecContext {
	return interpreter.NewExecContext(cluster.New(4), false)
}

func TestExecuteFuncArithmeticAdd(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b}}, // local.get 0; local.get 1; i32.add; end
		},
		Exports: []wasmbuild.Export{{Name: "add", Kind: wasm.ExportKindFunc, Index: 0}},
	})
	inst := instantiate(t, bin)
	idx, ok := inst.Module.FindExport("add", wasm.ExportKindFunc)
	require.True(t, ok)

	ec := newExecContext()
	results, status, err := ec.ExecuteFunc(inst, idx, []uint64{3, 4})
	require.NoError(t, err)
	require.Equal(t, interpreter.StatusOK, status)
	require.Equal(t, []uint64{7}, results)
}

func TestExecuteFuncDivideByZeroTraps(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6d, 0x0b}}, // local.get 0; local.get 1; i32.div_s; end
		},
		Exports: []wasmbuild.Export{{Name: "div", Kind: wasm.ExportKindFunc, Index: 0}},
	})
	inst := instantiate(t, bin)
	idx, ok := inst.Module.FindExport("div", wasm.ExportKindFunc)
	require.True(t, ok)

	ec := newExecContext()
	_, status, err := ec.ExecuteFunc(inst, idx, []uint64{10, 0})
	require.Equal(t, interpreter.StatusTrap, status)
	require.Error(t, err)
	var trap *interpreter.Trap
	require.True(t, errors.As(err, &trap))
	require.Equal(t, interpreter.TrapIntegerDivideByZero, trap.ID)
}

// TestExecuteFuncIndirectCallTypeMismatch builds a table whose single slot
// holds a function of type (i32)->(i32), then calls it through a
// call_indirect naming type ()->() — the table's element and the
// call site's declared type disagree, which must trap rather than run.
func TestExecuteFuncIndirectCallTypeMismatch(t *testing.T) {
	elemFunc := uint32(1)
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{}, // type 0: () -> ()
			{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}, // type 1
		},
		Funcs: []wasmbuild.Func{
			// func 0 ("call_bad"): type 0, calls table[0] expecting type 0
			{TypeIdx: 0, Body: []byte{0x41, 0x00, 0x11, 0x00, 0x00, 0x0b}}, // i32.const 0; call_indirect (type 0, table 0); end
			// func 1 (the target placed into the table): type 1
			{TypeIdx: 1, Body: []byte{0x20, 0x00, 0x0b}}, // local.get 0; end
		},
		Tables: []wasmbuild.Table{
			{ElemType: api.ValueTypeFuncref, Limits: wasmbuild.Limits{Min: 1, HasMax: true, Max: 1}},
		},
		Elems: []wasmbuild.Elem{
			{Offset: append(wasmbuild.I32Const(0), 0x0b), Funcs: []uint32{elemFunc}},
		},
		Exports: []wasmbuild.Export{{Name: "call_bad", Kind: wasm.ExportKindFunc, Index: 0}},
	})
	inst := instantiate(t, bin)
	idx, ok := inst.Module.FindExport("call_bad", wasm.ExportKindFunc)
	require.True(t, ok)

	ec := newExecContext()
	_, status, err := ec.ExecuteFunc(inst, idx, nil)
	require.Equal(t, interpreter.StatusTrap, status)
	var trap *interpreter.Trap
	require.True(t, errors.As(err, &trap))
	require.Equal(t, interpreter.TrapIndirectCallTypeMismatch, trap.ID)
}

// storeOOBBody builds `i32.const 0x20000; i32.const 0; i32.store align=2
// offset=0; end` — an address exactly at the post-grow 2-page boundary,
// so the 4-byte store lands out of bounds.
func storeOOBBody() []byte {
	body := wasmbuild.I32Const(0x20000)
	body = append(body, wasmbuild.I32Const(0)...)
	body = append(body, 0x36, 0x02, 0x00, 0x0b)
	return body
}

func TestExecuteFuncMemoryGrowThenOutOfBoundsStoreTraps(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Results: []api.ValueType{api.ValueTypeI32}}, // grow: () -> (i32)
			{},                                           // store_oob: () -> ()
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x41, 0x01, 0x40, 0x00, 0x0b}}, // i32.const 1; memory.grow 0; end
			{TypeIdx: 1, Body: storeOOBBody()},
		},
		Mems: []wasmbuild.Limits{{Min: 1, HasMax: true, Max: 2}},
		Exports: []wasmbuild.Export{
			{Name: "grow", Kind: wasm.ExportKindFunc, Index: 0},
			{Name: "store_oob", Kind: wasm.ExportKindFunc, Index: 1},
		},
	})
	inst := instantiate(t, bin)

	growIdx, ok := inst.Module.FindExport("grow", wasm.ExportKindFunc)
	require.True(t, ok)
	ec := newExecContext()
	results, status, err := ec.ExecuteFunc(inst, growIdx, nil)
	require.NoError(t, err)
	require.Equal(t, interpreter.StatusOK, status)
	require.Equal(t, []uint64{1}, results) // previous size was 1 page

	storeIdx, ok := inst.Module.FindExport("store_oob", wasm.ExportKindFunc)
	require.True(t, ok)
	_, status, err = ec.ExecuteFunc(inst, storeIdx, nil)
	require.Equal(t, interpreter.StatusTrap, status)
	var trap *interpreter.Trap
	require.True(t, errors.As(err, &trap))
	require.Equal(t, interpreter.TrapOutOfBoundsMemoryAccess, trap.ID)
}
