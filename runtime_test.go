package toywasm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	toywasm "github.com/yamt/toywasm-sub002"
	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
)

func TestCompileInstantiateExecuteRoundTrip(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b}}, // local.get 0; local.get 1; i32.add; end
		},
		Exports: []wasmbuild.Export{{Name: "add", Kind: toywasm.ExportKindFunc, Index: 0}},
	})

	rt := toywasm.NewRuntime(nil)
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)
	defer m.Close()

	inst, err := rt.Instantiate(m, toywasm.NewImportObject("env"))
	require.NoError(t, err)
	defer inst.Close()

	idx, ok := m.FindExport("add", toywasm.ExportKindFunc)
	require.True(t, ok)

	ec := rt.NewExecContext()
	results, status, err := ec.ExecuteFunc(inst, idx, []uint64{19, 23})
	require.NoError(t, err)
	require.Equal(t, toywasm.StatusOK, status)
	require.Equal(t, []uint64{42}, results)
}

func TestExecuteFuncTrapReportsViaAsTrapReport(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6d, 0x0b}}, // local.get 0; local.get 1; i32.div_s; end
		},
		Exports: []wasmbuild.Export{{Name: "div", Kind: toywasm.ExportKindFunc, Index: 0}},
	})

	rt := toywasm.NewRuntime(nil)
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)

	inst, err := rt.Instantiate(m, toywasm.NewImportObject("env"))
	require.NoError(t, err)

	idx, ok := m.FindExport("div", toywasm.ExportKindFunc)
	require.True(t, ok)

	ec := rt.NewExecContext()
	_, status, err := ec.ExecuteFunc(inst, idx, []uint64{1, 0})
	require.Equal(t, toywasm.StatusTrap, status)
	require.Error(t, err)

	report, ok := toywasm.AsTrapReport(err)
	require.True(t, ok)
	require.False(t, report.HasExit)
}

func TestCompileModuleRejectsMalformedBinary(t *testing.T) {
	rt := toywasm.NewRuntime(nil)
	_, err := rt.CompileModule([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}

func TestFindExportReportsNoEntry(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{})
	rt := toywasm.NewRuntime(nil)
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)
	_, ok := m.FindExport("nonexistent", toywasm.ExportKindFunc)
	require.False(t, ok)
}
