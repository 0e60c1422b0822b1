package wasm_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

func TestDecodeMinimalModule(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: append(append(
				[]byte{0x20, 0x00}, // local.get 0
				[]byte{0x20, 0x01}...), // local.get 1
				0x6a, 0x0b)}, // i32.add, end
		},
		Exports: []wasmbuild.Export{
			{Name: "add", Kind: wasm.ExportKindFunc, Index: 0},
		},
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.Len(t, m.Types, 1)
	require.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, m.Types[0].Params)
	require.Equal(t, []api.ValueType{api.ValueTypeI32}, m.Types[0].Results)
	require.Len(t, m.Funcs, 1)
	require.Equal(t, wasm.Index(0), m.FuncTypeIndexes[0])

	idx, ok := m.FindExport("add", wasm.ExportKindFunc)
	require.True(t, ok)
	require.Equal(t, wasm.Index(0), idx)

	_, ok = m.FindExport("nope", wasm.ExportKindFunc)
	require.False(t, ok)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	bin := []byte{0x00, 'a', 's', 'd', 0x01, 0x00, 0x00, 0x00}
	_, err := wasm.Decode(bin, logrus.StandardLogger())
	require.Error(t, err)
}

func TestDecodeAndValidateMemoryAndGlobalSections(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Mems: []wasmbuild.Limits{{Min: 1, HasMax: true, Max: 2}},
		Globals: []wasmbuild.Global{
			{Type: wasmbuild.GlobalType{ValType: api.ValueTypeI32, Mutable: false}, Init: append(wasmbuild.I32Const(42), 0x0b)},
		},
		Exports: []wasmbuild.Export{
			{Name: "mem", Kind: wasm.ExportKindMemory, Index: 0},
			{Name: "g", Kind: wasm.ExportKindGlobal, Index: 0},
		},
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))
	require.Len(t, m.Mems, 1)
	require.Equal(t, uint32(1), m.Mems[0].Min)
	require.Equal(t, uint32(2), m.Mems[0].Max)
	require.Len(t, m.Globals, 1)
}
