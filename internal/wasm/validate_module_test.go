package wasm_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

func TestValidateModuleRejectsStartFunctionWithParams(t *testing.T) {
	start := wasm.Index(0)
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x0b}}, // just end; the i32 param goes unused
		},
		Start: &start,
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	err = wasm.ValidateModule(m, logrus.StandardLogger(), false)
	require.Error(t, err)
}

func TestValidateModuleAcceptsWellTypedFunction(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b}},
		},
		Exports: []wasmbuild.Export{
			{Name: "add", Kind: wasm.ExportKindFunc, Index: 0},
		},
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), true))
	require.NotZero(t, m.Funcs[0].Body.Info.MaxCells)
}

func TestValidateModuleRejectsTypeMismatchInBody(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			// declares i32 result but leaves an empty stack at `end`
			{TypeIdx: 0, Body: []byte{0x0b}},
		},
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	err = wasm.ValidateModule(m, logrus.StandardLogger(), false)
	require.Error(t, err)
}
