package wasm_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// TestEncodeDecodeRoundTrip decodes a hand-built binary, re-serializes the
// resulting Module with wasm.Encode, then decodes that output again and
// checks the two Modules agree on every structural field - decoding what
// Encode produced must not lose or corrupt information relative to the
// original binary.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	start := wasm.Index(0)
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
			{},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b}}, // local.get 0; local.get 1; i32.add; end
			{TypeIdx: 1, Body: []byte{0x0b}},
		},
		Tables: []wasmbuild.Table{{ElemType: api.ValueTypeFuncref, Limits: wasmbuild.Limits{Min: 1, HasMax: true, Max: 4}}},
		Mems:   []wasmbuild.Limits{{Min: 1, HasMax: true, Max: 2}},
		Globals: []wasmbuild.Global{
			{Type: wasmbuild.GlobalType{ValType: api.ValueTypeI32, Mutable: true}, Init: append(wasmbuild.I32Const(5), 0x0b)},
		},
		Exports: []wasmbuild.Export{
			{Name: "add", Kind: wasm.ExportKindFunc, Index: 0},
			{Name: "mem", Kind: wasm.ExportKindMemory, Index: 0},
		},
		Elems: []wasmbuild.Elem{
			{Offset: append(wasmbuild.I32Const(0), 0x0b), Funcs: []uint32{0}},
		},
		Start: &start,
	})

	original, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(original, logrus.StandardLogger(), false))

	reencoded := wasm.Encode(original)
	roundTripped, err := wasm.Decode(reencoded, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(roundTripped, logrus.StandardLogger(), false))

	require.Equal(t, original.Types, roundTripped.Types)
	require.Equal(t, original.Imports, roundTripped.Imports)
	require.Equal(t, original.FuncTypeIndexes, roundTripped.FuncTypeIndexes)
	require.Equal(t, original.Tables, roundTripped.Tables)
	require.Equal(t, original.Mems, roundTripped.Mems)
	require.Equal(t, len(original.Globals), len(roundTripped.Globals))
	require.Equal(t, original.Exports, roundTripped.Exports)
	require.Equal(t, original.HasStart, roundTripped.HasStart)
	require.Equal(t, original.Start, roundTripped.Start)
	require.Len(t, roundTripped.Elems, 1)
	require.Equal(t, original.Elems[0].Funcs, roundTripped.Elems[0].Funcs)

	idx, ok := roundTripped.FindExport("add", wasm.ExportKindFunc)
	require.True(t, ok)
	require.Equal(t, wasm.Index(0), idx)
}

func TestEncodeEmptyModule(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{})
	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)

	reencoded := wasm.Encode(m)
	roundTripped, err := wasm.Decode(reencoded, logrus.StandardLogger())
	require.NoError(t, err)
	require.Empty(t, roundTripped.Types)
	require.Empty(t, roundTripped.Funcs)
}
