package wasm_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

func buildExportingModule(t *testing.T) *wasm.Instance {
	t.Helper()
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: append(wasmbuild.I32Const(7), 0x0b)},
		},
		Tables: []wasmbuild.Table{{ElemType: api.ValueTypeFuncref, Limits: wasmbuild.Limits{Min: 1}}},
		Mems:   []wasmbuild.Limits{{Min: 1}},
		Globals: []wasmbuild.Global{
			{Type: wasmbuild.GlobalType{ValType: api.ValueTypeI32}, Init: append(wasmbuild.I32Const(9), 0x0b)},
		},
		Exports: []wasmbuild.Export{
			{Name: "f", Kind: wasm.ExportKindFunc, Index: 0},
			{Name: "t", Kind: wasm.ExportKindTable, Index: 0},
			{Name: "m", Kind: wasm.ExportKindMemory, Index: 0},
			{Name: "g", Kind: wasm.ExportKindGlobal, Index: 0},
		},
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))
	inst, err := wasm.Instantiate(m, wasm.NewImportObject("env"), nil, logrus.StandardLogger())
	require.NoError(t, err)
	return inst
}

func TestExportsAsImportObjectRoundTripsEveryKind(t *testing.T) {
	inst := buildExportingModule(t)

	io, err := wasm.ExportsAsImportObject("lib", inst)
	require.NoError(t, err)
	require.Equal(t, "lib", io.ModuleName)

	fn, ok := io.Entries["f"]
	require.True(t, ok)
	require.Equal(t, wasm.ImportKindFunc, fn.Kind)
	require.Equal(t, inst.Funcs[0], fn.Func)

	tbl, ok := io.Entries["t"]
	require.True(t, ok)
	require.Equal(t, wasm.ImportKindTable, tbl.Kind)
	require.Same(t, inst.Tables[0], tbl.Table)

	mem, ok := io.Entries["m"]
	require.True(t, ok)
	require.Equal(t, wasm.ImportKindMemory, mem.Kind)
	require.Same(t, inst.Mems[0], mem.Mem)

	g, ok := io.Entries["g"]
	require.True(t, ok)
	require.Equal(t, wasm.ImportKindGlobal, g.Kind)
	require.Same(t, inst.Globals[0], g.Global)
}

// TestImportedMemoryTableGlobalAreSharedAcrossInstances exercises the
// --register linking scenario (§12): a second module importing lib's
// table/memory/global must see writes made through lib's own Instance,
// and vice versa, since an import is a shared reference, not a copy.
func TestImportedMemoryTableGlobalAreSharedAcrossInstances(t *testing.T) {
	lib := buildExportingModule(t)
	libImports, err := wasm.ExportsAsImportObject("lib", lib)
	require.NoError(t, err)

	bin := wasmbuild.Encode(wasmbuild.Module{
		Imports: []wasmbuild.Import{
			{Module: "lib", Name: "t", Kind: byte(wasm.ImportKindTable), Table: wasmbuild.Table{ElemType: api.ValueTypeFuncref, Limits: wasmbuild.Limits{Min: 1}}},
			{Module: "lib", Name: "m", Kind: byte(wasm.ImportKindMemory), Mem: wasmbuild.Limits{Min: 1}},
			{Module: "lib", Name: "g", Kind: byte(wasm.ImportKindGlobal), Global: wasmbuild.GlobalType{ValType: api.ValueTypeI32}},
		},
	})
	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))
	other, err := wasm.Instantiate(m, libImports, nil, logrus.StandardLogger())
	require.NoError(t, err)

	// A write through the importing instance must be visible through lib.
	other.Mems[0].Data[0] = 42
	require.Equal(t, byte(42), lib.Mems[0].Data[0])

	// A memory.grow reallocating Data must stay visible on both sides.
	_, ok := other.Mems[0].Grow(1)
	require.True(t, ok)
	require.Same(t, other.Mems[0], lib.Mems[0])

	other.Tables[0].Elems[0] = wasm.Reference{Kind: wasm.ReferenceKindFunc, Func: 0}
	require.Equal(t, wasm.Reference{Kind: wasm.ReferenceKindFunc, Func: 0}, lib.Tables[0].Elems[0])

	other.Globals[0].Value = 99
	require.Equal(t, uint64(99), lib.Globals[0].Value)
}
