package hostfunc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/hostfunc"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

func TestParseSignature(t *testing.T) {
	ft, err := hostfunc.ParseSignature("(iI)fF")
	require.NoError(t, err)
	require.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI64}, ft.Params)
	require.Equal(t, []api.ValueType{api.ValueTypeF32, api.ValueTypeF64}, ft.Results)
}

func TestParseSignatureNoParamsOrResults(t *testing.T) {
	ft, err := hostfunc.ParseSignature("()")
	require.NoError(t, err)
	require.Empty(t, ft.Params)
	require.Empty(t, ft.Results)
}

func TestParseSignatureRejectsMissingOpenParen(t *testing.T) {
	_, err := hostfunc.ParseSignature("i)i")
	require.Error(t, err)
}

func TestParseSignatureRejectsMissingCloseParen(t *testing.T) {
	_, err := hostfunc.ParseSignature("(ii")
	require.Error(t, err)
}

func TestParseSignatureRejectsUnknownLetter(t *testing.T) {
	_, err := hostfunc.ParseSignature("(x)i")
	require.Error(t, err)
}

func TestNewImportObjectRegistersFuncs(t *testing.T) {
	io, err := hostfunc.NewImportObject("env", []hostfunc.Func{
		{Name: "double", Sig: "(i)i", Impl: func(inst *wasm.Instance, params []uint64) ([]uint64, error) {
			return []uint64{params[0] * 2}, nil
		}},
	})
	require.NoError(t, err)
	entry, ok := io.Entries["double"]
	require.True(t, ok)
	require.Equal(t, wasm.ImportKindFunc, entry.Kind)

	results, err := entry.Func.Host.Call(nil, []uint64{21}, nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func TestNewImportObjectRejectsBadSignature(t *testing.T) {
	_, err := hostfunc.NewImportObject("env", []hostfunc.Func{
		{Name: "broken", Sig: "bad", Impl: func(inst *wasm.Instance, params []uint64) ([]uint64, error) { return nil, nil }},
	})
	require.Error(t, err)
}

func newMemInstance(size int) *wasm.Instance {
	return &wasm.Instance{Mems: []*wasm.MemInst{{Data: make([]byte, size)}}}
}

func TestCopyOutAndCopyInRoundTrip(t *testing.T) {
	inst := newMemInstance(16)
	require.NoError(t, hostfunc.CopyIn(inst, 4, []byte{1, 2, 3, 4}, 4))
	out := make([]byte, 4)
	require.NoError(t, hostfunc.CopyOut(inst, out, 4, 4, 4))
	require.Equal(t, []byte{1, 2, 3, 4}, out)
}

func TestCopyOutRejectsOutOfBounds(t *testing.T) {
	inst := newMemInstance(16)
	out := make([]byte, 4)
	err := hostfunc.CopyOut(inst, out, 14, 4, 1)
	require.Error(t, err)
}

func TestCopyInPanicsOnMisalignment(t *testing.T) {
	inst := newMemInstance(16)
	require.Panics(t, func() {
		_ = hostfunc.CopyIn(inst, 1, []byte{1, 2, 3, 4}, 4)
	})
}

func TestMemorySnapshotDetectsGrowRelocation(t *testing.T) {
	inst := newMemInstance(wasm.PageSize)
	inst.Mems[0].Limits.HasMax = false
	snap := hostfunc.Snapshot(inst)
	require.False(t, snap.Moved(inst))

	_, ok := inst.Mems[0].Grow(1)
	require.True(t, ok)
	require.True(t, snap.Moved(inst))
}
