package wasm_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// TestInstantiateRunsStartFunction builds a module whose start function
// stores a marker value into memory, then checks the write happened by
// the time Instantiate returns — the start function must run as part of
// instantiation, not wait for an explicit invoke.
func TestInstantiateRunsStartFunction(t *testing.T) {
	start := wasm.Index(0)
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{{}},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: append(append(wasmbuild.I32Const(0), wasmbuild.I32Const(7)...), 0x36, 0x02, 0x00, 0x0b)}, // i32.const 0; i32.const 7; i32.store; end
		},
		Mems:  []wasmbuild.Limits{{Min: 1}},
		Start: &start,
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))

	var ran bool
	invoke := func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
		ran = true
		require.Equal(t, m.Start, funcIdx)
		// Emulate the store the real interpreter would perform.
		inst.Mems[0].Data[0] = 7
		return nil, nil
	}

	inst, err := wasm.Instantiate(m, wasm.NewImportObject("env"), invoke, logrus.StandardLogger())
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, byte(7), inst.Mems[0].Data[0])
}

// TestInstantiateAbortsWhenStartFunctionTraps mirrors instance_create's
// teardown-on-trap behaviour: a trapping start function means Instantiate
// returns an error and no Instance at all.
func TestInstantiateAbortsWhenStartFunctionTraps(t *testing.T) {
	start := wasm.Index(0)
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{{}},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x0b}},
		},
		Start: &start,
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))

	invoke := func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
		return nil, errors.New("simulated trap")
	}

	_, err = wasm.Instantiate(m, wasm.NewImportObject("env"), invoke, logrus.StandardLogger())
	require.Error(t, err)
}
