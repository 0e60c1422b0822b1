package interpreter_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// TestStartFunctionRunsThroughRealInterpreter wires wasm.Instantiate's
// InvokeFunc to a real interpreter.ExecContext, so the start function
// actually executes through dispatch rather than a test double — the
// store it performs must be visible in the instantiated memory.
func TestStartFunctionRunsThroughRealInterpreter(t *testing.T) {
	start := wasm.Index(0)
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{{}},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x41, 0x00, 0x41, 0x2a, 0x36, 0x02, 0x00, 0x0b}}, // i32.const 0; i32.const 42; i32.store; end
		},
		Mems:  []wasmbuild.Limits{{Min: 1}},
		Start: &start,
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))

	ec := newExecContext()
	invoke := func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
		return ec.Invoke(inst, funcIdx, args)
	}

	inst, err := wasm.Instantiate(m, wasm.NewImportObject("env"), invoke, logrus.StandardLogger())
	require.NoError(t, err)
	require.Equal(t, uint32(42), uint32(inst.Mems[0].Data[0])|uint32(inst.Mems[0].Data[1])<<8|uint32(inst.Mems[0].Data[2])<<16|uint32(inst.Mems[0].Data[3])<<24)
}

// TestStartFunctionTrapAbortsInstantiation exercises a real interpreter
// trap propagating out of Instantiate: a start function dividing by zero
// must fail instantiation rather than leaving a partially-built Instance.
func TestStartFunctionTrapAbortsInstantiation(t *testing.T) {
	start := wasm.Index(0)
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{{}},
		Funcs: []wasmbuild.Func{
			{TypeIdx: 0, Body: []byte{0x41, 0x01, 0x41, 0x00, 0x6d, 0x1a, 0x0b}}, // i32.const 1; i32.const 0; i32.div_s; drop; end
		},
		Start: &start,
	})

	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))

	ec := newExecContext()
	invoke := func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
		return ec.Invoke(inst, funcIdx, args)
	}

	_, err = wasm.Instantiate(m, wasm.NewImportObject("env"), invoke, logrus.StandardLogger())
	require.Error(t, err)
}
