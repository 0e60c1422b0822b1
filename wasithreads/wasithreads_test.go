package wasithreads_test

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/cluster"
	"github.com/yamt/toywasm-sub002/internal/interpreter"
	"github.com/yamt/toywasm-sub002/internal/testing/wasmbuild"
	"github.com/yamt/toywasm-sub002/internal/wasm"
	"github.com/yamt/toywasm-sub002/wasithreads"
)

func execFactory(cl *cluster.Cluster) func() wasithreads.Executor {
	return func() wasithreads.Executor {
		ec := interpreter.NewExecContext(cl, false)
		return func(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, error) {
			return ec.Invoke(inst, funcIdx, args)
		}
	}
}

func sharedMemImports(data []byte) *wasm.ImportObject {
	io := wasm.NewImportObject("env")
	io.Entries["memory"] = wasm.ImportEntry{
		Kind: wasm.ImportKindMemory,
		Mem:  &wasm.MemInst{Limits: wasm.Limits{Min: 1}, Data: data},
	}
	return io
}

func TestThreadSpawnReturnsMinusOneWithoutStartExport(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{})
	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))

	cl := cluster.New(4)
	wt := wasithreads.NewInstance(cl, m, wasm.NewImportObject("env"), execFactory(cl), logrus.StandardLogger())
	io, err := wt.ImportObject()
	require.NoError(t, err)

	entry := io.Entries["thread_spawn"]
	results, err := entry.Func.Host.Call(nil, []uint64{0}, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(0xffffffff), uint32(results[0]))
}

// TestThreadSpawnRunsStartFunctionAgainstSharedMemory builds a module
// importing a shared memory and exporting wasi_thread_start(tid, arg),
// whose body stores arg into memory[0:4]. After thread_spawn and a Wait
// for the cluster, the caller's own shared backing array must reflect
// the write the spawned thread made.
func TestThreadSpawnRunsStartFunctionAgainstSharedMemory(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}},
		},
		Imports: []wasmbuild.Import{
			{Module: "env", Name: "memory", Kind: 0x02, Mem: wasmbuild.Limits{Min: 1}},
		},
		Funcs: []wasmbuild.Func{
			// wasi_thread_start(tid, arg): memory[0:4] = arg
			{TypeIdx: 0, Body: []byte{0x41, 0x00, 0x20, 0x01, 0x36, 0x02, 0x00, 0x0b}},
		},
		Exports: []wasmbuild.Export{
			{Name: "wasi_thread_start", Kind: wasm.ExportKindFunc, Index: 0},
		},
	})
	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))

	shared := make([]byte, wasm.PageSize)
	imports := sharedMemImports(shared)

	cl := cluster.New(4)
	wt := wasithreads.NewInstance(cl, m, imports, execFactory(cl), logrus.StandardLogger())
	io, err := wt.ImportObject()
	require.NoError(t, err)

	entry := io.Entries["thread_spawn"]
	results, err := entry.Func.Host.Call(nil, []uint64{99}, nil)
	require.NoError(t, err)
	tid := uint32(results[0])
	require.NotEqual(t, uint32(0xffffffff), tid)

	require.NoError(t, cl.Wait())
	require.Equal(t, uint32(99), binary.LittleEndian.Uint32(shared[0:4]))
}

// TestThreadSpawnPropagatesTrapToCluster builds a wasi_thread_start that
// traps (integer divide by zero); the spawned thread's error must surface
// from Cluster.Wait and be recorded as the cluster's first trap.
func TestThreadSpawnPropagatesTrapToCluster(t *testing.T) {
	bin := wasmbuild.Encode(wasmbuild.Module{
		Types: []wasmbuild.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}},
		},
		Imports: []wasmbuild.Import{
			{Module: "env", Name: "memory", Kind: 0x02, Mem: wasmbuild.Limits{Min: 1}},
		},
		Funcs: []wasmbuild.Func{
			// wasi_thread_start(tid, arg): 1 / 0, drop
			{TypeIdx: 0, Body: []byte{0x41, 0x01, 0x41, 0x00, 0x6d, 0x1a, 0x0b}},
		},
		Exports: []wasmbuild.Export{
			{Name: "wasi_thread_start", Kind: wasm.ExportKindFunc, Index: 0},
		},
	})
	m, err := wasm.Decode(bin, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateModule(m, logrus.StandardLogger(), false))

	imports := sharedMemImports(make([]byte, wasm.PageSize))

	cl := cluster.New(4)
	wt := wasithreads.NewInstance(cl, m, imports, execFactory(cl), logrus.StandardLogger())
	io, err := wt.ImportObject()
	require.NoError(t, err)

	entry := io.Entries["thread_spawn"]
	results, err := entry.Func.Host.Call(nil, []uint64{0}, nil)
	require.NoError(t, err)
	require.NotEqual(t, uint32(0xffffffff), uint32(results[0]))

	require.Error(t, cl.Wait())
	require.True(t, cl.Interrupted())
	require.Error(t, cl.FirstTrap())
}
