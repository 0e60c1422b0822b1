package wasi

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/internal/cluster"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

func memInstance(size int) *wasm.Instance {
	return &wasm.Instance{Mems: []*wasm.MemInst{{Data: make([]byte, size)}}}
}

func TestFdWriteToCapturedStdout(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	inst := NewInstance(nil, nil, nil, nil)
	mem := memInstance(64)

	msg := "hi"
	copy(mem.Mems[0].Data[0:], msg)
	// iov[0] = {base: 0, len: len(msg)}
	binary.LittleEndian.PutUint32(mem.Mems[0].Data[16:], 0)
	binary.LittleEndian.PutUint32(mem.Mems[0].Data[20:], uint32(len(msg)))

	results, err := inst.fdWrite(mem, []uint64{1, 16, 1, 24})
	require.NoError(t, err)
	require.Equal(t, result(ErrnoSuccess), results)

	w.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, msg, string(out))
	require.Equal(t, uint32(len(msg)), binary.LittleEndian.Uint32(mem.Mems[0].Data[24:]))
}

func TestFdWriteRejectsUnknownFd(t *testing.T) {
	inst := NewInstance(nil, nil, nil, nil)
	mem := memInstance(64)
	results, err := inst.fdWrite(mem, []uint64{99, 0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, result(ErrnoBadf), results)
}

func TestArgsGetRoundTrip(t *testing.T) {
	args := []string{"prog", "a", "bb"}
	inst := NewInstance(nil, args, nil, nil)
	mem := memInstance(256)

	sizesResults, err := inst.argsSizesGet(mem, []uint64{0, 8})
	require.NoError(t, err)
	require.Equal(t, result(ErrnoSuccess), sizesResults)
	count := binary.LittleEndian.Uint32(mem.Mems[0].Data[0:])
	require.Equal(t, uint32(len(args)), count)

	ptrsPtr, bufPtr := uint32(16), uint32(64)
	getResults, err := inst.argsGet(mem, []uint64{uint64(ptrsPtr), uint64(bufPtr)})
	require.NoError(t, err)
	require.Equal(t, result(ErrnoSuccess), getResults)

	for i, want := range args {
		entry := ptrsPtr + uint32(i)*4
		strPtr := binary.LittleEndian.Uint32(mem.Mems[0].Data[entry:])
		end := strPtr
		for mem.Mems[0].Data[end] != 0 {
			end++
		}
		require.Equal(t, want, string(mem.Mems[0].Data[strPtr:end]))
	}
}

func TestEnvironGetRoundTrip(t *testing.T) {
	environ := []string{"FOO=bar", "BAZ=qux"}
	inst := NewInstance(nil, nil, environ, nil)
	mem := memInstance(256)

	_, err := inst.environGet(mem, []uint64{16, 64})
	require.NoError(t, err)

	entry0 := binary.LittleEndian.Uint32(mem.Mems[0].Data[16:])
	end := entry0
	for mem.Mems[0].Data[end] != 0 {
		end++
	}
	require.Equal(t, "FOO=bar", string(mem.Mems[0].Data[entry0:end]))
}

func TestRandomGetFillsRequestedLength(t *testing.T) {
	inst := NewInstance(nil, nil, nil, nil)
	mem := memInstance(64)
	results, err := inst.randomGet(mem, []uint64{0, 32})
	require.NoError(t, err)
	require.Equal(t, result(ErrnoSuccess), results)

	allZero := true
	for _, b := range mem.Mems[0].Data[:32] {
		if b != 0 {
			allZero = false
			break
		}
	}
	require.False(t, allZero, "random_get should not leave the buffer all-zero")
}

func TestPathOpenRejectsEscapingPath(t *testing.T) {
	dir := t.TempDir()
	inst := NewInstance(nil, nil, nil, nil)
	wasmFd, err := inst.PrestatAdd(dir)
	require.NoError(t, err)

	mem := memInstance(256)
	escaping := "../../etc/passwd"
	copy(mem.Mems[0].Data[0:], escaping)

	results, err := inst.pathOpen(mem, []uint64{
		uint64(wasmFd), 0, 0, uint64(len(escaping)), 0, 0, 0, 0, 200,
	})
	require.NoError(t, err)
	require.Equal(t, result(ErrnoAcces), results)
}

func TestPathOpenCreatesFileInsidePreopen(t *testing.T) {
	dir := t.TempDir()
	inst := NewInstance(nil, nil, nil, nil)
	wasmFd, err := inst.PrestatAdd(dir)
	require.NoError(t, err)

	mem := memInstance(256)
	name := "new.txt"
	copy(mem.Mems[0].Data[0:], name)

	const oflagsCreat = 1 << 0
	results, err := inst.pathOpen(mem, []uint64{
		uint64(wasmFd), 0, 0, uint64(len(name)), oflagsCreat, 0, 0, 0, 200,
	})
	require.NoError(t, err)
	require.Equal(t, result(ErrnoSuccess), results)
	require.FileExists(t, filepath.Join(dir, name))
}

func TestProcExitRecordsCodeAndInterruptsCluster(t *testing.T) {
	cl := cluster.New(4)
	inst := NewInstance(cl, nil, nil, nil)
	mem := memInstance(8)

	_, err := inst.procExit(mem, []uint64{7})
	require.Error(t, err)

	var exit *voluntaryExit
	require.ErrorAs(t, err, &exit)
	require.Equal(t, 7, exit.ExitCode())
	require.True(t, inst.Exited())
	require.Equal(t, 7, inst.ExitCode())
	require.True(t, cl.Interrupted())
}
