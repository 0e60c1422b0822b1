package interpreter

import (
	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/cluster"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// label is the runtime counterpart of the validator's ctrlFrame: the
// operand-stack height to restore on branch, the branch target PC
// (resolved when the label is pushed, from the jump table or by a forward
// scan), and the number of result cells a branch to this label carries.
type label struct {
	isLoop       bool
	stackHeight  uint32
	arity        uint32
	continuation uint32 // byte PC, resolved at push time in either mode
}

// frame is one activation record: the function being executed, its
// locals (params followed by declared locals), and the byte offset of
// the next instruction to execute.
type frame struct {
	inst        *wasm.Instance
	fn          *wasm.Func // nil when executing a host call's synthetic frame
	funcType    *wasm.FunctionType
	locals      []wasm.Cell
	pc          uint32
	stackBase   uint32 // operand-stack height when this frame was entered
	labelBase   int    // label stack height when this frame was entered
	resultTypes []api.ValueType
}

// maxCallDepth bounds recursion the same way toywasm's frame stack does:
// a fixed ceiling rather than relying on the host stack, so a
// self-recursive Wasm function traps cleanly instead of crashing the Go
// runtime.
const maxCallDepth = 8192

// ExecContext is one thread's execution state: the flat Cell operand
// stack, the frame and label stacks, and a reference to the cluster it
// belongs to (for interrupt delivery and trap propagation, spec.md §7).
// Two goroutines never share an ExecContext; they may share the
// Instance(s) it operates on.
type ExecContext struct {
	Cluster *cluster.Cluster

	stack  []wasm.Cell
	frames []frame
	labels []label

	useJumpTable bool

	trap *Trap

	// restarts is the stack of suspended calls (spec.md §4.4/§9's restart
	// record stack): ExecuteFunc pushes the initial record, drive pushes
	// one more per nested wasm.SuspendCall callback target and pops them
	// as each resolves, and a record left behind by a host call that
	// suspended with no callback target is what ExecuteContinue resumes.
	restarts []RestartRecord
}

// NewExecContext creates a fresh, empty ExecContext. useJumpTable selects
// which of the two branch-resolution strategies spec.md §4.4 requires
// this runtime to support: true consults the validator's precomputed
// jump table, false scans forward for the matching end/else each time a
// block or if is entered (a loop's target is its own header).
func NewExecContext(cl *cluster.Cluster, useJumpTable bool) *ExecContext {
	return &ExecContext{
		Cluster:      cl,
		stack:        make([]wasm.Cell, 0, 256),
		frames:       make([]frame, 0, 32),
		labels:       make([]label, 0, 64),
		useJumpTable: useJumpTable,
	}
}

func (ec *ExecContext) pushCell(c wasm.Cell) { ec.stack = append(ec.stack, c) }

func (ec *ExecContext) popCell() wasm.Cell {
	c := ec.stack[len(ec.stack)-1]
	ec.stack = ec.stack[:len(ec.stack)-1]
	return c
}

func (ec *ExecContext) pushI32(v uint32) { ec.pushCell(wasm.Cell(v)) }
func (ec *ExecContext) popI32() uint32   { return uint32(ec.popCell()) }

func (ec *ExecContext) pushI64(v uint64) {
	ec.pushCell(wasm.Cell(uint32(v)))
	ec.pushCell(wasm.Cell(uint32(v >> 32)))
}

func (ec *ExecContext) popI64() uint64 {
	hi := ec.popCell()
	lo := ec.popCell()
	return uint64(uint32(lo)) | uint64(uint32(hi))<<32
}

func (ec *ExecContext) pushF32(v uint32) { ec.pushI32(v) }
func (ec *ExecContext) popF32() uint32   { return ec.popI32() }
func (ec *ExecContext) pushF64(v uint64) { ec.pushI64(v) }
func (ec *ExecContext) popF64() uint64   { return ec.popI64() }

func (ec *ExecContext) pushRef(ref wasm.Reference) {
	cells := wasm.RefToCells(ref)
	ec.pushCell(cells[0])
	ec.pushCell(cells[1])
}

func (ec *ExecContext) popRef() wasm.Reference {
	hi := ec.popCell()
	lo := ec.popCell()
	return wasm.RefFromCells([]wasm.Cell{lo, hi})
}

func (ec *ExecContext) pushValue(t api.ValueType, value uint64, ref wasm.Reference) {
	switch t {
	case api.ValueTypeI32, api.ValueTypeF32:
		ec.pushI32(uint32(value))
	case api.ValueTypeI64, api.ValueTypeF64:
		ec.pushI64(value)
	case api.ValueTypeFuncref, api.ValueTypeExternref:
		ec.pushRef(ref)
	}
}

func (ec *ExecContext) popValue(t api.ValueType) (value uint64, ref wasm.Reference) {
	switch t {
	case api.ValueTypeI32, api.ValueTypeF32:
		return uint64(ec.popI32()), wasm.Null
	case api.ValueTypeI64, api.ValueTypeF64:
		return ec.popI64(), wasm.Null
	case api.ValueTypeFuncref, api.ValueTypeExternref:
		r := ec.popRef()
		return 0, r
	default:
		return 0, wasm.Null
	}
}

func (ec *ExecContext) pushLabel(l label) {
	ec.labels = append(ec.labels, l)
}

func (ec *ExecContext) popLabel() label {
	l := ec.labels[len(ec.labels)-1]
	ec.labels = ec.labels[:len(ec.labels)-1]
	return l
}

func (ec *ExecContext) curFrame() *frame { return &ec.frames[len(ec.frames)-1] }

// unwindTo truncates the operand stack back to height, used when a
// branch or return discards everything pushed since a label/frame began.
func (ec *ExecContext) unwindTo(height uint32) {
	ec.stack = ec.stack[:height]
}
