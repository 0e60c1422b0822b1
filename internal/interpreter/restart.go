package interpreter

import (
	"errors"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// Status is the three-way outcome of instance_execute_func /
// instance_execute_continue (spec.md §6): a call either finishes, traps, or
// suspends and must be resumed later.
type Status int

const (
	StatusOK Status = iota
	StatusTrap
	StatusRestart
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTrap:
		return "trap"
	case StatusRestart:
		return "restart"
	default:
		return "Status(?)"
	}
}

// RestartRecord is one link of the restart stack (spec.md §4.4's
// "pre-allocated RestartHostFunc record kept on a restart stack"): the
// call ExecuteContinue will (re-)run next. FuncIdx/Args/Resume describe
// that call directly; pendingStep/pendingUser1/pendingUser2 are set when
// this record is itself waiting on a callback it just requested (i.e. a
// newer record sits above it on ec.restarts) so drive can rebuild its
// HostCallResume once that callback resolves.
type RestartRecord struct {
	Inst    *wasm.Instance
	FuncIdx wasm.Index
	Args    []uint64
	Resume  *wasm.HostCallResume

	pendingSet                 bool
	pendingStep                int
	pendingUser1, pendingUser2 uint64
}

// ExecuteFunc is the restart-aware counterpart of Invoke, matching spec.md's
// instance_execute_func: it drives fn either to completion/trap or to a
// suspension point, reporting which via Status rather than only an error.
func (ec *ExecContext) ExecuteFunc(inst *wasm.Instance, funcIdx wasm.Index, args []uint64) ([]uint64, Status, error) {
	ec.restarts = append(ec.restarts, RestartRecord{Inst: inst, FuncIdx: funcIdx, Args: args})
	return ec.drive()
}

// ExecuteContinue resumes the restart stack ExecuteFunc (or a prior
// ExecuteContinue) left behind, matching spec.md's instance_execute_continue.
// It is an error to call this without a pending RestartRecord.
func (ec *ExecContext) ExecuteContinue() ([]uint64, Status, error) {
	if len(ec.restarts) == 0 {
		return nil, StatusTrap, newTrap(TrapUnreachable, "ExecuteContinue with no suspended call")
	}
	return ec.drive()
}

// drive runs the restart stack until it empties (the original call
// finished or trapped) or the top record suspends with no callback
// target, at which point control returns to the embedder. A record
// whose call names a callback target (wasm.SuspendCall) is resolved
// inline: drive pushes a fresh record for the target and loops, then -
// once that record resolves - pops it, folds its result into the record
// below via HostCallResume, and re-runs that record, continuing outward
// exactly the way spec.md describes re-entering the original host
// function after its requested call returns.
func (ec *ExecContext) drive() ([]uint64, Status, error) {
	for {
		if len(ec.restarts) == 0 {
			return nil, StatusTrap, newTrap(TrapUnreachable, "interpreter: restart stack empty")
		}
		i := len(ec.restarts) - 1
		rec := &ec.restarts[i]

		results, status, err := ec.runRecord(rec)

		if status == StatusRestart {
			// rec suspended with no callback target: save its Step/
			// User1/User2 onto rec.Resume so ExecuteContinue re-enters
			// it with the same continuation state instead of resume ==
			// nil, then leave it on the stack and surface the yield to
			// the embedder.
			var se *wasm.SuspendError
			if !errors.As(err, &se) {
				return nil, StatusTrap, newTrap(TrapUnreachable, "interpreter: restart with no SuspendError")
			}
			rec.Resume = &wasm.HostCallResume{Step: se.Step, User1: se.User1, User2: se.User2}
			return nil, StatusRestart, nil
		}

		var se *wasm.SuspendError
		if errors.As(err, &se) && se.HasTarget {
			rec.pendingStep, rec.pendingUser1, rec.pendingUser2, rec.pendingSet = se.Step, se.User1, se.User2, true
			ec.restarts = append(ec.restarts, RestartRecord{Inst: rec.Inst, FuncIdx: se.Target, Args: se.Args})
			continue
		}

		// rec resolved (OK or trap): pop it and fold the outcome into
		// whatever is waiting below, if anything.
		ec.restarts = ec.restarts[:i]
		if i == 0 {
			if err != nil {
				return nil, StatusTrap, err
			}
			return results, StatusOK, nil
		}
		below := &ec.restarts[i-1]
		if !below.pendingSet {
			return nil, StatusTrap, newTrap(TrapUnreachable, "interpreter: restart stack corrupted")
		}
		below.Resume = &wasm.HostCallResume{Step: below.pendingStep, User1: below.pendingUser1, User2: below.pendingUser2, Results: results, Err: err}
		below.pendingSet = false
	}
}

// runRecord runs rec's call exactly once: a host function's Call with
// rec.Resume (nil unless this is a re-entry), or a Wasm function pushed
// as a fresh frame and run to completion. A host function that suspends
// with no callback target yields StatusRestart, with err still holding
// the SuspendError so drive can stash its Step/User1/User2 before the
// record goes back to sleep. Every other outcome (success, trap, or a
// SuspendError naming a callback target) comes back as StatusOK/
// StatusTrap with the SuspendError, if any, reachable from err for
// drive to inspect.
func (ec *ExecContext) runRecord(rec *RestartRecord) ([]uint64, Status, error) {
	fi := &rec.Inst.Funcs[rec.FuncIdx]
	if fi.Host != nil {
		results, err := fi.Host.Call(rec.Inst, rec.Args, rec.Resume)
		var se *wasm.SuspendError
		if errors.As(err, &se) && !se.HasTarget {
			return nil, StatusRestart, err
		}
		if err != nil {
			return nil, StatusTrap, err
		}
		return results, StatusOK, nil
	}

	if err := ec.pushFrame(rec.Inst, fi, rec.Args); err != nil {
		return nil, StatusTrap, err
	}
	return ec.resumeFrom(len(ec.frames) - 1)
}

// resumeFrom runs the frame stack down to entryDepth and converts the
// outcome into a Status, splicing results off the stack on success exactly
// as Invoke does.
func (ec *ExecContext) resumeFrom(entryDepth int) ([]uint64, Status, error) {
	if err := ec.run(entryDepth); err != nil {
		ec.frames = ec.frames[:entryDepth]
		return nil, StatusTrap, err
	}

	f := ec.frames[entryDepth]
	results := make([]uint64, len(f.resultTypes))
	for i := len(f.resultTypes) - 1; i >= 0; i-- {
		v, ref := ec.popValue(f.resultTypes[i])
		if api.IsReferenceType(f.resultTypes[i]) {
			results[i] = packRef(ref)
		} else {
			results[i] = v
		}
	}
	ec.frames = ec.frames[:entryDepth]
	return results, StatusOK, nil
}
