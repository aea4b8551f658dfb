package interp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ambervm/ambervm/wasm"
)

func (e *Engine) execControl(st *State, frame *Frame, in *wasm.Instr, openedAt int) (StepResult, error) {
	switch in.Op {
	case wasm.OpcodeNop:
		return Continue, nil

	case wasm.OpcodeUnreachable:
		return Trap, wasm.NewTrap(wasm.TrapUnreachable)

	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		sig, err := in.BlockType.Signature(frame.Fn.Module.Module)
		if err != nil {
			return Continue, fmt.Errorf("interp: %v", err)
		}
		kind, branchArity := LabelBlock, len(sig.Results)
		if in.Op == wasm.OpcodeLoop {
			// A branch to a loop re-enters the body, carrying its params.
			kind, branchArity = LabelLoop, len(sig.Params)
		}
		frame.Labels = append(frame.Labels, Label{
			Kind:        kind,
			Arity:       len(sig.Results),
			BranchArity: branchArity,
			Height:      len(st.Values) - len(sig.Params),
			Body:        in.Body,
			OpenedAt:    openedAt,
		})
		return Continue, nil

	case wasm.OpcodeIf:
		sig, err := in.BlockType.Signature(frame.Fn.Module.Module)
		if err != nil {
			return Continue, fmt.Errorf("interp: %v", err)
		}
		cond, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		body, elseArm := in.Body, false
		if cond == 0 {
			// A missing else arm decodes as a nil Else: the label closes on
			// the very next step, which is exactly the identity the type
			// rules require of it.
			body, elseArm = in.Else, true
		}
		frame.Labels = append(frame.Labels, Label{
			Kind:        LabelIf,
			Arity:       len(sig.Results),
			BranchArity: len(sig.Results),
			Height:      len(st.Values) - len(sig.Params),
			Body:        body,
			OpenedAt:    openedAt,
			ElseArm:     elseArm,
		})
		return Continue, nil

	case wasm.OpcodeBr:
		return e.branch(st, frame, in.U1)

	case wasm.OpcodeBrIf:
		cond, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		if cond == 0 {
			return Continue, nil
		}
		return e.branch(st, frame, in.U1)

	case wasm.OpcodeBrTable:
		idx, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		target := in.U1
		if int(uint32(idx)) < len(in.Labels) {
			target = in.Labels[uint32(idx)]
		}
		return e.branch(st, frame, target)

	case wasm.OpcodeReturn:
		return e.returnFromFrame(st, frame)

	case wasm.OpcodeCall:
		fn := e.store.Funcs[frame.Fn.Module.FuncAddrs[in.U1]]
		return e.call(st, fn)

	case wasm.OpcodeCallIndirect:
		return e.callIndirect(st, frame, in)
	}
	return Continue, fmt.Errorf("interp: %s is not a control instruction", in)
}

// branch transfers control to the label depth levels up. The carried values
// are the target's branch arity; everything between them and the target's
// height is discarded. A branch to the function label is a return.
func (e *Engine) branch(st *State, frame *Frame, depth uint32) (StepResult, error) {
	idx := len(frame.Labels) - 1 - int(depth)
	if idx < 0 {
		return Continue, fmt.Errorf("interp: branch depth %d exceeds label stack", depth)
	}
	target := &frame.Labels[idx]
	if target.Kind == LabelFunc {
		return e.returnFromFrame(st, frame)
	}

	carried, err := st.popN(target.BranchArity)
	if err != nil {
		return Continue, err
	}
	if len(st.Values) < target.Height {
		return Continue, fmt.Errorf("interp: value stack below branch target height")
	}
	st.Values = st.Values[:target.Height]
	st.Values = append(st.Values, carried...)

	if target.Kind == LabelLoop {
		// Re-enter the loop: inner labels close, the loop itself stays open
		// with its cursor rewound.
		frame.Labels = frame.Labels[:idx+1]
		target.Cursor = 0
	} else {
		frame.Labels = frame.Labels[:idx]
	}
	return Continue, nil
}

// returnFromFrame pops the whole activation, leaving exactly the function's
// results above the frame's entry height.
func (e *Engine) returnFromFrame(st *State, frame *Frame) (StepResult, error) {
	results, err := st.popN(len(frame.Fn.Type.Results))
	if err != nil {
		return Continue, err
	}
	funcHeight := frame.Labels[0].Height
	if len(st.Values) < funcHeight {
		return Continue, fmt.Errorf("interp: value stack below frame height")
	}
	st.Values = st.Values[:funcHeight]
	st.Values = append(st.Values, results...)
	st.Frames = st.Frames[:len(st.Frames)-1]
	if len(st.Frames) == 0 {
		return Return, nil
	}
	return Continue, nil
}

// call dispatches on what kind of function fn is: a wasm function pushes a
// frame, a registered host function runs synchronously, and a pending
// import suspends the state.
func (e *Engine) call(st *State, fn *wasm.FunctionInstance) (StepResult, error) {
	if fn.Pending() {
		args, err := st.popN(len(fn.Type.Params))
		if err != nil {
			return Continue, err
		}
		st.AwaitCall = &HostCall{
			Module:   fn.HostModule,
			Name:     fn.HostName,
			FuncAddr: fn.Addr,
			Args:     args,
		}
		st.AwaitResults = append([]wasm.ValType{}, fn.Type.Results...)
		e.log.Debug("suspending on host import",
			zap.String("module", fn.HostModule), zap.String("name", fn.HostName))
		return AwaitHost, nil
	}

	if fn.GoFunc != nil {
		args, err := st.popN(len(fn.Type.Params))
		if err != nil {
			return Continue, err
		}
		results, err := fn.GoFunc(args)
		if err != nil {
			if _, isTrap := wasm.AsTrap(err); isTrap {
				return Trap, err
			}
			return Continue, fmt.Errorf("interp: host function %s: %w", fn.DebugName(), err)
		}
		if len(results) != len(fn.Type.Results) {
			return Continue, fmt.Errorf("interp: host function %s returned %d values, want %d",
				fn.DebugName(), len(results), len(fn.Type.Results))
		}
		for i, r := range results {
			if r.Type != fn.Type.Results[i] {
				return Continue, fmt.Errorf("interp: host function %s result %d is %s, want %s",
					fn.DebugName(), i, r.Type, fn.Type.Results[i])
			}
			st.push(r)
		}
		return Continue, nil
	}

	if len(st.Frames) >= e.maxCallDepth {
		return Trap, wasm.NewTrap(wasm.TrapCallStackExhausted)
	}
	args, err := st.popN(len(fn.Type.Params))
	if err != nil {
		return Continue, err
	}
	st.pushFrame(fn, args)
	return Continue, nil
}

// callIndirect resolves the callee through a funcref table with the defined
// trap triad: out-of-bounds index, null element, then signature mismatch,
// checked in that order before any argument is consumed.
func (e *Engine) callIndirect(st *State, frame *Frame, in *wasm.Instr) (StepResult, error) {
	table := e.store.Tables[frame.Fn.Module.TableAddrs[in.U2]]
	idx, err := st.popI32()
	if err != nil {
		return Continue, err
	}
	if uint32(idx) >= uint32(len(table.Elems)) {
		return Trap, wasm.NewTrap(wasm.TrapTableOutOfBounds)
	}
	addr, null, err := table.Elems[uint32(idx)].AsFuncAddr()
	if err != nil {
		return Continue, err
	}
	if null {
		return Trap, wasm.NewTrap(wasm.TrapUninitializedElement)
	}
	fn := e.store.Funcs[addr]
	want := frame.Fn.Module.Module.TypeSection[in.U1]
	if !fn.Type.Equals(want) {
		return Trap, wasm.NewTrap(wasm.TrapIndirectCallTypeMismatch)
	}
	return e.call(st, fn)
}
