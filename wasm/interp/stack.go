package interp

import (
	"fmt"

	"github.com/ambervm/ambervm/wasm"
)

// execStack covers the parametric and variable instructions. None can trap;
// every failure here is an engine bug surfaced as a plain error.
func (e *Engine) execStack(st *State, frame *Frame, in *wasm.Instr) error {
	switch in.Op {
	case wasm.OpcodeDrop:
		_, err := st.pop()
		return err

	case wasm.OpcodeSelect, wasm.OpcodeSelectT:
		cond, err := st.popI32()
		if err != nil {
			return err
		}
		v2, err := st.pop()
		if err != nil {
			return err
		}
		v1, err := st.pop()
		if err != nil {
			return err
		}
		if cond != 0 {
			st.push(v1)
		} else {
			st.push(v2)
		}
		return nil

	case wasm.OpcodeLocalGet:
		v, err := frame.local(in.U1)
		if err != nil {
			return err
		}
		st.push(v)
		return nil

	case wasm.OpcodeLocalSet:
		v, err := st.pop()
		if err != nil {
			return err
		}
		return frame.setLocal(in.U1, v)

	case wasm.OpcodeLocalTee:
		v, err := st.pop()
		if err != nil {
			return err
		}
		st.push(v)
		return frame.setLocal(in.U1, v)

	case wasm.OpcodeGlobalGet:
		g := e.store.Globals[frame.Fn.Module.GlobalAddrs[in.U1]]
		st.push(g.Val)
		return nil

	case wasm.OpcodeGlobalSet:
		v, err := st.pop()
		if err != nil {
			return err
		}
		g := e.store.Globals[frame.Fn.Module.GlobalAddrs[in.U1]]
		g.Val = v
		return nil
	}
	return fmt.Errorf("interp: %s is not a stack instruction", in)
}

func (f *Frame) local(idx uint32) (wasm.Value, error) {
	if int(idx) >= len(f.Locals) {
		return wasm.Value{}, fmt.Errorf("interp: local %d out of range in %s", idx, f.Fn.DebugName())
	}
	return f.Locals[idx], nil
}

func (f *Frame) setLocal(idx uint32, v wasm.Value) error {
	if int(idx) >= len(f.Locals) {
		return fmt.Errorf("interp: local %d out of range in %s", idx, f.Fn.DebugName())
	}
	f.Locals[idx] = v
	return nil
}
