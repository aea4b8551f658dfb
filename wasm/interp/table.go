package interp

import (
	"fmt"

	"github.com/ambervm/ambervm/wasm"
)

func (e *Engine) table(frame *Frame, idx uint32) *wasm.TableInstance {
	return e.store.Tables[frame.Fn.Module.TableAddrs[idx]]
}

func (e *Engine) execTable(st *State, frame *Frame, in *wasm.Instr) (StepResult, error) {
	switch in.Op {
	case wasm.OpcodeTableGet:
		table := e.table(frame, in.U1)
		i, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		if uint32(i) >= uint32(len(table.Elems)) {
			return Trap, wasm.NewTrap(wasm.TrapTableOutOfBounds)
		}
		st.push(table.Elems[uint32(i)])
		return Continue, nil

	case wasm.OpcodeTableSet:
		table := e.table(frame, in.U1)
		v, err := st.pop()
		if err != nil {
			return Continue, err
		}
		i, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		if uint32(i) >= uint32(len(table.Elems)) {
			return Trap, wasm.NewTrap(wasm.TrapTableOutOfBounds)
		}
		table.Elems[uint32(i)] = v
		return Continue, nil

	case wasm.OpcodeRefNull:
		st.push(wasm.ValueNullRef(in.RefType))
		return Continue, nil

	case wasm.OpcodeRefIsNull:
		v, err := st.pop()
		if err != nil {
			return Continue, err
		}
		if v.Null {
			st.push(wasm.ValueI32(1))
		} else {
			st.push(wasm.ValueI32(0))
		}
		return Continue, nil

	case wasm.OpcodeRefFunc:
		st.push(wasm.ValueFuncRef(frame.Fn.Module.FuncAddrs[in.U1]))
		return Continue, nil
	}
	return Continue, fmt.Errorf("interp: %s is not a table instruction", in)
}

func (e *Engine) execTableMisc(st *State, frame *Frame, in *wasm.Instr) (StepResult, error) {
	switch in.Misc {
	case wasm.MiscTableInit:
		d, s, n, err := st.popMemRange()
		if err != nil {
			return Continue, err
		}
		elem := e.store.Elems[frame.Fn.Module.ElemAddrs[in.U1]]
		table := e.table(frame, in.U2)
		if uint64(s)+uint64(n) > uint64(len(elem.Refs)) ||
			uint64(d)+uint64(n) > uint64(len(table.Elems)) {
			return Trap, wasm.NewTrap(wasm.TrapTableOutOfBounds)
		}
		copy(table.Elems[d:d+n], elem.Refs[s:s+n])
		return Continue, nil

	case wasm.MiscElemDrop:
		e.store.Elems[frame.Fn.Module.ElemAddrs[in.U1]].Drop()
		return Continue, nil

	case wasm.MiscTableCopy:
		d, s, n, err := st.popMemRange()
		if err != nil {
			return Continue, err
		}
		dst := e.table(frame, in.U1)
		src := e.table(frame, in.U2)
		if uint64(s)+uint64(n) > uint64(len(src.Elems)) ||
			uint64(d)+uint64(n) > uint64(len(dst.Elems)) {
			return Trap, wasm.NewTrap(wasm.TrapTableOutOfBounds)
		}
		copy(dst.Elems[d:d+n], src.Elems[s:s+n])
		return Continue, nil

	case wasm.MiscTableGrow:
		n, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		init, err := st.pop()
		if err != nil {
			return Continue, err
		}
		table := e.table(frame, in.U1)
		st.push(wasm.ValueI32(table.Grow(uint32(n), init)))
		return Continue, nil

	case wasm.MiscTableSize:
		table := e.table(frame, in.U1)
		st.push(wasm.ValueI32(int32(len(table.Elems))))
		return Continue, nil

	case wasm.MiscTableFill:
		n, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		val, err := st.pop()
		if err != nil {
			return Continue, err
		}
		i, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		table := e.table(frame, in.U1)
		if uint64(uint32(i))+uint64(uint32(n)) > uint64(len(table.Elems)) {
			return Trap, wasm.NewTrap(wasm.TrapTableOutOfBounds)
		}
		for j := uint32(i); j < uint32(i)+uint32(n); j++ {
			table.Elems[j] = val
		}
		return Continue, nil
	}
	return Continue, fmt.Errorf("interp: %s is not a bulk table instruction", in)
}
