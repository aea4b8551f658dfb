package interp

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ambervm/ambervm/wasm"
)

func (e *Engine) memory(frame *Frame) *wasm.MemoryInstance {
	return e.store.Mems[frame.Fn.Module.MemAddrs[0]]
}

// effectiveAddr pops the base address and widens the offset addition to
// 64 bits, so a base near 2^32 cannot wrap past the bounds check.
func (st *State) effectiveAddr(staticOffset uint32) (uint64, error) {
	base, err := st.popI32()
	if err != nil {
		return 0, err
	}
	return uint64(uint32(base)) + uint64(staticOffset), nil
}

func (e *Engine) execMemory(st *State, frame *Frame, in *wasm.Instr) (StepResult, error) {
	switch in.Op {
	case wasm.OpcodeMemorySize:
		st.push(wasm.ValueI32(int32(e.memory(frame).Pages())))
		return Continue, nil
	case wasm.OpcodeMemoryGrow:
		delta, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI32(e.memory(frame).Grow(uint32(delta))))
		return Continue, nil
	}

	mem := e.memory(frame)

	if in.Op >= wasm.OpcodeI32Store && in.Op <= wasm.OpcodeI64Store32 {
		val, err := st.pop()
		if err != nil {
			return Continue, err
		}
		ea, err := st.effectiveAddr(in.U2)
		if err != nil {
			return Continue, err
		}
		var size uint64
		switch in.Op {
		case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
			size = 1
		case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
			size = 2
		case wasm.OpcodeI32Store, wasm.OpcodeF32Store, wasm.OpcodeI64Store32:
			size = 4
		case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
			size = 8
		}
		if !mem.InRange(ea, size) {
			return Trap, wasm.NewTrap(wasm.TrapMemoryOutOfBounds)
		}
		buf := mem.Buffer[ea:]
		switch size {
		case 1:
			buf[0] = byte(val.Bits)
		case 2:
			binary.LittleEndian.PutUint16(buf, uint16(val.Bits))
		case 4:
			binary.LittleEndian.PutUint32(buf, uint32(val.Bits))
		case 8:
			binary.LittleEndian.PutUint64(buf, val.Bits)
		}
		return Continue, nil
	}

	// Loads.
	ea, err := st.effectiveAddr(in.U2)
	if err != nil {
		return Continue, err
	}
	var size uint64
	switch in.Op {
	case wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U:
		size = 1
	case wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U:
		size = 2
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load, wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		size = 4
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
		size = 8
	default:
		return Continue, fmt.Errorf("interp: %s is not a memory instruction", in)
	}
	if !mem.InRange(ea, size) {
		return Trap, wasm.NewTrap(wasm.TrapMemoryOutOfBounds)
	}
	buf := mem.Buffer[ea:]

	switch in.Op {
	case wasm.OpcodeI32Load:
		st.push(wasm.ValueI32(int32(binary.LittleEndian.Uint32(buf))))
	case wasm.OpcodeI64Load:
		st.push(wasm.ValueI64(int64(binary.LittleEndian.Uint64(buf))))
	case wasm.OpcodeF32Load:
		st.push(wasm.ValueF32(math.Float32frombits(binary.LittleEndian.Uint32(buf))))
	case wasm.OpcodeF64Load:
		st.push(wasm.ValueF64(math.Float64frombits(binary.LittleEndian.Uint64(buf))))
	case wasm.OpcodeI32Load8S:
		st.push(wasm.ValueI32(int32(int8(buf[0]))))
	case wasm.OpcodeI32Load8U:
		st.push(wasm.ValueI32(int32(uint32(buf[0]))))
	case wasm.OpcodeI32Load16S:
		st.push(wasm.ValueI32(int32(int16(binary.LittleEndian.Uint16(buf)))))
	case wasm.OpcodeI32Load16U:
		st.push(wasm.ValueI32(int32(uint32(binary.LittleEndian.Uint16(buf)))))
	case wasm.OpcodeI64Load8S:
		st.push(wasm.ValueI64(int64(int8(buf[0]))))
	case wasm.OpcodeI64Load8U:
		st.push(wasm.ValueI64(int64(uint64(buf[0]))))
	case wasm.OpcodeI64Load16S:
		st.push(wasm.ValueI64(int64(int16(binary.LittleEndian.Uint16(buf)))))
	case wasm.OpcodeI64Load16U:
		st.push(wasm.ValueI64(int64(uint64(binary.LittleEndian.Uint16(buf)))))
	case wasm.OpcodeI64Load32S:
		st.push(wasm.ValueI64(int64(int32(binary.LittleEndian.Uint32(buf)))))
	case wasm.OpcodeI64Load32U:
		st.push(wasm.ValueI64(int64(uint64(binary.LittleEndian.Uint32(buf)))))
	}
	return Continue, nil
}

// popMemRange pops the common (dest, src, n) triple shared by the bulk
// memory instructions, in stack order n, src, dest.
func (st *State) popMemRange() (d, s, n uint32, err error) {
	ni, err := st.popI32()
	if err != nil {
		return 0, 0, 0, err
	}
	si, err := st.popI32()
	if err != nil {
		return 0, 0, 0, err
	}
	di, err := st.popI32()
	if err != nil {
		return 0, 0, 0, err
	}
	return uint32(di), uint32(si), uint32(ni), nil
}

func (e *Engine) execMemoryMisc(st *State, frame *Frame, in *wasm.Instr) (StepResult, error) {
	switch in.Misc {
	case wasm.MiscMemoryInit:
		d, s, n, err := st.popMemRange()
		if err != nil {
			return Continue, err
		}
		mem := e.memory(frame)
		data := e.store.Datas[frame.Fn.Module.DataAddrs[in.U1]]
		if uint64(s)+uint64(n) > uint64(len(data.Bytes)) || !mem.InRange(uint64(d), uint64(n)) {
			return Trap, wasm.NewTrap(wasm.TrapMemoryOutOfBounds)
		}
		copy(mem.Buffer[d:], data.Bytes[s:s+n])
		return Continue, nil

	case wasm.MiscDataDrop:
		e.store.Datas[frame.Fn.Module.DataAddrs[in.U1]].Drop()
		return Continue, nil

	case wasm.MiscMemoryCopy:
		d, s, n, err := st.popMemRange()
		if err != nil {
			return Continue, err
		}
		mem := e.memory(frame)
		if !mem.InRange(uint64(s), uint64(n)) || !mem.InRange(uint64(d), uint64(n)) {
			return Trap, wasm.NewTrap(wasm.TrapMemoryOutOfBounds)
		}
		copy(mem.Buffer[d:d+n], mem.Buffer[s:s+n])
		return Continue, nil

	case wasm.MiscMemoryFill:
		n, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		val, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		d, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		mem := e.memory(frame)
		if !mem.InRange(uint64(uint32(d)), uint64(uint32(n))) {
			return Trap, wasm.NewTrap(wasm.TrapMemoryOutOfBounds)
		}
		region := mem.Buffer[uint32(d) : uint32(d)+uint32(n)]
		for i := range region {
			region[i] = byte(val)
		}
		return Continue, nil
	}
	return Continue, fmt.Errorf("interp: %s is not a bulk memory instruction", in)
}
