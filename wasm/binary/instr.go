package binary

import (
	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/ieee754"
)

// decodeExpr decodes an instruction sequence terminated by end, consuming
// the terminator.
func decodeExpr(r *reader) ([]wasm.Instr, error) {
	body, term, err := decodeInstrSeq(r)
	if err != nil {
		return nil, err
	}
	if term != wasm.OpcodeEnd {
		return nil, malformed(r.offset(), "expression not terminated by end", nil)
	}
	return body, nil
}

// decodeInstrSeq decodes instructions until end or else, returning the
// terminator that stopped it. Structured instructions recurse; their
// terminators are consumed but not retained, the nesting is the Body and
// Else slices of the owning node.
func decodeInstrSeq(r *reader) ([]wasm.Instr, wasm.Opcode, error) {
	var out []wasm.Instr
	for {
		start := r.offset()
		op, err := readByte(r, "opcode")
		if err != nil {
			return nil, 0, err
		}
		code := wasm.Opcode(op)
		if code == wasm.OpcodeEnd || code == wasm.OpcodeElse {
			return out, code, nil
		}

		in := wasm.Instr{Op: code}
		switch code {
		case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeReturn,
			wasm.OpcodeDrop, wasm.OpcodeSelect, wasm.OpcodeRefIsNull:
			// no immediates

		case wasm.OpcodeBlock, wasm.OpcodeLoop:
			if in.BlockType, err = decodeBlockType(r); err != nil {
				return nil, 0, err
			}
			var term wasm.Opcode
			if in.Body, term, err = decodeInstrSeq(r); err != nil {
				return nil, 0, err
			}
			if term != wasm.OpcodeEnd {
				return nil, 0, malformed(r.offset(), "else outside if", nil)
			}

		case wasm.OpcodeIf:
			if in.BlockType, err = decodeBlockType(r); err != nil {
				return nil, 0, err
			}
			var term wasm.Opcode
			if in.Body, term, err = decodeInstrSeq(r); err != nil {
				return nil, 0, err
			}
			if term == wasm.OpcodeElse {
				if in.Else, term, err = decodeInstrSeq(r); err != nil {
					return nil, 0, err
				}
				if term != wasm.OpcodeEnd {
					return nil, 0, malformed(r.offset(), "if with two else arms", nil)
				}
			}

		case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall,
			wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
			wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet,
			wasm.OpcodeTableGet, wasm.OpcodeTableSet,
			wasm.OpcodeRefFunc:
			if in.U1, err = readU32(r, "index"); err != nil {
				return nil, 0, err
			}

		case wasm.OpcodeBrTable:
			n, err := readU32(r, "br_table target count")
			if err != nil {
				return nil, 0, err
			}
			in.Labels = make([]uint32, n)
			for i := uint32(0); i < n; i++ {
				if in.Labels[i], err = readU32(r, "br_table target"); err != nil {
					return nil, 0, err
				}
			}
			if in.U1, err = readU32(r, "br_table default target"); err != nil {
				return nil, 0, err
			}

		case wasm.OpcodeCallIndirect:
			if in.U1, err = readU32(r, "call_indirect type index"); err != nil {
				return nil, 0, err
			}
			if in.U2, err = readU32(r, "call_indirect table index"); err != nil {
				return nil, 0, err
			}

		case wasm.OpcodeSelectT:
			n, err := readU32(r, "select type count")
			if err != nil {
				return nil, 0, err
			}
			in.Types = make([]wasm.ValType, n)
			for i := uint32(0); i < n; i++ {
				if in.Types[i], err = readValType(r, "select"); err != nil {
					return nil, 0, err
				}
			}

		case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
			off := r.offset()
			b, err := readByte(r, "memory index")
			if err != nil {
				return nil, 0, err
			}
			if b != 0x00 {
				return nil, 0, malformed(off, "nonzero memory index", nil)
			}

		case wasm.OpcodeI32Const:
			if in.I32, err = readS32(r, "i32.const value"); err != nil {
				return nil, 0, err
			}
		case wasm.OpcodeI64Const:
			if in.I64, err = readS64(r, "i64.const value"); err != nil {
				return nil, 0, err
			}
		case wasm.OpcodeF32Const:
			if in.F32, err = ieee754.DecodeFloat32(r); err != nil {
				return nil, 0, malformed(r.offset(), "read f32.const value", wasm.ErrUnexpectedEnd)
			}
		case wasm.OpcodeF64Const:
			if in.F64, err = ieee754.DecodeFloat64(r); err != nil {
				return nil, 0, malformed(r.offset(), "read f64.const value", wasm.ErrUnexpectedEnd)
			}

		case wasm.OpcodeRefNull:
			if in.RefType, err = readValType(r, "ref.null type"); err != nil {
				return nil, 0, err
			}
			if !in.RefType.IsRef() {
				return nil, 0, malformed(start, "ref.null requires a reference type", nil)
			}

		case wasm.OpcodeMisc:
			if err = decodeMiscInstr(r, &in); err != nil {
				return nil, 0, err
			}

		default:
			if isMemArgOpcode(code) {
				if in.U1, err = readU32(r, "memarg alignment"); err != nil {
					return nil, 0, err
				}
				if in.U2, err = readU32(r, "memarg offset"); err != nil {
					return nil, 0, err
				}
			} else if !isPlainNumericOpcode(code) {
				return nil, 0, malformed(start, "unknown opcode", nil)
			}
		}

		in.Loc = wasm.Loc{Offset: uint32(start), Len: uint32(r.offset() - start)}
		out = append(out, in)
	}
}

func decodeMiscInstr(r *reader, in *wasm.Instr) error {
	off := r.offset()
	sub, err := readU32(r, "misc opcode")
	if err != nil {
		return err
	}
	in.Misc = wasm.MiscOpcode(sub)
	switch in.Misc {
	case wasm.MiscMemoryInit:
		if in.U1, err = readU32(r, "memory.init data index"); err != nil {
			return err
		}
		return expectZeroByte(r, "memory.init memory index")
	case wasm.MiscDataDrop:
		in.U1, err = readU32(r, "data.drop data index")
		return err
	case wasm.MiscMemoryCopy:
		if err = expectZeroByte(r, "memory.copy destination memory index"); err != nil {
			return err
		}
		return expectZeroByte(r, "memory.copy source memory index")
	case wasm.MiscMemoryFill:
		return expectZeroByte(r, "memory.fill memory index")
	case wasm.MiscTableInit:
		if in.U1, err = readU32(r, "table.init element index"); err != nil {
			return err
		}
		in.U2, err = readU32(r, "table.init table index")
		return err
	case wasm.MiscElemDrop:
		in.U1, err = readU32(r, "elem.drop element index")
		return err
	case wasm.MiscTableCopy:
		if in.U1, err = readU32(r, "table.copy destination table index"); err != nil {
			return err
		}
		in.U2, err = readU32(r, "table.copy source table index")
		return err
	case wasm.MiscTableGrow, wasm.MiscTableSize, wasm.MiscTableFill:
		in.U1, err = readU32(r, "table index")
		return err
	}
	return malformed(off, "unknown misc opcode", nil)
}

func expectZeroByte(r *reader, what string) error {
	off := r.offset()
	b, err := readByte(r, what)
	if err != nil {
		return err
	}
	if b != 0x00 {
		return malformed(off, "nonzero "+what, nil)
	}
	return nil
}

// decodeBlockType reads the s33 block type: 0x40 empty, a value type, or a
// non-negative function type index.
func decodeBlockType(r *reader) (wasm.BlockType, error) {
	off := r.offset()
	v, err := readS33(r, "block type")
	if err != nil {
		return wasm.BlockType{}, err
	}
	if v >= 0 {
		if v > 0xffffffff {
			return wasm.BlockType{}, malformed(off, "block type index out of range", nil)
		}
		return wasm.BlockType{Kind: wasm.BlockTypeFunc, TypeIndex: wasm.Index(v)}, nil
	}
	b := byte(uint64(v) & 0x7f)
	if b == 0x40 {
		return wasm.BlockType{Kind: wasm.BlockTypeEmpty}, nil
	}
	vt := wasm.ValType(b)
	if !vt.Valid() {
		return wasm.BlockType{}, malformed(off, "invalid block type", nil)
	}
	return wasm.BlockType{Kind: wasm.BlockTypeVal, ValType: vt}, nil
}

func isMemArgOpcode(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32
}

// isPlainNumericOpcode covers every immediate-free numeric, comparison,
// conversion, and sign-extension instruction.
func isPlainNumericOpcode(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Eqz && op <= wasm.OpcodeI64Extend32S
}
