package wasm

import "fmt"

// valUnknown is the polymorphic stack entry that appears below
// unreachable code. It compares equal to every value type.
const valUnknown ValType = 0

// ctrlFrame tracks one open structured instruction during validation.
type ctrlFrame struct {
	params  []ValType
	results []ValType

	// height is the value-stack depth at entry, before params were pushed
	// back. The body may never pop below it.
	height int

	// loop branches target the top of the body, so they carry params.
	loop bool

	unreachable bool
}

func (f *ctrlFrame) branchTypes() []ValType {
	if f.loop {
		return f.params
	}
	return f.results
}

// funcValidator type-checks one function body using the classic abstract
// value stack plus control frame algorithm. It walks the decoded tree, so
// block nesting is recursion here; the interpreter is the one that must not
// recurse.
type funcValidator struct {
	module   *Module
	funcIdx  int
	funcType *FuncType

	funcs         []Index
	tables        []*TableType
	mems          []*MemoryType
	globals       []*GlobalType
	declaredFuncs map[Index]struct{}

	locals []ValType
	stack  []ValType
	ctrl   []ctrlFrame

	cur string // name of the instruction being checked
}

func (fv *funcValidator) invalid(format string, args ...interface{}) error {
	return &InvalidError{FuncIndex: fv.funcIdx, Context: fv.cur, Msg: fmt.Sprintf(format, args...)}
}

func (fv *funcValidator) validate(code *Code) error {
	fv.locals = append(append([]ValType{}, fv.funcType.Params...), code.LocalTypes...)
	fv.cur = "function body"
	fv.pushCtrl(nil, fv.funcType.Results, false)
	if err := fv.seq(code.Body); err != nil {
		return err
	}
	fv.cur = "function end"
	return fv.closeFrame()
}

func (fv *funcValidator) pushCtrl(params, results []ValType, loop bool) {
	fv.ctrl = append(fv.ctrl, ctrlFrame{
		params:  params,
		results: results,
		height:  len(fv.stack),
		loop:    loop,
	})
}

// closeFrame checks the frame's results are exactly what remains above its
// height, then discards the frame. Callers push the results back for the
// enclosing frame.
func (fv *funcValidator) closeFrame() error {
	frame := &fv.ctrl[len(fv.ctrl)-1]
	if err := fv.popVals(frame.results); err != nil {
		return err
	}
	if len(fv.stack) != frame.height {
		return fv.invalid("%d values left on the stack", len(fv.stack)-frame.height)
	}
	fv.ctrl = fv.ctrl[:len(fv.ctrl)-1]
	return nil
}

func (fv *funcValidator) markUnreachable() {
	frame := &fv.ctrl[len(fv.ctrl)-1]
	fv.stack = fv.stack[:frame.height]
	frame.unreachable = true
}

func (fv *funcValidator) push(t ValType) { fv.stack = append(fv.stack, t) }

func (fv *funcValidator) pushVals(ts []ValType) {
	fv.stack = append(fv.stack, ts...)
}

func (fv *funcValidator) pop() (ValType, error) {
	frame := &fv.ctrl[len(fv.ctrl)-1]
	if len(fv.stack) == frame.height {
		if frame.unreachable {
			return valUnknown, nil
		}
		return 0, fv.invalid("stack underflow")
	}
	t := fv.stack[len(fv.stack)-1]
	fv.stack = fv.stack[:len(fv.stack)-1]
	return t, nil
}

func (fv *funcValidator) popExpect(want ValType) error {
	got, err := fv.pop()
	if err != nil {
		return err
	}
	if got != valUnknown && want != valUnknown && got != want {
		return fv.invalid("type mismatch: have %s, want %s", got, want)
	}
	return nil
}

func (fv *funcValidator) popVals(ts []ValType) error {
	for i := len(ts) - 1; i >= 0; i-- {
		if err := fv.popExpect(ts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (fv *funcValidator) labelFrame(n uint32) (*ctrlFrame, error) {
	if int(n) >= len(fv.ctrl) {
		return nil, fv.invalid("label %d out of range, depth is %d", n, len(fv.ctrl))
	}
	return &fv.ctrl[len(fv.ctrl)-1-int(n)], nil
}

func (fv *funcValidator) seq(body []Instr) error {
	for i := range body {
		if err := fv.instr(&body[i]); err != nil {
			return err
		}
	}
	return nil
}

func (fv *funcValidator) instr(in *Instr) error {
	fv.cur = in.String()
	switch in.Op {
	case OpcodeNop:
		return nil
	case OpcodeUnreachable:
		fv.markUnreachable()
		return nil

	case OpcodeBlock, OpcodeLoop:
		sig, err := in.BlockType.Signature(fv.module)
		if err != nil {
			return fv.invalid("%v", err)
		}
		if err := fv.popVals(sig.Params); err != nil {
			return err
		}
		fv.pushCtrl(sig.Params, sig.Results, in.Op == OpcodeLoop)
		fv.pushVals(sig.Params)
		if err := fv.seq(in.Body); err != nil {
			return err
		}
		fv.cur = "end"
		if err := fv.closeFrame(); err != nil {
			return err
		}
		fv.pushVals(sig.Results)
		return nil

	case OpcodeIf:
		sig, err := in.BlockType.Signature(fv.module)
		if err != nil {
			return fv.invalid("%v", err)
		}
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		if err := fv.popVals(sig.Params); err != nil {
			return err
		}
		fv.pushCtrl(sig.Params, sig.Results, false)
		fv.pushVals(sig.Params)
		if err := fv.seq(in.Body); err != nil {
			return err
		}
		fv.cur = "end"
		if err := fv.closeFrame(); err != nil {
			return err
		}
		if in.Else != nil {
			fv.pushCtrl(sig.Params, sig.Results, false)
			fv.pushVals(sig.Params)
			if err := fv.seq(in.Else); err != nil {
				return err
			}
			fv.cur = "end"
			if err := fv.closeFrame(); err != nil {
				return err
			}
		} else if !valTypesEqual(sig.Params, sig.Results) {
			return fv.invalid("if without else has type %s", sig)
		}
		fv.pushVals(sig.Results)
		return nil

	case OpcodeBr:
		frame, err := fv.labelFrame(in.U1)
		if err != nil {
			return err
		}
		if err := fv.popVals(frame.branchTypes()); err != nil {
			return err
		}
		fv.markUnreachable()
		return nil

	case OpcodeBrIf:
		frame, err := fv.labelFrame(in.U1)
		if err != nil {
			return err
		}
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		ts := frame.branchTypes()
		if err := fv.popVals(ts); err != nil {
			return err
		}
		fv.pushVals(ts)
		return nil

	case OpcodeBrTable:
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		def, err := fv.labelFrame(in.U1)
		if err != nil {
			return err
		}
		want := def.branchTypes()
		for _, l := range in.Labels {
			frame, err := fv.labelFrame(l)
			if err != nil {
				return err
			}
			if !valTypesEqual(frame.branchTypes(), want) {
				return fv.invalid("target %d label types differ from default", l)
			}
		}
		if err := fv.popVals(want); err != nil {
			return err
		}
		fv.markUnreachable()
		return nil

	case OpcodeReturn:
		if err := fv.popVals(fv.funcType.Results); err != nil {
			return err
		}
		fv.markUnreachable()
		return nil

	case OpcodeCall:
		if int(in.U1) >= len(fv.funcs) {
			return fv.invalid("function index %d out of range", in.U1)
		}
		ft := fv.module.TypeSection[fv.funcs[in.U1]]
		if err := fv.popVals(ft.Params); err != nil {
			return err
		}
		fv.pushVals(ft.Results)
		return nil

	case OpcodeCallIndirect:
		if int(in.U2) >= len(fv.tables) {
			return fv.invalid("table index %d out of range", in.U2)
		}
		if fv.tables[in.U2].ElemType != ValTypeFuncref {
			return fv.invalid("table %d is not a funcref table", in.U2)
		}
		if int(in.U1) >= len(fv.module.TypeSection) {
			return fv.invalid("type index %d out of range", in.U1)
		}
		ft := fv.module.TypeSection[in.U1]
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		if err := fv.popVals(ft.Params); err != nil {
			return err
		}
		fv.pushVals(ft.Results)
		return nil

	case OpcodeDrop:
		_, err := fv.pop()
		return err

	case OpcodeSelect:
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		t1, err := fv.pop()
		if err != nil {
			return err
		}
		t2, err := fv.pop()
		if err != nil {
			return err
		}
		if t1.IsRef() || t2.IsRef() {
			return fv.invalid("untyped select cannot pick reference types")
		}
		if t1 != valUnknown && t2 != valUnknown && t1 != t2 {
			return fv.invalid("select arms have types %s and %s", t1, t2)
		}
		if t1 == valUnknown {
			t1 = t2
		}
		fv.push(t1)
		return nil

	case OpcodeSelectT:
		if len(in.Types) != 1 {
			return fv.invalid("select requires exactly one type, got %d", len(in.Types))
		}
		t := in.Types[0]
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		if err := fv.popExpect(t); err != nil {
			return err
		}
		if err := fv.popExpect(t); err != nil {
			return err
		}
		fv.push(t)
		return nil

	case OpcodeLocalGet:
		t, err := fv.localType(in.U1)
		if err != nil {
			return err
		}
		fv.push(t)
		return nil
	case OpcodeLocalSet:
		t, err := fv.localType(in.U1)
		if err != nil {
			return err
		}
		return fv.popExpect(t)
	case OpcodeLocalTee:
		t, err := fv.localType(in.U1)
		if err != nil {
			return err
		}
		if err := fv.popExpect(t); err != nil {
			return err
		}
		fv.push(t)
		return nil

	case OpcodeGlobalGet:
		if int(in.U1) >= len(fv.globals) {
			return fv.invalid("global index %d out of range", in.U1)
		}
		fv.push(fv.globals[in.U1].ValType)
		return nil
	case OpcodeGlobalSet:
		if int(in.U1) >= len(fv.globals) {
			return fv.invalid("global index %d out of range", in.U1)
		}
		g := fv.globals[in.U1]
		if !g.Mutable {
			return fv.invalid("global %d is immutable", in.U1)
		}
		return fv.popExpect(g.ValType)

	case OpcodeTableGet:
		tt, err := fv.tableType(in.U1)
		if err != nil {
			return err
		}
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		fv.push(tt.ElemType)
		return nil
	case OpcodeTableSet:
		tt, err := fv.tableType(in.U1)
		if err != nil {
			return err
		}
		if err := fv.popExpect(tt.ElemType); err != nil {
			return err
		}
		return fv.popExpect(ValTypeI32)

	case OpcodeMemorySize:
		if err := fv.requireMemory(); err != nil {
			return err
		}
		fv.push(ValTypeI32)
		return nil
	case OpcodeMemoryGrow:
		if err := fv.requireMemory(); err != nil {
			return err
		}
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		fv.push(ValTypeI32)
		return nil

	case OpcodeI32Const:
		fv.push(ValTypeI32)
		return nil
	case OpcodeI64Const:
		fv.push(ValTypeI64)
		return nil
	case OpcodeF32Const:
		fv.push(ValTypeF32)
		return nil
	case OpcodeF64Const:
		fv.push(ValTypeF64)
		return nil

	case OpcodeRefNull:
		fv.push(in.RefType)
		return nil
	case OpcodeRefIsNull:
		t, err := fv.pop()
		if err != nil {
			return err
		}
		if t != valUnknown && !t.IsRef() {
			return fv.invalid("ref.is_null on non-reference type %s", t)
		}
		fv.push(ValTypeI32)
		return nil
	case OpcodeRefFunc:
		if int(in.U1) >= len(fv.funcs) {
			return fv.invalid("function index %d out of range", in.U1)
		}
		if _, ok := fv.declaredFuncs[in.U1]; !ok {
			return fv.invalid("function %d is not declared for reference", in.U1)
		}
		fv.push(ValTypeFuncref)
		return nil

	case OpcodeMisc:
		return fv.miscInstr(in)
	}

	if in.Op >= OpcodeI32Load && in.Op <= OpcodeI64Store32 {
		return fv.memInstr(in)
	}
	return fv.numericInstr(in)
}

func (fv *funcValidator) localType(idx uint32) (ValType, error) {
	if int(idx) >= len(fv.locals) {
		return 0, fv.invalid("local index %d out of range, function has %d locals", idx, len(fv.locals))
	}
	return fv.locals[idx], nil
}

func (fv *funcValidator) tableType(idx uint32) (*TableType, error) {
	if int(idx) >= len(fv.tables) {
		return nil, fv.invalid("table index %d out of range", idx)
	}
	return fv.tables[idx], nil
}

func (fv *funcValidator) requireMemory() error {
	if len(fv.mems) == 0 {
		return fv.invalid("module has no memory")
	}
	return nil
}

// memInstr handles the loads and stores: memory must exist, the alignment
// exponent must not exceed the access width, then the usual stack shuffle.
func (fv *funcValidator) memInstr(in *Instr) error {
	if err := fv.requireMemory(); err != nil {
		return err
	}

	var width uint32 // log2 of the access size in bytes
	var t ValType
	store := false
	switch in.Op {
	case OpcodeI32Load, OpcodeI32Store:
		width, t = 2, ValTypeI32
		store = in.Op == OpcodeI32Store
	case OpcodeI64Load, OpcodeI64Store:
		width, t = 3, ValTypeI64
		store = in.Op == OpcodeI64Store
	case OpcodeF32Load, OpcodeF32Store:
		width, t = 2, ValTypeF32
		store = in.Op == OpcodeF32Store
	case OpcodeF64Load, OpcodeF64Store:
		width, t = 3, ValTypeF64
		store = in.Op == OpcodeF64Store
	case OpcodeI32Load8S, OpcodeI32Load8U:
		width, t = 0, ValTypeI32
	case OpcodeI32Load16S, OpcodeI32Load16U:
		width, t = 1, ValTypeI32
	case OpcodeI64Load8S, OpcodeI64Load8U:
		width, t = 0, ValTypeI64
	case OpcodeI64Load16S, OpcodeI64Load16U:
		width, t = 1, ValTypeI64
	case OpcodeI64Load32S, OpcodeI64Load32U:
		width, t = 2, ValTypeI64
	case OpcodeI32Store8:
		width, t, store = 0, ValTypeI32, true
	case OpcodeI32Store16:
		width, t, store = 1, ValTypeI32, true
	case OpcodeI64Store8:
		width, t, store = 0, ValTypeI64, true
	case OpcodeI64Store16:
		width, t, store = 1, ValTypeI64, true
	case OpcodeI64Store32:
		width, t, store = 2, ValTypeI64, true
	}
	if in.U1 > width {
		return fv.invalid("alignment 2^%d exceeds natural alignment 2^%d", in.U1, width)
	}

	if store {
		if err := fv.popExpect(t); err != nil {
			return err
		}
		return fv.popExpect(ValTypeI32)
	}
	if err := fv.popExpect(ValTypeI32); err != nil {
		return err
	}
	fv.push(t)
	return nil
}

func (fv *funcValidator) miscInstr(in *Instr) error {
	switch in.Misc {
	case MiscMemoryInit:
		if err := fv.requireMemory(); err != nil {
			return err
		}
		if err := fv.requireDataIndex(in.U1); err != nil {
			return err
		}
		return fv.popVals([]ValType{ValTypeI32, ValTypeI32, ValTypeI32})
	case MiscDataDrop:
		return fv.requireDataIndex(in.U1)
	case MiscMemoryCopy, MiscMemoryFill:
		if err := fv.requireMemory(); err != nil {
			return err
		}
		return fv.popVals([]ValType{ValTypeI32, ValTypeI32, ValTypeI32})
	case MiscTableInit:
		if int(in.U1) >= len(fv.module.ElementSection) {
			return fv.invalid("element segment index %d out of range", in.U1)
		}
		tt, err := fv.tableType(in.U2)
		if err != nil {
			return err
		}
		if fv.module.ElementSection[in.U1].Type != tt.ElemType {
			return fv.invalid("element segment type does not match table type")
		}
		return fv.popVals([]ValType{ValTypeI32, ValTypeI32, ValTypeI32})
	case MiscElemDrop:
		if int(in.U1) >= len(fv.module.ElementSection) {
			return fv.invalid("element segment index %d out of range", in.U1)
		}
		return nil
	case MiscTableCopy:
		dst, err := fv.tableType(in.U1)
		if err != nil {
			return err
		}
		src, err := fv.tableType(in.U2)
		if err != nil {
			return err
		}
		if dst.ElemType != src.ElemType {
			return fv.invalid("table.copy between %s and %s tables", dst.ElemType, src.ElemType)
		}
		return fv.popVals([]ValType{ValTypeI32, ValTypeI32, ValTypeI32})
	case MiscTableGrow:
		tt, err := fv.tableType(in.U1)
		if err != nil {
			return err
		}
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		if err := fv.popExpect(tt.ElemType); err != nil {
			return err
		}
		fv.push(ValTypeI32)
		return nil
	case MiscTableSize:
		if _, err := fv.tableType(in.U1); err != nil {
			return err
		}
		fv.push(ValTypeI32)
		return nil
	case MiscTableFill:
		tt, err := fv.tableType(in.U1)
		if err != nil {
			return err
		}
		if err := fv.popExpect(ValTypeI32); err != nil {
			return err
		}
		if err := fv.popExpect(tt.ElemType); err != nil {
			return err
		}
		return fv.popExpect(ValTypeI32)
	}
	return fv.invalid("unknown misc opcode %d", in.Misc)
}

// requireDataIndex enforces that memory.init and data.drop only appear when
// the module declared a data count, so their index can be checked without
// having seen the data section.
func (fv *funcValidator) requireDataIndex(idx uint32) error {
	if fv.module.DataCountSection == nil {
		return fv.invalid("data index used without a data count section")
	}
	if idx >= *fv.module.DataCountSection {
		return fv.invalid("data segment index %d out of range", idx)
	}
	return nil
}

func (fv *funcValidator) unop(t ValType) error {
	if err := fv.popExpect(t); err != nil {
		return err
	}
	fv.push(t)
	return nil
}

func (fv *funcValidator) binop(t ValType) error {
	if err := fv.popExpect(t); err != nil {
		return err
	}
	if err := fv.popExpect(t); err != nil {
		return err
	}
	fv.push(t)
	return nil
}

func (fv *funcValidator) relop(t ValType) error {
	if err := fv.popExpect(t); err != nil {
		return err
	}
	if err := fv.popExpect(t); err != nil {
		return err
	}
	fv.push(ValTypeI32)
	return nil
}

func (fv *funcValidator) cvt(from, to ValType) error {
	if err := fv.popExpect(from); err != nil {
		return err
	}
	fv.push(to)
	return nil
}

func (fv *funcValidator) numericInstr(in *Instr) error {
	switch in.Op {
	case OpcodeI32Eqz:
		return fv.cvt(ValTypeI32, ValTypeI32)
	case OpcodeI64Eqz:
		return fv.cvt(ValTypeI64, ValTypeI32)

	case OpcodeI32Eq, OpcodeI32Ne, OpcodeI32LtS, OpcodeI32LtU, OpcodeI32GtS,
		OpcodeI32GtU, OpcodeI32LeS, OpcodeI32LeU, OpcodeI32GeS, OpcodeI32GeU:
		return fv.relop(ValTypeI32)
	case OpcodeI64Eq, OpcodeI64Ne, OpcodeI64LtS, OpcodeI64LtU, OpcodeI64GtS,
		OpcodeI64GtU, OpcodeI64LeS, OpcodeI64LeU, OpcodeI64GeS, OpcodeI64GeU:
		return fv.relop(ValTypeI64)
	case OpcodeF32Eq, OpcodeF32Ne, OpcodeF32Lt, OpcodeF32Gt, OpcodeF32Le, OpcodeF32Ge:
		return fv.relop(ValTypeF32)
	case OpcodeF64Eq, OpcodeF64Ne, OpcodeF64Lt, OpcodeF64Gt, OpcodeF64Le, OpcodeF64Ge:
		return fv.relop(ValTypeF64)

	case OpcodeI32Clz, OpcodeI32Ctz, OpcodeI32Popcnt,
		OpcodeI32Extend8S, OpcodeI32Extend16S:
		return fv.unop(ValTypeI32)
	case OpcodeI64Clz, OpcodeI64Ctz, OpcodeI64Popcnt,
		OpcodeI64Extend8S, OpcodeI64Extend16S, OpcodeI64Extend32S:
		return fv.unop(ValTypeI64)

	case OpcodeI32Add, OpcodeI32Sub, OpcodeI32Mul, OpcodeI32DivS, OpcodeI32DivU,
		OpcodeI32RemS, OpcodeI32RemU, OpcodeI32And, OpcodeI32Or, OpcodeI32Xor,
		OpcodeI32Shl, OpcodeI32ShrS, OpcodeI32ShrU, OpcodeI32Rotl, OpcodeI32Rotr:
		return fv.binop(ValTypeI32)
	case OpcodeI64Add, OpcodeI64Sub, OpcodeI64Mul, OpcodeI64DivS, OpcodeI64DivU,
		OpcodeI64RemS, OpcodeI64RemU, OpcodeI64And, OpcodeI64Or, OpcodeI64Xor,
		OpcodeI64Shl, OpcodeI64ShrS, OpcodeI64ShrU, OpcodeI64Rotl, OpcodeI64Rotr:
		return fv.binop(ValTypeI64)

	case OpcodeF32Abs, OpcodeF32Neg, OpcodeF32Ceil, OpcodeF32Floor,
		OpcodeF32Trunc, OpcodeF32Nearest, OpcodeF32Sqrt:
		return fv.unop(ValTypeF32)
	case OpcodeF64Abs, OpcodeF64Neg, OpcodeF64Ceil, OpcodeF64Floor,
		OpcodeF64Trunc, OpcodeF64Nearest, OpcodeF64Sqrt:
		return fv.unop(ValTypeF64)

	case OpcodeF32Add, OpcodeF32Sub, OpcodeF32Mul, OpcodeF32Div,
		OpcodeF32Min, OpcodeF32Max, OpcodeF32Copysign:
		return fv.binop(ValTypeF32)
	case OpcodeF64Add, OpcodeF64Sub, OpcodeF64Mul, OpcodeF64Div,
		OpcodeF64Min, OpcodeF64Max, OpcodeF64Copysign:
		return fv.binop(ValTypeF64)

	case OpcodeI32WrapI64:
		return fv.cvt(ValTypeI64, ValTypeI32)
	case OpcodeI32TruncF32S, OpcodeI32TruncF32U:
		return fv.cvt(ValTypeF32, ValTypeI32)
	case OpcodeI32TruncF64S, OpcodeI32TruncF64U:
		return fv.cvt(ValTypeF64, ValTypeI32)
	case OpcodeI64ExtendI32S, OpcodeI64ExtendI32U:
		return fv.cvt(ValTypeI32, ValTypeI64)
	case OpcodeI64TruncF32S, OpcodeI64TruncF32U:
		return fv.cvt(ValTypeF32, ValTypeI64)
	case OpcodeI64TruncF64S, OpcodeI64TruncF64U:
		return fv.cvt(ValTypeF64, ValTypeI64)
	case OpcodeF32ConvertI32S, OpcodeF32ConvertI32U:
		return fv.cvt(ValTypeI32, ValTypeF32)
	case OpcodeF32ConvertI64S, OpcodeF32ConvertI64U:
		return fv.cvt(ValTypeI64, ValTypeF32)
	case OpcodeF32DemoteF64:
		return fv.cvt(ValTypeF64, ValTypeF32)
	case OpcodeF64ConvertI32S, OpcodeF64ConvertI32U:
		return fv.cvt(ValTypeI32, ValTypeF64)
	case OpcodeF64ConvertI64S, OpcodeF64ConvertI64U:
		return fv.cvt(ValTypeI64, ValTypeF64)
	case OpcodeF64PromoteF32:
		return fv.cvt(ValTypeF32, ValTypeF64)
	case OpcodeI32ReinterpretF32:
		return fv.cvt(ValTypeF32, ValTypeI32)
	case OpcodeI64ReinterpretF64:
		return fv.cvt(ValTypeF64, ValTypeI64)
	case OpcodeF32ReinterpretI32:
		return fv.cvt(ValTypeI32, ValTypeF32)
	case OpcodeF64ReinterpretI64:
		return fv.cvt(ValTypeI64, ValTypeF64)
	}
	return fv.invalid("unhandled opcode %#x", byte(in.Op))
}
