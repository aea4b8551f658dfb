package binary

import (
	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/ieee754"
)

func decodeTypeSection(r *reader) ([]*wasm.FuncType, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.FuncType, n)
	for i := uint32(0); i < n; i++ {
		if result[i], err = decodeFuncType(r); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeFuncType(r *reader) (*wasm.FuncType, error) {
	off := r.offset()
	b, err := readByte(r, "func type tag")
	if err != nil {
		return nil, err
	}
	if b != 0x60 {
		return nil, malformed(off, "func type must begin with 0x60", nil)
	}
	params, err := decodeValTypeVec(r, "parameter")
	if err != nil {
		return nil, err
	}
	results, err := decodeValTypeVec(r, "result")
	if err != nil {
		return nil, err
	}
	return &wasm.FuncType{Params: params, Results: results}, nil
}

func decodeValTypeVec(r *reader, what string) ([]wasm.ValType, error) {
	n, err := readU32(r, what+" count")
	if err != nil {
		return nil, err
	}
	out := make([]wasm.ValType, n)
	for i := uint32(0); i < n; i++ {
		if out[i], err = readValType(r, what+" type"); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeImportSection(r *reader) ([]*wasm.Import, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.Import, n)
	for i := uint32(0); i < n; i++ {
		if result[i], err = decodeImport(r); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeImport(r *reader) (*wasm.Import, error) {
	start := r.offset()
	imp := &wasm.Import{}
	var err error
	if imp.Module, err = readName(r); err != nil {
		return nil, err
	}
	if imp.Name, err = readName(r); err != nil {
		return nil, err
	}
	kindOff := r.offset()
	kind, err := readByte(r, "import kind")
	if err != nil {
		return nil, err
	}
	imp.Kind = wasm.ExternKind(kind)
	switch imp.Kind {
	case wasm.ExternKindFunc:
		if imp.DescFunc, err = readU32(r, "import func type index"); err != nil {
			return nil, err
		}
	case wasm.ExternKindTable:
		if imp.DescTable, err = decodeTableType(r); err != nil {
			return nil, err
		}
	case wasm.ExternKindMemory:
		if imp.DescMem, err = decodeMemoryType(r); err != nil {
			return nil, err
		}
	case wasm.ExternKindGlobal:
		if imp.DescGlobal, err = decodeGlobalType(r); err != nil {
			return nil, err
		}
	default:
		return nil, malformed(kindOff, "invalid import kind", nil)
	}
	imp.Loc = wasm.Loc{Offset: uint32(start), Len: uint32(r.offset() - start)}
	return imp, nil
}

func decodeFunctionSection(r *reader) ([]wasm.Index, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]wasm.Index, n)
	for i := uint32(0); i < n; i++ {
		if result[i], err = readU32(r, "type index"); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeTableSection(r *reader) ([]*wasm.TableType, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.TableType, n)
	for i := uint32(0); i < n; i++ {
		if result[i], err = decodeTableType(r); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeTableType(r *reader) (*wasm.TableType, error) {
	off := r.offset()
	elem, err := readByte(r, "table element type")
	if err != nil {
		return nil, err
	}
	et := wasm.ValType(elem)
	if !et.IsRef() {
		return nil, malformed(off, "table element type must be a reference type", nil)
	}
	limits, err := decodeLimits(r)
	if err != nil {
		return nil, err
	}
	return &wasm.TableType{ElemType: et, Limits: limits}, nil
}

func decodeMemorySection(r *reader) ([]*wasm.MemoryType, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.MemoryType, n)
	for i := uint32(0); i < n; i++ {
		if result[i], err = decodeMemoryType(r); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeMemoryType(r *reader) (*wasm.MemoryType, error) {
	limits, err := decodeLimits(r)
	if err != nil {
		return nil, err
	}
	return &wasm.MemoryType{Limits: limits}, nil
}

func decodeLimits(r *reader) (wasm.Limits, error) {
	off := r.offset()
	flag, err := readByte(r, "limits flag")
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := readU32(r, "limits minimum")
	if err != nil {
		return wasm.Limits{}, err
	}
	switch flag {
	case 0x00:
		return wasm.Limits{Min: min}, nil
	case 0x01:
		max, err := readU32(r, "limits maximum")
		if err != nil {
			return wasm.Limits{}, err
		}
		return wasm.Limits{Min: min, Max: &max}, nil
	}
	return wasm.Limits{}, malformed(off, "invalid limits flag", nil)
}

func decodeGlobalType(r *reader) (*wasm.GlobalType, error) {
	vt, err := readValType(r, "global value type")
	if err != nil {
		return nil, err
	}
	off := r.offset()
	mut, err := readByte(r, "global mutability")
	if err != nil {
		return nil, err
	}
	if mut > 1 {
		return nil, malformed(off, "invalid global mutability flag", nil)
	}
	return &wasm.GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

func decodeGlobalSection(r *reader) ([]*wasm.Global, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.Global, n)
	for i := uint32(0); i < n; i++ {
		start := r.offset()
		gt, err := decodeGlobalType(r)
		if err != nil {
			return nil, err
		}
		init, err := decodeConstExpr(r)
		if err != nil {
			return nil, err
		}
		result[i] = &wasm.Global{
			Type: gt,
			Init: init,
			Loc:  wasm.Loc{Offset: uint32(start), Len: uint32(r.offset() - start)},
		}
	}
	return result, nil
}

func decodeExportSection(r *reader) ([]*wasm.Export, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.Export, n)
	for i := uint32(0); i < n; i++ {
		start := r.offset()
		name, err := readName(r)
		if err != nil {
			return nil, err
		}
		kindOff := r.offset()
		kind, err := readByte(r, "export kind")
		if err != nil {
			return nil, err
		}
		if kind > byte(wasm.ExternKindGlobal) {
			return nil, malformed(kindOff, "invalid export kind", nil)
		}
		idx, err := readU32(r, "export index")
		if err != nil {
			return nil, err
		}
		result[i] = &wasm.Export{
			Name:  name,
			Kind:  wasm.ExternKind(kind),
			Index: idx,
			Loc:   wasm.Loc{Offset: uint32(start), Len: uint32(r.offset() - start)},
		}
	}
	return result, nil
}

func decodeStartSection(r *reader) (*wasm.Index, error) {
	idx, err := readU32(r, "start function index")
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

func decodeElementSection(r *reader) ([]*wasm.ElementSegment, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.ElementSegment, n)
	for i := uint32(0); i < n; i++ {
		if result[i], err = decodeElementSegment(r); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeElementSegment(r *reader) (*wasm.ElementSegment, error) {
	start := r.offset()
	flag, err := readU32(r, "element segment flag")
	if err != nil {
		return nil, err
	}
	if flag > 7 {
		return nil, malformed(start, "invalid element segment flag", nil)
	}

	seg := &wasm.ElementSegment{Type: wasm.ValTypeFuncref, Mode: wasm.SegmentModeActive}
	if flag&0x01 != 0 {
		if flag&0x02 != 0 {
			seg.Mode = wasm.SegmentModeDeclarative
		} else {
			seg.Mode = wasm.SegmentModePassive
		}
	}

	// Bit 1 of an active segment means an explicit table index.
	if flag&0x03 == 0x02 {
		if seg.TableIndex, err = readU32(r, "element table index"); err != nil {
			return nil, err
		}
	}
	if seg.Mode == wasm.SegmentModeActive {
		if seg.Offset, err = decodeConstExpr(r); err != nil {
			return nil, err
		}
	}

	useExprs := flag&0x04 != 0
	if flag != 0 && flag != 4 {
		// Flags 1-3 carry an element kind byte, 5-7 a reference type.
		off := r.offset()
		b, err := readByte(r, "element type")
		if err != nil {
			return nil, err
		}
		if useExprs {
			et := wasm.ValType(b)
			if !et.IsRef() {
				return nil, malformed(off, "element type must be a reference type", nil)
			}
			seg.Type = et
		} else if b != 0x00 {
			return nil, malformed(off, "invalid element kind", nil)
		}
	}

	cnt, err := readU32(r, "element init count")
	if err != nil {
		return nil, err
	}
	seg.Init = make([]*wasm.ConstExpr, cnt)
	for i := uint32(0); i < cnt; i++ {
		if useExprs {
			if seg.Init[i], err = decodeConstExpr(r); err != nil {
				return nil, err
			}
		} else {
			fnOff := r.offset()
			fn, err := readU32(r, "element function index")
			if err != nil {
				return nil, err
			}
			seg.Init[i] = &wasm.ConstExpr{
				Op:    wasm.OpcodeRefFunc,
				Index: fn,
				Loc:   wasm.Loc{Offset: uint32(fnOff), Len: uint32(r.offset() - fnOff)},
			}
		}
	}
	seg.Loc = wasm.Loc{Offset: uint32(start), Len: uint32(r.offset() - start)}
	return seg, nil
}

func decodeCodeSection(r *reader) ([]*wasm.Code, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.Code, n)
	for i := uint32(0); i < n; i++ {
		if result[i], err = decodeCode(r); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeCode(r *reader) (*wasm.Code, error) {
	start := r.offset()
	size, err := readU32(r, "code entry size")
	if err != nil {
		return nil, err
	}
	body, err := r.sub(int(size))
	if err != nil {
		return nil, err
	}

	localGroups, err := readU32(body, "local group count")
	if err != nil {
		return nil, err
	}
	var locals []wasm.ValType
	var total uint64
	for i := uint32(0); i < localGroups; i++ {
		cnt, err := readU32(body, "local count")
		if err != nil {
			return nil, err
		}
		vt, err := readValType(body, "local")
		if err != nil {
			return nil, err
		}
		total += uint64(cnt)
		if total > 1<<27 {
			return nil, malformed(body.offset(), "too many locals", nil)
		}
		for j := uint32(0); j < cnt; j++ {
			locals = append(locals, vt)
		}
	}

	instrs, err := decodeExpr(body)
	if err != nil {
		return nil, err
	}
	if body.remaining() != 0 {
		return nil, malformed(body.offset(), "code entry size mismatch", nil)
	}
	return &wasm.Code{
		LocalTypes: locals,
		Body:       instrs,
		Loc:        wasm.Loc{Offset: uint32(start), Len: uint32(r.offset() - start)},
	}, nil
}

func decodeDataSection(r *reader) ([]*wasm.DataSegment, error) {
	n, err := readU32(r, "vector size")
	if err != nil {
		return nil, err
	}
	result := make([]*wasm.DataSegment, n)
	for i := uint32(0); i < n; i++ {
		if result[i], err = decodeDataSegment(r); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeDataSegment(r *reader) (*wasm.DataSegment, error) {
	start := r.offset()
	flag, err := readU32(r, "data segment flag")
	if err != nil {
		return nil, err
	}
	seg := &wasm.DataSegment{}
	switch flag {
	case 0x00:
		seg.Mode = wasm.SegmentModeActive
	case 0x01:
		seg.Mode = wasm.SegmentModePassive
	case 0x02:
		seg.Mode = wasm.SegmentModeActive
		if seg.MemoryIndex, err = readU32(r, "data memory index"); err != nil {
			return nil, err
		}
	default:
		return nil, malformed(start, "invalid data segment flag", nil)
	}
	if seg.Mode == wasm.SegmentModeActive {
		if seg.Offset, err = decodeConstExpr(r); err != nil {
			return nil, err
		}
	}
	n, err := readU32(r, "data size")
	if err != nil {
		return nil, err
	}
	init, err := r.bytes(int(n))
	if err != nil {
		return nil, err
	}
	seg.Init = init
	seg.Loc = wasm.Loc{Offset: uint32(start), Len: uint32(r.offset() - start)}
	return seg, nil
}

func decodeDataCountSection(r *reader) (*uint32, error) {
	n, err := readU32(r, "data count")
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// decodeConstExpr reads a single constant-producing instruction terminated
// by end. Anything else is malformed here; whether the instruction is
// allowed in its particular position is the validator's call.
func decodeConstExpr(r *reader) (*wasm.ConstExpr, error) {
	start := r.offset()
	op, err := readByte(r, "constant expression opcode")
	if err != nil {
		return nil, err
	}
	e := &wasm.ConstExpr{Op: wasm.Opcode(op)}
	switch e.Op {
	case wasm.OpcodeI32Const:
		if e.I32, err = readS32(r, "i32 constant"); err != nil {
			return nil, err
		}
	case wasm.OpcodeI64Const:
		if e.I64, err = readS64(r, "i64 constant"); err != nil {
			return nil, err
		}
	case wasm.OpcodeF32Const:
		if e.F32, err = ieee754.DecodeFloat32(r); err != nil {
			return nil, malformed(r.offset(), "read f32 constant", wasm.ErrUnexpectedEnd)
		}
	case wasm.OpcodeF64Const:
		if e.F64, err = ieee754.DecodeFloat64(r); err != nil {
			return nil, malformed(r.offset(), "read f64 constant", wasm.ErrUnexpectedEnd)
		}
	case wasm.OpcodeGlobalGet:
		if e.Index, err = readU32(r, "global index"); err != nil {
			return nil, err
		}
	case wasm.OpcodeRefFunc:
		if e.Index, err = readU32(r, "function index"); err != nil {
			return nil, err
		}
	case wasm.OpcodeRefNull:
		if e.RefType, err = readValType(r, "ref.null type"); err != nil {
			return nil, err
		}
		if !e.RefType.IsRef() {
			return nil, malformed(start, "ref.null requires a reference type", nil)
		}
	default:
		return nil, malformed(start, "opcode not allowed in constant expression", nil)
	}
	endOff := r.offset()
	end, err := readByte(r, "constant expression end")
	if err != nil {
		return nil, err
	}
	if wasm.Opcode(end) != wasm.OpcodeEnd {
		return nil, malformed(endOff, "constant expression not terminated", nil)
	}
	e.Loc = wasm.Loc{Offset: uint32(start), Len: uint32(r.offset() - start)}
	return e, nil
}
