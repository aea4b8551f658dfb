package wasm

import "fmt"

// MemoryPageSize is the WebAssembly page granularity.
const MemoryPageSize = 65536

// MemoryMaxPages caps a 32-bit memory at 4GiB.
const MemoryMaxPages = 65536

// ValidatedModule wraps a Module that passed Validate. Instantiation only
// accepts validated modules, so the engine can assume every static rule
// holds and treat violations it does hit as internal bugs rather than traps.
type ValidatedModule struct {
	*Module
}

// Validate checks every static rule of the module and its function bodies.
// On failure it returns an *InvalidError naming the offending function, or
// FuncIndex -1 for module-level rules.
func Validate(m *Module) (*ValidatedModule, error) {
	v := &moduleValidator{m: m}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return &ValidatedModule{Module: m}, nil
}

type moduleValidator struct {
	m *Module

	// Index spaces flattened with imports first.
	funcs   []Index // type indices
	tables  []*TableType
	mems    []*MemoryType
	globals []*GlobalType

	// Function indices referenced outside function bodies. Only these may
	// appear as ref.func operands inside a body.
	declaredFuncs map[Index]struct{}
}

func invalidModule(context, format string, args ...interface{}) error {
	return &InvalidError{FuncIndex: -1, Context: context, Msg: fmt.Sprintf(format, args...)}
}

func (v *moduleValidator) validate() error {
	if err := v.buildIndexSpaces(); err != nil {
		return err
	}
	if err := v.validateTablesAndMemories(); err != nil {
		return err
	}
	if err := v.validateGlobals(); err != nil {
		return err
	}
	if err := v.validateExports(); err != nil {
		return err
	}
	if err := v.validateStart(); err != nil {
		return err
	}
	if err := v.validateElements(); err != nil {
		return err
	}
	if err := v.validateData(); err != nil {
		return err
	}
	return v.validateFunctions()
}

func (v *moduleValidator) buildIndexSpaces() error {
	m := v.m
	for i, imp := range m.ImportSection {
		switch imp.Kind {
		case ExternKindFunc:
			if int(imp.DescFunc) >= len(m.TypeSection) {
				return invalidModule("import", "import %d: type index %d out of range", i, imp.DescFunc)
			}
			v.funcs = append(v.funcs, imp.DescFunc)
		case ExternKindTable:
			v.tables = append(v.tables, imp.DescTable)
		case ExternKindMemory:
			v.mems = append(v.mems, imp.DescMem)
		case ExternKindGlobal:
			v.globals = append(v.globals, imp.DescGlobal)
		default:
			return invalidModule("import", "import %d: unknown kind %#x", i, byte(imp.Kind))
		}
	}
	for i, tidx := range m.FunctionSection {
		if int(tidx) >= len(m.TypeSection) {
			return invalidModule("function", "function %d: type index %d out of range", i, tidx)
		}
		v.funcs = append(v.funcs, tidx)
	}
	v.tables = append(v.tables, m.TableSection...)
	v.mems = append(v.mems, m.MemorySection...)
	for _, g := range m.GlobalSection {
		v.globals = append(v.globals, g.Type)
	}
	return nil
}

func (v *moduleValidator) validateTablesAndMemories() error {
	for i, t := range v.tables {
		if !t.Limits.WellFormed() {
			return invalidModule("table", "table %d: minimum %d exceeds maximum %d", i, t.Limits.Min, *t.Limits.Max)
		}
	}
	if len(v.mems) > 1 {
		return invalidModule("memory", "at most one memory is allowed, found %d", len(v.mems))
	}
	for i, mt := range v.mems {
		if !mt.Limits.WellFormed() {
			return invalidModule("memory", "memory %d: minimum %d exceeds maximum %d", i, mt.Limits.Min, *mt.Limits.Max)
		}
		if mt.Limits.Min > MemoryMaxPages {
			return invalidModule("memory", "memory %d: minimum %d pages exceeds %d", i, mt.Limits.Min, MemoryMaxPages)
		}
		if mt.Limits.Max != nil && *mt.Limits.Max > MemoryMaxPages {
			return invalidModule("memory", "memory %d: maximum %d pages exceeds %d", i, *mt.Limits.Max, MemoryMaxPages)
		}
	}
	return nil
}

func (v *moduleValidator) validateGlobals() error {
	importedGlobals := v.m.ImportCount(ExternKindGlobal)
	for i, g := range v.m.GlobalSection {
		ctx := fmt.Sprintf("global %d", int(importedGlobals)+i)
		// Initializers evaluate in definition order, so a global may read
		// any global defined before it, not just imported ones.
		if err := v.validateConstExpr(ctx, g.Init, g.Type.ValType, importedGlobals+uint32(i)); err != nil {
			return err
		}
	}
	return nil
}

// validateConstExpr checks a constant expression produces exactly the wanted
// type. global.get may reference an immutable global below readableGlobals:
// a global initializer may read imported and earlier-defined globals, while
// segment offsets and element initializers, which evaluate after every
// global exists, may read the whole global index space.
func (v *moduleValidator) validateConstExpr(ctx string, e *ConstExpr, want ValType, readableGlobals uint32) error {
	var got ValType
	switch e.Op {
	case OpcodeI32Const:
		got = ValTypeI32
	case OpcodeI64Const:
		got = ValTypeI64
	case OpcodeF32Const:
		got = ValTypeF32
	case OpcodeF64Const:
		got = ValTypeF64
	case OpcodeGlobalGet:
		if e.Index >= readableGlobals {
			return invalidModule(ctx, "constant expression may not read global %d (only the first %d)", e.Index, readableGlobals)
		}
		gt := v.globals[e.Index]
		if gt.Mutable {
			return invalidModule(ctx, "constant expression reads mutable global %d", e.Index)
		}
		got = gt.ValType
	case OpcodeRefNull:
		got = e.RefType
	case OpcodeRefFunc:
		if int(e.Index) >= len(v.funcs) {
			return invalidModule(ctx, "ref.func index %d out of range", e.Index)
		}
		got = ValTypeFuncref
	default:
		return invalidModule(ctx, "opcode %#x not allowed in constant expression", byte(e.Op))
	}
	if got != want {
		return invalidModule(ctx, "constant expression has type %s, want %s", got, want)
	}
	return nil
}

func (v *moduleValidator) validateExports() error {
	seen := make(map[string]struct{}, len(v.m.ExportSection))
	for _, exp := range v.m.ExportSection {
		if _, dup := seen[exp.Name]; dup {
			return invalidModule("export", "duplicate export name %q", exp.Name)
		}
		seen[exp.Name] = struct{}{}

		var space int
		switch exp.Kind {
		case ExternKindFunc:
			space = len(v.funcs)
		case ExternKindTable:
			space = len(v.tables)
		case ExternKindMemory:
			space = len(v.mems)
		case ExternKindGlobal:
			space = len(v.globals)
		default:
			return invalidModule("export", "export %q: unknown kind %#x", exp.Name, byte(exp.Kind))
		}
		if int(exp.Index) >= space {
			return invalidModule("export", "export %q: %s index %d out of range", exp.Name, exp.Kind, exp.Index)
		}
	}
	return nil
}

func (v *moduleValidator) validateStart() error {
	if v.m.StartSection == nil {
		return nil
	}
	idx := *v.m.StartSection
	if int(idx) >= len(v.funcs) {
		return invalidModule("start", "function index %d out of range", idx)
	}
	ft := v.m.TypeSection[v.funcs[idx]]
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return invalidModule("start", "function %d has type %s, want [] -> []", idx, ft)
	}
	return nil
}

func (v *moduleValidator) validateElements() error {
	readableGlobals := uint32(len(v.globals))
	for i, seg := range v.m.ElementSection {
		ctx := fmt.Sprintf("element segment %d", i)
		if seg.Mode == SegmentModeActive {
			if int(seg.TableIndex) >= len(v.tables) {
				return invalidModule(ctx, "table index %d out of range", seg.TableIndex)
			}
			if v.tables[seg.TableIndex].ElemType != seg.Type {
				return invalidModule(ctx, "segment type %s does not match table type %s",
					seg.Type, v.tables[seg.TableIndex].ElemType)
			}
			if err := v.validateConstExpr(ctx, seg.Offset, ValTypeI32, readableGlobals); err != nil {
				return err
			}
		}
		for _, init := range seg.Init {
			if err := v.validateConstExpr(ctx, init, seg.Type, readableGlobals); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *moduleValidator) validateData() error {
	if dc := v.m.DataCountSection; dc != nil && int(*dc) != len(v.m.DataSection) {
		return invalidModule("data count", "declared %d data segments, found %d", *dc, len(v.m.DataSection))
	}
	readableGlobals := uint32(len(v.globals))
	for i, seg := range v.m.DataSection {
		if seg.Mode != SegmentModeActive {
			continue
		}
		ctx := fmt.Sprintf("data segment %d", i)
		if int(seg.MemoryIndex) >= len(v.mems) {
			return invalidModule(ctx, "memory index %d out of range", seg.MemoryIndex)
		}
		if err := v.validateConstExpr(ctx, seg.Offset, ValTypeI32, readableGlobals); err != nil {
			return err
		}
	}
	return nil
}

// collectDeclaredFuncs gathers every function index referenced outside a
// function body: exports, global initializers, and element segments. ref.func
// inside a body is restricted to this set.
func (v *moduleValidator) collectDeclaredFuncs() {
	v.declaredFuncs = map[Index]struct{}{}
	for _, exp := range v.m.ExportSection {
		if exp.Kind == ExternKindFunc {
			v.declaredFuncs[exp.Index] = struct{}{}
		}
	}
	for _, g := range v.m.GlobalSection {
		if g.Init.Op == OpcodeRefFunc {
			v.declaredFuncs[g.Init.Index] = struct{}{}
		}
	}
	for _, seg := range v.m.ElementSection {
		for _, init := range seg.Init {
			if init.Op == OpcodeRefFunc {
				v.declaredFuncs[init.Index] = struct{}{}
			}
		}
	}
}

func (v *moduleValidator) validateFunctions() error {
	v.collectDeclaredFuncs()
	importedFuncs := v.m.ImportCount(ExternKindFunc)
	for i, code := range v.m.CodeSection {
		funcIdx := Index(importedFuncs) + Index(i)
		ft := v.m.TypeSection[v.funcs[funcIdx]]
		fv := &funcValidator{
			module:        v.m,
			funcIdx:       int(funcIdx),
			funcType:      ft,
			funcs:         v.funcs,
			tables:        v.tables,
			mems:          v.mems,
			globals:       v.globals,
			declaredFuncs: v.declaredFuncs,
		}
		if err := fv.validate(code); err != nil {
			return err
		}
	}
	return nil
}
