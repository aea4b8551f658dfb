package wasm

import (
	"fmt"
	"math"
)

// Addresses are positions in the Store's global pools. They are stable for
// the life of the Store, which is what lets snapshots refer to functions by
// address instead of by pointer.
type (
	FuncAddr   uint32
	TableAddr  uint32
	MemAddr    uint32
	GlobalAddr uint32
	ElemAddr   uint32
	DataAddr   uint32
)

// HostFunc is a resolved host function. It runs synchronously inside a step;
// host calls that need to escape the engine entirely go through the pending
// import path instead.
type HostFunc func(args []Value) ([]Value, error)

// Engine executes functions against a Store. The interpreter implements it;
// the Store needs it only to run start functions during instantiation.
type Engine interface {
	Invoke(f *FunctionInstance, args []Value) ([]Value, error)
}

// Store owns every runtime instance. Instances from all modules share the
// pools, so cross-module references are plain addresses.
type Store struct {
	Funcs   []*FunctionInstance
	Tables  []*TableInstance
	Mems    []*MemoryInstance
	Globals []*GlobalInstance
	Elems   []*ElemInstance
	Datas   []*DataInstance

	ModuleInstances map[string]*ModuleInstance
}

func NewStore() *Store {
	return &Store{ModuleInstances: map[string]*ModuleInstance{}}
}

// ModuleInstance maps a module's index spaces onto store addresses.
type ModuleInstance struct {
	Name   string
	Module *Module

	FuncAddrs   []FuncAddr
	TableAddrs  []TableAddr
	MemAddrs    []MemAddr
	GlobalAddrs []GlobalAddr
	ElemAddrs   []ElemAddr
	DataAddrs   []DataAddr

	Exports map[string]*ExportInstance
}

// ExportInstance is one resolved export. Addr is interpreted per Kind.
type ExportInstance struct {
	Kind ExternKind
	Addr uint32
}

// FunctionInstance is one callable function. Exactly one of Code and GoFunc
// is set for a resolved function. A pending import has neither: calling it
// suspends execution with AwaitHost until the embedder supplies results.
type FunctionInstance struct {
	Addr   FuncAddr
	Type   *FuncType
	Module *ModuleInstance // nil for host functions

	Code *Code // wasm-defined

	GoFunc     HostFunc // registered host function
	HostModule string   // import/registration module name
	HostName   string

	// FuncIndex is the function-space index inside Module, for diagnostics
	// and name-section lookups.
	FuncIndex Index
}

// Pending reports whether calling this function suspends for the host.
func (f *FunctionInstance) Pending() bool {
	return f.Code == nil && f.GoFunc == nil
}

func (f *FunctionInstance) DebugName() string {
	if f.HostModule != "" || f.HostName != "" {
		return f.HostModule + "." + f.HostName
	}
	if f.Module != nil {
		if ns := f.Module.Module.NameSection; ns != nil {
			if n, ok := ns.FunctionNames[f.FuncIndex]; ok {
				return n
			}
		}
		return fmt.Sprintf("%s[%d]", f.Module.Name, f.FuncIndex)
	}
	return fmt.Sprintf("func[%d]", f.Addr)
}

type TableInstance struct {
	Type  *TableType
	Elems []Value
}

// Grow appends n copies of init, returning the previous size or -1 when the
// declared maximum would be exceeded.
func (t *TableInstance) Grow(n uint32, init Value) int32 {
	prev := uint64(len(t.Elems))
	next := prev + uint64(n)
	if next > math.MaxUint32 {
		return -1
	}
	if t.Type.Limits.Max != nil && next > uint64(*t.Type.Limits.Max) {
		return -1
	}
	for i := uint32(0); i < n; i++ {
		t.Elems = append(t.Elems, init)
	}
	return int32(prev)
}

type MemoryInstance struct {
	Type   *MemoryType
	Buffer []byte
}

// Pages is the current size in 64KiB pages.
func (m *MemoryInstance) Pages() uint32 {
	return uint32(len(m.Buffer) / MemoryPageSize)
}

// Grow extends the memory by delta pages, returning the previous page count
// or -1 when the maximum would be exceeded.
func (m *MemoryInstance) Grow(delta uint32) int32 {
	prev := uint64(m.Pages())
	next := prev + uint64(delta)
	max := uint64(MemoryMaxPages)
	if m.Type.Limits.Max != nil {
		max = uint64(*m.Type.Limits.Max)
	}
	if next > max {
		return -1
	}
	m.Buffer = append(m.Buffer, make([]byte, uint64(delta)*MemoryPageSize)...)
	return int32(prev)
}

// InRange reports whether [offset, offset+n) lies inside the buffer, with
// the arithmetic widened so offset+n cannot wrap.
func (m *MemoryInstance) InRange(offset, n uint64) bool {
	return offset+n <= uint64(len(m.Buffer))
}

type GlobalInstance struct {
	Type *GlobalType
	Val  Value
}

// ElemInstance is a passive element segment's runtime contents. Dropping
// empties it; table.init from a dropped segment only succeeds for zero
// lengths.
type ElemInstance struct {
	Type ValType
	Refs []Value
}

func (e *ElemInstance) Drop() { e.Refs = nil }

type DataInstance struct {
	Bytes []byte
}

func (d *DataInstance) Drop() { d.Bytes = nil }

func linkErr(format string, args ...interface{}) *LinkError {
	return &LinkError{Msg: fmt.Sprintf(format, args...)}
}

// AddHostFunc registers a host function under moduleName.name so later
// instantiations resolve imports of that name to it. The synthetic host
// module is created on first use.
func (s *Store) AddHostFunc(moduleName, name string, fnType *FuncType, fn HostFunc) (*FunctionInstance, error) {
	if fn == nil {
		return nil, fmt.Errorf("host function %s.%s is nil", moduleName, name)
	}
	host := s.ModuleInstances[moduleName]
	if host == nil {
		host = &ModuleInstance{Name: moduleName, Exports: map[string]*ExportInstance{}}
		s.ModuleInstances[moduleName] = host
	}
	if _, exists := host.Exports[name]; exists {
		return nil, fmt.Errorf("host function %s.%s already registered", moduleName, name)
	}
	f := &FunctionInstance{
		Addr:       FuncAddr(len(s.Funcs)),
		Type:       fnType,
		GoFunc:     fn,
		HostModule: moduleName,
		HostName:   name,
	}
	s.Funcs = append(s.Funcs, f)
	host.Exports[name] = &ExportInstance{Kind: ExternKindFunc, Addr: uint32(f.Addr)}
	host.FuncAddrs = append(host.FuncAddrs, f.Addr)
	return f, nil
}

// Instantiate allocates and initializes a validated module, registering the
// result under name. Unresolvable function imports become pending host
// functions that suspend when called; unresolvable table, memory, or global
// imports fail the instantiation. Active segments are applied after bounds
// checks; the start function, if any, runs last via engine.
func (s *Store) Instantiate(v *ValidatedModule, name string, engine Engine) (*ModuleInstance, error) {
	if _, taken := s.ModuleInstances[name]; taken {
		return nil, linkErr("module name %q already in use", name)
	}

	// Remember pool sizes so a failed instantiation can roll back.
	nFuncs, nTables, nMems := len(s.Funcs), len(s.Tables), len(s.Mems)
	nGlobals, nElems, nDatas := len(s.Globals), len(s.Elems), len(s.Datas)
	rollback := func() {
		s.Funcs = s.Funcs[:nFuncs]
		s.Tables = s.Tables[:nTables]
		s.Mems = s.Mems[:nMems]
		s.Globals = s.Globals[:nGlobals]
		s.Elems = s.Elems[:nElems]
		s.Datas = s.Datas[:nDatas]
	}

	inst := &ModuleInstance{Name: name, Module: v.Module, Exports: map[string]*ExportInstance{}}

	if err := s.resolveImports(v.Module, inst); err != nil {
		rollback()
		return nil, err
	}
	s.allocate(v.Module, inst)
	if err := s.initGlobals(v.Module, inst); err != nil {
		rollback()
		return nil, err
	}
	if err := s.initSegments(v.Module, inst); err != nil {
		rollback()
		return nil, err
	}
	if err := s.applyActiveSegments(v.Module, inst); err != nil {
		rollback()
		return nil, err
	}

	for _, exp := range v.Module.ExportSection {
		var addr uint32
		switch exp.Kind {
		case ExternKindFunc:
			addr = uint32(inst.FuncAddrs[exp.Index])
		case ExternKindTable:
			addr = uint32(inst.TableAddrs[exp.Index])
		case ExternKindMemory:
			addr = uint32(inst.MemAddrs[exp.Index])
		case ExternKindGlobal:
			addr = uint32(inst.GlobalAddrs[exp.Index])
		}
		inst.Exports[exp.Name] = &ExportInstance{Kind: exp.Kind, Addr: addr}
	}

	if v.Module.StartSection != nil {
		f := s.Funcs[inst.FuncAddrs[*v.Module.StartSection]]
		if _, err := engine.Invoke(f, nil); err != nil {
			rollback()
			return nil, &LinkError{Msg: "start function failed", Err: err}
		}
	}

	s.ModuleInstances[name] = inst
	return inst, nil
}

func (s *Store) resolveImports(m *Module, inst *ModuleInstance) error {
	for _, imp := range m.ImportSection {
		exporter := s.ModuleInstances[imp.Module]
		var exp *ExportInstance
		if exporter != nil {
			exp = exporter.Exports[imp.Name]
		}

		if exp == nil {
			// Only function imports may stay unresolved; they become
			// pending host functions so the embedder can answer at call
			// time via the AwaitHost protocol.
			if imp.Kind != ExternKindFunc {
				return linkErr("unresolved %s import %s.%s", imp.Kind, imp.Module, imp.Name)
			}
			f := &FunctionInstance{
				Addr:       FuncAddr(len(s.Funcs)),
				Type:       m.TypeSection[imp.DescFunc],
				HostModule: imp.Module,
				HostName:   imp.Name,
			}
			s.Funcs = append(s.Funcs, f)
			inst.FuncAddrs = append(inst.FuncAddrs, f.Addr)
			continue
		}

		if exp.Kind != imp.Kind {
			return linkErr("import %s.%s: want %s, exporter provides %s",
				imp.Module, imp.Name, imp.Kind, exp.Kind)
		}
		switch imp.Kind {
		case ExternKindFunc:
			f := s.Funcs[exp.Addr]
			want := m.TypeSection[imp.DescFunc]
			if !f.Type.Equals(want) {
				return linkErr("import %s.%s: signature %s does not match %s",
					imp.Module, imp.Name, f.Type, want)
			}
			inst.FuncAddrs = append(inst.FuncAddrs, FuncAddr(exp.Addr))
		case ExternKindTable:
			t := s.Tables[exp.Addr]
			if t.Type.ElemType != imp.DescTable.ElemType {
				return linkErr("import %s.%s: table element type mismatch", imp.Module, imp.Name)
			}
			if !limitsMatch(t.Type.Limits, imp.DescTable.Limits) {
				return linkErr("import %s.%s: table limits mismatch", imp.Module, imp.Name)
			}
			inst.TableAddrs = append(inst.TableAddrs, TableAddr(exp.Addr))
		case ExternKindMemory:
			mem := s.Mems[exp.Addr]
			if !limitsMatch(mem.Type.Limits, imp.DescMem.Limits) {
				return linkErr("import %s.%s: memory limits mismatch", imp.Module, imp.Name)
			}
			inst.MemAddrs = append(inst.MemAddrs, MemAddr(exp.Addr))
		case ExternKindGlobal:
			g := s.Globals[exp.Addr]
			if g.Type.ValType != imp.DescGlobal.ValType || g.Type.Mutable != imp.DescGlobal.Mutable {
				return linkErr("import %s.%s: global type mismatch", imp.Module, imp.Name)
			}
			inst.GlobalAddrs = append(inst.GlobalAddrs, GlobalAddr(exp.Addr))
		}
	}
	return nil
}

// limitsMatch implements import subtyping: the provided instance must be at
// least as large and at most as bounded as the declaration requires.
func limitsMatch(actual, declared Limits) bool {
	if actual.Min < declared.Min {
		return false
	}
	if declared.Max == nil {
		return true
	}
	return actual.Max != nil && *actual.Max <= *declared.Max
}

func (s *Store) allocate(m *Module, inst *ModuleInstance) {
	for i, tidx := range m.FunctionSection {
		f := &FunctionInstance{
			Addr:      FuncAddr(len(s.Funcs)),
			Type:      m.TypeSection[tidx],
			Module:    inst,
			Code:      m.CodeSection[i],
			FuncIndex: m.ImportCount(ExternKindFunc) + Index(i),
		}
		s.Funcs = append(s.Funcs, f)
		inst.FuncAddrs = append(inst.FuncAddrs, f.Addr)
	}
	for _, tt := range m.TableSection {
		t := &TableInstance{Type: tt, Elems: make([]Value, tt.Limits.Min)}
		for i := range t.Elems {
			t.Elems[i] = ValueNullRef(tt.ElemType)
		}
		s.Tables = append(s.Tables, t)
		inst.TableAddrs = append(inst.TableAddrs, TableAddr(len(s.Tables)-1))
	}
	for _, mt := range m.MemorySection {
		mem := &MemoryInstance{Type: mt, Buffer: make([]byte, uint64(mt.Limits.Min)*MemoryPageSize)}
		s.Mems = append(s.Mems, mem)
		inst.MemAddrs = append(inst.MemAddrs, MemAddr(len(s.Mems)-1))
	}
}

func (s *Store) initGlobals(m *Module, inst *ModuleInstance) error {
	for _, g := range m.GlobalSection {
		val, err := s.evalConstExpr(g.Init, inst)
		if err != nil {
			return err
		}
		s.Globals = append(s.Globals, &GlobalInstance{Type: g.Type, Val: val})
		inst.GlobalAddrs = append(inst.GlobalAddrs, GlobalAddr(len(s.Globals)-1))
	}
	return nil
}

func (s *Store) initSegments(m *Module, inst *ModuleInstance) error {
	for _, seg := range m.ElementSection {
		e := &ElemInstance{Type: seg.Type}
		// Active and declarative segments start dropped; only passive ones
		// keep their contents for table.init.
		if seg.Mode == SegmentModePassive {
			e.Refs = make([]Value, len(seg.Init))
			for i, init := range seg.Init {
				val, err := s.evalConstExpr(init, inst)
				if err != nil {
					return err
				}
				e.Refs[i] = val
			}
		}
		s.Elems = append(s.Elems, e)
		inst.ElemAddrs = append(inst.ElemAddrs, ElemAddr(len(s.Elems)-1))
	}
	for _, seg := range m.DataSection {
		d := &DataInstance{}
		if seg.Mode == SegmentModePassive {
			d.Bytes = append([]byte{}, seg.Init...)
		}
		s.Datas = append(s.Datas, d)
		inst.DataAddrs = append(inst.DataAddrs, DataAddr(len(s.Datas)-1))
	}
	return nil
}

func (s *Store) applyActiveSegments(m *Module, inst *ModuleInstance) error {
	for i, seg := range m.ElementSection {
		if seg.Mode != SegmentModeActive {
			continue
		}
		offVal, err := s.evalConstExpr(seg.Offset, inst)
		if err != nil {
			return err
		}
		off, _ := offVal.AsI32()
		table := s.Tables[inst.TableAddrs[seg.TableIndex]]
		end := uint64(uint32(off)) + uint64(len(seg.Init))
		if end > uint64(len(table.Elems)) {
			return linkErr("element segment %d does not fit table (%d..%d of %d)",
				i, uint32(off), end, len(table.Elems))
		}
		for j, init := range seg.Init {
			val, err := s.evalConstExpr(init, inst)
			if err != nil {
				return err
			}
			table.Elems[uint32(off)+uint32(j)] = val
		}
	}
	for i, seg := range m.DataSection {
		if seg.Mode != SegmentModeActive {
			continue
		}
		offVal, err := s.evalConstExpr(seg.Offset, inst)
		if err != nil {
			return err
		}
		off, _ := offVal.AsI32()
		mem := s.Mems[inst.MemAddrs[seg.MemoryIndex]]
		end := uint64(uint32(off)) + uint64(len(seg.Init))
		if end > uint64(len(mem.Buffer)) {
			return linkErr("data segment %d does not fit memory (%d..%d of %d)",
				i, uint32(off), end, len(mem.Buffer))
		}
		copy(mem.Buffer[uint32(off):], seg.Init)
	}
	return nil
}

// evalConstExpr evaluates an already-validated constant expression in the
// context of the instance being built.
func (s *Store) evalConstExpr(e *ConstExpr, inst *ModuleInstance) (Value, error) {
	switch e.Op {
	case OpcodeI32Const:
		return ValueI32(e.I32), nil
	case OpcodeI64Const:
		return ValueI64(e.I64), nil
	case OpcodeF32Const:
		return ValueF32(e.F32), nil
	case OpcodeF64Const:
		return ValueF64(e.F64), nil
	case OpcodeGlobalGet:
		if int(e.Index) >= len(inst.GlobalAddrs) {
			return Value{}, linkErr("constant expression reads global %d before it exists", e.Index)
		}
		return s.Globals[inst.GlobalAddrs[e.Index]].Val, nil
	case OpcodeRefNull:
		return ValueNullRef(e.RefType), nil
	case OpcodeRefFunc:
		if int(e.Index) >= len(inst.FuncAddrs) {
			return Value{}, linkErr("constant expression references function %d before it exists", e.Index)
		}
		return ValueFuncRef(inst.FuncAddrs[e.Index]), nil
	}
	return Value{}, linkErr("opcode %#x in constant expression", byte(e.Op))
}

// ExportedFunction resolves a function export by name.
func (inst *ModuleInstance) ExportedFunction(s *Store, name string) (*FunctionInstance, error) {
	exp := inst.Exports[name]
	if exp == nil {
		return nil, fmt.Errorf("module %q has no export %q", inst.Name, name)
	}
	if exp.Kind != ExternKindFunc {
		return nil, fmt.Errorf("export %q is a %s, not a function", name, exp.Kind)
	}
	return s.Funcs[exp.Addr], nil
}
