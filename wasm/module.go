package wasm

// Module is the decoded, static form of a WebAssembly binary module.
// Section slices are in declaration order; imported items are not included
// here, they only occupy index-space slots at instantiation.
type Module struct {
	TypeSection     []*FuncType
	ImportSection   []*Import
	FunctionSection []Index
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*Global
	ExportSection   []*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code
	DataSection     []*DataSegment

	// DataCountSection is non-nil when section id 12 was present.
	DataCountSection *uint32

	NameSection    *NameSection
	CustomSections []*CustomSection

	// Fingerprint is the SHA-256 of the source bytes the module was decoded
	// from. Snapshots embed it so a restore against different code fails
	// fast instead of corrupting execution.
	Fingerprint [32]byte
}

type Import struct {
	Module string
	Name   string
	Kind   ExternKind

	// One of the following is set, per Kind.
	DescFunc   Index
	DescTable  *TableType
	DescMem    *MemoryType
	DescGlobal *GlobalType

	Loc Loc
}

type Export struct {
	Name  string
	Kind  ExternKind
	Index Index
	Loc   Loc
}

type Global struct {
	Type *GlobalType
	Init *ConstExpr
	Loc  Loc
}

// ConstExpr is a decoded constant expression: a single constant-producing
// instruction followed by end. The validator enforces the §constant rules;
// instantiation evaluates it without the main engine.
type ConstExpr struct {
	Op      Opcode
	I32     int32
	I64     int64
	F32     float32
	F64     float64
	Index   Index   // global.get / ref.func
	RefType ValType // ref.null
	Loc     Loc
}

// SegmentMode says when a segment's contents are applied.
type SegmentMode byte

const (
	SegmentModeActive SegmentMode = iota
	SegmentModePassive
	SegmentModeDeclarative
)

type ElementSegment struct {
	Type       ValType // funcref or externref
	Mode       SegmentMode
	TableIndex Index      // active only
	Offset     *ConstExpr // active only
	Init       []*ConstExpr
	Loc        Loc
}

type DataSegment struct {
	Mode        SegmentMode // active or passive
	MemoryIndex Index       // active only
	Offset      *ConstExpr  // active only
	Init        []byte
	Loc         Loc
}

/// Code is one function body from the code section: the declared locals
// (parameters excluded) and the decoded instruction tree.
type Code struct {
	LocalTypes []ValType
	Body       []Instr
	Loc        Loc
}

type CustomSection struct {
	Name string
	Data []byte
}

// NameSection is the decoded well-known "name" custom section. Metadata
// only.
type NameSection struct {
	ModuleName    string
	FunctionNames map[Index]string
}

// ImportCount returns how many imports of the given kind the module has.
// Those imports occupy indices 0..n-1 of the kind's index space.
func (m *Module) ImportCount(kind ExternKind) uint32 {
	var n uint32
	for _, imp := range m.ImportSection {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// FuncTypeIndex returns the type index of the function at the given
// function-space index, counting imports first.
func (m *Module) FuncTypeIndex(funcIdx Index) (Index, bool) {
	var n Index
	for _, imp := range m.ImportSection {
		if imp.Kind != ExternKindFunc {
			continue
		}
		if n == funcIdx {
			return imp.DescFunc, true
		}
		n++
	}
	local := funcIdx - n
	if int(local) >= len(m.FunctionSection) {
		return 0, false
	}
	return m.FunctionSection[local], true
}
