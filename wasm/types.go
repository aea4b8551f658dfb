package wasm

import (
	"fmt"
	"strings"
)

// Index is an offset into one of a module's index spaces (types, functions,
// tables, memories, globals, element segments or data segments). Imported
// items occupy the low indices of their space, module-defined items follow.
type Index = uint32

// ValType is one of the six WebAssembly value types, using the binary-format
// byte values.
type ValType byte

const (
	ValTypeI32       ValType = 0x7f
	ValTypeI64       ValType = 0x7e
	ValTypeF32       ValType = 0x7d
	ValTypeF64       ValType = 0x7c
	ValTypeFuncref   ValType = 0x70
	ValTypeExternref ValType = 0x6f
)

func (v ValType) Valid() bool {
	switch v {
	case ValTypeI32, ValTypeI64, ValTypeF32, ValTypeF64, ValTypeFuncref, ValTypeExternref:
		return true
	}
	return false
}

func (v ValType) IsRef() bool {
	return v == ValTypeFuncref || v == ValTypeExternref
}

func (v ValType) String() string {
	switch v {
	case ValTypeI32:
		return "i32"
	case ValTypeI64:
		return "i64"
	case ValTypeF32:
		return "f32"
	case ValTypeF64:
		return "f64"
	case ValTypeFuncref:
		return "funcref"
	case ValTypeExternref:
		return "externref"
	}
	return fmt.Sprintf("unknown(%#x)", byte(v))
}

// FuncType is a function signature. Types are interned once per module in
// the type section and referenced elsewhere by index.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (t *FuncType) EqualsSignature(params, results []ValType) bool {
	return valTypesEqual(t.Params, params) && valTypesEqual(t.Results, results)
}

func (t *FuncType) Equals(other *FuncType) bool {
	return t.EqualsSignature(other.Params, other.Results)
}

func valTypesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *FuncType) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(p.String())
	}
	sb.WriteString("] -> [")
	for i, r := range t.Results {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(r.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// Limits bound the size of a table or memory. Max == nil means unbounded.
type Limits struct {
	Min uint32
	Max *uint32
}

// WellFormed reports whether Min <= Max when a maximum is declared.
func (l *Limits) WellFormed() bool {
	return l.Max == nil || l.Min <= *l.Max
}

type TableType struct {
	ElemType ValType // funcref or externref
	Limits   Limits
}

type MemoryType struct {
	Limits Limits
}

type GlobalType struct {
	ValType ValType
	Mutable bool
}

// BlockTypeKind discriminates the three encodings of a structured
/// instruction's type: empty, a single result type, or a type-section index
// for multi-value blocks.
type BlockTypeKind byte

const (
	BlockTypeEmpty BlockTypeKind = iota
	BlockTypeVal
	BlockTypeFunc
)

type BlockType struct {
	Kind      BlockTypeKind
	ValType   ValType // Kind == BlockTypeVal
	TypeIndex Index   // Kind == BlockTypeFunc
}

var emptyFuncType = &FuncType{}

// Signature resolves a block type against the module's type section.
func (bt BlockType) Signature(m *Module) (*FuncType, error) {
	switch bt.Kind {
	case BlockTypeEmpty:
		return emptyFuncType, nil
	case BlockTypeVal:
		return &FuncType{Results: []ValType{bt.ValType}}, nil
	case BlockTypeFunc:
		if int(bt.TypeIndex) >= len(m.TypeSection) {
			return nil, fmt.Errorf("block type index %d out of range", bt.TypeIndex)
		}
		return m.TypeSection[bt.TypeIndex], nil
	}
	return nil, fmt.Errorf("invalid block type kind %d", bt.Kind)
}

// ExternKind classifies an import or export.
type ExternKind byte

const (
	ExternKindFunc   ExternKind = 0x00
	ExternKindTable  ExternKind = 0x01
	ExternKindMemory ExternKind = 0x02
	ExternKindGlobal ExternKind = 0x03
)

func (k ExternKind) String() string {
	switch k {
	case ExternKindFunc:
		return "func"
	case ExternKindTable:
		return "table"
	case ExternKindMemory:
		return "memory"
	case ExternKindGlobal:
		return "global"
	}
	return fmt.Sprintf("unknown(%#x)", byte(k))
}
