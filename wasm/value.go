package wasm

import (
	"fmt"
	"math"
)

// Value is one tagged runtime value. Copy semantics: values own nothing.
// Numeric payloads live in Bits (raw two's-complement or IEEE-754 bit
// pattern); reference payloads use Bits as an address/handle with Null set
// for the null reference.
type Value struct {
	Type ValType
	Bits uint64
	Null bool
}

func ValueI32(v int32) Value { return Value{Type: ValTypeI32, Bits: uint64(uint32(v))} }
func ValueI64(v int64) Value { return Value{Type: ValTypeI64, Bits: uint64(v)} }
func ValueF32(v float32) Value {
	return Value{Type: ValTypeF32, Bits: uint64(math.Float32bits(v))}
}
func ValueF64(v float64) Value { return Value{Type: ValTypeF64, Bits: math.Float64bits(v)} }

func ValueFuncRef(addr FuncAddr) Value {
	return Value{Type: ValTypeFuncref, Bits: uint64(addr)}
}

// ValueExternRef wraps an opaque embedder-chosen handle. The engine never
// dereferences it.
func ValueExternRef(handle uint64) Value {
	return Value{Type: ValTypeExternref, Bits: handle}
}

func ValueNullRef(t ValType) Value { return Value{Type: t, Null: true} }

// ZeroValue is the default a declared local of type t starts with.
func ZeroValue(t ValType) Value {
	if t.IsRef() {
		return ValueNullRef(t)
	}
	return Value{Type: t}
}

func (v Value) AsI32() (int32, error) {
	if v.Type != ValTypeI32 {
		return 0, fmt.Errorf("value type mismatch: have %s, want i32", v.Type)
	}
	return int32(uint32(v.Bits)), nil
}

func (v Value) AsI64() (int64, error) {
	if v.Type != ValTypeI64 {
		return 0, fmt.Errorf("value type mismatch: have %s, want i64", v.Type)
	}
	return int64(v.Bits), nil
}

func (v Value) AsF32() (float32, error) {
	if v.Type != ValTypeF32 {
		return 0, fmt.Errorf("value type mismatch: have %s, want f32", v.Type)
	}
	return math.Float32frombits(uint32(v.Bits)), nil
}

func (v Value) AsF64() (float64, error) {
	if v.Type != ValTypeF64 {
		return 0, fmt.Errorf("value type mismatch: have %s, want f64", v.Type)
	}
	return math.Float64frombits(v.Bits), nil
}

// AsFuncAddr returns the function address of a non-null funcref.
func (v Value) AsFuncAddr() (FuncAddr, bool, error) {
	if v.Type != ValTypeFuncref {
		return 0, false, fmt.Errorf("value type mismatch: have %s, want funcref", v.Type)
	}
	if v.Null {
		return 0, true, nil
	}
	return FuncAddr(v.Bits), false, nil
}

func (v Value) Equal(o Value) bool {
	return v.Type == o.Type && v.Bits == o.Bits && v.Null == o.Null
}

func (v Value) String() string {
	switch v.Type {
	case ValTypeI32:
		return fmt.Sprintf("i32:%d", int32(uint32(v.Bits)))
	case ValTypeI64:
		return fmt.Sprintf("i64:%d", int64(v.Bits))
	case ValTypeF32:
		return fmt.Sprintf("f32:%g", math.Float32frombits(uint32(v.Bits)))
	case ValTypeF64:
		return fmt.Sprintf("f64:%g", math.Float64frombits(v.Bits))
	case ValTypeFuncref:
		if v.Null {
			return "funcref:null"
		}
		return fmt.Sprintf("funcref:%d", v.Bits)
	case ValTypeExternref:
		if v.Null {
			return "externref:null"
		}
		return fmt.Sprintf("externref:%#x", v.Bits)
	}
	return fmt.Sprintf("value(%#x)", byte(v.Type))
}
