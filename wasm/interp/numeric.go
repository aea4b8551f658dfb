package interp

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/ambervm/ambervm/wasm"
)

func boolToI32(b bool) wasm.Value {
	if b {
		return wasm.ValueI32(1)
	}
	return wasm.ValueI32(0)
}

func (e *Engine) execNumeric(st *State, in *wasm.Instr) (StepResult, error) {
	switch in.Op {
	case wasm.OpcodeI32Eqz:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(boolToI32(x == 0))
	case wasm.OpcodeI64Eqz:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(boolToI32(x == 0))

	case wasm.OpcodeI32Eq, wasm.OpcodeI32Ne, wasm.OpcodeI32LtS, wasm.OpcodeI32LtU,
		wasm.OpcodeI32GtS, wasm.OpcodeI32GtU, wasm.OpcodeI32LeS, wasm.OpcodeI32LeU,
		wasm.OpcodeI32GeS, wasm.OpcodeI32GeU:
		y, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		var b bool
		switch in.Op {
		case wasm.OpcodeI32Eq:
			b = x == y
		case wasm.OpcodeI32Ne:
			b = x != y
		case wasm.OpcodeI32LtS:
			b = x < y
		case wasm.OpcodeI32LtU:
			b = uint32(x) < uint32(y)
		case wasm.OpcodeI32GtS:
			b = x > y
		case wasm.OpcodeI32GtU:
			b = uint32(x) > uint32(y)
		case wasm.OpcodeI32LeS:
			b = x <= y
		case wasm.OpcodeI32LeU:
			b = uint32(x) <= uint32(y)
		case wasm.OpcodeI32GeS:
			b = x >= y
		case wasm.OpcodeI32GeU:
			b = uint32(x) >= uint32(y)
		}
		st.push(boolToI32(b))

	case wasm.OpcodeI64Eq, wasm.OpcodeI64Ne, wasm.OpcodeI64LtS, wasm.OpcodeI64LtU,
		wasm.OpcodeI64GtS, wasm.OpcodeI64GtU, wasm.OpcodeI64LeS, wasm.OpcodeI64LeU,
		wasm.OpcodeI64GeS, wasm.OpcodeI64GeU:
		y, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		var b bool
		switch in.Op {
		case wasm.OpcodeI64Eq:
			b = x == y
		case wasm.OpcodeI64Ne:
			b = x != y
		case wasm.OpcodeI64LtS:
			b = x < y
		case wasm.OpcodeI64LtU:
			b = uint64(x) < uint64(y)
		case wasm.OpcodeI64GtS:
			b = x > y
		case wasm.OpcodeI64GtU:
			b = uint64(x) > uint64(y)
		case wasm.OpcodeI64LeS:
			b = x <= y
		case wasm.OpcodeI64LeU:
			b = uint64(x) <= uint64(y)
		case wasm.OpcodeI64GeS:
			b = x >= y
		case wasm.OpcodeI64GeU:
			b = uint64(x) >= uint64(y)
		}
		st.push(boolToI32(b))

	case wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt,
		wasm.OpcodeF32Le, wasm.OpcodeF32Ge:
		y, err := st.popF32()
		if err != nil {
			return Continue, err
		}
		x, err := st.popF32()
		if err != nil {
			return Continue, err
		}
		var b bool
		switch in.Op {
		case wasm.OpcodeF32Eq:
			b = x == y
		case wasm.OpcodeF32Ne:
			b = x != y
		case wasm.OpcodeF32Lt:
			b = x < y
		case wasm.OpcodeF32Gt:
			b = x > y
		case wasm.OpcodeF32Le:
			b = x <= y
		case wasm.OpcodeF32Ge:
			b = x >= y
		}
		st.push(boolToI32(b))

	case wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt,
		wasm.OpcodeF64Le, wasm.OpcodeF64Ge:
		y, err := st.popF64()
		if err != nil {
			return Continue, err
		}
		x, err := st.popF64()
		if err != nil {
			return Continue, err
		}
		var b bool
		switch in.Op {
		case wasm.OpcodeF64Eq:
			b = x == y
		case wasm.OpcodeF64Ne:
			b = x != y
		case wasm.OpcodeF64Lt:
			b = x < y
		case wasm.OpcodeF64Gt:
			b = x > y
		case wasm.OpcodeF64Le:
			b = x <= y
		case wasm.OpcodeF64Ge:
			b = x >= y
		}
		st.push(boolToI32(b))

	case wasm.OpcodeI32Clz, wasm.OpcodeI32Ctz, wasm.OpcodeI32Popcnt:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		var r int
		switch in.Op {
		case wasm.OpcodeI32Clz:
			r = bits.LeadingZeros32(uint32(x))
		case wasm.OpcodeI32Ctz:
			r = bits.TrailingZeros32(uint32(x))
		case wasm.OpcodeI32Popcnt:
			r = bits.OnesCount32(uint32(x))
		}
		st.push(wasm.ValueI32(int32(r)))

	case wasm.OpcodeI64Clz, wasm.OpcodeI64Ctz, wasm.OpcodeI64Popcnt:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		var r int
		switch in.Op {
		case wasm.OpcodeI64Clz:
			r = bits.LeadingZeros64(uint64(x))
		case wasm.OpcodeI64Ctz:
			r = bits.TrailingZeros64(uint64(x))
		case wasm.OpcodeI64Popcnt:
			r = bits.OnesCount64(uint64(x))
		}
		st.push(wasm.ValueI64(int64(r)))

	case wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul,
		wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor,
		wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU,
		wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr:
		y, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		var r int32
		switch in.Op {
		case wasm.OpcodeI32Add:
			r = x + y // wraps, as defined
		case wasm.OpcodeI32Sub:
			r = x - y
		case wasm.OpcodeI32Mul:
			r = x * y
		case wasm.OpcodeI32And:
			r = x & y
		case wasm.OpcodeI32Or:
			r = x | y
		case wasm.OpcodeI32Xor:
			r = x ^ y
		case wasm.OpcodeI32Shl:
			r = x << (uint32(y) % 32)
		case wasm.OpcodeI32ShrS:
			r = x >> (uint32(y) % 32)
		case wasm.OpcodeI32ShrU:
			r = int32(uint32(x) >> (uint32(y) % 32))
		case wasm.OpcodeI32Rotl:
			r = int32(bits.RotateLeft32(uint32(x), int(uint32(y)%32)))
		case wasm.OpcodeI32Rotr:
			r = int32(bits.RotateLeft32(uint32(x), -int(uint32(y)%32)))
		}
		st.push(wasm.ValueI32(r))

	case wasm.OpcodeI32DivS, wasm.OpcodeI32DivU, wasm.OpcodeI32RemS, wasm.OpcodeI32RemU:
		y, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		if y == 0 {
			return Trap, wasm.NewTrap(wasm.TrapIntegerDivideByZero)
		}
		var r int32
		switch in.Op {
		case wasm.OpcodeI32DivS:
			if x == math.MinInt32 && y == -1 {
				return Trap, wasm.NewTrap(wasm.TrapIntegerOverflow)
			}
			r = x / y
		case wasm.OpcodeI32DivU:
			r = int32(uint32(x) / uint32(y))
		case wasm.OpcodeI32RemS:
			r = x % y
		case wasm.OpcodeI32RemU:
			r = int32(uint32(x) % uint32(y))
		}
		st.push(wasm.ValueI32(r))

	case wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul,
		wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor,
		wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU,
		wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr:
		y, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		var r int64
		switch in.Op {
		case wasm.OpcodeI64Add:
			r = x + y
		case wasm.OpcodeI64Sub:
			r = x - y
		case wasm.OpcodeI64Mul:
			r = x * y
		case wasm.OpcodeI64And:
			r = x & y
		case wasm.OpcodeI64Or:
			r = x | y
		case wasm.OpcodeI64Xor:
			r = x ^ y
		case wasm.OpcodeI64Shl:
			r = x << (uint64(y) % 64)
		case wasm.OpcodeI64ShrS:
			r = x >> (uint64(y) % 64)
		case wasm.OpcodeI64ShrU:
			r = int64(uint64(x) >> (uint64(y) % 64))
		case wasm.OpcodeI64Rotl:
			r = int64(bits.RotateLeft64(uint64(x), int(uint64(y)%64)))
		case wasm.OpcodeI64Rotr:
			r = int64(bits.RotateLeft64(uint64(x), -int(uint64(y)%64)))
		}
		st.push(wasm.ValueI64(r))

	case wasm.OpcodeI64DivS, wasm.OpcodeI64DivU, wasm.OpcodeI64RemS, wasm.OpcodeI64RemU:
		y, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		if y == 0 {
			return Trap, wasm.NewTrap(wasm.TrapIntegerDivideByZero)
		}
		var r int64
		switch in.Op {
		case wasm.OpcodeI64DivS:
			if x == math.MinInt64 && y == -1 {
				return Trap, wasm.NewTrap(wasm.TrapIntegerOverflow)
			}
			r = x / y
		case wasm.OpcodeI64DivU:
			r = int64(uint64(x) / uint64(y))
		case wasm.OpcodeI64RemS:
			r = x % y
		case wasm.OpcodeI64RemU:
			r = int64(uint64(x) % uint64(y))
		}
		st.push(wasm.ValueI64(r))

	case wasm.OpcodeF32Abs, wasm.OpcodeF32Neg, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor,
		wasm.OpcodeF32Trunc, wasm.OpcodeF32Nearest, wasm.OpcodeF32Sqrt:
		x, err := st.popF32()
		if err != nil {
			return Continue, err
		}
		var r float64
		f := float64(x)
		switch in.Op {
		case wasm.OpcodeF32Abs:
			r = math.Abs(f)
		case wasm.OpcodeF32Neg:
			r = -f
		case wasm.OpcodeF32Ceil:
			r = math.Ceil(f)
		case wasm.OpcodeF32Floor:
			r = math.Floor(f)
		case wasm.OpcodeF32Trunc:
			r = math.Trunc(f)
		case wasm.OpcodeF32Nearest:
			r = math.RoundToEven(f)
		case wasm.OpcodeF32Sqrt:
			r = math.Sqrt(f)
		}
		st.push(wasm.ValueF32(float32(r)))

	case wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor,
		wasm.OpcodeF64Trunc, wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt:
		x, err := st.popF64()
		if err != nil {
			return Continue, err
		}
		var r float64
		switch in.Op {
		case wasm.OpcodeF64Abs:
			r = math.Abs(x)
		case wasm.OpcodeF64Neg:
			r = -x
		case wasm.OpcodeF64Ceil:
			r = math.Ceil(x)
		case wasm.OpcodeF64Floor:
			r = math.Floor(x)
		case wasm.OpcodeF64Trunc:
			r = math.Trunc(x)
		case wasm.OpcodeF64Nearest:
			r = math.RoundToEven(x)
		case wasm.OpcodeF64Sqrt:
			r = math.Sqrt(x)
		}
		st.push(wasm.ValueF64(r))

	case wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div,
		wasm.OpcodeF32Min, wasm.OpcodeF32Max, wasm.OpcodeF32Copysign:
		y, err := st.popF32()
		if err != nil {
			return Continue, err
		}
		x, err := st.popF32()
		if err != nil {
			return Continue, err
		}
		var r float32
		switch in.Op {
		case wasm.OpcodeF32Add:
			r = x + y
		case wasm.OpcodeF32Sub:
			r = x - y
		case wasm.OpcodeF32Mul:
			r = x * y
		case wasm.OpcodeF32Div:
			r = x / y
		case wasm.OpcodeF32Min:
			// f32 -> f64 is exact, so Min's NaN and signed-zero handling
			// carries over unchanged.
			r = float32(math.Min(float64(x), float64(y)))
		case wasm.OpcodeF32Max:
			r = float32(math.Max(float64(x), float64(y)))
		case wasm.OpcodeF32Copysign:
			r = float32(math.Copysign(float64(x), float64(y)))
		}
		st.push(wasm.ValueF32(r))

	case wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div,
		wasm.OpcodeF64Min, wasm.OpcodeF64Max, wasm.OpcodeF64Copysign:
		y, err := st.popF64()
		if err != nil {
			return Continue, err
		}
		x, err := st.popF64()
		if err != nil {
			return Continue, err
		}
		var r float64
		switch in.Op {
		case wasm.OpcodeF64Add:
			r = x + y
		case wasm.OpcodeF64Sub:
			r = x - y
		case wasm.OpcodeF64Mul:
			r = x * y
		case wasm.OpcodeF64Div:
			r = x / y
		case wasm.OpcodeF64Min:
			r = math.Min(x, y)
		case wasm.OpcodeF64Max:
			r = math.Max(x, y)
		case wasm.OpcodeF64Copysign:
			r = math.Copysign(x, y)
		}
		st.push(wasm.ValueF64(r))

	case wasm.OpcodeI32WrapI64:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI32(int32(x)))

	case wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF64S:
		f, err := popFloatAs64(st, in.Op == wasm.OpcodeI32TruncF32S)
		if err != nil {
			return Continue, err
		}
		tr, trapKind, ok := truncToInt(f, -2147483648.0, 2147483648.0)
		if !ok {
			return Trap, wasm.NewTrap(trapKind)
		}
		st.push(wasm.ValueI32(int32(tr)))
	case wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncF64U:
		f, err := popFloatAs64(st, in.Op == wasm.OpcodeI32TruncF32U)
		if err != nil {
			return Continue, err
		}
		tr, trapKind, ok := truncToInt(f, 0, 4294967296.0)
		if !ok {
			return Trap, wasm.NewTrap(trapKind)
		}
		st.push(wasm.ValueI32(int32(uint32(uint64(tr)))))
	case wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF64S:
		f, err := popFloatAs64(st, in.Op == wasm.OpcodeI64TruncF32S)
		if err != nil {
			return Continue, err
		}
		tr, trapKind, ok := truncToInt(f, -9223372036854775808.0, 9223372036854775808.0)
		if !ok {
			return Trap, wasm.NewTrap(trapKind)
		}
		st.push(wasm.ValueI64(int64(tr)))
	case wasm.OpcodeI64TruncF32U, wasm.OpcodeI64TruncF64U:
		f, err := popFloatAs64(st, in.Op == wasm.OpcodeI64TruncF32U)
		if err != nil {
			return Continue, err
		}
		tr, trapKind, ok := truncToInt(f, 0, 18446744073709551616.0)
		if !ok {
			return Trap, wasm.NewTrap(trapKind)
		}
		st.push(wasm.ValueI64(int64(uint64(tr))))

	case wasm.OpcodeI64ExtendI32S:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI64(int64(x)))
	case wasm.OpcodeI64ExtendI32U:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI64(int64(uint32(x))))

	case wasm.OpcodeF32ConvertI32S:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF32(float32(x)))
	case wasm.OpcodeF32ConvertI32U:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF32(float32(uint32(x))))
	case wasm.OpcodeF32ConvertI64S:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF32(float32(x)))
	case wasm.OpcodeF32ConvertI64U:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF32(float32(uint64(x))))
	case wasm.OpcodeF32DemoteF64:
		x, err := st.popF64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF32(float32(x)))
	case wasm.OpcodeF64ConvertI32S:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF64(float64(x)))
	case wasm.OpcodeF64ConvertI32U:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF64(float64(uint32(x))))
	case wasm.OpcodeF64ConvertI64S:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF64(float64(x)))
	case wasm.OpcodeF64ConvertI64U:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF64(float64(uint64(x))))
	case wasm.OpcodeF64PromoteF32:
		x, err := st.popF32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueF64(float64(x)))

	case wasm.OpcodeI32ReinterpretF32:
		v, err := st.pop()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.Value{Type: wasm.ValTypeI32, Bits: v.Bits})
	case wasm.OpcodeI64ReinterpretF64:
		v, err := st.pop()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.Value{Type: wasm.ValTypeI64, Bits: v.Bits})
	case wasm.OpcodeF32ReinterpretI32:
		v, err := st.pop()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.Value{Type: wasm.ValTypeF32, Bits: v.Bits})
	case wasm.OpcodeF64ReinterpretI64:
		v, err := st.pop()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.Value{Type: wasm.ValTypeF64, Bits: v.Bits})

	case wasm.OpcodeI32Extend8S:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI32(int32(int8(x))))
	case wasm.OpcodeI32Extend16S:
		x, err := st.popI32()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI32(int32(int16(x))))
	case wasm.OpcodeI64Extend8S:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI64(int64(int8(x))))
	case wasm.OpcodeI64Extend16S:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI64(int64(int16(x))))
	case wasm.OpcodeI64Extend32S:
		x, err := st.popI64()
		if err != nil {
			return Continue, err
		}
		st.push(wasm.ValueI64(int64(int32(x))))

	default:
		return Continue, fmt.Errorf("interp: unhandled opcode %s", in)
	}
	return Continue, nil
}

func popFloatAs64(st *State, from32 bool) (float64, error) {
	if from32 {
		f, err := st.popF32()
		return float64(f), err
	}
	return st.popF64()
}

// truncToInt truncates f toward zero and checks it falls in [lo, hi). The
// signed trunc variants never emit values as large as hi, which is why the
// upper bound is exclusive even though lo itself is a legal result.
func truncToInt(f, lo, hi float64) (float64, wasm.TrapKind, bool) {
	if f != f {
		return 0, wasm.TrapInvalidConversionToInteger, false
	}
	tr := math.Trunc(f)
	if tr < lo || tr >= hi {
		return 0, wasm.TrapIntegerOverflow, false
	}
	return tr, 0, true
}
