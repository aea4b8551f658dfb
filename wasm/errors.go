package wasm

import (
	"errors"
	"fmt"
)

// The three user-facing failure kinds are deliberately disjoint:
// MalformedError (decode), InvalidError (validate) and TrapError (execute).
// They are never wrapped into one another.

var (
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid version header")
	ErrInvalidSectionID   = errors.New("invalid section id")
	ErrSectionOutOfOrder  = errors.New("section out of order or duplicated")
	ErrUnexpectedEnd      = errors.New("unexpected end of binary")
)

// MalformedError reports a byte stream that does not parse as a well-formed
// module. Offset is the position the decoder was at when it gave up.
type MalformedError struct {
	Offset uint64
	Msg    string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed module at offset %#x: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("malformed module at offset %#x: %s", e.Offset, e.Msg)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// InvalidError reports a well-formed module that violates a static rule.
// FuncIndex is the function-space index of the offending body, or -1 for a
// module-level rule.
type InvalidError struct {
	FuncIndex int
	Context   string
	Msg       string
}

func (e *InvalidError) Error() string {
	if e.FuncIndex < 0 {
		return fmt.Sprintf("invalid module: %s: %s", e.Context, e.Msg)
	}
	return fmt.Sprintf("invalid function %d: %s: %s", e.FuncIndex, e.Context, e.Msg)
}

// LinkError reports a failed instantiation: unresolvable imports,
// out-of-bounds active segments, or a trap in the start function.
type LinkError struct {
	Msg string
	Err error
}

func (e *LinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("link error: %s: %v", e.Msg, e.Err)
	}
	return "link error: " + e.Msg
}

func (e *LinkError) Unwrap() error { return e.Err }

// TrapKind enumerates the defined runtime failures.
type TrapKind int

const (
	TrapUnreachable TrapKind = iota
	TrapIntegerDivideByZero
	TrapIntegerOverflow
	TrapInvalidConversionToInteger
	TrapMemoryOutOfBounds
	TrapTableOutOfBounds
	TrapUninitializedElement
	TrapIndirectCallTypeMismatch
	TrapCallStackExhausted
)

func (k TrapKind) String() string {
	switch k {
	case TrapUnreachable:
		return "unreachable executed"
	case TrapIntegerDivideByZero:
		return "integer divide by zero"
	case TrapIntegerOverflow:
		return "integer overflow"
	case TrapInvalidConversionToInteger:
		return "invalid conversion to integer"
	case TrapMemoryOutOfBounds:
		return "out of bounds memory access"
	case TrapTableOutOfBounds:
		return "out of bounds table access"
	case TrapUninitializedElement:
		return "uninitialized table element"
	case TrapIndirectCallTypeMismatch:
		return "indirect call type mismatch"
	case TrapCallStackExhausted:
		return "call stack exhausted"
	}
	return fmt.Sprintf("unknown trap (%d)", int(k))
}

// TrapError is a dynamic failure raised by the running program. The Store
// stays inspectable after a trap; only the trapped execution state is dead.
type TrapError struct {
	Kind TrapKind
}

func (e *TrapError) Error() string { return "trap: " + e.Kind.String() }

func NewTrap(kind TrapKind) *TrapError { return &TrapError{Kind: kind} }

// AsTrap returns the TrapError inside err, if any. Engine-internal
// invariant violations are plain errors and deliberately do not match.
func AsTrap(err error) (*TrapError, bool) {
	var t *TrapError
	ok := errors.As(err, &t)
	return t, ok
}
