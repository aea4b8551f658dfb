// Package interp is a stepping interpreter. All execution state lives in an
// explicit State value rather than on the Go call stack, so a computation
// can be paused between any two instructions, captured, and resumed later,
// possibly in a different process.
package interp

import (
	"fmt"

	"github.com/ambervm/ambervm/wasm"
)

// StepResult says what a single Step did.
type StepResult int

const (
	// Continue: one instruction executed, more remain.
	Continue StepResult = iota
	// Return: the outermost function completed; its results are on the
	// value stack.
	Return
	// Trap: execution failed; the accompanying error is a *wasm.TrapError
	// and the State is dead.
	Trap
	// AwaitHost: execution suspended at a pending host import. The State
	// records the call; Resume continues it.
	AwaitHost
)

func (r StepResult) String() string {
	switch r {
	case Continue:
		return "continue"
	case Return:
		return "return"
	case Trap:
		return "trap"
	case AwaitHost:
		return "await_host"
	}
	return fmt.Sprintf("step_result(%d)", int(r))
}

// LabelKind discriminates what opened a label.
type LabelKind byte

const (
	LabelBlock LabelKind = iota
	LabelLoop
	LabelIf
	// LabelFunc is the implicit label around a function body. Branching to
	// it returns from the function.
	LabelFunc
)

// Label is one open structured instruction. Body aliases the decoded
// instruction tree and Cursor indexes the next instruction in it, so
// advancing execution never touches the Go call stack.
type Label struct {
	Kind LabelKind

	// Arity is how many values the label leaves behind on normal exit.
	// BranchArity is how many a branch to it carries: the same, except for
	// loops, where a branch re-enters the body with its parameters.
	Arity       int
	BranchArity int

	// Height is the absolute value-stack floor for the label's body. A
	// branch truncates the stack to it before pushing the carried values.
	Height int

	Body   []wasm.Instr
	Cursor int

	// OpenedAt is the index in the parent label's Body of the structured
	// instruction that opened this label, or -1 for LabelFunc. ElseArm is
	// set when Body is the else arm of that if. Together they let a
	// snapshot record the position as a path and a restore re-walk the
	// instruction tree to reconstruct Body.
	OpenedAt int
	ElseArm  bool
}

// Frame is one function activation.
type Frame struct {
	Fn     *wasm.FunctionInstance
	Locals []wasm.Value
	Labels []Label
}

func (f *Frame) topLabel() *Label { return &f.Labels[len(f.Labels)-1] }

// HostCall is a suspended call to a pending host import. Args were already
// popped from the value stack; FuncAddr identifies the import so a restored
// state can re-describe the call.
type HostCall struct {
	Module   string
	Name     string
	FuncAddr wasm.FuncAddr
	Args     []wasm.Value
}

// State is the complete execution state of one computation. Everything the
// next Step needs is reachable from here; the engine itself is stateless
// between steps.
type State struct {
	Values []wasm.Value
	Frames []*Frame

	// AwaitCall is non-nil while suspended at a host import. AwaitResults
	// are the types Resume must supply.
	AwaitCall    *HostCall
	AwaitResults []wasm.ValType

	// dead is set after a trap; a dead state rejects further stepping.
	dead bool
}

// Suspended reports whether the state is waiting on host results.
func (s *State) Suspended() bool { return s.AwaitCall != nil }

// Dead reports whether the state trapped and cannot continue.
func (s *State) Dead() bool { return s.dead }

func (s *State) topFrame() *Frame { return s.Frames[len(s.Frames)-1] }

func (s *State) push(v wasm.Value) { s.Values = append(s.Values, v) }

func (s *State) pop() (wasm.Value, error) {
	if len(s.Values) == 0 {
		return wasm.Value{}, fmt.Errorf("interp: value stack underflow")
	}
	v := s.Values[len(s.Values)-1]
	s.Values = s.Values[:len(s.Values)-1]
	return v, nil
}

// popN removes and returns the top n values in stack order.
func (s *State) popN(n int) ([]wasm.Value, error) {
	if len(s.Values) < n {
		return nil, fmt.Errorf("interp: value stack underflow, have %d want %d", len(s.Values), n)
	}
	vals := make([]wasm.Value, n)
	copy(vals, s.Values[len(s.Values)-n:])
	s.Values = s.Values[:len(s.Values)-n]
	return vals, nil
}

func (s *State) popI32() (int32, error) {
	v, err := s.pop()
	if err != nil {
		return 0, err
	}
	return v.AsI32()
}

func (s *State) popI64() (int64, error) {
	v, err := s.pop()
	if err != nil {
		return 0, err
	}
	return v.AsI64()
}

func (s *State) popF32() (float32, error) {
	v, err := s.pop()
	if err != nil {
		return 0, err
	}
	return v.AsF32()
}

func (s *State) popF64() (float64, error) {
	v, err := s.pop()
	if err != nil {
		return 0, err
	}
	return v.AsF64()
}
