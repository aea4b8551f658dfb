package interp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ambervm/ambervm/wasm"
)

// DefaultCallDepthLimit bounds the frame stack. It is a resource limit on
// the explicit stack, not the Go stack; exceeding it traps with
// TrapCallStackExhausted.
const DefaultCallDepthLimit = 2048

// Engine executes functions from a Store one instruction at a time. It
// holds no per-computation state; any number of States can be stepped
// against the same Engine.
type Engine struct {
	store        *wasm.Store
	log          *zap.Logger
	maxCallDepth int
}

type Option func(*Engine)

// WithLogger attaches a logger for per-call and trap diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithCallDepthLimit overrides DefaultCallDepthLimit.
func WithCallDepthLimit(n int) Option {
	return func(e *Engine) { e.maxCallDepth = n }
}

func New(store *wasm.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		log:          zap.NewNop(),
		maxCallDepth: DefaultCallDepthLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the engine's store, mainly for snapshot restore.
func (e *Engine) Store() *wasm.Store { return e.store }

// NewState builds a fresh state positioned at the first instruction of f
// with the given arguments. f must be a wasm-defined function.
func (e *Engine) NewState(f *wasm.FunctionInstance, args []wasm.Value) (*State, error) {
	if f.Code == nil {
		return nil, fmt.Errorf("interp: %s is not a wasm-defined function", f.DebugName())
	}
	if len(args) != len(f.Type.Params) {
		return nil, fmt.Errorf("interp: %s takes %d arguments, got %d",
			f.DebugName(), len(f.Type.Params), len(args))
	}
	for i, arg := range args {
		if arg.Type != f.Type.Params[i] {
			return nil, fmt.Errorf("interp: argument %d is %s, want %s",
				i, arg.Type, f.Type.Params[i])
		}
	}
	st := &State{}
	st.pushFrame(f, args)
	return st, nil
}

// pushFrame activates f with args as the leading locals. The caller has
// already removed args from the value stack (or, for a root frame, they
// never were on it).
func (s *State) pushFrame(f *wasm.FunctionInstance, args []wasm.Value) {
	locals := make([]wasm.Value, 0, len(args)+len(f.Code.LocalTypes))
	locals = append(locals, args...)
	for _, t := range f.Code.LocalTypes {
		locals = append(locals, wasm.ZeroValue(t))
	}
	frame := &Frame{
		Fn:     f,
		Locals: locals,
		Labels: []Label{{
			Kind:        LabelFunc,
			Arity:       len(f.Type.Results),
			BranchArity: len(f.Type.Results),
			Height:      len(s.Values),
			Body:        f.Code.Body,
			OpenedAt:    -1,
		}},
	}
	s.Frames = append(s.Frames, frame)
}

// Step executes exactly one instruction (or one implicit label exit) and
// reports what happened. On Trap the error is the *wasm.TrapError; any
// other non-nil error is an engine invariant violation.
func (e *Engine) Step(st *State) (StepResult, error) {
	switch {
	case st.dead:
		return Trap, fmt.Errorf("interp: state is dead after a trap")
	case st.Suspended():
		return AwaitHost, fmt.Errorf("interp: state is suspended awaiting host results")
	case len(st.Frames) == 0:
		return Return, fmt.Errorf("interp: state already returned")
	}

	frame := st.topFrame()
	label := frame.topLabel()
	if label.Cursor >= len(label.Body) {
		return e.exitLabel(st, frame)
	}
	in := &label.Body[label.Cursor]
	openedAt := label.Cursor
	label.Cursor++

	res, err := e.exec(st, frame, in, openedAt)
	if err != nil {
		if _, isTrap := wasm.AsTrap(err); isTrap {
			st.dead = true
			e.log.Debug("trap", zap.String("instr", in.String()), zap.Error(err))
			return Trap, err
		}
		return res, err
	}
	return res, nil
}

// exitLabel handles a cursor running off the end of its body: the label's
// results are already in place above its height, so closing it is pure
// bookkeeping. Closing the function label pops the frame.
func (e *Engine) exitLabel(st *State, frame *Frame) (StepResult, error) {
	label := frame.topLabel()
	frame.Labels = frame.Labels[:len(frame.Labels)-1]
	if label.Kind != LabelFunc {
		return Continue, nil
	}
	st.Frames = st.Frames[:len(st.Frames)-1]
	if len(st.Frames) == 0 {
		return Return, nil
	}
	return Continue, nil
}

// Run steps until the computation returns, traps, or suspends.
func (e *Engine) Run(st *State) (StepResult, error) {
	for {
		res, err := e.Step(st)
		if res != Continue || err != nil {
			return res, err
		}
	}
}

// Resume answers a suspended host call with its results and clears the
// suspension. The state is then steppable again; it does not run here.
func (e *Engine) Resume(st *State, results []wasm.Value) error {
	if !st.Suspended() {
		return fmt.Errorf("interp: state is not awaiting host results")
	}
	if len(results) != len(st.AwaitResults) {
		return fmt.Errorf("interp: host call %s.%s expects %d results, got %d",
			st.AwaitCall.Module, st.AwaitCall.Name, len(st.AwaitResults), len(results))
	}
	for i, r := range results {
		if r.Type != st.AwaitResults[i] {
			return fmt.Errorf("interp: host result %d is %s, want %s",
				i, r.Type, st.AwaitResults[i])
		}
	}
	for _, r := range results {
		st.push(r)
	}
	st.AwaitCall = nil
	st.AwaitResults = nil
	return nil
}

// ResumeTrap answers a suspended host call by trapping the computation, as
// if the import itself had trapped. The state is dead afterwards.
func (e *Engine) ResumeTrap(st *State, kind wasm.TrapKind) (StepResult, error) {
	if !st.Suspended() {
		return Trap, fmt.Errorf("interp: state is not awaiting host results")
	}
	st.AwaitCall = nil
	st.AwaitResults = nil
	st.dead = true
	return Trap, wasm.NewTrap(kind)
}

// Invoke runs f to completion synchronously, implementing wasm.Engine for
// start functions and embedder convenience. A suspension is an error here:
// callers that want AwaitHost drive Step themselves.
func (e *Engine) Invoke(f *wasm.FunctionInstance, args []wasm.Value) ([]wasm.Value, error) {
	if f.GoFunc != nil {
		return f.GoFunc(args)
	}
	if f.Pending() {
		return nil, fmt.Errorf("interp: cannot invoke pending host import %s", f.DebugName())
	}
	st, err := e.NewState(f, args)
	if err != nil {
		return nil, err
	}
	res, err := e.Run(st)
	if err != nil {
		return nil, err
	}
	if res == AwaitHost {
		return nil, fmt.Errorf("interp: %s suspended on host import %s.%s during synchronous invoke",
			f.DebugName(), st.AwaitCall.Module, st.AwaitCall.Name)
	}
	return st.popN(len(f.Type.Results))
}

func (e *Engine) exec(st *State, frame *Frame, in *wasm.Instr, openedAt int) (StepResult, error) {
	op := in.Op
	switch {
	case op <= wasm.OpcodeCallIndirect:
		return e.execControl(st, frame, in, openedAt)
	case op >= wasm.OpcodeDrop && op <= wasm.OpcodeSelectT,
		op >= wasm.OpcodeLocalGet && op <= wasm.OpcodeGlobalSet:
		return Continue, e.execStack(st, frame, in)
	case op == wasm.OpcodeTableGet, op == wasm.OpcodeTableSet,
		op >= wasm.OpcodeRefNull && op <= wasm.OpcodeRefFunc:
		return e.execTable(st, frame, in)
	case op >= wasm.OpcodeI32Load && op <= wasm.OpcodeMemoryGrow:
		return e.execMemory(st, frame, in)
	case op >= wasm.OpcodeI32Const && op <= wasm.OpcodeF64Const:
		return Continue, e.execConst(st, in)
	case op == wasm.OpcodeMisc:
		if in.Misc <= wasm.MiscMemoryFill {
			return e.execMemoryMisc(st, frame, in)
		}
		return e.execTableMisc(st, frame, in)
	default:
		return e.execNumeric(st, in)
	}
}

func (e *Engine) execConst(st *State, in *wasm.Instr) error {
	switch in.Op {
	case wasm.OpcodeI32Const:
		st.push(wasm.ValueI32(in.I32))
	case wasm.OpcodeI64Const:
		st.push(wasm.ValueI64(in.I64))
	case wasm.OpcodeF32Const:
		st.push(wasm.ValueF32(in.F32))
	case wasm.OpcodeF64Const:
		st.push(wasm.ValueF64(in.F64))
	default:
		return fmt.Errorf("interp: %s is not a constant", in)
	}
	return nil
}
