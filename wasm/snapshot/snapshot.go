// Package snapshot captures and restores interpreter execution states.
// Capture/Restore convert between a live interp.State and a plain data
// Snapshot; Encode/Decode convert a Snapshot to and from stable bytes.
// Where the bytes go afterwards is the embedder's business.
package snapshot

import (
	"fmt"

	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/interp"
)

// Snapshot is the serializable form of one execution state. It refers to
// code by store address and tree position only, never by pointer, so it
// survives encoding and process boundaries.
type Snapshot struct {
	// Fingerprint is the SHA-256 of the root frame's module source. Restore
	// refuses a store whose resolved root module does not match. Callee
	// frames belonging to other module instances carry no fingerprint of
	// their own; they are resolved by store address alone.
	Fingerprint [32]byte

	Values []wasm.Value
	Frames []FrameSnapshot

	// Await is non-nil when the state was suspended at a host import.
	Await *AwaitSnapshot
}

type FrameSnapshot struct {
	FuncAddr wasm.FuncAddr
	Locals   []wasm.Value
	Labels   []LabelSnapshot
}

// LabelSnapshot records a label's position as a path step through the
// instruction tree: OpenedAt is the index of the structured instruction in
// the parent label's body, ElseArm picks the if's second arm. The Body
// slice itself is rebuilt by Restore.
type LabelSnapshot struct {
	Kind        interp.LabelKind
	Arity       uint32
	BranchArity uint32
	Height      uint32
	Cursor      uint32
	OpenedAt    int32 // -1 for the function label
	ElseArm     bool
}

type AwaitSnapshot struct {
	Module   string
	Name     string
	FuncAddr wasm.FuncAddr
	Args     []wasm.Value
	Results  []wasm.ValType
}

// Capture copies a live state into a Snapshot. The state is not consumed
// and may keep running; dead states cannot be captured.
func Capture(st *interp.State) (*Snapshot, error) {
	if st.Dead() {
		return nil, fmt.Errorf("snapshot: cannot capture a trapped state")
	}
	if len(st.Frames) == 0 {
		return nil, fmt.Errorf("snapshot: cannot capture a completed state")
	}

	snap := &Snapshot{
		Fingerprint: st.Frames[0].Fn.Module.Module.Fingerprint,
		Values:      append([]wasm.Value{}, st.Values...),
		Frames:      make([]FrameSnapshot, len(st.Frames)),
	}
	for i, frame := range st.Frames {
		fs := FrameSnapshot{
			FuncAddr: frame.Fn.Addr,
			Locals:   append([]wasm.Value{}, frame.Locals...),
			Labels:   make([]LabelSnapshot, len(frame.Labels)),
		}
		for j, l := range frame.Labels {
			fs.Labels[j] = LabelSnapshot{
				Kind:        l.Kind,
				Arity:       uint32(l.Arity),
				BranchArity: uint32(l.BranchArity),
				Height:      uint32(l.Height),
				Cursor:      uint32(l.Cursor),
				OpenedAt:    int32(l.OpenedAt),
				ElseArm:     l.ElseArm,
			}
		}
		snap.Frames[i] = fs
	}
	if st.Suspended() {
		snap.Await = &AwaitSnapshot{
			Module:   st.AwaitCall.Module,
			Name:     st.AwaitCall.Name,
			FuncAddr: st.AwaitCall.FuncAddr,
			Args:     append([]wasm.Value{}, st.AwaitCall.Args...),
			Results:  append([]wasm.ValType{}, st.AwaitResults...),
		}
	}
	return snap, nil
}

// Restore rebuilds a runnable state against store. Functions are re-resolved
// by address and every label's body is recovered by walking the instruction
// tree along the recorded path; any mismatch fails without producing a
// partial state.
//
// Only the root frame's module is verified against the fingerprint. When a
// snapshot spans calls into other module instances, the embedder must
// rebuild the store deterministically (same modules, same order) so that
// addresses resolve to the code that produced the snapshot; the per-frame
// label walk rejects shape mismatches but cannot prove byte identity.
func Restore(snap *Snapshot, store *wasm.Store) (*interp.State, error) {
	if len(snap.Frames) == 0 {
		return nil, fmt.Errorf("snapshot: no frames")
	}

	st := &interp.State{
		Values: append([]wasm.Value{}, snap.Values...),
		Frames: make([]*interp.Frame, len(snap.Frames)),
	}
	for i, fs := range snap.Frames {
		if int(fs.FuncAddr) >= len(store.Funcs) {
			return nil, fmt.Errorf("snapshot: frame %d: function address %d not in store", i, fs.FuncAddr)
		}
		fn := store.Funcs[fs.FuncAddr]
		if fn.Code == nil {
			return nil, fmt.Errorf("snapshot: frame %d: function %s is not wasm-defined", i, fn.DebugName())
		}
		if i == 0 && fn.Module.Module.Fingerprint != snap.Fingerprint {
			return nil, fmt.Errorf("snapshot: module fingerprint mismatch for %s", fn.DebugName())
		}
		labels, err := restoreLabels(fn, fs.Labels)
		if err != nil {
			return nil, fmt.Errorf("snapshot: frame %d (%s): %w", i, fn.DebugName(), err)
		}
		st.Frames[i] = &interp.Frame{
			Fn:     fn,
			Locals: append([]wasm.Value{}, fs.Locals...),
			Labels: labels,
		}
	}
	if snap.Await != nil {
		st.AwaitCall = &interp.HostCall{
			Module:   snap.Await.Module,
			Name:     snap.Await.Name,
			FuncAddr: snap.Await.FuncAddr,
			Args:     append([]wasm.Value{}, snap.Await.Args...),
		}
		st.AwaitResults = append([]wasm.ValType{}, snap.Await.Results...)
	}
	return st, nil
}

// restoreLabels re-walks fn's instruction tree along each label's OpenedAt
// path, rebinding the Body slices the snapshot could not carry.
func restoreLabels(fn *wasm.FunctionInstance, lss []LabelSnapshot) ([]interp.Label, error) {
	if len(lss) == 0 {
		return nil, fmt.Errorf("no labels")
	}
	if lss[0].Kind != interp.LabelFunc || lss[0].OpenedAt != -1 {
		return nil, fmt.Errorf("label 0 is not the function label")
	}

	labels := make([]interp.Label, len(lss))
	body := fn.Code.Body
	for i, ls := range lss {
		if i > 0 {
			if ls.Kind == interp.LabelFunc {
				return nil, fmt.Errorf("label %d: nested function label", i)
			}
			if ls.OpenedAt < 0 || int(ls.OpenedAt) >= len(body) {
				return nil, fmt.Errorf("label %d: opened-at index %d out of range", i, ls.OpenedAt)
			}
			in := &body[ls.OpenedAt]
			switch {
			case ls.Kind == interp.LabelBlock && in.Op == wasm.OpcodeBlock,
				ls.Kind == interp.LabelLoop && in.Op == wasm.OpcodeLoop:
				body = in.Body
			case ls.Kind == interp.LabelIf && in.Op == wasm.OpcodeIf:
				if ls.ElseArm {
					body = in.Else
				} else {
					body = in.Body
				}
			default:
				return nil, fmt.Errorf("label %d: kind %d does not match instruction %s", i, ls.Kind, in)
			}
		}
		if int(ls.Cursor) > len(body) {
			return nil, fmt.Errorf("label %d: cursor %d beyond body of %d", i, ls.Cursor, len(body))
		}
		labels[i] = interp.Label{
			Kind:        ls.Kind,
			Arity:       int(ls.Arity),
			BranchArity: int(ls.BranchArity),
			Height:      int(ls.Height),
			Body:        body,
			Cursor:      int(ls.Cursor),
			OpenedAt:    int(ls.OpenedAt),
			ElseArm:     ls.ElseArm,
		}
	}
	return labels, nil
}
