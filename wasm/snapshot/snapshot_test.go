package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/interp"
	"github.com/ambervm/ambervm/wasm/snapshot"
)

var i32 = wasm.ValTypeI32

// sumModule computes 1+2+..+5 with a loop nested in a block, so that a
// mid-execution state carries a multi-label stack.
func sumModule() *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FuncType{{Results: []wasm.ValType{i32}}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{
			LocalTypes: []wasm.ValType{i32, i32}, // i, sum
			Body: []wasm.Instr{
				{Op: wasm.OpcodeBlock, Body: []wasm.Instr{
					{Op: wasm.OpcodeLoop, Body: []wasm.Instr{
						{Op: wasm.OpcodeLocalGet, U1: 0},
						{Op: wasm.OpcodeI32Const, I32: 1},
						{Op: wasm.OpcodeI32Add},
						{Op: wasm.OpcodeLocalSet, U1: 0},
						{Op: wasm.OpcodeLocalGet, U1: 1},
						{Op: wasm.OpcodeLocalGet, U1: 0},
						{Op: wasm.OpcodeI32Add},
						{Op: wasm.OpcodeLocalSet, U1: 1},
						{Op: wasm.OpcodeLocalGet, U1: 0},
						{Op: wasm.OpcodeI32Const, I32: 5},
						{Op: wasm.OpcodeI32GeS},
						{Op: wasm.OpcodeBrIf, U1: 1},
						{Op: wasm.OpcodeBr, U1: 0},
					}},
				}},
				{Op: wasm.OpcodeLocalGet, U1: 1},
			},
		}},
	}
}

// awaitModule imports env.answer and adds one to whatever it returns.
func awaitModule() *wasm.Module {
	return &wasm.Module{
		TypeSection: []*wasm.FuncType{{Results: []wasm.ValType{i32}}},
		ImportSection: []*wasm.Import{{
			Module: "env", Name: "answer", Kind: wasm.ExternKindFunc, DescFunc: 0,
		}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []wasm.Instr{
			{Op: wasm.OpcodeCall, U1: 0},
			{Op: wasm.OpcodeI32Const, I32: 1},
			{Op: wasm.OpcodeI32Add},
		}}},
	}
}

func instantiate(t *testing.T, m *wasm.Module) (*wasm.Store, *interp.Engine, *wasm.ModuleInstance) {
	t.Helper()
	validated, err := wasm.Validate(m)
	require.NoError(t, err)
	store := wasm.NewStore()
	engine := interp.New(store)
	inst, err := store.Instantiate(validated, "test", engine)
	require.NoError(t, err)
	return store, engine, inst
}

// Capturing after any number of steps and resuming the restored copy must
// reach the same result as the uninterrupted run.
func TestCaptureRestoreAtEveryStep(t *testing.T) {
	m := sumModule()
	store, engine, inst := instantiate(t, m)
	fn := store.Funcs[inst.FuncAddrs[0]]

	baseline, err := engine.Invoke(fn, nil)
	require.NoError(t, err)
	require.Equal(t, []wasm.Value{wasm.ValueI32(15)}, baseline)

	for k := 0; ; k++ {
		st, err := engine.NewState(fn, nil)
		require.NoError(t, err)

		done := false
		for i := 0; i < k; i++ {
			res, err := engine.Step(st)
			require.NoError(t, err)
			if res == interp.Return {
				done = true
				break
			}
		}
		if done {
			return // every interior stopping point covered
		}

		snap, err := snapshot.Capture(st)
		require.NoError(t, err, "capture after %d steps", k)

		decoded, err := snapshot.Decode(snapshot.Encode(snap))
		require.NoError(t, err)
		require.Equal(t, snap, decoded)

		restored, err := snapshot.Restore(decoded, store)
		require.NoError(t, err)

		res, err := engine.Run(restored)
		require.NoError(t, err, "resume after %d steps", k)
		require.Equal(t, interp.Return, res)
		require.Equal(t, baseline, restored.Values, "resume after %d steps", k)
	}
}

// A state suspended at a host import survives the full capture, encode,
// decode, restore cycle into a separately built store.
func TestSuspendedStateCrossesStores(t *testing.T) {
	store, engine, inst := instantiate(t, awaitModule())
	st, err := engine.NewState(store.Funcs[inst.FuncAddrs[1]], nil)
	require.NoError(t, err)

	res, err := engine.Run(st)
	require.NoError(t, err)
	require.Equal(t, interp.AwaitHost, res)

	snap, err := snapshot.Capture(st)
	require.NoError(t, err)
	require.NotNil(t, snap.Await)
	require.Equal(t, "env", snap.Await.Module)
	require.Equal(t, "answer", snap.Await.Name)

	raw := snapshot.Encode(snap)

	// A second store built from the same module. Addresses line up because
	// instantiation allocated in the same order.
	store2, engine2, _ := instantiate(t, awaitModule())
	decoded, err := snapshot.Decode(raw)
	require.NoError(t, err)
	restored, err := snapshot.Restore(decoded, store2)
	require.NoError(t, err)
	require.True(t, restored.Suspended())

	require.NoError(t, engine2.Resume(restored, []wasm.Value{wasm.ValueI32(41)}))
	res, err = engine2.Run(restored)
	require.NoError(t, err)
	require.Equal(t, interp.Return, res)
	require.Equal(t, []wasm.Value{wasm.ValueI32(42)}, restored.Values)
}

func TestRestoreRejectsFingerprintMismatch(t *testing.T) {
	m := sumModule()
	m.Fingerprint = [32]byte{1, 2, 3}
	store, engine, inst := instantiate(t, m)

	st, err := engine.NewState(store.Funcs[inst.FuncAddrs[0]], nil)
	require.NoError(t, err)
	snap, err := snapshot.Capture(st)
	require.NoError(t, err)

	other := sumModule()
	other.Fingerprint = [32]byte{4, 5, 6}
	store2, _, _ := instantiate(t, other)

	_, err = snapshot.Restore(snap, store2)
	require.ErrorContains(t, err, "fingerprint mismatch")
}

func TestRestoreRejectsUnknownAddress(t *testing.T) {
	store, engine, inst := instantiate(t, sumModule())
	st, err := engine.NewState(store.Funcs[inst.FuncAddrs[0]], nil)
	require.NoError(t, err)
	snap, err := snapshot.Capture(st)
	require.NoError(t, err)

	snap.Frames[0].FuncAddr = 999
	_, err = snapshot.Restore(snap, store)
	require.ErrorContains(t, err, "not in store")
}

func TestCaptureRejectsDeadState(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*wasm.FuncType{{}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []wasm.Instr{{Op: wasm.OpcodeUnreachable}}}},
	}
	store, engine, inst := instantiate(t, m)
	st, err := engine.NewState(store.Funcs[inst.FuncAddrs[0]], nil)
	require.NoError(t, err)

	res, _ := engine.Run(st)
	require.Equal(t, interp.Trap, res)

	_, err = snapshot.Capture(st)
	require.ErrorContains(t, err, "trapped")
}

func TestDecodeErrors(t *testing.T) {
	store, engine, inst := instantiate(t, sumModule())
	st, err := engine.NewState(store.Funcs[inst.FuncAddrs[0]], nil)
	require.NoError(t, err)
	snap, err := snapshot.Capture(st)
	require.NoError(t, err)
	raw := snapshot.Encode(snap)

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{}, raw...)
		bad[0] = 'x'
		_, err := snapshot.Decode(bad)
		require.ErrorContains(t, err, "bad magic")
	})
	t.Run("unsupported version", func(t *testing.T) {
		bad := append([]byte{}, raw...)
		bad[4] = 99
		_, err := snapshot.Decode(bad)
		require.ErrorContains(t, err, "version")
	})
	t.Run("trailing bytes", func(t *testing.T) {
		_, err := snapshot.Decode(append(append([]byte{}, raw...), 0))
		require.ErrorContains(t, err, "trailing")
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := snapshot.Decode(raw[:len(raw)-3])
		require.Error(t, err)
	})
}
