package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/binary"
	"github.com/ambervm/ambervm/wasm/interp"
	"github.com/ambervm/ambervm/wasm/snapshot"
)

// answer42Wasm exports main: [] -> [i32] returning 42.
var answer42Wasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // header
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f, // type: () -> i32
	0x03, 0x02, 0x01, 0x00, // function: type 0
	0x07, 0x08, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x00, // export "main"
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2a, 0x0b, // code: i32.const 42
}

// addWasm exports main: [i32 i32] -> [i32] adding its arguments.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x08, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// hostCallWasm imports env.answer: [] -> [i32] and exports main, which calls
// the import and adds one. The import stays unresolved, so running main
// suspends.
var hostCallWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x02, 0x0e, 0x01, 0x03, 'e', 'n', 'v',
	0x06, 'a', 'n', 's', 'w', 'e', 'r', 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x08, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x01,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x10, 0x00, 0x41, 0x01, 0x6a, 0x0b,
}

// echoCallWasm imports env.echo_i32, which the CLI resolves itself, and
// exports main: [] -> [i32] returning echo_i32(42).
var echoCallWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0a, 0x02, 0x60, 0x01, 0x7f, 0x01, 0x7f, 0x60, 0x00, 0x01, 0x7f,
	0x02, 0x10, 0x01, 0x03, 'e', 'n', 'v',
	0x08, 'e', 'c', 'h', 'o', '_', 'i', '3', '2', 0x00, 0x00,
	0x03, 0x02, 0x01, 0x01,
	0x07, 0x08, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x01,
	0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, 0x2a, 0x10, 0x00, 0x0b,
}

func writeWasm(t *testing.T, source []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mod.wasm")
	require.NoError(t, os.WriteFile(path, source, 0o644))
	return path
}

func TestRunReturnsResult(t *testing.T) {
	path := writeWasm(t, answer42Wasm)
	err := runModule(path, &runOptions{invoke: "main"})
	require.NoError(t, err)
}

func TestRunWithArgs(t *testing.T) {
	path := writeWasm(t, addWasm)

	err := runModule(path, &runOptions{invoke: "main", args: []string{"40", "2"}})
	require.NoError(t, err)

	err = runModule(path, &runOptions{invoke: "main", args: []string{"40"}})
	require.ErrorContains(t, err, "takes 2 arguments")

	err = runModule(path, &runOptions{invoke: "main", args: []string{"40", "x"}})
	require.Error(t, err)
}

// Imports satisfied by the built-in host table run to completion instead of
// suspending.
func TestRunResolvedHostImport(t *testing.T) {
	path := writeWasm(t, echoCallWasm)
	err := runModule(path, &runOptions{invoke: "main"})
	require.NoError(t, err)
}

func TestRunUnknownExport(t *testing.T) {
	path := writeWasm(t, answer42Wasm)
	err := runModule(path, &runOptions{invoke: "nope"})
	require.ErrorContains(t, err, `no export "nope"`)
}

func TestRunRejectsMalformedModule(t *testing.T) {
	path := writeWasm(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00})
	err := runModule(path, &runOptions{invoke: "main"})
	require.Error(t, err)
	var malformed *wasm.MalformedError
	require.ErrorAs(t, err, &malformed)
}

// A run that suspends on an unresolved import writes a snapshot, and that
// snapshot resumes correctly through the library in a fresh process's store.
func TestRunSuspendWritesSnapshot(t *testing.T) {
	path := writeWasm(t, hostCallWasm)
	snapPath := filepath.Join(t.TempDir(), "state.snap")

	err := runModule(path, &runOptions{invoke: "main", snapshotOut: snapPath})
	require.NoError(t, err)

	raw, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	snap, err := snapshot.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, snap.Await)
	require.Equal(t, "env", snap.Await.Module)
	require.Equal(t, "answer", snap.Await.Name)

	// What a second process would do: rebuild the store from the same
	// module bytes, restore, answer the host call, finish the run.
	store, engine, _ := bringUp(t, path)
	st, err := snapshot.Restore(snap, store)
	require.NoError(t, err)
	require.NoError(t, engine.Resume(st, []wasm.Value{wasm.ValueI32(41)}))
	res, err := engine.Run(st)
	require.NoError(t, err)
	require.Equal(t, interp.Return, res)
	require.Equal(t, []wasm.Value{wasm.ValueI32(42)}, st.Values)
}

// The suspend/resume cycle closes over the CLI alone: one run writes the
// snapshot, a second run supplies the host results and finishes.
func TestRunResumeWithHostResults(t *testing.T) {
	path := writeWasm(t, hostCallWasm)
	snapPath := filepath.Join(t.TempDir(), "state.snap")
	require.NoError(t, runModule(path, &runOptions{invoke: "main", snapshotOut: snapPath}))

	err := runModule(path, &runOptions{resume: snapPath, hostResults: []string{"41"}})
	require.NoError(t, err)

	err = runModule(path, &runOptions{resume: snapPath})
	require.ErrorContains(t, err, "--host-results")

	err = runModule(path, &runOptions{resume: snapPath, hostResults: []string{"x"}})
	require.Error(t, err)
}

func TestRunSuspendWithoutSnapshotOutFails(t *testing.T) {
	path := writeWasm(t, hostCallWasm)
	err := runModule(path, &runOptions{invoke: "main"})
	require.ErrorContains(t, err, "no --snapshot-out")
}

// Restoring against a different module must fail on the fingerprint even
// though the shapes happen to line up.
func TestSnapshotRejectsDifferentModule(t *testing.T) {
	path := writeWasm(t, hostCallWasm)
	snapPath := filepath.Join(t.TempDir(), "state.snap")
	require.NoError(t, runModule(path, &runOptions{invoke: "main", snapshotOut: snapPath}))

	raw, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	snap, err := snapshot.Decode(raw)
	require.NoError(t, err)

	// Same module with one changed constant: main adds two instead of one.
	altered := append([]byte{}, hostCallWasm...)
	altered[len(altered)-3] = 0x02
	store, _, _ := bringUp(t, writeWasm(t, altered))
	_, err = snapshot.Restore(snap, store)
	require.ErrorContains(t, err, "fingerprint mismatch")
}

func bringUp(t *testing.T, path string) (*wasm.Store, *interp.Engine, *wasm.ModuleInstance) {
	t.Helper()
	source, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := binary.DecodeModule(source)
	require.NoError(t, err)
	validated, err := wasm.Validate(m)
	require.NoError(t, err)
	store := wasm.NewStore()
	engine := interp.New(store)
	// Function addresses in a snapshot are store positions, so the resuming
	// store must be built in the same order as the one that produced it.
	require.NoError(t, registerBuiltins(store, zap.NewNop()))
	inst, err := store.Instantiate(validated, "main", engine)
	require.NoError(t, err)
	return store, engine, inst
}
