package wasm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/interp"
)

func mustValidate(t *testing.T, m *wasm.Module) *wasm.ValidatedModule {
	t.Helper()
	v, err := wasm.Validate(m)
	require.NoError(t, err)
	return v
}

func TestInstantiate_ExportsAndInvoke(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*wasm.FuncType{typeI32I32toI32},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []*wasm.Export{{Name: "add", Kind: wasm.ExternKindFunc, Index: 0}},
		CodeSection: []*wasm.Code{{Body: []wasm.Instr{
			{Op: wasm.OpcodeLocalGet, U1: 0},
			{Op: wasm.OpcodeLocalGet, U1: 1},
			{Op: wasm.OpcodeI32Add},
		}}},
	}
	store := wasm.NewStore()
	engine := interp.New(store)
	inst, err := store.Instantiate(mustValidate(t, m), "calc", engine)
	require.NoError(t, err)

	f, err := inst.ExportedFunction(store, "add")
	require.NoError(t, err)
	results, err := engine.Invoke(f, []wasm.Value{wasm.ValueI32(40), wasm.ValueI32(2)})
	require.NoError(t, err)
	require.Equal(t, []wasm.Value{wasm.ValueI32(42)}, results)

	_, err = inst.ExportedFunction(store, "missing")
	require.Error(t, err)
}

// Globals initialize in definition order, so an initializer may read the
// value of any global defined before it.
func TestInstantiate_GlobalReadsEarlierGlobal(t *testing.T) {
	m := &wasm.Module{GlobalSection: []*wasm.Global{
		{
			Type: &wasm.GlobalType{ValType: wasm.ValTypeI32},
			Init: &wasm.ConstExpr{Op: wasm.OpcodeI32Const, I32: 7},
		},
		{
			Type: &wasm.GlobalType{ValType: wasm.ValTypeI32},
			Init: &wasm.ConstExpr{Op: wasm.OpcodeGlobalGet, Index: 0},
		},
	}}
	store := wasm.NewStore()
	inst, err := store.Instantiate(mustValidate(t, m), "globals", interp.New(store))
	require.NoError(t, err)

	require.Len(t, inst.GlobalAddrs, 2)
	require.Equal(t, wasm.ValueI32(7), store.Globals[inst.GlobalAddrs[1]].Val)
}

func TestInstantiate_DuplicateName(t *testing.T) {
	m := &wasm.Module{}
	store := wasm.NewStore()
	engine := interp.New(store)
	_, err := store.Instantiate(mustValidate(t, m), "dup", engine)
	require.NoError(t, err)

	_, err = store.Instantiate(mustValidate(t, &wasm.Module{}), "dup", engine)
	var link *wasm.LinkError
	require.ErrorAs(t, err, &link)
}

// An unresolved function import becomes a pending host function rather than
// failing the instantiation.
func TestInstantiate_PendingFunctionImport(t *testing.T) {
	m := &wasm.Module{
		TypeSection: []*wasm.FuncType{typeEmptyToI32},
		ImportSection: []*wasm.Import{{
			Module: "env", Name: "answer", Kind: wasm.ExternKindFunc, DescFunc: 0,
		}},
	}
	store := wasm.NewStore()
	inst, err := store.Instantiate(mustValidate(t, m), "test", interp.New(store))
	require.NoError(t, err)

	f := store.Funcs[inst.FuncAddrs[0]]
	require.True(t, f.Pending())
	require.Equal(t, "env.answer", f.DebugName())
}

// Non-function imports have no pending form; unresolved ones are link errors.
func TestInstantiate_UnresolvedMemoryImport(t *testing.T) {
	m := &wasm.Module{
		ImportSection: []*wasm.Import{{
			Module: "env", Name: "mem", Kind: wasm.ExternKindMemory,
			DescMem: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}},
		}},
	}
	store := wasm.NewStore()
	_, err := store.Instantiate(mustValidate(t, m), "test", interp.New(store))
	var link *wasm.LinkError
	require.ErrorAs(t, err, &link)
	require.ErrorContains(t, err, "unresolved")
}

func TestInstantiate_ImportSignatureMismatch(t *testing.T) {
	store := wasm.NewStore()
	engine := interp.New(store)
	_, err := store.AddHostFunc("env", "answer", typeEmptyToI32,
		func(args []wasm.Value) ([]wasm.Value, error) {
			return []wasm.Value{wasm.ValueI32(42)}, nil
		})
	require.NoError(t, err)

	m := &wasm.Module{
		TypeSection: []*wasm.FuncType{typeI32I32toI32},
		ImportSection: []*wasm.Import{{
			Module: "env", Name: "answer", Kind: wasm.ExternKindFunc, DescFunc: 0,
		}},
	}
	_, err = store.Instantiate(mustValidate(t, m), "test", engine)
	var link *wasm.LinkError
	require.ErrorAs(t, err, &link)
	require.ErrorContains(t, err, "signature")
}

func exportingMemoryModule(min uint32, max *uint32) *wasm.Module {
	return &wasm.Module{
		MemorySection: []*wasm.MemoryType{{Limits: wasm.Limits{Min: min, Max: max}}},
		ExportSection: []*wasm.Export{{Name: "mem", Kind: wasm.ExternKindMemory, Index: 0}},
	}
}

func importingMemoryModule(min uint32, max *uint32) *wasm.Module {
	return &wasm.Module{
		ImportSection: []*wasm.Import{{
			Module: "provider", Name: "mem", Kind: wasm.ExternKindMemory,
			DescMem: &wasm.MemoryType{Limits: wasm.Limits{Min: min, Max: max}},
		}},
	}
}

// Import limits are subtyping constraints: the provided memory must be at
// least as big as declared and no less bounded.
func TestInstantiate_MemoryImportLimits(t *testing.T) {
	four := uint32(4)
	store := wasm.NewStore()
	engine := interp.New(store)
	_, err := store.Instantiate(mustValidate(t, exportingMemoryModule(2, &four)), "provider", engine)
	require.NoError(t, err)

	t.Run("compatible", func(t *testing.T) {
		_, err := store.Instantiate(mustValidate(t, importingMemoryModule(1, nil)), "ok", engine)
		require.NoError(t, err)
	})
	t.Run("min too large", func(t *testing.T) {
		_, err := store.Instantiate(mustValidate(t, importingMemoryModule(3, nil)), "big", engine)
		var link *wasm.LinkError
		require.ErrorAs(t, err, &link)
	})
	t.Run("max too small", func(t *testing.T) {
		three := uint32(3)
		_, err := store.Instantiate(mustValidate(t, importingMemoryModule(1, &three)), "tight", engine)
		var link *wasm.LinkError
		require.ErrorAs(t, err, &link)
	})
}

func TestInstantiate_ActiveDataSegment(t *testing.T) {
	mk := func(offset int32) *wasm.Module {
		return &wasm.Module{
			MemorySection: []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
			DataSection: []*wasm.DataSegment{{
				Mode:   wasm.SegmentModeActive,
				Offset: &wasm.ConstExpr{Op: wasm.OpcodeI32Const, I32: offset},
				Init:   []byte("hello"),
			}},
		}
	}

	store := wasm.NewStore()
	engine := interp.New(store)
	inst, err := store.Instantiate(mustValidate(t, mk(16)), "fits", engine)
	require.NoError(t, err)
	mem := store.Mems[inst.MemAddrs[0]]
	require.Equal(t, []byte("hello"), mem.Buffer[16:21])

	// 5 bytes at 65533 run past the single page.
	_, err = store.Instantiate(mustValidate(t, mk(65533)), "overflows", engine)
	var link *wasm.LinkError
	require.ErrorAs(t, err, &link)
	require.ErrorContains(t, err, "does not fit")
}

// A failed instantiation must not leave its partial allocations behind.
func TestInstantiate_RollbackOnFailure(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*wasm.FuncType{typeEmpty},
		FunctionSection: []wasm.Index{0},
		MemorySection:   []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		CodeSection:     []*wasm.Code{{Body: nil}},
		DataSection: []*wasm.DataSegment{{
			Mode:   wasm.SegmentModeActive,
			Offset: &wasm.ConstExpr{Op: wasm.OpcodeI32Const, I32: 1 << 20},
			Init:   []byte{1},
		}},
	}
	store := wasm.NewStore()
	_, err := store.Instantiate(mustValidate(t, m), "test", interp.New(store))
	require.Error(t, err)
	require.Empty(t, store.Funcs)
	require.Empty(t, store.Mems)
	require.Empty(t, store.Datas)
	require.NotContains(t, store.ModuleInstances, "test")
}

func TestInstantiate_StartFunction(t *testing.T) {
	// The start function stores a marker into memory.
	start := wasm.Index(0)
	m := &wasm.Module{
		TypeSection:     []*wasm.FuncType{typeEmpty},
		FunctionSection: []wasm.Index{0},
		MemorySection:   []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		StartSection:    &start,
		CodeSection: []*wasm.Code{{Body: []wasm.Instr{
			{Op: wasm.OpcodeI32Const, I32: 0},
			{Op: wasm.OpcodeI32Const, I32: 7},
			{Op: wasm.OpcodeI32Store8},
		}}},
	}
	store := wasm.NewStore()
	inst, err := store.Instantiate(mustValidate(t, m), "test", interp.New(store))
	require.NoError(t, err)
	require.Equal(t, byte(7), store.Mems[inst.MemAddrs[0]].Buffer[0])
}

func TestInstantiate_StartFunctionTrapIsLinkError(t *testing.T) {
	start := wasm.Index(0)
	m := &wasm.Module{
		TypeSection:     []*wasm.FuncType{typeEmpty},
		FunctionSection: []wasm.Index{0},
		StartSection:    &start,
		CodeSection:     []*wasm.Code{{Body: []wasm.Instr{{Op: wasm.OpcodeUnreachable}}}},
	}
	store := wasm.NewStore()
	_, err := store.Instantiate(mustValidate(t, m), "test", interp.New(store))
	var link *wasm.LinkError
	require.ErrorAs(t, err, &link)
	require.NotContains(t, store.ModuleInstances, "test")
}

func TestAddHostFunc_Duplicate(t *testing.T) {
	store := wasm.NewStore()
	echo := func(args []wasm.Value) ([]wasm.Value, error) { return args, nil }
	_, err := store.AddHostFunc("env", "echo", typeEmpty, echo)
	require.NoError(t, err)
	_, err = store.AddHostFunc("env", "echo", typeEmpty, echo)
	require.ErrorContains(t, err, "already registered")
	_, err = store.AddHostFunc("env", "nil", typeEmpty, nil)
	require.Error(t, err)
}

func TestTableGrow(t *testing.T) {
	two := uint32(2)
	table := &wasm.TableInstance{
		Type:  &wasm.TableType{ElemType: wasm.ValTypeFuncref, Limits: wasm.Limits{Min: 1, Max: &two}},
		Elems: []wasm.Value{wasm.ValueNullRef(wasm.ValTypeFuncref)},
	}
	require.Equal(t, int32(1), table.Grow(1, wasm.ValueNullRef(wasm.ValTypeFuncref)))
	require.Len(t, table.Elems, 2)
	require.Equal(t, int32(-1), table.Grow(1, wasm.ValueNullRef(wasm.ValTypeFuncref)))
}

func TestMemoryGrowLimits(t *testing.T) {
	two := uint32(2)
	mem := &wasm.MemoryInstance{
		Type:   &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &two}},
		Buffer: make([]byte, wasm.MemoryPageSize),
	}
	require.Equal(t, int32(1), mem.Grow(1))
	require.Equal(t, uint32(2), mem.Pages())
	require.Equal(t, int32(-1), mem.Grow(1))
}
