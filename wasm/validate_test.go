package wasm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ambervm/ambervm/wasm"
)

var (
	i32             = wasm.ValTypeI32
	typeI32I32toI32 = &wasm.FuncType{Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32}}
	typeEmptyToI32  = &wasm.FuncType{Results: []wasm.ValType{i32}}
	typeEmpty       = &wasm.FuncType{}
)

func instrs(ops ...wasm.Instr) []wasm.Instr { return ops }

func singleFuncModule(ft *wasm.FuncType, locals []wasm.ValType, body []wasm.Instr) *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FuncType{ft},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{LocalTypes: locals, Body: body}},
	}
}

func TestValidate_Accept(t *testing.T) {
	t.Run("add", func(t *testing.T) {
		m := singleFuncModule(typeI32I32toI32, nil, instrs(
			wasm.Instr{Op: wasm.OpcodeLocalGet, U1: 0},
			wasm.Instr{Op: wasm.OpcodeLocalGet, U1: 1},
			wasm.Instr{Op: wasm.OpcodeI32Add},
		))
		_, err := wasm.Validate(m)
		require.NoError(t, err)
	})

	t.Run("nested blocks with branches", func(t *testing.T) {
		m := singleFuncModule(typeEmptyToI32, []wasm.ValType{i32}, instrs(
			wasm.Instr{Op: wasm.OpcodeBlock,
				BlockType: wasm.BlockType{Kind: wasm.BlockTypeVal, ValType: i32},
				Body: instrs(
					wasm.Instr{Op: wasm.OpcodeLoop, Body: instrs(
						wasm.Instr{Op: wasm.OpcodeLocalGet, U1: 0},
						wasm.Instr{Op: wasm.OpcodeBrIf, U1: 1}, // needs the block's i32
					)},
					wasm.Instr{Op: wasm.OpcodeI32Const, I32: 7},
				)},
		))
		// br_if 1 targets the i32 block, so it must carry an i32.
		_, err := wasm.Validate(m)
		require.Error(t, err)

		// With the value in place it validates.
		m = singleFuncModule(typeEmptyToI32, []wasm.ValType{i32}, instrs(
			wasm.Instr{Op: wasm.OpcodeBlock,
				BlockType: wasm.BlockType{Kind: wasm.BlockTypeVal, ValType: i32},
				Body: instrs(
					wasm.Instr{Op: wasm.OpcodeI32Const, I32: 3},
					wasm.Instr{Op: wasm.OpcodeLocalGet, U1: 0},
					wasm.Instr{Op: wasm.OpcodeBrIf, U1: 1},
				)},
		))
		_, err = wasm.Validate(m)
		require.NoError(t, err)
	})

	t.Run("unreachable makes the stack polymorphic", func(t *testing.T) {
		m := singleFuncModule(typeEmptyToI32, nil, instrs(
			wasm.Instr{Op: wasm.OpcodeUnreachable},
			wasm.Instr{Op: wasm.OpcodeI32Add}, // operands come from the polymorphic stack
		))
		_, err := wasm.Validate(m)
		require.NoError(t, err)
	})
}

func TestValidate_Reject(t *testing.T) {
	for _, c := range []struct {
		name string
		body []wasm.Instr
		ft   *wasm.FuncType
	}{
		{
			name: "stack underflow",
			ft:   typeEmptyToI32,
			body: instrs(wasm.Instr{Op: wasm.OpcodeI32Add}),
		},
		{
			name: "operand type mismatch",
			ft:   typeEmptyToI32,
			body: instrs(
				wasm.Instr{Op: wasm.OpcodeI32Const, I32: 1},
				wasm.Instr{Op: wasm.OpcodeF32Const, F32: 1},
				wasm.Instr{Op: wasm.OpcodeI32Add},
			),
		},
		{
			name: "wrong result type",
			ft:   typeEmptyToI32,
			body: instrs(wasm.Instr{Op: wasm.OpcodeF32Const, F32: 1}),
		},
		{
			name: "leftover values",
			ft:   typeEmptyToI32,
			body: instrs(
				wasm.Instr{Op: wasm.OpcodeI32Const, I32: 1},
				wasm.Instr{Op: wasm.OpcodeI32Const, I32: 2},
			),
		},
		{
			name: "unknown local",
			ft:   typeEmptyToI32,
			body: instrs(wasm.Instr{Op: wasm.OpcodeLocalGet, U1: 5}),
		},
		{
			name: "branch depth out of range",
			ft:   typeEmpty,
			body: instrs(wasm.Instr{Op: wasm.OpcodeBr, U1: 3}),
		},
		{
			name: "if without else must be identity",
			ft:   typeEmptyToI32,
			body: instrs(
				wasm.Instr{Op: wasm.OpcodeI32Const, I32: 1},
				wasm.Instr{Op: wasm.OpcodeIf,
					BlockType: wasm.BlockType{Kind: wasm.BlockTypeVal, ValType: i32},
					Body:      instrs(wasm.Instr{Op: wasm.OpcodeI32Const, I32: 1}),
				},
			),
		},
		{
			name: "memory op without memory",
			ft:   typeEmptyToI32,
			body: instrs(
				wasm.Instr{Op: wasm.OpcodeI32Const, I32: 0},
				wasm.Instr{Op: wasm.OpcodeI32Load, U1: 2},
			),
		},
		{
			name: "call_indirect without table",
			ft:   typeEmpty,
			body: instrs(
				wasm.Instr{Op: wasm.OpcodeI32Const, I32: 0},
				wasm.Instr{Op: wasm.OpcodeCallIndirect, U1: 0, U2: 0},
			),
		},
	} {
		t.Run(c.name, func(t *testing.T) {
			_, err := wasm.Validate(singleFuncModule(c.ft, nil, c.body))
			var ie *wasm.InvalidError
			require.ErrorAs(t, err, &ie)
			require.Equal(t, 0, ie.FuncIndex)
		})
	}
}

func TestValidate_AlignmentTooLarge(t *testing.T) {
	one := uint32(1)
	m := singleFuncModule(typeEmptyToI32, nil, instrs(
		wasm.Instr{Op: wasm.OpcodeI32Const, I32: 0},
		wasm.Instr{Op: wasm.OpcodeI32Load, U1: 3}, // 2^3 > natural 2^2
	))
	m.MemorySection = []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: &one}}}
	_, err := wasm.Validate(m)
	var ie *wasm.InvalidError
	require.ErrorAs(t, err, &ie)
	require.Contains(t, err.Error(), "alignment")
}

func TestValidate_ModuleLevel(t *testing.T) {
	t.Run("duplicate export name", func(t *testing.T) {
		m := singleFuncModule(typeEmpty, nil, instrs())
		m.ExportSection = []*wasm.Export{
			{Name: "f", Kind: wasm.ExternKindFunc, Index: 0},
			{Name: "f", Kind: wasm.ExternKindFunc, Index: 0},
		}
		_, err := wasm.Validate(m)
		requireModuleInvalid(t, err)
	})

	t.Run("export index out of range", func(t *testing.T) {
		m := &wasm.Module{ExportSection: []*wasm.Export{
			{Name: "f", Kind: wasm.ExternKindFunc, Index: 9},
		}}
		_, err := wasm.Validate(m)
		requireModuleInvalid(t, err)
	})

	t.Run("start function must be nullary", func(t *testing.T) {
		m := singleFuncModule(typeEmptyToI32, nil, instrs(
			wasm.Instr{Op: wasm.OpcodeI32Const, I32: 1},
		))
		idx := wasm.Index(0)
		m.StartSection = &idx
		_, err := wasm.Validate(m)
		requireModuleInvalid(t, err)
	})

	t.Run("two memories", func(t *testing.T) {
		m := &wasm.Module{MemorySection: []*wasm.MemoryType{
			{Limits: wasm.Limits{Min: 1}},
			{Limits: wasm.Limits{Min: 1}},
		}}
		_, err := wasm.Validate(m)
		requireModuleInvalid(t, err)
	})

	t.Run("limits min above max", func(t *testing.T) {
		two := uint32(2)
		m := &wasm.Module{MemorySection: []*wasm.MemoryType{
			{Limits: wasm.Limits{Min: 5, Max: &two}},
		}}
		_, err := wasm.Validate(m)
		requireModuleInvalid(t, err)
	})

	t.Run("data count mismatch", func(t *testing.T) {
		three := uint32(3)
		m := &wasm.Module{DataCountSection: &three}
		_, err := wasm.Validate(m)
		requireModuleInvalid(t, err)
	})
}

func TestValidate_ConstExprs(t *testing.T) {
	t.Run("global init must match declared type", func(t *testing.T) {
		m := &wasm.Module{GlobalSection: []*wasm.Global{{
			Type: &wasm.GlobalType{ValType: i32},
			Init: &wasm.ConstExpr{Op: wasm.OpcodeI64Const, I64: 1},
		}}}
		_, err := wasm.Validate(m)
		requireModuleInvalid(t, err)
	})

	t.Run("global.get of earlier-defined immutable global accepted", func(t *testing.T) {
		m := &wasm.Module{GlobalSection: []*wasm.Global{
			{
				Type: &wasm.GlobalType{ValType: i32},
				Init: &wasm.ConstExpr{Op: wasm.OpcodeI32Const, I32: 7},
			},
			{
				Type: &wasm.GlobalType{ValType: i32},
				Init: &wasm.ConstExpr{Op: wasm.OpcodeGlobalGet, Index: 0},
			},
		}}
		_, err := wasm.Validate(m)
		require.NoError(t, err)
	})

	t.Run("global.get of itself or a later global rejected", func(t *testing.T) {
		for _, index := range []wasm.Index{0, 1} {
			m := &wasm.Module{GlobalSection: []*wasm.Global{
				{
					Type: &wasm.GlobalType{ValType: i32},
					Init: &wasm.ConstExpr{Op: wasm.OpcodeGlobalGet, Index: index},
				},
				{
					Type: &wasm.GlobalType{ValType: i32},
					Init: &wasm.ConstExpr{Op: wasm.OpcodeI32Const, I32: 1},
				},
			}}
			_, err := wasm.Validate(m)
			requireModuleInvalid(t, err)
		}
	})

	t.Run("global.get of earlier-defined mutable global rejected", func(t *testing.T) {
		m := &wasm.Module{GlobalSection: []*wasm.Global{
			{
				Type: &wasm.GlobalType{ValType: i32, Mutable: true},
				Init: &wasm.ConstExpr{Op: wasm.OpcodeI32Const, I32: 1},
			},
			{
				Type: &wasm.GlobalType{ValType: i32},
				Init: &wasm.ConstExpr{Op: wasm.OpcodeGlobalGet, Index: 0},
			},
		}}
		_, err := wasm.Validate(m)
		requireModuleInvalid(t, err)
	})

	t.Run("segment offset may read module-defined immutable global", func(t *testing.T) {
		// Segment offsets evaluate after all globals are initialized.
		m := &wasm.Module{
			MemorySection: []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
			GlobalSection: []*wasm.Global{{
				Type: &wasm.GlobalType{ValType: i32},
				Init: &wasm.ConstExpr{Op: wasm.OpcodeI32Const, I32: 16},
			}},
			DataSection: []*wasm.DataSegment{{
				Mode:   wasm.SegmentModeActive,
				Offset: &wasm.ConstExpr{Op: wasm.OpcodeGlobalGet, Index: 0},
				Init:   []byte{1},
			}},
		}
		_, err := wasm.Validate(m)
		require.NoError(t, err)
	})

	t.Run("global.get of imported immutable global accepted", func(t *testing.T) {
		m := &wasm.Module{
			ImportSection: []*wasm.Import{{
				Module: "env", Name: "g",
				Kind:       wasm.ExternKindGlobal,
				DescGlobal: &wasm.GlobalType{ValType: i32},
			}},
			GlobalSection: []*wasm.Global{{
				Type: &wasm.GlobalType{ValType: i32},
				Init: &wasm.ConstExpr{Op: wasm.OpcodeGlobalGet, Index: 0},
			}},
		}
		_, err := wasm.Validate(m)
		require.NoError(t, err)
	})

	t.Run("ref.func in body requires declaration", func(t *testing.T) {
		m := singleFuncModule(typeEmpty, nil, instrs(
			wasm.Instr{Op: wasm.OpcodeRefFunc, U1: 0},
			wasm.Instr{Op: wasm.OpcodeDrop},
		))
		_, err := wasm.Validate(m)
		var ie *wasm.InvalidError
		require.ErrorAs(t, err, &ie)

		// Exporting the function declares it.
		m.ExportSection = []*wasm.Export{{Name: "f", Kind: wasm.ExternKindFunc, Index: 0}}
		_, err = wasm.Validate(m)
		require.NoError(t, err)
	})
}

func TestValidate_ImportsOccupyLowIndices(t *testing.T) {
	// The import's function index 0 has type [] -> [i32]; the module-defined
	// function at index 1 calls it.
	m := &wasm.Module{
		TypeSection: []*wasm.FuncType{typeEmptyToI32, typeEmpty},
		ImportSection: []*wasm.Import{{
			Module: "env", Name: "f", Kind: wasm.ExternKindFunc, DescFunc: 0,
		}},
		FunctionSection: []wasm.Index{1},
		CodeSection: []*wasm.Code{{Body: instrs(
			wasm.Instr{Op: wasm.OpcodeCall, U1: 0},
			wasm.Instr{Op: wasm.OpcodeDrop},
		)}},
	}
	_, err := wasm.Validate(m)
	require.NoError(t, err)

	tidx, ok := m.FuncTypeIndex(0)
	require.True(t, ok)
	require.Equal(t, wasm.Index(0), tidx)
	tidx, ok = m.FuncTypeIndex(1)
	require.True(t, ok)
	require.Equal(t, wasm.Index(1), tidx)
}

func requireModuleInvalid(t *testing.T, err error) {
	t.Helper()
	var ie *wasm.InvalidError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, -1, ie.FuncIndex)
}
