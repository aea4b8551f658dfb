package binary_test

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/binary"
	"github.com/ambervm/ambervm/wasm/leb128"
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// section frames a section body with its id and size.
func section(id byte, body ...byte) []byte {
	out := []byte{id}
	out = append(out, leb128.EncodeUint32(uint32(len(body)))...)
	return append(out, body...)
}

func module(sections ...[]byte) []byte {
	out := append([]byte{}, header...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

// addModule is a two-parameter i32 adder exported as "add".
func addModule() []byte {
	return module(
		section(1, // type
			0x01,                                     // one type
			0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f), // (i32 i32) -> (i32)
		section(3, 0x01, 0x00), // function: one func of type 0
		section(7, // export
			0x01,
			0x03, 'a', 'd', 'd', 0x00, 0x00),
		section(10, // code
			0x01,       // one body
			0x07,       // body size
			0x00,       // no locals
			0x20, 0x00, // local.get 0
			0x20, 0x01, // local.get 1
			0x6a, // i32.add
			0x0b, // end
		),
	)
}

func TestDecodeModule_Header(t *testing.T) {
	for _, c := range []struct {
		name  string
		input []byte
		want  error
	}{
		{name: "empty", input: nil, want: wasm.ErrInvalidMagicNumber},
		{name: "short magic", input: []byte{0x00, 0x61}, want: wasm.ErrInvalidMagicNumber},
		{name: "wrong magic", input: []byte{0x01, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, want: wasm.ErrInvalidMagicNumber},
		{name: "missing version", input: []byte{0x00, 0x61, 0x73, 0x6d}, want: wasm.ErrInvalidVersion},
		{name: "wrong version", input: []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}, want: wasm.ErrInvalidVersion},
	} {
		t.Run(c.name, func(t *testing.T) {
			_, err := binary.DecodeModule(c.input)
			require.ErrorIs(t, err, c.want)
			var me *wasm.MalformedError
			require.ErrorAs(t, err, &me)
		})
	}

	t.Run("empty module", func(t *testing.T) {
		m, err := binary.DecodeModule(header)
		require.NoError(t, err)
		require.Empty(t, m.TypeSection)
		require.Equal(t, sha256.Sum256(header), m.Fingerprint)
	})
}

func TestDecodeModule_SectionOrder(t *testing.T) {
	t.Run("function before type", func(t *testing.T) {
		_, err := binary.DecodeModule(module(
			section(3, 0x00),
			section(1, 0x00),
		))
		require.ErrorIs(t, err, wasm.ErrSectionOutOfOrder)
	})
	t.Run("duplicate section", func(t *testing.T) {
		_, err := binary.DecodeModule(module(
			section(1, 0x00),
			section(1, 0x00),
		))
		require.ErrorIs(t, err, wasm.ErrSectionOutOfOrder)
	})
	t.Run("unknown section id", func(t *testing.T) {
		_, err := binary.DecodeModule(module(section(13, 0x00)))
		require.ErrorIs(t, err, wasm.ErrInvalidSectionID)
	})
	t.Run("data count between element and code", func(t *testing.T) {
		m, err := binary.DecodeModule(module(
			section(1, 0x01, 0x60, 0x00, 0x00),
			section(3, 0x01, 0x00),
			section(12, 0x00), // datacount: 0
			section(10, 0x01, 0x03, 0x00, 0x01, 0x0b),
		))
		require.NoError(t, err)
		require.NotNil(t, m.DataCountSection)
		require.Zero(t, *m.DataCountSection)
	})
	t.Run("data count after code", func(t *testing.T) {
		_, err := binary.DecodeModule(module(
			section(1, 0x01, 0x60, 0x00, 0x00),
			section(3, 0x01, 0x00),
			section(10, 0x01, 0x03, 0x00, 0x01, 0x0b),
			section(12, 0x00),
		))
		require.ErrorIs(t, err, wasm.ErrSectionOutOfOrder)
	})
	t.Run("custom sections allowed anywhere", func(t *testing.T) {
		custom := section(0, 0x02, 'h', 'i', 0xde, 0xad)
		m, err := binary.DecodeModule(module(
			custom,
			section(1, 0x01, 0x60, 0x00, 0x00),
			custom,
			section(3, 0x01, 0x00),
			section(10, 0x01, 0x03, 0x00, 0x01, 0x0b),
			custom,
		))
		require.NoError(t, err)
		require.Len(t, m.CustomSections, 3)
		require.Equal(t, "hi", m.CustomSections[0].Name)
		require.Equal(t, []byte{0xde, 0xad}, m.CustomSections[0].Data)
	})
}

func TestDecodeModule_SizeMismatch(t *testing.T) {
	t.Run("section body too short", func(t *testing.T) {
		// Type section claims 4 bytes but the vector needs fewer.
		input := module([]byte{0x01, 0x04, 0x00, 0x00, 0x00, 0x00})
		_, err := binary.DecodeModule(input)
		var me *wasm.MalformedError
		require.ErrorAs(t, err, &me)
	})
	t.Run("section size beyond input", func(t *testing.T) {
		input := module([]byte{0x01, 0x7f})
		_, err := binary.DecodeModule(input)
		require.ErrorIs(t, err, wasm.ErrUnexpectedEnd)
	})
}

func TestDecodeModule_FunctionCodeCountMismatch(t *testing.T) {
	_, err := binary.DecodeModule(module(
		section(1, 0x01, 0x60, 0x00, 0x00),
		section(3, 0x01, 0x00), // one function
		// no code section
	))
	var me *wasm.MalformedError
	require.ErrorAs(t, err, &me)
	require.Contains(t, err.Error(), "inconsistent lengths")
}

func TestDecodeModule_Add(t *testing.T) {
	m, err := binary.DecodeModule(addModule())
	require.NoError(t, err)

	require.Len(t, m.TypeSection, 1)
	require.Equal(t, &wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValTypeI32, wasm.ValTypeI32},
		Results: []wasm.ValType{wasm.ValTypeI32},
	}, m.TypeSection[0])

	require.Equal(t, []wasm.Index{0}, m.FunctionSection)

	require.Len(t, m.ExportSection, 1)
	require.Equal(t, "add", m.ExportSection[0].Name)
	require.Equal(t, wasm.ExternKindFunc, m.ExportSection[0].Kind)

	require.Len(t, m.CodeSection, 1)
	body := m.CodeSection[0].Body
	require.Len(t, body, 3)
	require.Equal(t, wasm.OpcodeLocalGet, body[0].Op)
	require.Equal(t, uint32(0), body[0].U1)
	require.Equal(t, wasm.OpcodeLocalGet, body[1].Op)
	require.Equal(t, uint32(1), body[1].U1)
	require.Equal(t, wasm.OpcodeI32Add, body[2].Op)
}

func TestDecodeModule_NestedBodies(t *testing.T) {
	// block            ;; empty type
	//   i32.const 1
	//   if             ;; empty type
	//     nop
	//   else
	//     unreachable
	//   end
	// end
	code := []byte{
		0x00, // no locals
		0x02, 0x40, // block
		0x41, 0x01, // i32.const 1
		0x04, 0x40, // if
		0x01,       // nop
		0x05,       // else
		0x00,       // unreachable
		0x0b,       // end (if)
		0x0b,       // end (block)
		0x0b,       // end (function)
	}
	m, err := binary.DecodeModule(module(
		section(1, 0x01, 0x60, 0x00, 0x00),
		section(3, 0x01, 0x00),
		section(10, append([]byte{0x01, byte(len(code))}, code...)...),
	))
	require.NoError(t, err)

	body := m.CodeSection[0].Body
	require.Len(t, body, 1)
	block := body[0]
	require.Equal(t, wasm.OpcodeBlock, block.Op)
	require.Equal(t, wasm.BlockTypeEmpty, block.BlockType.Kind)
	require.Len(t, block.Body, 2)

	ifInstr := block.Body[1]
	require.Equal(t, wasm.OpcodeIf, ifInstr.Op)
	require.Len(t, ifInstr.Body, 1)
	require.Equal(t, wasm.OpcodeNop, ifInstr.Body[0].Op)
	require.Len(t, ifInstr.Else, 1)
	require.Equal(t, wasm.OpcodeUnreachable, ifInstr.Else[0].Op)
}

func TestDecodeModule_Locations(t *testing.T) {
	source := addModule()
	m, err := binary.DecodeModule(source)
	require.NoError(t, err)

	// Every instruction's Loc must point at its opcode byte in the source.
	for _, in := range m.CodeSection[0].Body {
		require.NotZero(t, in.Loc.Len)
		require.Equal(t, byte(in.Op), source[in.Loc.Offset])
	}
}

func TestDecodeModule_BrTable(t *testing.T) {
	code := []byte{
		0x00,       // no locals
		0x41, 0x00, // i32.const 0
		0x0e, 0x02, 0x00, 0x00, 0x00, // br_table [0 0] default 0
		0x0b, // end
	}
	m, err := binary.DecodeModule(module(
		section(1, 0x01, 0x60, 0x00, 0x00),
		section(3, 0x01, 0x00),
		section(10, append([]byte{0x01, byte(len(code))}, code...)...),
	))
	require.NoError(t, err)

	br := m.CodeSection[0].Body[1]
	require.Equal(t, wasm.OpcodeBrTable, br.Op)
	require.Equal(t, []uint32{0, 0}, br.Labels)
	require.Equal(t, uint32(0), br.U1)
}

func TestDecodeModule_UnknownOpcode(t *testing.T) {
	code := []byte{
		0x00, // no locals
		0xd4, // not an instruction
		0x0b,
	}
	_, err := binary.DecodeModule(module(
		section(1, 0x01, 0x60, 0x00, 0x00),
		section(3, 0x01, 0x00),
		section(10, append([]byte{0x01, byte(len(code))}, code...)...),
	))
	var me *wasm.MalformedError
	require.ErrorAs(t, err, &me)
	require.Contains(t, err.Error(), "unknown opcode")
}

func TestDecodeModule_Segments(t *testing.T) {
	t.Run("active element flag 0", func(t *testing.T) {
		m, err := binary.DecodeModule(module(
			section(1, 0x01, 0x60, 0x00, 0x00),
			section(3, 0x01, 0x00),
			section(4, 0x01, 0x70, 0x00, 0x01), // funcref table, min 1
			section(9, 0x01, // one segment
				0x00,             // flag 0: active, table 0
				0x41, 0x00, 0x0b, // offset i32.const 0
				0x01, 0x00, // one func index: 0
			),
			section(10, 0x01, 0x03, 0x00, 0x01, 0x0b),
		))
		require.NoError(t, err)
		require.Len(t, m.ElementSection, 1)
		seg := m.ElementSection[0]
		require.Equal(t, wasm.SegmentModeActive, seg.Mode)
		require.Equal(t, wasm.ValTypeFuncref, seg.Type)
		require.Len(t, seg.Init, 1)
		require.Equal(t, wasm.OpcodeRefFunc, seg.Init[0].Op)
	})

	t.Run("passive data flag 1", func(t *testing.T) {
		m, err := binary.DecodeModule(module(
			section(11, 0x01,
				0x01,             // flag 1: passive
				0x03, 0x01, 0x02, 0x03,
			),
		))
		require.NoError(t, err)
		require.Len(t, m.DataSection, 1)
		require.Equal(t, wasm.SegmentModePassive, m.DataSection[0].Mode)
		require.Equal(t, []byte{1, 2, 3}, m.DataSection[0].Init)
	})

	t.Run("invalid element flag", func(t *testing.T) {
		_, err := binary.DecodeModule(module(
			section(9, 0x01, 0x08),
		))
		var me *wasm.MalformedError
		require.ErrorAs(t, err, &me)
	})
}
