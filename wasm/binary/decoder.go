// Package binary decodes the WebAssembly core binary format into a
// wasm.Module. Decoding is strict about framing: every section declares its
// size and must consume exactly that many bytes.
package binary

import (
	"bytes"
	"crypto/sha256"

	"github.com/ambervm/ambervm/wasm"
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6d} // "\0asm"
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

const (
	sectionIDCustom    = 0
	sectionIDType      = 1
	sectionIDImport    = 2
	sectionIDFunction  = 3
	sectionIDTable     = 4
	sectionIDMemory    = 5
	sectionIDGlobal    = 6
	sectionIDExport    = 7
	sectionIDStart     = 8
	sectionIDElement   = 9
	sectionIDCode      = 10
	sectionIDData      = 11
	sectionIDDataCount = 12
)

// sectionRank gives each non-custom section its required position. Ranks
// must strictly increase across the module; note DataCount (id 12) sits
// between Element and Code in the defined binary order.
func sectionRank(id byte) (int, bool) {
	switch id {
	case sectionIDType, sectionIDImport, sectionIDFunction, sectionIDTable,
		sectionIDMemory, sectionIDGlobal, sectionIDExport, sectionIDStart,
		sectionIDElement:
		return int(id), true
	case sectionIDDataCount:
		return sectionIDElement + 1, true
	case sectionIDCode:
		return sectionIDElement + 2, true
	case sectionIDData:
		return sectionIDElement + 3, true
	}
	return 0, false
}

// DecodeModule decodes a complete binary module. Any failure is a
// *wasm.MalformedError carrying the byte offset the decoder stopped at.
func DecodeModule(source []byte) (*wasm.Module, error) {
	r := &reader{buf: source}

	head, err := r.bytes(4)
	if err != nil || !bytes.Equal(head, magic) {
		return nil, malformed(0, "read magic", wasm.ErrInvalidMagicNumber)
	}
	vers, err := r.bytes(4)
	if err != nil || !bytes.Equal(vers, version) {
		return nil, malformed(4, "read version", wasm.ErrInvalidVersion)
	}

	m := &wasm.Module{Fingerprint: sha256.Sum256(source)}

	lastRank := 0
	for r.remaining() > 0 {
		idOff := r.offset()
		id, err := readByte(r, "section id")
		if err != nil {
			return nil, err
		}
		size, err := readU32(r, "section size")
		if err != nil {
			return nil, err
		}
		body, err := r.sub(int(size))
		if err != nil {
			return nil, err
		}

		if id == sectionIDCustom {
			if err := decodeCustomSection(body, m); err != nil {
				return nil, err
			}
			continue
		}

		rank, known := sectionRank(id)
		if !known {
			return nil, malformed(idOff, "section id", wasm.ErrInvalidSectionID)
		}
		if rank <= lastRank {
			return nil, malformed(idOff, "section id", wasm.ErrSectionOutOfOrder)
		}
		lastRank = rank

		switch id {
		case sectionIDType:
			m.TypeSection, err = decodeTypeSection(body)
		case sectionIDImport:
			m.ImportSection, err = decodeImportSection(body)
		case sectionIDFunction:
			m.FunctionSection, err = decodeFunctionSection(body)
		case sectionIDTable:
			m.TableSection, err = decodeTableSection(body)
		case sectionIDMemory:
			m.MemorySection, err = decodeMemorySection(body)
		case sectionIDGlobal:
			m.GlobalSection, err = decodeGlobalSection(body)
		case sectionIDExport:
			m.ExportSection, err = decodeExportSection(body)
		case sectionIDStart:
			m.StartSection, err = decodeStartSection(body)
		case sectionIDElement:
			m.ElementSection, err = decodeElementSection(body)
		case sectionIDCode:
			m.CodeSection, err = decodeCodeSection(body)
		case sectionIDData:
			m.DataSection, err = decodeDataSection(body)
		case sectionIDDataCount:
			m.DataCountSection, err = decodeDataCountSection(body)
		}
		if err != nil {
			return nil, err
		}
		if body.remaining() != 0 {
			return nil, malformed(body.offset(), "section size mismatch", nil)
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, malformed(r.offset(), "function and code section have inconsistent lengths", nil)
	}
	return m, nil
}

func decodeCustomSection(r *reader, m *wasm.Module) error {
	name, err := readName(r)
	if err != nil {
		return err
	}
	data, err := r.bytes(r.remaining())
	if err != nil {
		return err
	}
	if name == "name" {
		// The name section is metadata; a broken one is ignored, not fatal.
		if ns, err := decodeNameSection(data); err == nil {
			m.NameSection = ns
		}
		return nil
	}
	m.CustomSections = append(m.CustomSections, &wasm.CustomSection{Name: name, Data: data})
	return nil
}
