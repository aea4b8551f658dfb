package binary

import (
	"io"
	"unicode/utf8"

	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/leb128"
)

// reader walks a byte slice while tracking the absolute offset in the
// original module, so every error and source location is byte-accurate even
// inside size-delimited section bodies.
type reader struct {
	buf  []byte
	pos  int
	base uint64
}

func (r *reader) offset() uint64 { return r.base + uint64(r.pos) }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) Read(p []byte) (int, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

// bytes consumes exactly n bytes.
func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, malformed(r.offset(), "truncated input", wasm.ErrUnexpectedEnd)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// sub carves out a child reader over the next n bytes, preserving absolute
// offsets.
func (r *reader) sub(n int) (*reader, error) {
	base := r.offset()
	b, err := r.bytes(n)
	if err != nil {
		return nil, err
	}
	return &reader{buf: b, base: base}, nil
}

func malformed(offset uint64, msg string, err error) *wasm.MalformedError {
	return &wasm.MalformedError{Offset: offset, Msg: msg, Err: err}
}

func readByte(r *reader, what string) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, malformed(r.offset(), "read "+what, wasm.ErrUnexpectedEnd)
	}
	return b, nil
}

func readU32(r *reader, what string) (uint32, error) {
	off := r.offset()
	v, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, malformed(off, "read "+what, err)
	}
	return v, nil
}

func readS32(r *reader, what string) (int32, error) {
	off := r.offset()
	v, _, err := leb128.DecodeInt32(r)
	if err != nil {
		return 0, malformed(off, "read "+what, err)
	}
	return v, nil
}

func readS64(r *reader, what string) (int64, error) {
	off := r.offset()
	v, _, err := leb128.DecodeInt64(r)
	if err != nil {
		return 0, malformed(off, "read "+what, err)
	}
	return v, nil
}

func readS33(r *reader, what string) (int64, error) {
	off := r.offset()
	v, _, err := leb128.DecodeInt33(r)
	if err != nil {
		return 0, malformed(off, "read "+what, err)
	}
	return v, nil
}

// readName reads a length-prefixed UTF-8 string.
func readName(r *reader) (string, error) {
	n, err := readU32(r, "name length")
	if err != nil {
		return "", err
	}
	off := r.offset()
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", malformed(off, "name is not valid UTF-8", nil)
	}
	return string(b), nil
}

func readValType(r *reader, what string) (wasm.ValType, error) {
	off := r.offset()
	b, err := readByte(r, what)
	if err != nil {
		return 0, err
	}
	vt := wasm.ValType(b)
	if !vt.Valid() {
		return 0, malformed(off, "invalid value type for "+what, nil)
	}
	return vt, nil
}
