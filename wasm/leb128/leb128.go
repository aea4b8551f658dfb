// Package leb128 implements the LEB128 variable-length integer encoding
// used throughout the WebAssembly binary format. Decoders accept non-minimal
// (padded) encodings, but fail with ErrOverflow once a value would need more
// than ceil(bits/7) bytes or sets payload bits beyond its width, and with
// the reader's error (io.EOF / io.ErrUnexpectedEOF) when the input truncates
// mid-sequence.
package leb128

import (
	"errors"
	"io"
)

var ErrOverflow = errors.New("leb128: integer representation too long or too large")

const (
	maxBytes32 = 5  // ceil(32/7)
	maxBytes33 = 5  // ceil(33/7)
	maxBytes64 = 10 // ceil(64/7)
)

// DecodeUint32 reads an unsigned 32-bit integer, returning the value and
// the number of bytes consumed.
func DecodeUint32(r io.ByteReader) (uint32, int, error) {
	var ret uint32
	var shift uint
	for n := 1; ; n++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, n - 1, err
		}
		ret |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			// The final byte of a 5-byte encoding only has 4 payload bits.
			if n == maxBytes32 && b&0x70 != 0 {
				return 0, n, ErrOverflow
			}
			return ret, n, nil
		}
		if n == maxBytes32 {
			return 0, n, ErrOverflow
		}
		shift += 7
	}
}

// DecodeUint64 reads an unsigned 64-bit integer.
func DecodeUint64(r io.ByteReader) (uint64, int, error) {
	var ret uint64
	var shift uint
	for n := 1; ; n++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, n - 1, err
		}
		ret |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if n == maxBytes64 && b&0x7e != 0 {
				return 0, n, ErrOverflow
			}
			return ret, n, nil
		}
		if n == maxBytes64 {
			return 0, n, ErrOverflow
		}
		shift += 7
	}
}

// DecodeInt32 reads a signed 32-bit integer.
func DecodeInt32(r io.ByteReader) (int32, int, error) {
	var ret int32
	var shift uint
	for n := 1; ; n++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, n - 1, err
		}
		ret |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				ret |= -1 << shift
			}
			if n == maxBytes32 {
				// Bits 32..34 must sign-extend bit 31 (byte bit 3).
				if top := (b >> 3) & 0x0f; top != 0 && top != 0x0f {
					return 0, n, ErrOverflow
				}
			}
			return ret, n, nil
		}
		if n == maxBytes32 {
			return 0, n, ErrOverflow
		}
	}
}

// DecodeInt33 reads the signed 33-bit integer used by block types,
// widened to int64.
func DecodeInt33(r io.ByteReader) (int64, int, error) {
	var ret int64
	var shift uint
	for n := 1; ; n++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, n - 1, err
		}
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 33 && b&0x40 != 0 {
				ret |= -1 << shift
			}
			if n == maxBytes33 {
				// Bits 33 and 34 must sign-extend bit 32 (byte bit 4).
				if top := (b >> 4) & 0x07; top != 0 && top != 0x07 {
					return 0, n, ErrOverflow
				}
			}
			// Re-extend from bit 32 so the int64 carries the 33-bit sign.
			ret = ret << 31 >> 31
			return ret, n, nil
		}
		if n == maxBytes33 {
			return 0, n, ErrOverflow
		}
	}
}

// DecodeInt64 reads a signed 64-bit integer.
func DecodeInt64(r io.ByteReader) (int64, int, error) {
	var ret int64
	var shift uint
	for n := 1; ; n++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, n - 1, err
		}
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				ret |= -1 << shift
			}
			if n == maxBytes64 {
				if low := b & 0x7f; low != 0 && low != 0x7f {
					return 0, n, ErrOverflow
				}
			}
			return ret, n, nil
		}
		if n == maxBytes64 {
			return 0, n, ErrOverflow
		}
	}
}

// EncodeUint32 encodes v in minimal form.
func EncodeUint32(v uint32) []byte { return EncodeUint64(uint64(v)) }

// EncodeUint64 encodes v in minimal form.
func EncodeUint64(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// EncodeInt32 encodes v in minimal form.
func EncodeInt32(v int32) []byte { return EncodeInt64(int64(v)) }

// EncodeInt64 encodes v in minimal form.
func EncodeInt64(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}
