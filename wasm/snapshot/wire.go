package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/interp"
	"github.com/ambervm/ambervm/wasm/leb128"
)

// The byte layout is a small LEB128-framed format of its own. It shares
// nothing with the wasm binary format beyond the integer encoding; the
// magic keeps the two from ever being confused.
var wireMagic = []byte{'a', 'v', 's', '1'}

const wireVersion byte = 1

// Encode serializes a snapshot to stable bytes.
func Encode(snap *Snapshot) []byte {
	var buf bytes.Buffer
	buf.Write(wireMagic)
	buf.WriteByte(wireVersion)
	buf.Write(snap.Fingerprint[:])

	writeValues(&buf, snap.Values)

	buf.Write(leb128.EncodeUint32(uint32(len(snap.Frames))))
	for _, fs := range snap.Frames {
		buf.Write(leb128.EncodeUint32(uint32(fs.FuncAddr)))
		writeValues(&buf, fs.Locals)
		buf.Write(leb128.EncodeUint32(uint32(len(fs.Labels))))
		for _, ls := range fs.Labels {
			buf.WriteByte(byte(ls.Kind))
			buf.Write(leb128.EncodeUint32(ls.Arity))
			buf.Write(leb128.EncodeUint32(ls.BranchArity))
			buf.Write(leb128.EncodeUint32(ls.Height))
			buf.Write(leb128.EncodeUint32(ls.Cursor))
			buf.Write(leb128.EncodeInt32(ls.OpenedAt))
			writeBool(&buf, ls.ElseArm)
		}
	}

	if snap.Await == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		writeString(&buf, snap.Await.Module)
		writeString(&buf, snap.Await.Name)
		buf.Write(leb128.EncodeUint32(uint32(snap.Await.FuncAddr)))
		writeValues(&buf, snap.Await.Args)
		buf.Write(leb128.EncodeUint32(uint32(len(snap.Await.Results))))
		for _, t := range snap.Await.Results {
			buf.WriteByte(byte(t))
		}
	}
	return buf.Bytes()
}

// Decode parses bytes produced by Encode. It checks structure only; Restore
// does the semantic checks against a store.
func Decode(data []byte) (*Snapshot, error) {
	r := bytes.NewReader(data)

	head := make([]byte, len(wireMagic))
	if _, err := io.ReadFull(r, head); err != nil || !bytes.Equal(head, wireMagic) {
		return nil, fmt.Errorf("snapshot: bad magic")
	}
	vers, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("snapshot: truncated header")
	}
	if vers != wireVersion {
		return nil, fmt.Errorf("snapshot: unsupported format version %d", vers)
	}

	snap := &Snapshot{}
	if _, err := io.ReadFull(r, snap.Fingerprint[:]); err != nil {
		return nil, fmt.Errorf("snapshot: truncated fingerprint")
	}

	if snap.Values, err = readValues(r); err != nil {
		return nil, err
	}

	nFrames, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: frame count: %w", err)
	}
	snap.Frames = make([]FrameSnapshot, nFrames)
	for i := range snap.Frames {
		fs := &snap.Frames[i]
		addr, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: frame %d address: %w", i, err)
		}
		fs.FuncAddr = wasm.FuncAddr(addr)
		if fs.Locals, err = readValues(r); err != nil {
			return nil, err
		}
		nLabels, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: frame %d label count: %w", i, err)
		}
		fs.Labels = make([]LabelSnapshot, nLabels)
		for j := range fs.Labels {
			if err := readLabel(r, &fs.Labels[j]); err != nil {
				return nil, fmt.Errorf("snapshot: frame %d label %d: %w", i, j, err)
			}
		}
	}

	hasAwait, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("snapshot: truncated await flag")
	}
	if hasAwait == 1 {
		aw := &AwaitSnapshot{}
		if aw.Module, err = readString(r); err != nil {
			return nil, err
		}
		if aw.Name, err = readString(r); err != nil {
			return nil, err
		}
		addr, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: await address: %w", err)
		}
		aw.FuncAddr = wasm.FuncAddr(addr)
		if aw.Args, err = readValues(r); err != nil {
			return nil, err
		}
		nResults, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: await result count: %w", err)
		}
		aw.Results = make([]wasm.ValType, nResults)
		for i := range aw.Results {
			b, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("snapshot: truncated await results")
			}
			aw.Results[i] = wasm.ValType(b)
			if !aw.Results[i].Valid() {
				return nil, fmt.Errorf("snapshot: invalid await result type %#x", b)
			}
		}
		snap.Await = aw
	} else if hasAwait != 0 {
		return nil, fmt.Errorf("snapshot: invalid await flag %d", hasAwait)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("snapshot: %d trailing bytes", r.Len())
	}
	return snap, nil
}

func readLabel(r *bytes.Reader, ls *LabelSnapshot) error {
	kind, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("truncated")
	}
	if kind > byte(interp.LabelFunc) {
		return fmt.Errorf("invalid label kind %d", kind)
	}
	ls.Kind = interp.LabelKind(kind)
	for _, dst := range []*uint32{&ls.Arity, &ls.BranchArity, &ls.Height, &ls.Cursor} {
		v, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		*dst = v
	}
	openedAt, _, err := leb128.DecodeInt32(r)
	if err != nil {
		return err
	}
	ls.OpenedAt = openedAt
	ls.ElseArm, err = readBool(r)
	return err
}

// Values travel as a type byte, a null flag, and the raw 64-bit payload.
func writeValues(buf *bytes.Buffer, vals []wasm.Value) {
	buf.Write(leb128.EncodeUint32(uint32(len(vals))))
	for _, v := range vals {
		buf.WriteByte(byte(v.Type))
		writeBool(buf, v.Null)
		var bits [8]byte
		binary.LittleEndian.PutUint64(bits[:], v.Bits)
		buf.Write(bits[:])
	}
}

func readValues(r *bytes.Reader) ([]wasm.Value, error) {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: value count: %w", err)
	}
	vals := make([]wasm.Value, n)
	for i := range vals {
		t, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("snapshot: truncated value")
		}
		vals[i].Type = wasm.ValType(t)
		if !vals[i].Type.Valid() {
			return nil, fmt.Errorf("snapshot: invalid value type %#x", t)
		}
		if vals[i].Null, err = readBool(r); err != nil {
			return nil, fmt.Errorf("snapshot: truncated value")
		}
		var bits [8]byte
		if _, err := io.ReadFull(r, bits[:]); err != nil {
			return nil, fmt.Errorf("snapshot: truncated value")
		}
		vals[i].Bits = binary.LittleEndian.Uint64(bits[:])
	}
	return vals, nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.Write(leb128.EncodeUint32(uint32(len(s))))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", fmt.Errorf("snapshot: string length: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("snapshot: truncated string")
	}
	return string(b), nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	if b > 1 {
		return false, fmt.Errorf("invalid bool byte %d", b)
	}
	return b == 1, nil
}
