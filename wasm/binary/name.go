package binary

import "github.com/ambervm/ambervm/wasm"

const (
	nameSubsectionModule   = 0
	nameSubsectionFunction = 1
)

// decodeNameSection parses the well-known "name" custom section. Only the
// module and function subsections are kept; unknown subsections are skipped.
func decodeNameSection(data []byte) (*wasm.NameSection, error) {
	r := &reader{buf: data}
	ns := &wasm.NameSection{}
	for r.remaining() > 0 {
		id, err := readByte(r, "name subsection id")
		if err != nil {
			return nil, err
		}
		size, err := readU32(r, "name subsection size")
		if err != nil {
			return nil, err
		}
		body, err := r.sub(int(size))
		if err != nil {
			return nil, err
		}
		switch id {
		case nameSubsectionModule:
			if ns.ModuleName, err = readName(body); err != nil {
				return nil, err
			}
		case nameSubsectionFunction:
			n, err := readU32(body, "function name count")
			if err != nil {
				return nil, err
			}
			ns.FunctionNames = make(map[wasm.Index]string, n)
			for i := uint32(0); i < n; i++ {
				idx, err := readU32(body, "function name index")
				if err != nil {
					return nil, err
				}
				name, err := readName(body)
				if err != nil {
					return nil, err
				}
				ns.FunctionNames[idx] = name
			}
		}
	}
	return ns, nil
}
