package marshal

import (
	"bytes"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/native"
)

// textCodec handles 8-bit NUL-terminated text.
type textCodec struct{}

func (textCodec) Serialize(h native.Handle) ([]byte, error) {
	m, err := memoryOf(h)
	if err != nil {
		return nil, err
	}
	return TerminateText(m.Data), nil
}

func (textCodec) Deserialize(data []byte) (native.Handle, error) {
	return native.NewMemory(format.CategoryText, TerminateText(data)), nil
}

// TerminateText returns a copy of b cut at its first NUL with exactly one
// NUL appended.
func TerminateText(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

// TrimText returns b without its NUL terminator and anything after it.
func TrimText(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

// unicodeCodec handles UTF-16LE text terminated by U+0000.
type unicodeCodec struct{}

func (unicodeCodec) Serialize(h native.Handle) ([]byte, error) {
	m, err := memoryOf(h)
	if err != nil {
		return nil, err
	}
	if len(m.Data)%2 != 0 {
		return nil, malformed("odd unicode text length %d", len(m.Data))
	}
	return TerminateUnicode(m.Data), nil
}

func (unicodeCodec) Deserialize(data []byte) (native.Handle, error) {
	if len(data)%2 != 0 {
		return nil, malformed("odd unicode text length %d", len(data))
	}
	return native.NewMemory(format.CategoryUnicodeText, TerminateUnicode(data)), nil
}

// TerminateUnicode returns a copy of UTF-16LE b cut at its first U+0000 with
// exactly one terminator appended. b must have even length.
func TerminateUnicode(b []byte) []byte {
	b = TrimUnicode(b)
	out := make([]byte, len(b)+2)
	copy(out, b)
	return out
}

// TrimUnicode returns UTF-16LE b without its terminator and anything after
// it.
func TrimUnicode(b []byte) []byte {
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			return b[:i]
		}
	}
	return b[:len(b)&^1]
}
