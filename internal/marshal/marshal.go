// Package marshal converts clipboard data between its flat wire form and its
// process-local native form.
//
// Serialization runs on the producer side. Deserialization runs on the
// consumer side and validates structure before any graphics object is
// created; a failed Deserialize never returns a handle.
package marshal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/native"
)

var (
	// ErrMalformed reports wire bytes that fail structural validation.
	ErrMalformed = errors.New("malformed clipboard data")
	// ErrWrongHandle reports a native handle whose category does not match
	// the format being serialized.
	ErrWrongHandle = errors.New("handle does not match format")
)

var le = binary.LittleEndian

// Codec serializes and deserializes one category.
type Codec interface {
	Serialize(h native.Handle) ([]byte, error)
	Deserialize(data []byte) (native.Handle, error)
}

// Registry maps each category to its codec.
type Registry struct {
	codecs map[format.Category]Codec
}

// New builds the registry of every category, backed by graphics subsystem g.
func New(g gdi.Graphics) *Registry {
	return &Registry{
		codecs: map[format.Category]Codec{
			format.CategoryMemory:      memoryCodec{},
			format.CategoryText:        textCodec{},
			format.CategoryUnicodeText: unicodeCodec{},
			format.CategoryDIB:         dibCodec{},
			format.CategoryBitmap:      bitmapCodec{g},
			format.CategoryPalette:     paletteCodec{g},
			format.CategoryMetafile:    metafileCodec{g},
			format.CategoryEnhMetafile: enhMetafileCodec{g},
		},
	}
}

// Serialize flattens h, the native form of format f.
func (r *Registry) Serialize(f format.ID, h native.Handle) ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("serialize %s: %w: nil handle", f, ErrWrongHandle)
	}
	c := format.CategoryOf(f)
	if h.Category() != c {
		return nil, fmt.Errorf("serialize %s: %w: have %s, want %s", f, ErrWrongHandle, h.Category(), c)
	}
	b, err := r.codecs[c].Serialize(h)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", f, err)
	}
	return b, nil
}

// Deserialize rebuilds the native form of format f from wire bytes.
func (r *Registry) Deserialize(f format.ID, data []byte) (native.Handle, error) {
	h, err := r.codecs[format.CategoryOf(f)].Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", f, err)
	}
	return h, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}

func memoryOf(h native.Handle) (*native.Memory, error) {
	m, ok := h.(*native.Memory)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrWrongHandle, h)
	}
	return m, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type memoryCodec struct{}

func (memoryCodec) Serialize(h native.Handle) ([]byte, error) {
	m, err := memoryOf(h)
	if err != nil {
		return nil, err
	}
	return clone(m.Data), nil
}

func (memoryCodec) Deserialize(data []byte) (native.Handle, error) {
	return native.NewMemory(format.CategoryMemory, clone(data)), nil
}
