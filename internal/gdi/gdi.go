// Package gdi defines the graphics subsystem consumed by the marshaler and
// the synthesis engine, and ships Table, an in-memory implementation.
//
// Graphics objects are opaque Object handles. Whoever creates an object owns
// it and must Delete it exactly once.
package gdi

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Object is an opaque handle to a live graphics object.
type Object uint32

var (
	ErrInvalidObject = errors.New("gdi: invalid object")
	ErrWrongKind     = errors.New("gdi: wrong object kind")
	ErrBadBits       = errors.New("gdi: inconsistent bits")
)

// BitmapInfo describes a device-dependent bitmap.
type BitmapInfo struct {
	Width      int32
	Height     int32
	WidthBytes int32
	Planes     uint16
	BitsPixel  uint16
}

// RowBytes returns the word-aligned row size for width pixels at bpp.
func RowBytes(width int32, bpp uint16) int64 {
	return ((int64(width)*int64(bpp) + 15) / 16) * 2
}

// PaletteEntry is one logical palette colour.
type PaletteEntry struct {
	Red, Green, Blue, Flags uint8
}

// MetafilePict carries the picture frame of a legacy metafile.
type MetafilePict struct {
	MapMode int32
	XExt    int32
	YExt    int32
}

// Graphics is the subsystem that owns resource-backed objects.
type Graphics interface {
	CreateBitmap(info BitmapInfo, bits []byte) (Object, error)
	BitmapBits(obj Object) (BitmapInfo, []byte, error)

	CreatePalette(entries []PaletteEntry) (Object, error)
	PaletteEntries(obj Object) ([]PaletteEntry, error)

	SetMetafileBits(bits []byte) (Object, error)
	MetafileBits(obj Object) ([]byte, error)

	SetEnhMetafileBits(bits []byte) (Object, error)
	EnhMetafileBits(obj Object) ([]byte, error)

	// EnhMetafileFromWin converts legacy metafile bits into a new enhanced
	// metafile object.
	EnhMetafileFromWin(wmf []byte, pict MetafilePict) (Object, error)
	// WinMetafileFromEnh renders an enhanced metafile as legacy metafile bits.
	WinMetafileFromEnh(obj Object) ([]byte, error)

	Delete(obj Object) error
}

type kind int

const (
	kindBitmap kind = iota + 1
	kindPalette
	kindMetafile
	kindEnhMetafile
)

func (k kind) String() string {
	switch k {
	case kindBitmap:
		return "bitmap"
	case kindPalette:
		return "palette"
	case kindMetafile:
		return "metafile"
	case kindEnhMetafile:
		return "enh-metafile"
	}
	return "unknown"
}

type object struct {
	kind    kind
	info    BitmapInfo
	bits    []byte
	palette []PaletteEntry
}

// Table is an in-memory Graphics implementation. It keeps every live object
// in a map so leaks show up in Live.
type Table struct {
	mu      sync.Mutex
	objects map[Object]*object
	next    Object
}

// NewTable returns an empty object table.
func NewTable() *Table {
	return &Table{objects: make(map[Object]*object), next: 1}
}

// Live returns the number of objects not yet deleted.
func (t *Table) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.objects)
}

func (t *Table) insert(o *object) Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.objects[h] = o
	return h
}

func (t *Table) lookup(h Object, want kind) (*object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.objects[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidObject, h)
	}
	if o.kind != want {
		return nil, fmt.Errorf("%w: %d is a %s, want %s", ErrWrongKind, h, o.kind, want)
	}
	return o, nil
}

func (t *Table) CreateBitmap(info BitmapInfo, bits []byte) (Object, error) {
	if info.Width <= 0 || info.Height == 0 || info.Planes != 1 {
		return 0, fmt.Errorf("%w: %dx%d planes=%d", ErrBadBits, info.Width, info.Height, info.Planes)
	}
	if int64(info.WidthBytes) < RowBytes(info.Width, info.BitsPixel) {
		return 0, fmt.Errorf("%w: widthBytes %d too small", ErrBadBits, info.WidthBytes)
	}
	h := int64(info.Height)
	if h < 0 {
		h = -h
	}
	if int64(len(bits)) != int64(info.WidthBytes)*h {
		return 0, fmt.Errorf("%w: have %d bytes, want %d", ErrBadBits, len(bits), int64(info.WidthBytes)*h)
	}
	return t.insert(&object{kind: kindBitmap, info: info, bits: clone(bits)}), nil
}

func (t *Table) BitmapBits(h Object) (BitmapInfo, []byte, error) {
	o, err := t.lookup(h, kindBitmap)
	if err != nil {
		return BitmapInfo{}, nil, err
	}
	return o.info, clone(o.bits), nil
}

func (t *Table) CreatePalette(entries []PaletteEntry) (Object, error) {
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: empty palette", ErrBadBits)
	}
	cp := make([]PaletteEntry, len(entries))
	copy(cp, entries)
	return t.insert(&object{kind: kindPalette, palette: cp}), nil
}

func (t *Table) PaletteEntries(h Object) ([]PaletteEntry, error) {
	o, err := t.lookup(h, kindPalette)
	if err != nil {
		return nil, err
	}
	cp := make([]PaletteEntry, len(o.palette))
	copy(cp, o.palette)
	return cp, nil
}

func (t *Table) SetMetafileBits(bits []byte) (Object, error) {
	if err := checkWMF(bits); err != nil {
		return 0, err
	}
	return t.insert(&object{kind: kindMetafile, bits: clone(bits)}), nil
}

func (t *Table) MetafileBits(h Object) ([]byte, error) {
	o, err := t.lookup(h, kindMetafile)
	if err != nil {
		return nil, err
	}
	return clone(o.bits), nil
}

func (t *Table) SetEnhMetafileBits(bits []byte) (Object, error) {
	if err := checkEMF(bits); err != nil {
		return 0, err
	}
	return t.insert(&object{kind: kindEnhMetafile, bits: clone(bits)}), nil
}

func (t *Table) EnhMetafileBits(h Object) ([]byte, error) {
	o, err := t.lookup(h, kindEnhMetafile)
	if err != nil {
		return nil, err
	}
	return clone(o.bits), nil
}

func (t *Table) EnhMetafileFromWin(wmf []byte, pict MetafilePict) (Object, error) {
	if err := checkWMF(wmf); err != nil {
		return 0, err
	}
	// A metafile that was produced from an enhanced metafile carries the
	// original in escape records; hand that back unchanged.
	if emf, ok := embeddedEMF(wmf); ok && checkEMF(emf) == nil {
		return t.insert(&object{kind: kindEnhMetafile, bits: emf}), nil
	}
	return t.insert(&object{kind: kindEnhMetafile, bits: wrapWMF(wmf, pict)}), nil
}

func (t *Table) WinMetafileFromEnh(h Object) ([]byte, error) {
	o, err := t.lookup(h, kindEnhMetafile)
	if err != nil {
		return nil, err
	}
	if wmf, ok := embeddedWMF(o.bits); ok && checkWMF(wmf) == nil {
		return wmf, nil
	}
	return wrapEMF(o.bits), nil
}

func (t *Table) Delete(h Object) error {
	t.mu.Lock()
	o, ok := t.objects[h]
	delete(t.objects, h)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidObject, h)
	}
	slog.Debug("gdi object deleted", "object", h, "kind", o.kind.String())
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
