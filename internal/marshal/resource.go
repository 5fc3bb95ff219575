package marshal

import (
	"fmt"

	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/native"
)

// Flattened header sizes of the resource-backed categories.
const (
	BitmapHeaderSize   = 20
	PaletteHeaderSize  = 4
	PaletteVersion     = 0x300
	MetafilePictHeader = 16
)

type bitmapCodec struct{ g gdi.Graphics }

func (c bitmapCodec) Serialize(h native.Handle) ([]byte, error) {
	bm, ok := h.(*native.Bitmap)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrWrongHandle, h)
	}
	info, bits, err := c.g.BitmapBits(bm.Obj)
	if err != nil {
		return nil, err
	}
	return FlattenBitmap(info, bits), nil
}

// FlattenBitmap builds the 20-byte bitmap header followed by bits.
func FlattenBitmap(info gdi.BitmapInfo, bits []byte) []byte {
	out := make([]byte, BitmapHeaderSize+len(bits))
	le.PutUint32(out[4:], uint32(info.Width))
	le.PutUint32(out[8:], uint32(info.Height))
	le.PutUint32(out[12:], uint32(info.WidthBytes))
	le.PutUint16(out[16:], info.Planes)
	le.PutUint16(out[18:], info.BitsPixel)
	copy(out[BitmapHeaderSize:], bits)
	return out
}

func (c bitmapCodec) Deserialize(data []byte) (native.Handle, error) {
	if len(data) < BitmapHeaderSize {
		return nil, malformed("bitmap too short (%d bytes)", len(data))
	}
	info := gdi.BitmapInfo{
		Width:      int32(le.Uint32(data[4:])),
		Height:     int32(le.Uint32(data[8:])),
		WidthBytes: int32(le.Uint32(data[12:])),
		Planes:     le.Uint16(data[16:]),
		BitsPixel:  le.Uint16(data[18:]),
	}
	if info.Planes != 1 || !validBitCount(info.BitsPixel) {
		return nil, malformed("bitmap planes=%d bpp=%d", info.Planes, info.BitsPixel)
	}
	if info.Width <= 0 || info.Height == 0 {
		return nil, malformed("bitmap dimensions %dx%d", info.Width, info.Height)
	}
	if int64(info.WidthBytes) < gdi.RowBytes(info.Width, info.BitsPixel) {
		return nil, malformed("bitmap widthBytes %d", info.WidthBytes)
	}
	rows := int64(info.Height)
	if rows < 0 {
		rows = -rows
	}
	if int64(len(data)-BitmapHeaderSize) != int64(info.WidthBytes)*rows {
		return nil, malformed("bitmap payload %d bytes, want %d", len(data)-BitmapHeaderSize, int64(info.WidthBytes)*rows)
	}
	obj, err := c.g.CreateBitmap(info, data[BitmapHeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return native.NewBitmap(c.g, obj), nil
}

type paletteCodec struct{ g gdi.Graphics }

func (c paletteCodec) Serialize(h native.Handle) ([]byte, error) {
	p, ok := h.(*native.Palette)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrWrongHandle, h)
	}
	entries, err := c.g.PaletteEntries(p.Obj)
	if err != nil {
		return nil, err
	}
	out := make([]byte, PaletteHeaderSize+4*len(entries))
	le.PutUint16(out[0:], PaletteVersion)
	le.PutUint16(out[2:], uint16(len(entries)))
	for i, e := range entries {
		o := PaletteHeaderSize + 4*i
		out[o], out[o+1], out[o+2], out[o+3] = e.Red, e.Green, e.Blue, e.Flags
	}
	return out, nil
}

func (c paletteCodec) Deserialize(data []byte) (native.Handle, error) {
	if len(data) < PaletteHeaderSize {
		return nil, malformed("palette too short (%d bytes)", len(data))
	}
	if v := le.Uint16(data); v != PaletteVersion {
		return nil, malformed("palette version 0x%x", v)
	}
	n := int(le.Uint16(data[2:]))
	if n == 0 || len(data) != PaletteHeaderSize+4*n {
		return nil, malformed("palette of %d entries in %d bytes", n, len(data))
	}
	entries := make([]gdi.PaletteEntry, n)
	for i := range entries {
		o := PaletteHeaderSize + 4*i
		entries[i] = gdi.PaletteEntry{Red: data[o], Green: data[o+1], Blue: data[o+2], Flags: data[o+3]}
	}
	obj, err := c.g.CreatePalette(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return native.NewPalette(c.g, obj), nil
}

type metafileCodec struct{ g gdi.Graphics }

func (c metafileCodec) Serialize(h native.Handle) ([]byte, error) {
	m, ok := h.(*native.MetafilePict)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrWrongHandle, h)
	}
	bits, err := c.g.MetafileBits(m.Obj)
	if err != nil {
		return nil, err
	}
	return FlattenMetafilePict(m.Pict, bits), nil
}

// FlattenMetafilePict builds the 16-byte picture header followed by the
// metafile bits.
func FlattenMetafilePict(pict gdi.MetafilePict, bits []byte) []byte {
	out := make([]byte, MetafilePictHeader+len(bits))
	le.PutUint32(out[0:], uint32(pict.MapMode))
	le.PutUint32(out[4:], uint32(pict.XExt))
	le.PutUint32(out[8:], uint32(pict.YExt))
	copy(out[MetafilePictHeader:], bits)
	return out
}

func (c metafileCodec) Deserialize(data []byte) (native.Handle, error) {
	if len(data) < MetafilePictHeader {
		return nil, malformed("metafile picture too short (%d bytes)", len(data))
	}
	pict := gdi.MetafilePict{
		MapMode: int32(le.Uint32(data[0:])),
		XExt:    int32(le.Uint32(data[4:])),
		YExt:    int32(le.Uint32(data[8:])),
	}
	bits := data[MetafilePictHeader:]
	if err := gdi.CheckWMF(bits); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	obj, err := c.g.SetMetafileBits(bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return native.NewMetafilePict(c.g, obj, pict), nil
}

type enhMetafileCodec struct{ g gdi.Graphics }

func (c enhMetafileCodec) Serialize(h native.Handle) ([]byte, error) {
	e, ok := h.(*native.EnhMetafile)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrWrongHandle, h)
	}
	return c.g.EnhMetafileBits(e.Obj)
}

func (c enhMetafileCodec) Deserialize(data []byte) (native.Handle, error) {
	if err := gdi.CheckEMF(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	obj, err := c.g.SetEnhMetafileBits(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return native.NewEnhMetafile(c.g, obj), nil
}
