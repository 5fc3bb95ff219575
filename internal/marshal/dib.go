package marshal

import (
	"math"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/native"
)

// Bitmap header sizes.
const (
	CoreHeaderSize = 12
	InfoHeaderSize = 40
	V4HeaderSize   = 108
	V5HeaderSize   = 124
)

// DIB compression values.
const (
	BIRGB           = 0
	BIRLE8          = 1
	BIRLE4          = 2
	BIBitfields     = 3
	BIJPEG          = 4
	BIPNG           = 5
	BIAlphaBitfield = 6
)

// DIBInfo is the parsed layout of a packed device-independent bitmap.
type DIBInfo struct {
	HeaderSize  int
	Width       int32
	Height      int32
	BitCount    uint16
	Compression uint32
	// ColorsOffset is where the colour table (or bitfield masks for a 40-byte
	// header) starts; BitsOffset is where the pixel array starts.
	ColorsOffset int
	NumColors    int
	ColorSize    int
	BitsOffset   int
	BitsSize     int
}

// Stride is the DWORD-aligned row size of the pixel array.
func (d DIBInfo) Stride() int {
	return ((int(d.Width)*int(d.BitCount) + 31) / 32) * 4
}

// AbsHeight is the row count regardless of orientation.
func (d DIBInfo) AbsHeight() int {
	h := int64(d.Height)
	if h < 0 {
		h = -h
	}
	return int(h)
}

func validBitCount(bpp uint16) bool {
	switch bpp {
	case 1, 4, 8, 16, 24, 32:
		return true
	}
	return false
}

// ParseDIB validates a packed DIB and returns its layout.
func ParseDIB(b []byte) (DIBInfo, error) {
	if len(b) < 4 {
		return DIBInfo{}, malformed("dib too short (%d bytes)", len(b))
	}
	var d DIBInfo
	d.HeaderSize = int(le.Uint32(b))
	switch d.HeaderSize {
	case CoreHeaderSize, InfoHeaderSize, 52, 56, V4HeaderSize, V5HeaderSize:
	default:
		return DIBInfo{}, malformed("dib header size %d", d.HeaderSize)
	}
	if len(b) < d.HeaderSize {
		return DIBInfo{}, malformed("dib header truncated")
	}

	var planes uint16
	var clrUsed uint32
	var sizeImage uint32
	if d.HeaderSize == CoreHeaderSize {
		d.Width = int32(le.Uint16(b[4:]))
		d.Height = int32(le.Uint16(b[6:]))
		planes = le.Uint16(b[8:])
		d.BitCount = le.Uint16(b[10:])
		d.ColorSize = 3
	} else {
		d.Width = int32(le.Uint32(b[4:]))
		d.Height = int32(le.Uint32(b[8:]))
		planes = le.Uint16(b[12:])
		d.BitCount = le.Uint16(b[14:])
		d.Compression = le.Uint32(b[16:])
		sizeImage = le.Uint32(b[20:])
		clrUsed = le.Uint32(b[32:])
		d.ColorSize = 4
	}
	if d.Width <= 0 || d.Height == 0 || d.Height == math.MinInt32 {
		return DIBInfo{}, malformed("dib dimensions %dx%d", d.Width, d.Height)
	}
	if planes != 1 {
		return DIBInfo{}, malformed("dib planes %d", planes)
	}
	if !validBitCount(d.BitCount) {
		return DIBInfo{}, malformed("dib bit count %d", d.BitCount)
	}

	masks := 0
	if d.HeaderSize == InfoHeaderSize {
		switch d.Compression {
		case BIBitfields:
			masks = 12
		case BIAlphaBitfield:
			masks = 16
		}
	}
	switch {
	case clrUsed > 0:
		if clrUsed > 1<<16 {
			return DIBInfo{}, malformed("dib colour count %d", clrUsed)
		}
		d.NumColors = int(clrUsed)
	case d.BitCount <= 8:
		d.NumColors = 1 << d.BitCount
	}
	d.ColorsOffset = d.HeaderSize
	d.BitsOffset = d.HeaderSize + masks + d.NumColors*d.ColorSize

	if len(b) < d.BitsOffset {
		return DIBInfo{}, malformed("dib colour table truncated")
	}
	avail := int64(len(b) - d.BitsOffset)

	var need int64
	switch d.Compression {
	case BIRGB, BIBitfields, BIAlphaBitfield:
		stride := (int64(d.Width)*int64(d.BitCount) + 31) / 32 * 4
		rows := int64(d.AbsHeight())
		if rows > avail/stride {
			return DIBInfo{}, malformed("dib needs %d rows of %d bytes, have %d bytes", rows, stride, avail)
		}
		need = stride * rows
	default:
		if sizeImage == 0 {
			return DIBInfo{}, malformed("compressed dib without image size")
		}
		need = int64(sizeImage)
	}
	if avail < need {
		return DIBInfo{}, malformed("dib needs %d bytes, have %d", int64(d.BitsOffset)+need, len(b))
	}
	d.BitsSize = int(need)
	return d, nil
}

// dibCodec handles packed DIBs, which are simple: the native form is the
// wire form.
type dibCodec struct{}

func (dibCodec) Serialize(h native.Handle) ([]byte, error) {
	m, err := memoryOf(h)
	if err != nil {
		return nil, err
	}
	if _, err := ParseDIB(m.Data); err != nil {
		return nil, err
	}
	return clone(m.Data), nil
}

func (dibCodec) Deserialize(data []byte) (native.Handle, error) {
	if _, err := ParseDIB(data); err != nil {
		return nil, err
	}
	return native.NewMemory(format.CategoryDIB, clone(data)), nil
}

// BuildDIB packs a BITMAPINFOHEADER, colour table and pixel rows. bits must
// already use the DWORD-aligned stride; colors are {blue, green, red, 0}
// quads.
func BuildDIB(width, height int32, bpp uint16, colors [][4]byte, bits []byte) []byte {
	off := InfoHeaderSize + 4*len(colors)
	out := make([]byte, off+len(bits))
	le.PutUint32(out[0:], InfoHeaderSize)
	le.PutUint32(out[4:], uint32(width))
	le.PutUint32(out[8:], uint32(height))
	le.PutUint16(out[12:], 1)
	le.PutUint16(out[14:], bpp)
	le.PutUint32(out[16:], BIRGB)
	le.PutUint32(out[20:], uint32(len(bits)))
	le.PutUint32(out[32:], uint32(len(colors)))
	for i, c := range colors {
		copy(out[InfoHeaderSize+4*i:], c[:])
	}
	copy(out[off:], bits)
	return out
}
