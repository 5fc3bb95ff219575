package synth

import (
	"encoding/binary"
	"math/bits"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/marshal"
	"go.klb.dev/clipcache/internal/native"
)

var le = binary.LittleEndian

// Image is a top-down 32-bit BGRA raster, the pivot every bitmap
// conversion goes through.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// MaxPixels bounds the rasters conversions will allocate.
const MaxPixels = 1 << 26

func newImage(w, h int) (*Image, bool) {
	if w <= 0 || h <= 0 || int64(w)*int64(h) > MaxPixels {
		return nil, false
	}
	return &Image{Width: w, Height: h, Pix: make([]byte, 4*w*h)}, true
}

func (m *Image) set(x, y int, b, g, r, a byte) {
	o := 4 * (y*m.Width + x)
	m.Pix[o], m.Pix[o+1], m.Pix[o+2], m.Pix[o+3] = b, g, r, a
}

// DecodeDIB expands an uncompressed packed DIB of any supported depth.
func DecodeDIB(data []byte) (*Image, bool) {
	d, err := marshal.ParseDIB(data)
	if err != nil {
		return nil, false
	}
	var rMask, gMask, bMask, aMask uint32
	switch d.Compression {
	case marshal.BIRGB:
		if d.BitCount == 16 {
			rMask, gMask, bMask = 0x7C00, 0x03E0, 0x001F
		}
	case marshal.BIBitfields, marshal.BIAlphaBitfield:
		off := d.HeaderSize
		if d.HeaderSize > marshal.InfoHeaderSize {
			off = marshal.InfoHeaderSize
		}
		rMask = le.Uint32(data[off:])
		gMask = le.Uint32(data[off+4:])
		bMask = le.Uint32(data[off+8:])
		if d.HeaderSize >= 56 || d.Compression == marshal.BIAlphaBitfield {
			aMask = le.Uint32(data[off+12:])
		}
	default:
		return nil, false
	}

	w, h := int(d.Width), d.AbsHeight()
	img, ok := newImage(w, h)
	if !ok {
		return nil, false
	}
	stride := d.Stride()
	for y := 0; y < h; y++ {
		srcRow := y
		if d.Height > 0 {
			srcRow = h - 1 - y
		}
		row := data[d.BitsOffset+srcRow*stride:]
		for x := 0; x < w; x++ {
			switch d.BitCount {
			case 1, 4, 8:
				bpp := int(d.BitCount)
				bit := x * bpp
				idx := int(row[bit/8]>>(8-bpp-bit%8)) & (1<<bpp - 1)
				var b, g, r byte
				if idx < d.NumColors {
					c := data[d.ColorsOffset+idx*d.ColorSize:]
					b, g, r = c[0], c[1], c[2]
				}
				img.set(x, y, b, g, r, 0xFF)
			case 16:
				v := uint32(le.Uint16(row[2*x:]))
				img.set(x, y, channel(v, bMask), channel(v, gMask), channel(v, rMask), alpha(v, aMask))
			case 24:
				p := row[3*x:]
				img.set(x, y, p[0], p[1], p[2], 0xFF)
			case 32:
				v := le.Uint32(row[4*x:])
				if rMask == 0 && gMask == 0 && bMask == 0 {
					p := row[4*x:]
					img.set(x, y, p[0], p[1], p[2], 0xFF)
					continue
				}
				img.set(x, y, channel(v, bMask), channel(v, gMask), channel(v, rMask), alpha(v, aMask))
			}
		}
	}
	return img, true
}

func channel(v, mask uint32) byte {
	if mask == 0 {
		return 0
	}
	shift := bits.TrailingZeros32(mask)
	width := bits.OnesCount32(mask)
	val := (v & mask) >> shift
	if width >= 8 {
		return byte(val >> (width - 8))
	}
	return byte(val * 255 / (1<<width - 1))
}

func alpha(v, mask uint32) byte {
	if mask == 0 {
		return 0xFF
	}
	return channel(v, mask)
}

// bottomUp returns the image rows in DIB order.
func (m *Image) bottomUp() []byte {
	stride := 4 * m.Width
	out := make([]byte, len(m.Pix))
	for y := 0; y < m.Height; y++ {
		copy(out[(m.Height-1-y)*stride:], m.Pix[y*stride:(y+1)*stride])
	}
	return out
}

// EncodeDIB packs m as a 32-bit BITMAPINFOHEADER DIB.
func EncodeDIB(m *Image) []byte {
	return marshal.BuildDIB(int32(m.Width), int32(m.Height), 32, nil, m.bottomUp())
}

// EncodeDIBV5 packs m as a 32-bit BITMAPV5HEADER DIB with an alpha mask.
func EncodeDIBV5(m *Image) []byte {
	pix := m.bottomUp()
	out := make([]byte, marshal.V5HeaderSize+len(pix))
	le.PutUint32(out[0:], marshal.V5HeaderSize)
	le.PutUint32(out[4:], uint32(m.Width))
	le.PutUint32(out[8:], uint32(m.Height))
	le.PutUint16(out[12:], 1)
	le.PutUint16(out[14:], 32)
	le.PutUint32(out[16:], marshal.BIBitfields)
	le.PutUint32(out[20:], uint32(len(pix)))
	le.PutUint32(out[40:], 0x00FF0000)
	le.PutUint32(out[44:], 0x0000FF00)
	le.PutUint32(out[48:], 0x000000FF)
	le.PutUint32(out[52:], 0xFF000000)
	le.PutUint32(out[56:], 0x73524742) // LCS_sRGB
	le.PutUint32(out[108:], 4)         // LCS_GM_IMAGES
	copy(out[marshal.V5HeaderSize:], pix)
	return out
}

func decodeBitmap(g gdi.Graphics, obj gdi.Object) (*Image, bool) {
	info, data, err := g.BitmapBits(obj)
	if err != nil {
		return nil, false
	}
	switch info.BitsPixel {
	case 1, 24, 32:
	default:
		return nil, false
	}
	h := int64(info.Height)
	if h < 0 {
		h = -h
	}
	stride := int64(info.WidthBytes)
	if info.Width <= 0 || stride < (int64(info.Width)*int64(info.BitsPixel)+7)/8 || int64(len(data)) < stride*h {
		return nil, false
	}
	w := int(info.Width)
	img, ok := newImage(w, int(h))
	if !ok {
		return nil, false
	}
	for y := 0; y < img.Height; y++ {
		row := data[int64(y)*stride:]
		for x := 0; x < w; x++ {
			switch info.BitsPixel {
			case 1:
				var c byte
				if row[x/8]&(0x80>>(x%8)) != 0 {
					c = 0xFF
				}
				img.set(x, y, c, c, c, 0xFF)
			case 24:
				p := row[3*x:]
				img.set(x, y, p[0], p[1], p[2], 0xFF)
			case 32:
				p := row[4*x:]
				img.set(x, y, p[0], p[1], p[2], p[3])
			}
		}
	}
	return img, true
}

func encodeBitmap(g gdi.Graphics, m *Image) (*native.Bitmap, bool) {
	info := gdi.BitmapInfo{
		Width:      int32(m.Width),
		Height:     int32(m.Height),
		WidthBytes: int32(gdi.RowBytes(int32(m.Width), 32)),
		Planes:     1,
		BitsPixel:  32,
	}
	obj, err := g.CreateBitmap(info, m.Pix)
	if err != nil {
		return nil, false
	}
	return native.NewBitmap(g, obj), true
}

func dibToBitmap(env Env, src native.Handle) (native.Handle, bool) {
	data, ok := memoryData(src)
	if !ok || env.Graphics == nil {
		return nil, false
	}
	img, ok := DecodeDIB(data)
	if !ok {
		return nil, false
	}
	bm, ok := encodeBitmap(env.Graphics, img)
	if !ok {
		return nil, false
	}
	return bm, true
}

func bitmapToDIB(v5 bool) Convert {
	return func(env Env, src native.Handle) (native.Handle, bool) {
		bm, ok := src.(*native.Bitmap)
		if !ok {
			return nil, false
		}
		img, ok := decodeBitmap(bm.G, bm.Obj)
		if !ok {
			return nil, false
		}
		return encodeDIBHandle(img, v5), true
	}
}

func dibToDIB(v5 bool) Convert {
	return func(env Env, src native.Handle) (native.Handle, bool) {
		data, ok := memoryData(src)
		if !ok {
			return nil, false
		}
		img, ok := DecodeDIB(data)
		if !ok {
			return nil, false
		}
		return encodeDIBHandle(img, v5), true
	}
}

func encodeDIBHandle(img *Image, v5 bool) native.Handle {
	if v5 {
		return native.NewMemory(format.CategoryDIB, EncodeDIBV5(img))
	}
	return native.NewMemory(format.CategoryDIB, EncodeDIB(img))
}
