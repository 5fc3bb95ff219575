package marshal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/native"
)

func newRegistry() (*Registry, *gdi.Table) {
	tbl := gdi.NewTable()
	return New(tbl), tbl
}

func TestText_Terminates(t *testing.T) {
	r, _ := newRegistry()

	h, err := r.Deserialize(format.Text, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc\x00"), h.(*native.Memory).Data)

	h, err = r.Deserialize(format.OEMText, []byte("ab\x00junk"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ab\x00"), h.(*native.Memory).Data)
}

func TestUnicode_OddLengthIsMalformed(t *testing.T) {
	r, _ := newRegistry()
	_, err := r.Deserialize(format.UnicodeText, []byte{'H', 0, 'i'})
	assert.ErrorIs(t, err, ErrMalformed)

	h, err := r.Deserialize(format.UnicodeText, []byte{'H', 0, 0, 0, 'x', 0})
	require.NoError(t, err)
	assert.Equal(t, []byte{'H', 0, 0, 0}, h.(*native.Memory).Data)
}

func TestMemory_Identity(t *testing.T) {
	r, _ := newRegistry()
	in := []byte{0, 1, 2, 0, 3}
	h, err := r.Deserialize(format.FirstRegistered, in)
	require.NoError(t, err)
	out, err := r.Serialize(format.FirstRegistered, h)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDIB(t *testing.T) {
	r, _ := newRegistry()
	dib := BuildDIB(2, 2, 24, nil, make([]byte, 8*2))

	info, err := ParseDIB(dib)
	require.NoError(t, err)
	assert.Equal(t, 8, info.Stride())
	assert.Equal(t, InfoHeaderSize, info.BitsOffset)

	h, err := r.Deserialize(format.DIB, dib)
	require.NoError(t, err)
	assert.Equal(t, format.CategoryDIB, h.Category())

	cases := map[string][]byte{
		"truncated bits": dib[:len(dib)-1],
		"short":          dib[:3],
		"bad header":     append([]byte{41, 0, 0, 0}, dib[4:]...),
	}
	for name, data := range cases {
		_, err := r.Deserialize(format.DIBV5, data)
		assert.ErrorIs(t, err, ErrMalformed, name)
	}

	bad := append([]byte{}, dib...)
	bad[14] = 7
	_, err = ParseDIB(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDIB_ExtremeHeaders(t *testing.T) {
	r, _ := newRegistry()
	cases := map[string][]byte{
		"min height":            BuildDIB(1, math.MinInt32, 32, nil, nil),
		"min height with bits":  BuildDIB(1, math.MinInt32, 32, nil, make([]byte, 64)),
		"huge dimensions":       BuildDIB(math.MaxInt32, math.MaxInt32, 32, nil, nil),
		"huge top-down":         BuildDIB(math.MaxInt32, -math.MaxInt32, 32, nil, make([]byte, 64)),
		"wide single row":       BuildDIB(0x40000000, 1, 32, nil, make([]byte, 16)),
		"colour table past end": BuildDIB(1, 1, 8, nil, make([]byte, 4)),
		"negative width":        BuildDIB(-4, 1, 32, nil, make([]byte, 16)),
	}
	for name, data := range cases {
		_, err := ParseDIB(data)
		assert.ErrorIs(t, err, ErrMalformed, name)
		h, err := r.Deserialize(format.DIB, data)
		assert.ErrorIs(t, err, ErrMalformed, name)
		assert.Nil(t, h, name)
	}
}

func TestDIB_AbsHeight(t *testing.T) {
	assert.Equal(t, 3, DIBInfo{Height: -3}.AbsHeight())
	assert.EqualValues(t, int64(1)<<31, DIBInfo{Height: math.MinInt32}.AbsHeight())
}

func TestDIB_PaletteSized(t *testing.T) {
	colors := make([][4]byte, 2)
	dib := BuildDIB(8, 1, 1, colors, make([]byte, 4))
	info, err := ParseDIB(dib)
	require.NoError(t, err)
	assert.Equal(t, 2, info.NumColors)
	assert.Equal(t, InfoHeaderSize+8, info.BitsOffset)
}

func TestBitmap_RoundTrip(t *testing.T) {
	r, tbl := newRegistry()
	info := gdi.BitmapInfo{Width: 4, Height: -2, WidthBytes: 4, Planes: 1, BitsPixel: 8}
	wire := FlattenBitmap(info, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	h, err := r.Deserialize(format.Bitmap, wire)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Live())

	out, err := r.Serialize(format.Bitmap, h)
	require.NoError(t, err)
	assert.Equal(t, wire, out)

	h.Release()
	h.Release()
	assert.Equal(t, 0, tbl.Live())
}

func TestBitmap_MalformedCreatesNothing(t *testing.T) {
	r, tbl := newRegistry()
	info := gdi.BitmapInfo{Width: 4, Height: 2, WidthBytes: 4, Planes: 1, BitsPixel: 8}
	wire := FlattenBitmap(info, []byte{1, 2, 3})

	h, err := r.Deserialize(format.Bitmap, wire)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Nil(t, h)
	assert.Equal(t, 0, tbl.Live())

	_, err = r.Deserialize(format.Bitmap, wire[:10])
	assert.ErrorIs(t, err, ErrMalformed)

	hostile := map[string]gdi.BitmapInfo{
		"row size wraps": {Width: 0x08000001, Height: 1, WidthBytes: 4, Planes: 1, BitsPixel: 32},
		"min height":     {Width: 1, Height: math.MinInt32, WidthBytes: 4, Planes: 1, BitsPixel: 32},
		"max width":      {Width: math.MaxInt32, Height: 1, WidthBytes: 4, Planes: 1, BitsPixel: 24},
	}
	for name, info := range hostile {
		h, err := r.Deserialize(format.Bitmap, FlattenBitmap(info, make([]byte, 4)))
		assert.ErrorIs(t, err, ErrMalformed, name)
		assert.Nil(t, h, name)
	}
	assert.Equal(t, 0, tbl.Live())
}

func TestPalette(t *testing.T) {
	r, tbl := newRegistry()
	wire := []byte{0x00, 0x03, 2, 0, 1, 2, 3, 0, 4, 5, 6, 0}

	h, err := r.Deserialize(format.Palette, wire)
	require.NoError(t, err)
	out, err := r.Serialize(format.Palette, h)
	require.NoError(t, err)
	assert.Equal(t, wire, out)
	h.Release()

	_, err = r.Deserialize(format.Palette, wire[:len(wire)-1])
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = r.Deserialize(format.Palette, []byte{0x00, 0x03, 0, 0})
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 0, tbl.Live())
}

func TestMetafile_RoundTrip(t *testing.T) {
	r, tbl := newRegistry()
	wmf := gdi.BuildWMF(gdi.EscapeComment([]byte("x")))
	wire := FlattenMetafilePict(gdi.MetafilePict{MapMode: 8, XExt: 1000, YExt: 500}, wmf)

	h, err := r.Deserialize(format.MetafilePict, wire)
	require.NoError(t, err)
	mf := h.(*native.MetafilePict)
	assert.Equal(t, int32(1000), mf.Pict.XExt)

	out, err := r.Serialize(format.MetafilePict, h)
	require.NoError(t, err)
	assert.Equal(t, wire, out)
	h.Release()

	_, err = r.Deserialize(format.MetafilePict, wire[:len(wire)-2])
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 0, tbl.Live())
}

func TestEnhMetafile(t *testing.T) {
	r, tbl := newRegistry()
	emf := gdi.BuildEMF(gdi.MetafilePict{XExt: 5, YExt: 5})

	h, err := r.Deserialize(format.EnhMetafile, emf)
	require.NoError(t, err)
	out, err := r.Serialize(format.EnhMetafile, h)
	require.NoError(t, err)
	assert.Equal(t, emf, out)
	h.Release()

	_, err = r.Deserialize(format.EnhMetafile, emf[:87])
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 0, tbl.Live())
}

func TestSerialize_WrongHandle(t *testing.T) {
	r, _ := newRegistry()
	_, err := r.Serialize(format.Bitmap, native.NewMemory(format.CategoryText, []byte("x")))
	assert.ErrorIs(t, err, ErrWrongHandle)
	_, err = r.Serialize(format.Text, nil)
	assert.ErrorIs(t, err, ErrWrongHandle)
}
