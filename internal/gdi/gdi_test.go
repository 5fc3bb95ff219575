package gdi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap_RoundTrip(t *testing.T) {
	tbl := NewTable()
	info := BitmapInfo{Width: 3, Height: 2, WidthBytes: int32(RowBytes(3, 8)), Planes: 1, BitsPixel: 8}
	bits := []byte{1, 2, 3, 0, 4, 5, 6, 0}

	obj, err := tbl.CreateBitmap(info, bits)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Live())

	gotInfo, gotBits, err := tbl.BitmapBits(obj)
	require.NoError(t, err)
	assert.Equal(t, info, gotInfo)
	assert.Equal(t, bits, gotBits)

	require.NoError(t, tbl.Delete(obj))
	assert.Equal(t, 0, tbl.Live())
	assert.ErrorIs(t, tbl.Delete(obj), ErrInvalidObject)
}

func TestBitmap_Rejects(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.CreateBitmap(BitmapInfo{Width: 2, Height: 2, WidthBytes: 2, Planes: 1, BitsPixel: 8}, make([]byte, 3))
	assert.ErrorIs(t, err, ErrBadBits)
	_, err = tbl.CreateBitmap(BitmapInfo{Width: 2, Height: 2, WidthBytes: 2, Planes: 2, BitsPixel: 8}, make([]byte, 4))
	assert.ErrorIs(t, err, ErrBadBits)
	_, err = tbl.CreateBitmap(BitmapInfo{Width: 0x08000001, Height: 1, WidthBytes: 4, Planes: 1, BitsPixel: 32}, make([]byte, 4))
	assert.ErrorIs(t, err, ErrBadBits, "row size must not wrap")
	_, err = tbl.CreateBitmap(BitmapInfo{Width: 1, Height: math.MinInt32, WidthBytes: 4, Planes: 1, BitsPixel: 32}, make([]byte, 4))
	assert.ErrorIs(t, err, ErrBadBits)
	assert.Equal(t, 0, tbl.Live())
}

func TestRowBytes(t *testing.T) {
	assert.EqualValues(t, 4, RowBytes(3, 8))
	assert.EqualValues(t, 2, RowBytes(1, 1))
	assert.EqualValues(t, int64(0x08000001)*4, RowBytes(0x08000001, 32))
}

func TestWrongKind(t *testing.T) {
	tbl := NewTable()
	pal, err := tbl.CreatePalette([]PaletteEntry{{Red: 1}})
	require.NoError(t, err)
	_, _, err = tbl.BitmapBits(pal)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestMetafileConversions_RoundTrip(t *testing.T) {
	tbl := NewTable()
	wmf := BuildWMF(EscapeComment([]byte("hello")))
	require.NoError(t, CheckWMF(wmf))

	emfObj, err := tbl.EnhMetafileFromWin(wmf, MetafilePict{MapMode: 8, XExt: 100, YExt: 50})
	require.NoError(t, err)
	emf, err := tbl.EnhMetafileBits(emfObj)
	require.NoError(t, err)
	require.NoError(t, CheckEMF(emf))

	back, err := tbl.WinMetafileFromEnh(emfObj)
	require.NoError(t, err)
	assert.Equal(t, wmf, back)
}

func TestEnhToWinToEnh(t *testing.T) {
	tbl := NewTable()
	emf := BuildEMF(MetafilePict{XExt: 10, YExt: 10}, GDIComment([]byte("picture")))
	obj, err := tbl.SetEnhMetafileBits(emf)
	require.NoError(t, err)

	wmf, err := tbl.WinMetafileFromEnh(obj)
	require.NoError(t, err)
	require.NoError(t, CheckWMF(wmf))

	again, err := tbl.EnhMetafileFromWin(wmf, MetafilePict{})
	require.NoError(t, err)
	bits, err := tbl.EnhMetafileBits(again)
	require.NoError(t, err)
	assert.Equal(t, emf, bits)
}

func TestCheckEMF_Rejects(t *testing.T) {
	emf := BuildEMF(MetafilePict{})
	bad := append([]byte{}, emf...)
	bad[40] = 'X'
	assert.ErrorIs(t, CheckEMF(bad), ErrBadBits)
	assert.ErrorIs(t, CheckEMF(emf[:40]), ErrBadBits)
	assert.ErrorIs(t, CheckEMF(append(emf, 0, 0, 0, 0)), ErrBadBits)
}
