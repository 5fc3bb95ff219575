package mirror

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/text/unicode/norm"

	"go.klb.dev/clipcache/internal/locale"
	"go.klb.dev/clipcache/internal/marshal"
)

const bmpFileHeaderSize = 14

// textToUnicode turns OS clipboard text into terminated CF_UNICODETEXT.
func textToUnicode(b []byte) []byte {
	return marshal.TerminateUnicode(locale.EncodeUTF16(norm.NFC.String(string(b))))
}

// unicodeToText is the reverse of textToUnicode, minus normalisation.
func unicodeToText(b []byte) ([]byte, error) {
	s, err := locale.DecodeUTF16(marshal.TrimUnicode(b))
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// pngToDIB decodes a PNG and packs it as a DIB: a BMP file without its file
// header.
func pngToDIB(b []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode bmp: %w", err)
	}
	return buf.Bytes()[bmpFileHeaderSize:], nil
}

// dibToPNG restores the BMP file header in front of a packed DIB and
// re-encodes it as PNG.
func dibToPNG(dib []byte) ([]byte, error) {
	info, err := marshal.ParseDIB(dib)
	if err != nil {
		return nil, err
	}
	file := make([]byte, bmpFileHeaderSize, bmpFileHeaderSize+len(dib))
	file[0], file[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(file[2:], uint32(bmpFileHeaderSize+len(dib)))
	binary.LittleEndian.PutUint32(file[10:], uint32(bmpFileHeaderSize+info.BitsOffset))
	file = append(file, dib...)

	var img image.Image
	if img, err = bmp.Decode(bytes.NewReader(file)); err != nil {
		return nil, fmt.Errorf("decode dib: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
