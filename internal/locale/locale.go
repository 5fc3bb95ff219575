// Package locale supplies the codepages used when converting between the
// 8-bit text formats and UTF-16.
package locale

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Locale reports the active 8-bit codepages.
type Locale interface {
	ANSICodePage() uint32
	OEMCodePage() uint32
}

// Static is a fixed Locale.
type Static struct {
	ANSI uint32
	OEM  uint32
}

func (s Static) ANSICodePage() uint32 { return s.ANSI }
func (s Static) OEMCodePage() uint32  { return s.OEM }

// Default is Western European: cp1252 / cp437.
var Default = Static{ANSI: 1252, OEM: 437}

// CodePageUTF8 is the UTF-8 pseudo codepage.
const CodePageUTF8 = 65001

// DefaultChar replaces characters the target codepage cannot represent.
const DefaultChar = '?'

var codepages = map[uint32]*charmap.Charmap{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	28591: charmap.ISO8859_1,
}

// Encoding returns the text encoding for codepage cp.
func Encoding(cp uint32) (encoding.Encoding, error) {
	if cp == CodePageUTF8 {
		return unicode.UTF8, nil
	}
	if cm, ok := codepages[cp]; ok {
		return cm, nil
	}
	return nil, fmt.Errorf("locale: unsupported codepage %d", cp)
}

// Decode converts 8-bit text in codepage cp to a Go string. Bytes not mapped
// by the codepage decode to U+FFFD.
func Decode(cp uint32, b []byte) (string, error) {
	enc, err := Encoding(cp)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("locale: decode cp%d: %w", cp, err)
	}
	return string(out), nil
}

// Encode converts s to codepage cp. Characters the codepage cannot represent
// become DefaultChar.
func Encode(cp uint32, s string) ([]byte, error) {
	if cp == CodePageUTF8 {
		return []byte(strings.ToValidUTF8(s, string(DefaultChar))), nil
	}
	cm, ok := codepages[cp]
	if !ok {
		return nil, fmt.Errorf("locale: unsupported codepage %d", cp)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := cm.EncodeRune(r)
		if !ok {
			b = DefaultChar
		}
		out = append(out, b)
	}
	return out, nil
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeUTF16 converts UTF-16LE bytes to a string. A trailing odd byte is
// ignored.
func DecodeUTF16(b []byte) (string, error) {
	b = b[:len(b)&^1]
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("locale: decode utf-16: %w", err)
	}
	return string(out), nil
}

// EncodeUTF16 converts s to UTF-16LE without a terminator. Invalid UTF-8
// becomes U+FFFD.
func EncodeUTF16(s string) []byte {
	out, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return out
}
