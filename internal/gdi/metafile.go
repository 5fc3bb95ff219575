package gdi

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Enhanced metafile layout constants.
const (
	EMFHeaderSize = 88
	EMFSignature  = 0x464D4520 // " EMF"

	emrHeader     = 1
	emrEOF        = 14
	emrGDIComment = 70
	emrEOFSize    = 20
)

// Legacy metafile layout constants.
const (
	WMFHeaderSize  = 18
	WMFHeaderWords = 9

	metaEOF       = 0x0000
	metaEscape    = 0x0626
	escMFComment  = 15
	maxEscapeData = 0x7F00
)

var (
	tagWMF = []byte("WMFC")
	tagEMF = []byte("EMFC")
)

var le = binary.LittleEndian

// CheckEMF validates the structural header of enhanced metafile bits.
func CheckEMF(b []byte) error { return checkEMF(b) }

// CheckWMF validates the structural header of legacy metafile bits.
func CheckWMF(b []byte) error { return checkWMF(b) }

func checkEMF(b []byte) error {
	if len(b) < EMFHeaderSize {
		return fmt.Errorf("%w: emf too short (%d bytes)", ErrBadBits, len(b))
	}
	if le.Uint32(b[0:]) != emrHeader {
		return fmt.Errorf("%w: emf first record is not a header", ErrBadBits)
	}
	if le.Uint32(b[40:]) != EMFSignature {
		return fmt.Errorf("%w: emf signature mismatch", ErrBadBits)
	}
	if n := le.Uint32(b[48:]); int(n) != len(b) {
		return fmt.Errorf("%w: emf nBytes %d, have %d", ErrBadBits, n, len(b))
	}
	return nil
}

func checkWMF(b []byte) error {
	if len(b) < WMFHeaderSize {
		return fmt.Errorf("%w: wmf too short (%d bytes)", ErrBadBits, len(b))
	}
	if t := le.Uint16(b[0:]); t != 1 && t != 2 {
		return fmt.Errorf("%w: wmf type %d", ErrBadBits, t)
	}
	if le.Uint16(b[2:]) != WMFHeaderWords {
		return fmt.Errorf("%w: wmf header size", ErrBadBits)
	}
	if words := le.Uint32(b[6:]); int64(words)*2 != int64(len(b)) {
		return fmt.Errorf("%w: wmf size %d words, have %d bytes", ErrBadBits, words, len(b))
	}
	return nil
}

// BuildEMF assembles enhanced metafile bits from a frame and a list of raw
// records (each already carrying its iType/nSize header).
func BuildEMF(frame MetafilePict, records ...[]byte) []byte {
	var body bytes.Buffer
	for _, r := range records {
		body.Write(r)
	}
	total := EMFHeaderSize + body.Len() + emrEOFSize

	out := make([]byte, EMFHeaderSize, total)
	le.PutUint32(out[0:], emrHeader)
	le.PutUint32(out[4:], EMFHeaderSize)
	le.PutUint32(out[32:], uint32(frame.XExt))
	le.PutUint32(out[36:], uint32(frame.YExt))
	le.PutUint32(out[40:], EMFSignature)
	le.PutUint32(out[44:], 0x10000)
	le.PutUint32(out[48:], uint32(total))
	le.PutUint32(out[52:], uint32(len(records)+2))
	le.PutUint16(out[56:], 1)
	out = append(out, body.Bytes()...)

	eof := make([]byte, emrEOFSize)
	le.PutUint32(eof[0:], emrEOF)
	le.PutUint32(eof[4:], emrEOFSize)
	le.PutUint32(eof[12:], 16)
	le.PutUint32(eof[16:], emrEOFSize)
	return append(out, eof...)
}

// GDIComment builds an EMR_GDICOMMENT record around data.
func GDIComment(data []byte) []byte {
	padded := (len(data) + 3) &^ 3
	rec := make([]byte, 12+padded)
	le.PutUint32(rec[0:], emrGDIComment)
	le.PutUint32(rec[4:], uint32(len(rec)))
	le.PutUint32(rec[8:], uint32(len(data)))
	copy(rec[12:], data)
	return rec
}

// BuildWMF assembles legacy metafile bits from raw records (each carrying
// its rdSize/rdFunction header). A META_EOF record is appended.
func BuildWMF(records ...[]byte) []byte {
	eof := make([]byte, 6)
	le.PutUint32(eof[0:], 3)
	le.PutUint16(eof[4:], metaEOF)
	records = append(records, eof)

	var body bytes.Buffer
	var maxWords uint32
	for _, r := range records {
		body.Write(r)
		if w := uint32(len(r) / 2); w > maxWords {
			maxWords = w
		}
	}
	total := WMFHeaderSize + body.Len()

	out := make([]byte, WMFHeaderSize, total)
	le.PutUint16(out[0:], 1)
	le.PutUint16(out[2:], WMFHeaderWords)
	le.PutUint16(out[4:], 0x0300)
	le.PutUint32(out[6:], uint32(total/2))
	le.PutUint32(out[12:], maxWords)
	return append(out, body.Bytes()...)
}

// EscapeComment builds a META_ESCAPE/MFCOMMENT record around data.
func EscapeComment(data []byte) []byte {
	padded := (len(data) + 1) &^ 1
	rec := make([]byte, 10+padded)
	le.PutUint32(rec[0:], uint32(len(rec)/2))
	le.PutUint16(rec[4:], metaEscape)
	le.PutUint16(rec[6:], escMFComment)
	le.PutUint16(rec[8:], uint16(len(data)))
	copy(rec[10:], data)
	return rec
}

func wrapWMF(wmf []byte, pict MetafilePict) []byte {
	data := append(append([]byte{}, tagWMF...), wmf...)
	return BuildEMF(pict, GDIComment(data))
}

func wrapEMF(emf []byte) []byte {
	var recs [][]byte
	for off := 0; off < len(emf); off += maxEscapeData {
		end := min(off+maxEscapeData, len(emf))
		chunk := append(append([]byte{}, tagEMF...), emf[off:end]...)
		recs = append(recs, EscapeComment(chunk))
	}
	return BuildWMF(recs...)
}

// embeddedWMF returns the legacy metafile carried in a WMFC comment record.
func embeddedWMF(emf []byte) ([]byte, bool) {
	off := int(le.Uint32(emf[4:]))
	for off+8 <= len(emf) {
		typ := le.Uint32(emf[off:])
		size := int(le.Uint32(emf[off+4:]))
		if size < 8 || off+size > len(emf) {
			return nil, false
		}
		if typ == emrGDIComment && size >= 12 {
			n := int(le.Uint32(emf[off+8:]))
			if 12+n <= size {
				data := emf[off+12 : off+12+n]
				if bytes.HasPrefix(data, tagWMF) {
					return clone(data[len(tagWMF):]), true
				}
			}
		}
		off += size
	}
	return nil, false
}

// embeddedEMF reassembles an enhanced metafile split across EMFC escapes.
func embeddedEMF(wmf []byte) ([]byte, bool) {
	var out []byte
	found := false
	off := WMFHeaderSize
	for off+6 <= len(wmf) {
		words := int(le.Uint32(wmf[off:]))
		size := words * 2
		if size < 6 || off+size > len(wmf) {
			return nil, false
		}
		fn := le.Uint16(wmf[off+4:])
		if fn == metaEOF {
			break
		}
		if fn == metaEscape && size >= 10 && le.Uint16(wmf[off+6:]) == escMFComment {
			n := int(le.Uint16(wmf[off+8:]))
			if 10+n <= size {
				data := wmf[off+10 : off+10+n]
				if bytes.HasPrefix(data, tagEMF) {
					out = append(out, data[len(tagEMF):]...)
					found = true
				}
			}
		}
		off += size
	}
	return out, found
}
