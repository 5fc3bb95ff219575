package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_CP1252(t *testing.T) {
	b, err := Encode(1252, "café €5")
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xE9, ' ', 0x80, '5'}, b)

	s, err := Decode(1252, b)
	require.NoError(t, err)
	assert.Equal(t, "café €5", s)
}

func TestEncode_Unrepresentable(t *testing.T) {
	b, err := Encode(437, "a€b日")
	require.NoError(t, err)
	assert.Equal(t, []byte("a?b?"), b)
}

func TestEncoding_Unsupported(t *testing.T) {
	_, err := Encoding(932)
	assert.Error(t, err)
	_, err = Encode(932, "x")
	assert.Error(t, err)
}

func TestUTF16(t *testing.T) {
	b := EncodeUTF16("Hi")
	assert.Equal(t, []byte{'H', 0, 'i', 0}, b)

	s, err := DecodeUTF16(append(b, 0x41))
	require.NoError(t, err)
	assert.Equal(t, "Hi", s)
}

func TestStatic(t *testing.T) {
	var l Locale = Default
	assert.Equal(t, uint32(1252), l.ANSICodePage())
	assert.Equal(t, uint32(437), l.OEMCodePage())
}
