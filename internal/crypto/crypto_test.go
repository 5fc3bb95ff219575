package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey("s3cret")
	require.NoError(t, err)

	sealed, err := Seal([]byte(`{"type":"GET"}`), key)
	require.NoError(t, err)
	plain, err := Open(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"GET"}`, string(plain))
}

func TestOpen_WrongKey(t *testing.T) {
	a, _ := DeriveKey("one")
	b, _ := DeriveKey("two")
	sealed, err := Seal([]byte("x"), a)
	require.NoError(t, err)

	_, err = Open(sealed, b)
	assert.ErrorIs(t, err, ErrDecrypt)
	_, err = Open(sealed[:10], a)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDeriveKey_EmptyToken(t *testing.T) {
	key, err := DeriveKey("")
	require.NoError(t, err)
	assert.Nil(t, key)
}
