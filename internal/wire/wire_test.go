package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipcache/internal/crypto"
	"go.klb.dev/clipcache/internal/message"
)

func TestRoundTrip(t *testing.T) {
	key, err := crypto.DeriveKey("tok")
	require.NoError(t, err)

	for name, k := range map[string]*[crypto.KeySize]byte{"plain": nil, "sealed": key} {
		a, b := net.Pipe()
		ca, cb := New(a, k), New(b, k)

		go func() {
			_ = ca.WriteMsg(&message.Message{Type: message.TypePut, ID: 7, Format: 13, Data: []byte("hi\x00")})
		}()
		got, err := cb.ReadMsg()
		require.NoError(t, err, name)
		assert.Equal(t, message.TypePut, got.Type, name)
		assert.Equal(t, uint64(7), got.ID, name)
		assert.Equal(t, []byte("hi\x00"), got.Data, name)

		ca.Close()
		cb.Close()
	}
}

func TestReadMsg_TooLarge(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	c := New(b, nil)
	defer c.Close()

	go func() {
		chunk := bytes.Repeat([]byte{'x'}, 1<<20)
		for i := 0; i <= MaxMessageSize>>20; i++ {
			if _, err := a.Write(chunk); err != nil {
				return
			}
		}
	}()
	_, err := c.ReadMsg()
	assert.ErrorIs(t, err, ErrTooLarge)
}
