package tlsconf

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handshake(t *testing.T, server, client *Credentials) error {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", server.Server())
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.(*tls.Conn).Handshake()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	return tls.Client(conn, client.Client()).Handshake()
}

func TestDerive_SamePassphraseConnects(t *testing.T) {
	a, err := Derive("hunter2")
	require.NoError(t, err)
	b, err := Derive("hunter2")
	require.NoError(t, err)

	assert.Equal(t, a.publicKey, b.publicKey)
	assert.NoError(t, handshake(t, a, b))
}

func TestDerive_DifferentPassphraseRejected(t *testing.T) {
	a, err := Derive("hunter2")
	require.NoError(t, err)
	b, err := Derive("letmein")
	require.NoError(t, err)

	assert.NotEqual(t, a.publicKey, b.publicKey)
	assert.ErrorIs(t, handshake(t, a, b), ErrKeyMismatch)
}
