// Package wire reads and writes line-protocol messages over a net.Conn, with
// optional NaCl secretbox encryption.
//
// Wire format (unencrypted):
//
//	<json>\n
//
// Wire format (encrypted):
//
//	<base64(nonce+ciphertext)>\n
//
// Both forms are one message per line, so framing does not depend on the key.
package wire

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.klb.dev/clipcache/internal/crypto"
	"go.klb.dev/clipcache/internal/message"
)

const (
	// MaxMessageSize is the largest line we will read (64 MiB). Bitmaps
	// travel base64-encoded inside JSON, so this bounds a ~45 MiB payload.
	MaxMessageSize = 64 * 1024 * 1024

	writeDeadline = 5 * time.Second
)

// ErrTooLarge is returned by ReadMsg for lines over MaxMessageSize.
var ErrTooLarge = errors.New("message too large")

// Conn wraps a net.Conn with newline-delimited JSON framing and optional
// encryption. WriteMsg is safe for concurrent use; ReadMsg is not.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	key  *[crypto.KeySize]byte // nil = no encryption
	wmu  sync.Mutex
}

// New wraps conn. If key is non-nil every message is sealed before being
// written and opened after being read.
func New(conn net.Conn, key *[crypto.KeySize]byte) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
		key:  key,
	}
}

// SetReadDeadline sets or clears the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

func (c *Conn) setWriteDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetWriteDeadline(time.Time{})
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(d))
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteMsg serialises msg, optionally seals it, and writes it as one line.
func (c *Conn) WriteMsg(msg *message.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	var line []byte
	if c.key != nil {
		ct, err := crypto.Seal(raw, c.key)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		line = make([]byte, base64.StdEncoding.EncodedLen(len(ct))+1)
		base64.StdEncoding.Encode(line, ct)
		line[len(line)-1] = '\n'
	} else {
		line = append(raw, '\n')
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.setWriteDeadline(writeDeadline)
	_, err = c.conn.Write(line)
	c.setWriteDeadline(0)
	return err
}

// ReadMsg reads one line, optionally opens it, and decodes the message.
func (c *Conn) ReadMsg() (*message.Message, error) {
	var line []byte
	for {
		chunk, err := c.br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxMessageSize {
			return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(line))
		}
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
	line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})

	raw := line
	if c.key != nil {
		ct := make([]byte, base64.StdEncoding.DecodedLen(len(line)))
		n, err := base64.StdEncoding.Decode(ct, line)
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
		raw, err = crypto.Open(ct[:n], c.key)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}
	return message.Decode(raw)
}
