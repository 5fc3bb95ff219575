// Package crypto seals line-protocol messages with NaCl secretbox.
//
// The 32-byte key comes from the shared token via HKDF-SHA256. Each sealed
// message carries its own random nonce:
//
//	[ 24-byte nonce ][ ciphertext ]
//
// With an empty token the wire layer gets a nil key and sends plain JSON.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	nonceSize = 24
)

var hkdfInfo = []byte("clipcache-line-v1")

// ErrDecrypt is returned when a message was not sealed with the same key.
var ErrDecrypt = errors.New("decryption failed (wrong token?)")

// DeriveKey derives the secretbox key for token. An empty token yields nil.
func DeriveKey(token string) (*[KeySize]byte, error) {
	if token == "" {
		return nil, nil
	}
	h := hkdf.New(sha256.New, []byte(token), nil, hkdfInfo)
	var key [KeySize]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return &key, nil
}

// Seal encrypts plaintext under key and returns nonce+ciphertext.
func Seal(plaintext []byte, key *[KeySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open reverses Seal.
func Open(sealed []byte, key *[KeySize]byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: message too short", ErrDecrypt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
