// Package secretbox encrypts short secrets (provider refresh tokens) for storage
// using XChaCha20-Poly1305. Ciphertexts are base64 strings with the nonce prefixed.
package secretbox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrMalformed = errors.New("malformed ciphertext")

type Box struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives a 32-byte key from key with SHA-256.
func New(key string) (*Box, error) {
	if key == "" {
		return nil, errors.New("encryption key is empty")
	}
	sum := sha256.Sum256([]byte(key))
	aead, err := chacha20poly1305.NewX(sum[:])
	if err != nil {
		return nil, fmt.Errorf("create xchacha20: %w", err)
	}
	return &Box{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plaintext. binding is authenticated but not stored; Open must
// be given the same value, which ties a ciphertext to the row it was written for.
func (b *Box) Seal(plaintext, binding string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := io.ReadFull(b.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), []byte(binding))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (b *Box) Open(ciphertext, binding string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", ErrMalformed)
	}
	ns := b.aead.NonceSize()
	if len(data) < ns+b.aead.Overhead() {
		return "", ErrMalformed
	}
	plaintext, err := b.aead.Open(nil, data[:ns], data[ns:], []byte(binding))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
