// Package crypto seals small secrets (OAuth tokens) at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values written by Seal.
const sealedPrefix = "enc:v1:"

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Cipher is AES-256-GCM with a random nonce per value.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher builds a cipher from a secret. Secrets that are not exactly 32
// bytes are stretched with SHA-256.
func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty encryption key")
	}
	key := secret
	if len(key) != 32 {
		sum := sha256.Sum256(secret)
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Seal encrypts plaintext into a prefixed base64 string.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, plaintext, nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *Cipher) Open(value string) ([]byte, error) {
	if !IsSealed(value) {
		return nil, ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	n := c.gcm.NonceSize()
	if len(data) < n+c.gcm.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	plain, err := c.gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
