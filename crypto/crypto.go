// Package crypto seals short secrets, such as the chat bot's OAuth tokens,
// for storage in text columns. Values are AES-256-GCM encrypted and bound to
// a caller supplied context string so a sealed value cannot be moved to
// another row undetected.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKey is returned by NewBox for keys that are not 32 base64-encoded bytes.
	ErrInvalidKey = errors.New("invalid encryption key")
	// ErrOpen is returned when a sealed value fails authentication or is malformed.
	ErrOpen = errors.New("cannot open sealed value")
)

// Box seals and opens strings with one AES-256 key.
type Box struct {
	aead  cipher.AEAD
	keyID string
}

// NewBox creates a Box from a base64-encoded 32-byte key, e.g. `openssl rand -base64 32`.
func NewBox(base64Key string) (*Box, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode failed: %v", ErrInvalidKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: must be 32 bytes, got %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &Box{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID is a short fingerprint of the key, stored next to sealed values so a
// rotated key is reported as a mismatch instead of a corrupt value.
func (b *Box) KeyID() string { return b.keyID }

// Seal encrypts plaintext bound to context and returns base64(nonce || ciphertext || tag).
// The empty string seals to the empty string.
func (b *Box) Seal(plaintext, context string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), []byte(context))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. It fails with ErrOpen when the value was sealed under a
// different key or context, or has been modified.
func (b *Box) Open(sealed, context string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrOpen)
	}
	n := b.aead.NonceSize()
	if len(raw) < n+b.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrOpen)
	}
	plaintext, err := b.aead.Open(nil, raw[:n], raw[n:], []byte(context))
	if err != nil {
		// gcm errors carry no useful detail
		return "", fmt.Errorf("%w: authentication failed", ErrOpen)
	}
	return string(plaintext), nil
}
