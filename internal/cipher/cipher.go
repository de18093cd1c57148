// Package cipher encrypts message bodies under a single pre-shared key.
//
// The key is configuration, not negotiated. It is stretched with HKDF-SHA256
// into an XChaCha20-Poly1305 key; the wire form of a ciphertext is the
// standard base64 encoding of nonce||sealed.
package cipher

import (
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// FallbackKey is used when no key is configured. Only suitable for local development.
const FallbackKey = "cipherchat-insecure-development-key"

const hkdfInfo = "cipherchat-payload-v1"

// ErrPayloadDecryption is matched by every decryption failure.
var ErrPayloadDecryption = errors.New("payload decryption failed")

// DecryptionError describes why a ciphertext could not be opened.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPayloadDecryption, e.Reason)
}

func (e *DecryptionError) Unwrap() error {
	return ErrPayloadDecryption
}

// Cipher is safe for concurrent use.
type Cipher struct {
	aead     gocipher.AEAD
	fallback bool
}

// New derives a cipher from key. An empty key selects FallbackKey.
func New(key string) (*Cipher, error) {
	fallback := key == ""
	if fallback {
		key = FallbackKey
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("failed to derive payload key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create payload cipher: %w", err)
	}
	return &Cipher{aead: aead, fallback: fallback}, nil
}

// UsesFallback reports whether the cipher was built from FallbackKey.
func (c *Cipher) UsesFallback() bool {
	return c.fallback
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonceSize := c.aead.NonceSize()
	buf := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(buf, buf[:nonceSize], []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure, including a
// wrong key, is a *DecryptionError.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	wire, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64"}
	}

	nonceSize := c.aead.NonceSize()
	if len(wire) < nonceSize+c.aead.Overhead() {
		return "", &DecryptionError{Reason: fmt.Sprintf("ciphertext too short: %d bytes", len(wire))}
	}

	plaintext, err := c.aead.Open(nil, wire[:nonceSize], wire[nonceSize:], nil)
	if err != nil {
		return "", &DecryptionError{Reason: "wrong key or tampered ciphertext"}
	}
	return string(plaintext), nil
}

// Encrypt is a one-shot helper for callers holding a raw key.
func Encrypt(plaintext, key string) (string, error) {
	c, err := New(key)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plaintext)
}

// Decrypt is a one-shot helper for callers holding a raw key.
func Decrypt(ciphertext, key string) (string, error) {
	c, err := New(key)
	if err != nil {
		return "", err
	}
	return c.Decrypt(ciphertext)
}
