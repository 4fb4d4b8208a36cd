// Package envelope seals session payloads at rest with an authenticated
// cipher. Every Seal draws a fresh 96-bit nonce; every Open verifies the tag
// and reports tampering or a wrong key as an *IntegrityError.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ggoodman/hush/errs"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the symmetric key length in bytes.
	KeySize = 32
	// NonceSize is the per-encryption nonce length in bytes.
	NonceSize = 12
)

// Sealed is the output of a single encryption.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
}

// Cipher is the crypto capability the session store depends on. Pick one at
// startup; records sealed by one suite do not open under another.
type Cipher interface {
	Name() string
	Seal(key, plaintext []byte) (Sealed, error)
	Open(key []byte, s Sealed) ([]byte, error)
}

// IntegrityError is returned when a sealed payload cannot be authenticated.
type IntegrityError struct {
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope integrity: %s: %v", e.Reason, e.Err)
	}
	return "envelope integrity: " + e.Reason
}

func (e *IntegrityError) Unwrap() error  { return e.Err }
func (e *IntegrityError) Kind() errs.Kind { return errs.KindIntegrity }

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

// ByName returns the cipher registered under name. An empty name selects
// AES-GCM.
func ByName(name string) (Cipher, error) {
	switch name {
	case "", AESGCM.Name():
		return AESGCM, nil
	case ChaCha20Poly1305.Name():
		return ChaCha20Poly1305, nil
	default:
		return nil, &errs.ConfigurationError{Key: "HUSH_CIPHER", Value: name, Reason: "unknown cipher"}
	}
}

type aeadFactory func(key []byte) (cipher.AEAD, error)

type aeadCipher struct {
	name string
	new  aeadFactory
}

var (
	// AESGCM is AES-256 in GCM mode, byte-compatible with Web Crypto's
	// AES-GCM using a 12-byte IV and 128-bit tag.
	AESGCM Cipher = &aeadCipher{name: "aes-gcm", new: newAESGCM}
	// ChaCha20Poly1305 is the IETF variant with a 12-byte nonce.
	ChaCha20Poly1305 Cipher = &aeadCipher{name: "chacha20-poly1305", new: chacha20poly1305.New}
)

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (c *aeadCipher) Name() string { return c.name }

func (c *aeadCipher) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes, got %d", KeySize, len(key))
	}
	return c.new(key)
}

func (c *aeadCipher) Seal(key, plaintext []byte) (Sealed, error) {
	a, err := c.aead(key)
	if err != nil {
		return Sealed{}, err
	}
	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{Nonce: nonce, Ciphertext: a.Seal(nil, nonce, plaintext, nil)}, nil
}

func (c *aeadCipher) Open(key []byte, s Sealed) ([]byte, error) {
	a, err := c.aead(key)
	if err != nil {
		return nil, &IntegrityError{Reason: "unusable key", Err: err}
	}
	if len(s.Nonce) != NonceSize {
		return nil, &IntegrityError{Reason: fmt.Sprintf("nonce must be %d bytes, got %d", NonceSize, len(s.Nonce))}
	}
	plain, err := a.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return nil, &IntegrityError{Reason: "authentication failed", Err: err}
	}
	return plain, nil
}
