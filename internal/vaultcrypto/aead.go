// Package vaultcrypto provides the authenticated encryption, signing, and
// key-derivation primitives used throughout the core: AEAD sealing of entry
// payloads, Ed25519 signing of entry metadata, RSA-OAEP wrapping of the
// transport envelope, and PBKDF2-based password wrapping of KeyBag exports.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// Algorithm identifies a supported AEAD cipher for entry content encryption.
type Algorithm string

const (
	// AESGCM is AES-256-GCM, the default entry content cipher.
	AESGCM Algorithm = "aes-gcm"
	// ChaCha20Poly1305 is used where AES-NI is unavailable.
	ChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

// KeySize is the required symmetric key length for both supported algorithms.
const KeySize = 32

// AEAD is the capability boundary for authenticated encryption of entry
// content. Implementations generate their own nonce on Encrypt unless a
// caller-supplied deterministic nonce is required, in which case
// EncryptWithNonce should be used directly.
type AEAD interface {
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)
	EncryptWithNonce(plaintext, aad, nonce []byte) (ciphertext []byte, err error)
	Decrypt(ciphertext, nonce, aad []byte) (plaintext []byte, err error)
	NonceSize() int
}

// NewAEAD constructs an AEAD cipher for the given algorithm and 32-byte key.
func NewAEAD(key []byte, alg Algorithm) (AEAD, error) {
	if len(key) != KeySize {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "key must be 32 bytes")
	}

	switch alg {
	case AESGCM:
		return newAESGCM(key)
	case ChaCha20Poly1305:
		return newChaCha20Poly1305(key)
	default:
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "unsupported algorithm %q", alg)
	}
}

type aesGCM struct {
	aead cipher.AEAD
}

func newAESGCM(key []byte) (*aesGCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Wrap(err, "create aes cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.Wrap(err, "create gcm aead")
	}
	return &aesGCM{aead: aead}, nil
}

func (c *aesGCM) NonceSize() int { return c.aead.NonceSize() }

func (c *aesGCM) Encrypt(plaintext, aad []byte) ([]byte, []byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, apperrors.Wrap(err, "generate nonce")
	}
	ciphertext, err := c.EncryptWithNonce(plaintext, aad, nonce)
	return ciphertext, nonce, err
}

func (c *aesGCM) EncryptWithNonce(plaintext, aad, nonce []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid nonce size")
	}
	return c.aead.Seal(nil, nonce, plaintext, aad), nil
}

func (c *aesGCM) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "aead decryption failed")
	}
	return plaintext, nil
}

type chachaCipher struct {
	aead cipher.AEAD
}

func newChaCha20Poly1305(key []byte) (*chachaCipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, apperrors.Wrap(err, "create chacha20poly1305 cipher")
	}
	return &chachaCipher{aead: aead}, nil
}

func (c *chachaCipher) NonceSize() int { return c.aead.NonceSize() }

func (c *chachaCipher) Encrypt(plaintext, aad []byte) ([]byte, []byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, apperrors.Wrap(err, "generate nonce")
	}
	ciphertext, err := c.EncryptWithNonce(plaintext, aad, nonce)
	return ciphertext, nonce, err
}

func (c *chachaCipher) EncryptWithNonce(plaintext, aad, nonce []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid nonce size")
	}
	return c.aead.Seal(nil, nonce, plaintext, aad), nil
}

func (c *chachaCipher) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "aead decryption failed")
	}
	return plaintext, nil
}
