package vaultcrypto

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// GenerateSymmetricKey returns a fresh 32-byte key suitable for NewAEAD.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, apperrors.Wrap(err, "generate symmetric key")
	}
	return key, nil
}

// DeterministicNonce derives a stable nonce of nonceSize bytes from a content
// hash, used for attachment chunk encryption where repeated encryption of
// identical plaintext chunks must dedup in the content-addressed store
// rather than producing distinct ciphertexts on every retry.
func DeterministicNonce(contentHash []byte, chunkIndex uint64, nonceSize int) []byte {
	h := sha256.New()
	h.Write(contentHash)
	h.Write([]byte{
		byte(chunkIndex >> 56), byte(chunkIndex >> 48), byte(chunkIndex >> 40), byte(chunkIndex >> 32),
		byte(chunkIndex >> 24), byte(chunkIndex >> 16), byte(chunkIndex >> 8), byte(chunkIndex),
	})
	sum := h.Sum(nil)
	return sum[:nonceSize]
}

// ContentHash returns the SHA-256 digest of data, used as both the entry's
// ContentHash field and the dedup key in the content-addressed store.
func ContentHash(data []byte) [32]byte {
	return sha256.Sum256(data)
}
