package vaultcrypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is the iteration count pinned by the KeyBag export blob
// format: salt(16)||iv(12)||ciphertext||tag(16), key derived via
// PBKDF2-HMAC-SHA256 at this many rounds.
const PBKDF2Iterations = 310000

// PBKDF2SaltSize is the length in bytes of the random salt prefixed to a
// password-wrapped KeyBag export.
const PBKDF2SaltSize = 16

// DeriveKeyFromPassword derives a 32-byte AES-256 key from a password and
// salt using PBKDF2-HMAC-SHA256 at PBKDF2Iterations rounds.
func DeriveKeyFromPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
}
