package vaultcrypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// GenerateSigningKey returns a fresh Ed25519 key pair for entry signing or
// tenant admin identity.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, "generate ed25519 key")
	}
	return pub, priv, nil
}

// Sign produces an Ed25519 signature over message using priv.
func Sign(priv ed25519.PrivateKey, message []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid ed25519 private key size")
	}
	return ed25519.Sign(priv, message), nil
}

// Verify checks an Ed25519 signature over message against pub.
func Verify(pub ed25519.PublicKey, message, signature []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "invalid ed25519 public key size")
	}
	if !ed25519.Verify(pub, message, signature) {
		return apperrors.Wrap(apperrors.ErrInvalidSignature, "ed25519 signature verification failed")
	}
	return nil
}
