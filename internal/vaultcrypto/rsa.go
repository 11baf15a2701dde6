package vaultcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// WrapKeyRSAOAEP wraps a symmetric key with RSA-OAEP/SHA-256. No transport
// in this module applies it as an outer sync envelope.
func WrapKeyRSAOAEP(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "rsa-oaep wrap")
	}
	return wrapped, nil
}

// UnwrapKeyRSAOAEP reverses WrapKeyRSAOAEP.
func UnwrapKeyRSAOAEP(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "rsa-oaep unwrap failed")
	}
	return key, nil
}

// GenerateRSAKeyPair returns a fresh RSA key pair for the transport envelope,
// sized for OAEP/SHA-256 wrapping of 32-byte keys.
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, apperrors.Wrap(err, "generate rsa key pair")
	}
	return priv, nil
}
