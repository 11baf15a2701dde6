// Package serveridentity loads and persists the server's own signing
// identity: the Ed25519 key it signs entries with when it acts as a sync
// client against another server, and the RSA key it uses to unwrap
// envelope-encrypted sync payloads (spec §9 open question 2). The identity
// is stored as a password-wrapped KeyBag blob (§6.3's export format),
// unlocked either by a directly-configured password or by a KMS keeper that
// decrypts the password on the server's behalf.
package serveridentity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
)

// Fixed names the server's own keys are stored under within the identity
// KeyBag. The scope is ScopeTenant purely as a storage convenience: these
// are not document-encryption keys, just reusing the same export format.
const (
	signingKeyName  = "server-identity-signing"
	envelopeKeyName = "server-identity-envelope"
)

var (
	ErrPasswordNotSet      = apperrors.Wrap(apperrors.ErrInvalidInput, "SERVER_KEY_PASSWORD not set")
	ErrKMSProviderNotSet   = apperrors.Wrap(apperrors.ErrInvalidInput, "KMS_PROVIDER not set but KMS_KEY_URI is")
	ErrKMSKeyURINotSet     = apperrors.Wrap(apperrors.ErrInvalidInput, "KMS_KEY_URI not set but KMS_PROVIDER is")
	ErrKMSCiphertextNotSet = apperrors.Wrap(apperrors.ErrInvalidInput, "SERVER_KEY_KMS_CIPHERTEXT not set")
	ErrKMSOpenKeeperFailed = apperrors.Wrap(apperrors.ErrInvalidInput, "failed to open KMS keeper")
	ErrKMSDecryptionFailed = apperrors.Wrap(apperrors.ErrInvalidInput, "KMS decryption of server key password failed")
)

// Config selects how the identity blob is unlocked. Exactly one of Password
// or {KMSProvider, KMSKeyURI, KMSCiphertext} is set.
type Config struct {
	Password string

	KMSProvider   string
	KMSKeyURI     string
	KMSCiphertext []byte // base64-decoded SERVER_KEY_KMS_CIPHERTEXT
}

// KMSKeeper decrypts ciphertext produced by a KMS key, mirroring
// internal/serveridentity's one external dependency surface on a KMS
// provider.
type KMSKeeper interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Close() error
}

// KMSService opens a KMSKeeper for a key URI.
type KMSService interface {
	OpenKeeper(ctx context.Context, keyURI string) (KMSKeeper, error)
}

// resolvePassword returns the password that unlocks the identity blob,
// either directly from Config.Password or by asking KMS to decrypt
// Config.KMSCiphertext.
func resolvePassword(ctx context.Context, cfg Config, kmsService KMSService) (string, error) {
	if cfg.KMSProvider != "" && cfg.KMSKeyURI == "" {
		return "", ErrKMSKeyURINotSet
	}
	if cfg.KMSKeyURI != "" && cfg.KMSProvider == "" {
		return "", ErrKMSProviderNotSet
	}

	if cfg.KMSProvider == "" {
		if cfg.Password == "" {
			return "", ErrPasswordNotSet
		}
		return cfg.Password, nil
	}

	if len(cfg.KMSCiphertext) == 0 {
		return "", ErrKMSCiphertextNotSet
	}

	keeper, err := kmsService.OpenKeeper(ctx, cfg.KMSKeyURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKMSOpenKeeperFailed, err)
	}
	defer func() { _ = keeper.Close() }()

	plaintext, err := keeper.Decrypt(ctx, cfg.KMSCiphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKMSDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// Load decrypts blob (a keybag.Save output) using the password resolved
// from cfg, returning the Bag it contains.
func Load(ctx context.Context, blob []byte, cfg Config, kmsService KMSService) (*keybag.Bag, error) {
	password, err := resolvePassword(ctx, cfg, kmsService)
	if err != nil {
		return nil, err
	}
	return keybag.Load(blob, password)
}

// New generates a fresh server identity: an Ed25519 signing keypair and an
// RSA-3072 envelope keypair, stored in a new Bag.
func New() (*keybag.Bag, ed25519.PrivateKey, *rsa.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, nil, apperrors.Wrap(err, "failed to generate server signing key")
	}

	rsaKey, err := rsa.GenerateKey(rand.Reader, 3072)
	if err != nil {
		return nil, nil, nil, apperrors.Wrap(err, "failed to generate server envelope key")
	}

	bag := keybag.New()
	if err := bag.Set(keybag.ScopeTenant, signingKeyName, []byte(priv), nil); err != nil {
		return nil, nil, nil, err
	}
	rsaBytes, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		return nil, nil, nil, apperrors.Wrap(err, "failed to marshal server envelope key")
	}
	if err := bag.Set(keybag.ScopeTenant, envelopeKeyName, rsaBytes, nil); err != nil {
		return nil, nil, nil, err
	}

	return bag, priv, rsaKey, nil
}

// Save encrypts bag under the password resolved from cfg, producing a blob
// suitable for writing to the tenant's identity file (spec §6.2).
func Save(ctx context.Context, bag *keybag.Bag, cfg Config, kmsService KMSService) ([]byte, error) {
	password, err := resolvePassword(ctx, cfg, kmsService)
	if err != nil {
		return nil, err
	}
	return bag.Save(password)
}

// SigningKey extracts the server's Ed25519 signing key from bag.
func SigningKey(bag *keybag.Bag) (ed25519.PrivateKey, error) {
	raw, ok := bag.Get(keybag.ScopeTenant, signingKeyName)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrMissingKey, "server identity has no signing key")
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "server signing key has the wrong size")
	}
	return ed25519.PrivateKey(raw), nil
}

// EnvelopeKey extracts the server's RSA envelope-decryption key from bag.
func EnvelopeKey(bag *keybag.Bag) (*rsa.PrivateKey, error) {
	raw, ok := bag.Get(keybag.ScopeTenant, envelopeKeyName)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrMissingKey, "server identity has no envelope key")
	}
	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "server envelope key is malformed")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "server envelope key is not RSA")
	}
	return rsaKey, nil
}

// EncodeKMSCiphertext is a convenience for callers reading
// SERVER_KEY_KMS_CIPHERTEXT out of the environment as base64 text.
func EncodeKMSCiphertext(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
