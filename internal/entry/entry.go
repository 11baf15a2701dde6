// Package entry implements the canonical serialization, signing,
// verification, and decryption of Entry, the immutable unit of replication
// described by the data model: content-addressed, dependency-linked,
// Ed25519-signed, and encrypted at rest with a KeyBag-managed symmetric key.
package entry

import (
	"crypto/ed25519"
	"crypto/sha256"
	"sort"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/vaultcrypto"
)

// Type identifies the role an entry plays in a document's history.
type Type string

const (
	TypeDocCreate         Type = "doc_create"
	TypeDocSnapshot       Type = "doc_snapshot"
	TypeDocChange         Type = "doc_change"
	TypeDocDelete         Type = "doc_delete"
	TypeAttachmentChunk   Type = "attachment_chunk"
	TypeAttachmentManifest Type = "attachment_manifest"
	TypeDirectoryGrant    Type = "directory_grant"
	TypeDirectoryRevoke   Type = "directory_revoke"
)

// Entry is the immutable unit of replication. Two entries with the same id
// are, by construction, identical in every field.
type Entry struct {
	ID                  string
	EntryType           Type
	DocID               string
	DependencyIDs       []string
	CreatedAt           time.Time
	CreatedByPublicKey  ed25519.PublicKey
	DecryptionKeyID     string
	Signature           []byte
	OriginalSize        int64
	EncryptedSize       int64
	ContentHash         [32]byte
	EncryptedData       []byte
	Nonce               []byte
}

// TrustFunc reports whether pub was a trusted signer for docID at the given
// time, per the directory's grant/revoke history.
type TrustFunc func(docID string, pub ed25519.PublicKey, at time.Time) bool

// Sign builds and signs a new entry from plaintext content.
//
//  1. contentHash = sha256(plaintext).
//  2. iv is derived from contentHash for attachment chunks (enabling
//     cross-document dedup of identical ciphertext), or random for mutable
//     document changes.
//  3. plaintext is sealed with encKey.
//  4. id = sha256(canonical metadata without signature).
//  5. the canonical form (including encryptedData) is signed with signer.
func Sign(
	entryType Type,
	plaintext []byte,
	docID string,
	deps []string,
	decryptionKeyID string,
	signer ed25519.PrivateKey,
	encKey []byte,
	createdAt time.Time,
) (*Entry, error) {
	if len(deps) == 0 && entryType != TypeDocCreate {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "non-doc_create entry requires at least one dependency")
	}

	contentHash := vaultcrypto.ContentHash(plaintext)

	aead, err := vaultcrypto.NewAEAD(encKey, vaultcrypto.AESGCM)
	if err != nil {
		return nil, err
	}

	var ciphertext, nonce []byte
	if entryType == TypeAttachmentChunk {
		nonce = vaultcrypto.DeterministicNonce(contentHash[:], 0, aead.NonceSize())
		ciphertext, err = aead.EncryptWithNonce(plaintext, nil, nonce)
	} else {
		ciphertext, nonce, err = aead.Encrypt(plaintext, nil)
	}
	if err != nil {
		return nil, err
	}

	sortedDeps := append([]string(nil), deps...)
	sort.Strings(sortedDeps)

	pub := signer.Public().(ed25519.PublicKey)

	e := &Entry{
		EntryType:          entryType,
		DocID:              docID,
		DependencyIDs:      sortedDeps,
		CreatedAt:          createdAt,
		CreatedByPublicKey: pub,
		DecryptionKeyID:    decryptionKeyID,
		OriginalSize:       int64(len(plaintext)),
		EncryptedSize:      int64(len(ciphertext)),
		ContentHash:        contentHash,
		EncryptedData:      ciphertext,
		Nonce:              nonce,
	}

	metadataForID := canonicalMetadataWithoutSignature(e)
	idHash := sha256.Sum256(metadataForID)
	e.ID = encodeHex(idHash[:])

	sig, err := vaultcrypto.Sign(signer, metadataForID)
	if err != nil {
		return nil, err
	}
	e.Signature = sig

	return e, nil
}

// Verify checks that entry's signature is valid and that its signer was
// trusted for its docId at its createdAt.
func Verify(e *Entry, trust TrustFunc) error {
	metadataForID := canonicalMetadataWithoutSignature(e)
	if err := vaultcrypto.Verify(e.CreatedByPublicKey, metadataForID, e.Signature); err != nil {
		return err
	}

	wantID := encodeHex(sha256.Sum256(metadataForID)[:])
	if wantID != e.ID {
		return apperrors.Wrap(apperrors.ErrCorruption, "entry id does not match canonical metadata")
	}

	if trust != nil && !trust(e.DocID, e.CreatedByPublicKey, e.CreatedAt) {
		return apperrors.Wrapf(apperrors.ErrUnknownSigner, "signer not trusted for doc %s at %s", e.DocID, e.CreatedAt)
	}

	return nil
}

// Decrypt recovers the plaintext payload of e using key, the symmetric key
// named by e.DecryptionKeyID as resolved by the caller (typically via a
// KeyBag lookup). Returns ErrCorruption if the content hash does not match
// the recovered plaintext.
func Decrypt(e *Entry, key []byte) ([]byte, error) {
	aead, err := vaultcrypto.NewAEAD(key, vaultcrypto.AESGCM)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Decrypt(e.EncryptedData, e.Nonce, nil)
	if err != nil {
		return nil, err
	}

	if vaultcrypto.ContentHash(plaintext) != e.ContentHash {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "decrypted plaintext does not match content hash")
	}

	return plaintext, nil
}
