// Package syncwire defines the JSON wire shapes for the sync protocol of
// spec §6.1 (base64-encoded byte fields) and the conversions to and from
// the core's entry.Entry / cas.Metadata types. internal/syncengine's
// RemotePeer and internal/syncapi's handlers share this package so the
// client and server sides of the wire never drift apart.
package syncwire

import (
	"encoding/base64"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/entry"
)

// EntryDTO is the wire form of entry.Entry: byte slices and the fixed-size
// content hash are base64-encoded strings.
type EntryDTO struct {
	ID                 string    `json:"id"`
	EntryType          string    `json:"entry_type"`
	DocID              string    `json:"doc_id"`
	DependencyIDs      []string  `json:"dependency_ids"`
	CreatedAt          time.Time `json:"created_at"`
	CreatedByPublicKey string    `json:"created_by_public_key"`
	DecryptionKeyID    string    `json:"decryption_key_id"`
	Signature          string    `json:"signature"`
	OriginalSize       int64     `json:"original_size"`
	EncryptedSize      int64     `json:"encrypted_size"`
	ContentHash        string    `json:"content_hash"`
	EncryptedData      string    `json:"encrypted_data"`
	Nonce              string    `json:"nonce"`
}

// MetadataDTO is the wire form of cas.Metadata, the no-ciphertext listing
// shape returned by findNewEntries.
type MetadataDTO struct {
	ID            string    `json:"id"`
	EntryType     string    `json:"entry_type"`
	DocID         string    `json:"doc_id"`
	DependencyIDs []string  `json:"dependency_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// EntryToDTO converts a verified, in-memory entry to its wire form.
func EntryToDTO(e *entry.Entry) EntryDTO {
	return EntryDTO{
		ID:                 e.ID,
		EntryType:          string(e.EntryType),
		DocID:              e.DocID,
		DependencyIDs:      e.DependencyIDs,
		CreatedAt:          e.CreatedAt,
		CreatedByPublicKey: base64.StdEncoding.EncodeToString(e.CreatedByPublicKey),
		DecryptionKeyID:    e.DecryptionKeyID,
		Signature:          base64.StdEncoding.EncodeToString(e.Signature),
		OriginalSize:       e.OriginalSize,
		EncryptedSize:      e.EncryptedSize,
		ContentHash:        base64.StdEncoding.EncodeToString(e.ContentHash[:]),
		EncryptedData:      base64.StdEncoding.EncodeToString(e.EncryptedData),
		Nonce:              base64.StdEncoding.EncodeToString(e.Nonce),
	}
}

// DTOToEntry reverses EntryToDTO, rejecting a malformed content hash length
// rather than silently truncating or padding it.
func DTOToEntry(d EntryDTO) (*entry.Entry, error) {
	pub, err := base64.StdEncoding.DecodeString(d.CreatedByPublicKey)
	if err != nil {
		return nil, apperrors.Wrap(err, "decoding created_by_public_key")
	}
	sig, err := base64.StdEncoding.DecodeString(d.Signature)
	if err != nil {
		return nil, apperrors.Wrap(err, "decoding signature")
	}
	hash, err := base64.StdEncoding.DecodeString(d.ContentHash)
	if err != nil {
		return nil, apperrors.Wrap(err, "decoding content_hash")
	}
	if len(hash) != 32 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "content_hash has %d bytes, want 32", len(hash))
	}
	data, err := base64.StdEncoding.DecodeString(d.EncryptedData)
	if err != nil {
		return nil, apperrors.Wrap(err, "decoding encrypted_data")
	}
	nonce, err := base64.StdEncoding.DecodeString(d.Nonce)
	if err != nil {
		return nil, apperrors.Wrap(err, "decoding nonce")
	}

	var contentHash [32]byte
	copy(contentHash[:], hash)

	return &entry.Entry{
		ID:                 d.ID,
		EntryType:          entry.Type(d.EntryType),
		DocID:              d.DocID,
		DependencyIDs:      d.DependencyIDs,
		CreatedAt:          d.CreatedAt,
		CreatedByPublicKey: pub,
		DecryptionKeyID:    d.DecryptionKeyID,
		Signature:          sig,
		OriginalSize:       d.OriginalSize,
		EncryptedSize:      d.EncryptedSize,
		ContentHash:        contentHash,
		EncryptedData:      data,
		Nonce:              nonce,
	}, nil
}

// MetadataToDTO converts a cas.Metadata listing entry to its wire form.
func MetadataToDTO(m cas.Metadata) MetadataDTO {
	return MetadataDTO{
		ID:            m.ID,
		EntryType:     string(m.EntryType),
		DocID:         m.DocID,
		DependencyIDs: m.DependencyIDs,
		CreatedAt:     m.CreatedAt,
	}
}

// Auth handshake (spec §4.H / §6.1).
type (
	ChallengeRequest struct {
		Username string `json:"username"`
	}
	ChallengeResponse struct {
		Challenge string `json:"challenge"`
	}
	AuthenticateRequest struct {
		Challenge    string `json:"challenge"`
		SignatureB64 string `json:"signature_b64"`
	}
	AuthenticateResponse struct {
		Success bool   `json:"success"`
		Token   string `json:"token,omitempty"`
	}
)

// Sync operations (spec §6.1).
type (
	FindNewEntriesRequest struct {
		DBID    string   `json:"dbId"`
		HaveIDs []string `json:"haveIds"`
	}
	FindNewEntriesForDocRequest struct {
		DBID    string   `json:"dbId"`
		HaveIDs []string `json:"haveIds"`
		DocID   string   `json:"docId"`
	}
	FindNewEntriesResponse struct {
		Entries []MetadataDTO `json:"entries"`
	}

	GetEntriesRequest struct {
		DBID string   `json:"dbId"`
		IDs  []string `json:"ids"`
	}
	GetEntriesResponse struct {
		Entries []EntryDTO `json:"entries"`
	}

	PutEntriesRequest struct {
		DBID    string     `json:"dbId"`
		Entries []EntryDTO `json:"entries"`
	}
	PutEntriesResponse struct {
		Success bool `json:"success"`
	}

	HasEntriesRequest struct {
		DBID string   `json:"dbId"`
		IDs  []string `json:"ids"`
	}
	HasEntriesResponse struct {
		IDs []string `json:"ids"`
	}

	GetAllIDsRequest struct {
		DBID string `json:"dbId"`
	}
	GetAllIDsResponse struct {
		IDs []string `json:"ids"`
	}

	ResolveDependenciesRequest struct {
		DBID            string `json:"dbId"`
		StartID         string `json:"startId"`
		StopAtEntryType string `json:"stopAtEntryType,omitempty"`
	}
	ResolveDependenciesResponse struct {
		IDs []string `json:"ids"`
	}
)
