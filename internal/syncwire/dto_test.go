package syncwire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/vaultmesh/internal/entry"
)

func TestEntryRoundTripsThroughDTO(t *testing.T) {
	original := &entry.Entry{
		ID:                 "abc123",
		EntryType:          entry.TypeDocChange,
		DocID:              "doc-1",
		DependencyIDs:      []string{"dep-1", "dep-2"},
		CreatedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedByPublicKey: []byte{1, 2, 3, 4},
		DecryptionKeyID:    "doc-1",
		Signature:          []byte{5, 6, 7, 8, 9},
		OriginalSize:       100,
		EncryptedSize:      116,
		ContentHash:        [32]byte{9, 9, 9},
		EncryptedData:      []byte{10, 11, 12},
		Nonce:              []byte{13, 14, 15},
	}

	dto := EntryToDTO(original)
	roundTripped, err := DTOToEntry(dto)
	require.NoError(t, err)
	assert.Equal(t, original, roundTripped)
}

func TestDTOToEntryRejectsShortContentHash(t *testing.T) {
	dto := EntryDTO{ContentHash: "YWJj"} // "abc", 3 bytes
	_, err := DTOToEntry(dto)
	assert.Error(t, err)
}

func TestDTOToEntryRejectsInvalidBase64(t *testing.T) {
	dto := EntryDTO{CreatedByPublicKey: "not-valid-base64!!"}
	_, err := DTOToEntry(dto)
	assert.Error(t, err)
}
