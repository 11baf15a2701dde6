package docdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/document"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
)

type manifestPayload struct {
	AttachmentID string   `json:"attachment_id"`
	ChunkIDs     []string `json:"chunk_ids"`
	Size         int64    `json:"size"`
	MimeType     string   `json:"mime_type"`
	Filename     string   `json:"filename"`
	Removed      bool     `json:"removed,omitempty"`
}

// AddAttachment chunks data at the 256 KiB boundary, emits one
// attachment_chunk entry per chunk (content-addressed, so identical chunks
// across attachments or documents dedup in the CAS), then an
// attachment_manifest entry referencing them, and returns the new
// attachment's id.
func (db *DB) AddAttachment(ctx context.Context, h *Handle, data []byte, filename, mime string) (string, error) {
	st, err := db.stateFor(ctx, h)
	if err != nil {
		return "", err
	}
	if !st.created {
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "document %s has no entries yet; call changeDoc first", h.ID)
	}

	key, ok := db.keys.Get(keybag.ScopeDoc, st.keyID)
	if !ok {
		return "", apperrors.Wrapf(apperrors.ErrMissingKey, "key %s", st.keyID)
	}

	chunkIDs, err := db.writeChunks(ctx, h.ID, st, key, data)
	if err != nil {
		return "", err
	}

	attachmentID := newRandomID()
	manifest := manifestPayload{
		AttachmentID: attachmentID,
		ChunkIDs:     chunkIDs,
		Size:         int64(len(data)),
		MimeType:     mime,
		Filename:     filename,
	}
	if err := db.putManifest(ctx, h, st, key, manifest); err != nil {
		return "", err
	}
	return attachmentID, nil
}

// AppendToAttachment chunks and appends data to an existing attachment,
// emitting new chunk entries and a superseding manifest.
func (db *DB) AppendToAttachment(ctx context.Context, h *Handle, attachmentID string, data []byte) error {
	st, err := db.stateFor(ctx, h)
	if err != nil {
		return err
	}

	doc, err := db.asm.Assemble(ctx, h.ID)
	if err != nil {
		return err
	}
	ref, ok := findAttachment(doc, attachmentID)
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "attachment %s", attachmentID)
	}

	key, ok := db.keys.Get(keybag.ScopeDoc, st.keyID)
	if !ok {
		return apperrors.Wrapf(apperrors.ErrMissingKey, "key %s", st.keyID)
	}

	newChunkIDs, err := db.writeChunks(ctx, h.ID, st, key, data)
	if err != nil {
		return err
	}

	manifest := manifestPayload{
		AttachmentID: attachmentID,
		ChunkIDs:     append(append([]string{}, ref.ChunkIDs...), newChunkIDs...),
		Size:         ref.Size + int64(len(data)),
		MimeType:     ref.MimeType,
		Filename:     ref.Filename,
	}
	return db.putManifest(ctx, h, st, key, manifest)
}

// RemoveAttachment emits a superseding manifest marking attachmentID
// removed; its chunks remain in the CAS (they may be shared with other
// attachments via content-addressed dedup) but it no longer appears on the
// assembled document.
func (db *DB) RemoveAttachment(ctx context.Context, h *Handle, attachmentID string) error {
	st, err := db.stateFor(ctx, h)
	if err != nil {
		return err
	}
	key, ok := db.keys.Get(keybag.ScopeDoc, st.keyID)
	if !ok {
		return apperrors.Wrapf(apperrors.ErrMissingKey, "key %s", st.keyID)
	}
	manifest := manifestPayload{AttachmentID: attachmentID, Removed: true}
	return db.putManifest(ctx, h, st, key, manifest)
}

// GetAttachmentRange locates the chunks spanning [start, end), decrypts
// them, and returns the requested slice.
func (db *DB) GetAttachmentRange(ctx context.Context, h *Handle, attachmentID string, start, end int64) ([]byte, error) {
	if start >= end {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "start must be less than end")
	}

	doc, err := db.asm.Assemble(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	ref, ok := findAttachment(doc, attachmentID)
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "attachment %s", attachmentID)
	}
	if end > ref.Size {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "range end %d exceeds attachment size %d", end, ref.Size)
	}

	chunks, err := db.store.GetEntries(ctx, ref.ChunkIDs)
	if err != nil {
		return nil, err
	}
	if len(chunks) != len(ref.ChunkIDs) {
		return nil, apperrors.Wrap(apperrors.ErrDependencyMissing, "attachment chunk missing from store")
	}

	var out []byte
	var offset int64
	for _, c := range chunks {
		key, ok := db.keys.Get(keybag.ScopeDoc, c.DecryptionKeyID)
		if !ok {
			key, ok = db.keys.Get(keybag.ScopeTenant, c.DecryptionKeyID)
		}
		if !ok {
			return nil, apperrors.Wrapf(apperrors.ErrMissingKey, "key %s", c.DecryptionKeyID)
		}
		plaintext, err := entry.Decrypt(c, key)
		if err != nil {
			return nil, err
		}

		chunkStart := offset
		chunkEnd := offset + int64(len(plaintext))
		offset = chunkEnd

		if chunkEnd <= start || chunkStart >= end {
			continue
		}
		loClip := max64(0, start-chunkStart)
		hiClip := min64(int64(len(plaintext)), end-chunkStart)
		out = append(out, plaintext[loClip:hiClip]...)
	}
	return out, nil
}

func (db *DB) writeChunks(ctx context.Context, docID string, st *docState, key []byte, data []byte) ([]string, error) {
	var chunkIDs []string
	var entries []*entry.Entry
	for offset := 0; offset < len(data) || len(data) == 0; offset += attachmentChunkSize {
		end := offset + attachmentChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		e, err := entry.Sign(entry.TypeAttachmentChunk, chunk, docID, st.frontier, st.keyID, db.signer, key, time.Now())
		if err != nil {
			return nil, err
		}
		chunkIDs = append(chunkIDs, e.ID)
		entries = append(entries, e)

		if len(data) == 0 {
			break
		}
	}
	if err := db.store.PutEntries(ctx, entries); err != nil {
		return nil, err
	}
	return chunkIDs, nil
}

func (db *DB) putManifest(ctx context.Context, h *Handle, st *docState, key []byte, manifest manifestPayload) error {
	payload, err := json.Marshal(manifest)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "encode attachment manifest")
	}

	db.mu.Lock()
	deps := st.frontier
	db.mu.Unlock()

	e, err := entry.Sign(entry.TypeAttachmentManifest, payload, h.ID, deps, st.keyID, db.signer, key, time.Now())
	if err != nil {
		return err
	}
	if err := db.store.PutEntries(ctx, []*entry.Entry{e}); err != nil {
		return err
	}

	db.mu.Lock()
	st.frontier = []string{e.ID}
	db.mu.Unlock()
	return nil
}

func findAttachment(doc *document.Document, attachmentID string) (document.AttachmentRef, bool) {
	for _, ref := range doc.Attachments {
		if ref.AttachmentID == attachmentID {
			return ref, true
		}
	}
	return document.AttachmentRef{}, false
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
