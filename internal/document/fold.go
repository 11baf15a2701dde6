package document

import (
	"encoding/json"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
	"github.com/vaultmesh/vaultmesh/internal/merger"
)

type manifestPayload struct {
	AttachmentID string   `json:"attachment_id"`
	ChunkIDs     []string `json:"chunk_ids"`
	Size         int64    `json:"size"`
	MimeType     string   `json:"mime_type"`
	Filename     string   `json:"filename"`
	Removed      bool     `json:"removed,omitempty"`
}

// fold applies an ordered (topologically sorted) entry chain to an
// accumulator, skipping any entry whose decryption key is unavailable:
// that entry stays in the store but is absent from the assembled state, so
// an intermediate replica can relay ciphertext it cannot itself read.
func (a *Assembler) fold(ordered []*entry.Entry) (*Document, []HistoryStep, error) {
	var doc *Document
	var history []HistoryStep
	dependedOn := make(map[string]bool)
	manifests := make(map[string]AttachmentRef)

	for _, e := range ordered {
		for _, dep := range e.DependencyIDs {
			dependedOn[dep] = true
		}

		plaintext, skip, err := a.decryptOrSkip(e)
		if err != nil {
			return nil, nil, err
		}
		if skip {
			continue
		}

		switch e.EntryType {
		case entry.TypeDocCreate:
			doc = &Document{
				ID:        e.DocID,
				CreatedAt: e.CreatedAt,
				Data:      a.merger.Init(),
			}
			doc.LastModified = e.CreatedAt

		case entry.TypeDocSnapshot:
			if doc == nil {
				return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "doc_snapshot with no prior doc_create")
			}
			state, err := a.merger.Deserialize(plaintext)
			if err != nil {
				return nil, nil, err
			}
			doc.Data = state
			if e.CreatedAt.After(doc.LastModified) {
				doc.LastModified = e.CreatedAt
			}

		case entry.TypeDocChange:
			if doc == nil {
				return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "doc_change with no prior doc_create")
			}
			var change merger.Change
			if err := json.Unmarshal(plaintext, &change); err != nil {
				return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "decode doc_change payload")
			}
			doc.Data = a.merger.Apply(doc.Data, change, e.CreatedAt)
			if e.CreatedAt.After(doc.LastModified) {
				doc.LastModified = e.CreatedAt
			}

		case entry.TypeDocDelete:
			if doc == nil {
				return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "doc_delete with no prior doc_create")
			}
			doc.IsDeleted = true

		case entry.TypeAttachmentManifest:
			var mp manifestPayload
			if err := json.Unmarshal(plaintext, &mp); err != nil {
				return nil, nil, apperrors.Wrap(apperrors.ErrCorruption, "decode attachment manifest")
			}
			if mp.Removed {
				delete(manifests, mp.AttachmentID)
			} else {
				manifests[mp.AttachmentID] = AttachmentRef{
					AttachmentID: mp.AttachmentID,
					ChunkIDs:     mp.ChunkIDs,
					Size:         mp.Size,
					MimeType:     mp.MimeType,
					Filename:     mp.Filename,
				}
			}

		case entry.TypeAttachmentChunk:
			// chunks carry no document-visible state on their own; only the
			// manifest that references them matters to assembly.

		default:
			// directory/administrative entry types are not folded into
			// document state.
		}

		if doc != nil {
			history = append(history, HistoryStep{
				Document:           cloneDocument(doc, manifests),
				ChangeCreatedAt:    e.CreatedAt,
				ChangeCreatedByKey: e.CreatedByPublicKey,
			})
		}
	}

	if doc == nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrNotFound, "no doc_create entry found for document")
	}

	for _, ref := range manifests {
		doc.Attachments = append(doc.Attachments, ref)
	}

	doc.FrontierIDs = frontierOf(ordered, dependedOn)

	return doc, history, nil
}

func (a *Assembler) decryptOrSkip(e *entry.Entry) (plaintext []byte, skip bool, err error) {
	if e.EntryType == entry.TypeAttachmentChunk {
		// chunk plaintext is never needed for assembly itself; decrypting
		// happens lazily on attachment read.
		return nil, false, nil
	}

	key, ok := a.keys.Get(keybag.ScopeDoc, e.DecryptionKeyID)
	if !ok {
		key, ok = a.keys.Get(keybag.ScopeTenant, e.DecryptionKeyID)
	}
	if !ok {
		return nil, true, nil
	}

	pt, err := entry.Decrypt(e, key)
	if err != nil {
		return nil, false, err
	}
	return pt, false, nil
}

func frontierOf(ordered []*entry.Entry, dependedOn map[string]bool) []string {
	var frontier []string
	for _, e := range ordered {
		if !dependedOn[e.ID] {
			frontier = append(frontier, e.ID)
		}
	}
	return frontier
}

func cloneDocument(doc *Document, manifests map[string]AttachmentRef) Document {
	out := *doc
	out.Data = make(merger.State, len(doc.Data))
	for k, v := range doc.Data {
		out.Data[k] = v
	}
	for _, ref := range manifests {
		out.Attachments = append(out.Attachments, ref)
	}
	return out
}
