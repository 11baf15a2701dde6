// Package docdb implements the encrypted DB facade: the operations an
// application actually calls (createDocument, changeDoc, attachments,
// deleteDocument, iteration, time-travel) layered over the entry codec, the
// content-addressed store, the document assembler, and the KeyBag.
package docdb

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/document"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
	"github.com/vaultmesh/vaultmesh/internal/merger"
)

// attachmentChunkSize is the design target chunk boundary for attachments.
const attachmentChunkSize = 256 * 1024

// docState tracks the facade's view of a document handle between calls:
// whether doc_create has actually been emitted yet, the encryption key
// bound to future entries, and the current DAG frontier.
type docState struct {
	keyID     string
	created   bool
	frontier  []string
	inChange  bool
}

// DB is the encrypted document database: one logical database within a
// tenant, backed by a single CAS and KeyBag.
type DB struct {
	store  cas.Store
	keys   *keybag.Bag
	asm    *document.Assembler
	signer ed25519.PrivateKey
	trust  entry.TrustFunc

	mu    sync.Mutex
	state map[string]*docState
}

// New constructs a DB. signer is the local identity used to sign every
// entry this DB emits; trust validates signers (including remote ones) of
// entries accepted through PutVerifiedEntries. Document assembly does not
// consult it.
func New(store cas.Store, keys *keybag.Bag, m merger.Merger, signer ed25519.PrivateKey, trust entry.TrustFunc) *DB {
	return &DB{
		store:  store,
		keys:   keys,
		asm:    document.New(store, keys, m),
		signer: signer,
		trust:  trust,
		state:  make(map[string]*docState),
	}
}

// Handle is an opaque reference to a document, valid for the lifetime of
// the DB that created or looked it up.
type Handle struct {
	ID string
}

// CreateDocument reserves a new random docId and a fresh doc-scoped key for
// it, returning a handle. No entry is written until the first changeDoc
// call: doc_create is emitted lazily at that point.
func (db *DB) CreateDocument() (*Handle, error) {
	docID := newRandomID()
	keyID := docID
	if _, err := db.keys.CreateDocKey(keyID); err != nil {
		return nil, err
	}
	db.mu.Lock()
	db.state[docID] = &docState{keyID: keyID}
	db.mu.Unlock()
	return &Handle{ID: docID}, nil
}

// CreateEncryptedDocument reserves a new docId that will encrypt all future
// entries under the named key. The key is created if it does not already
// exist in the KeyBag, so that multiple documents can share one key.
func (db *DB) CreateEncryptedDocument(keyID string) (*Handle, error) {
	if _, ok := db.keys.Get(keybag.ScopeDoc, keyID); !ok {
		if _, err := db.keys.CreateDocKey(keyID); err != nil {
			return nil, err
		}
	}
	docID := newRandomID()
	db.mu.Lock()
	db.state[docID] = &docState{keyID: keyID}
	db.mu.Unlock()
	return &Handle{ID: docID}, nil
}

// GetDocument assembles and returns the current state of id.
func (db *DB) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return db.asm.Assemble(ctx, id)
}

// GetDocumentAtTimestamp assembles the state of id as of t.
func (db *DB) GetDocumentAtTimestamp(ctx context.Context, id string, t time.Time) (*document.Document, error) {
	return db.asm.AssembleAtTimestamp(ctx, id, t)
}

// GetAllDocumentIds returns every docId with at least one entry in the
// store, excluding those whose current state is deleted.
func (db *DB) GetAllDocumentIds(ctx context.Context) ([]string, error) {
	return db.allDocumentIds(ctx, time.Time{})
}

// GetAllDocumentIdsAtTimestamp returns docIds visible at t, excluding those
// whose last applied entry by t is doc_delete.
func (db *DB) GetAllDocumentIdsAtTimestamp(ctx context.Context, t time.Time) ([]string, error) {
	return db.allDocumentIds(ctx, t)
}

func (db *DB) allDocumentIds(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := db.store.GetAllIDs(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := db.store.GetEntries(ctx, ids)
	if err != nil {
		return nil, err
	}

	docIDs := make(map[string]bool)
	for _, e := range entries {
		docIDs[e.DocID] = true
	}

	var out []string
	for docID := range docIDs {
		var doc *document.Document
		var err error
		if cutoff.IsZero() {
			doc, err = db.asm.Assemble(ctx, docID)
		} else {
			doc, err = db.asm.AssembleAtTimestamp(ctx, docID, cutoff)
		}
		if err != nil {
			// unreadable (no doc_create visible, or key unavailable for
			// every entry) means this replica cannot see the document yet.
			continue
		}
		if doc.IsDeleted {
			continue
		}
		out = append(out, docID)
	}
	return out, nil
}

// DeleteDocument emits a doc_delete entry depending on the document's
// current frontier.
func (db *DB) DeleteDocument(ctx context.Context, h *Handle) error {
	st, err := db.stateFor(ctx, h)
	if err != nil {
		return err
	}
	if !st.created {
		return apperrors.Wrapf(apperrors.ErrNotFound, "document %s has no entries to delete", h.ID)
	}

	key, ok := db.keys.Get(keybag.ScopeDoc, st.keyID)
	if !ok {
		return apperrors.Wrapf(apperrors.ErrMissingKey, "key %s", st.keyID)
	}

	e, err := entry.Sign(entry.TypeDocDelete, nil, h.ID, st.frontier, st.keyID, db.signer, key, time.Now())
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

// stateFor returns the docState for h, reconstructing it from the store
// (for a handle obtained from a prior session, e.g. after process restart)
// if it is not already tracked in memory.
func (db *DB) stateFor(ctx context.Context, h *Handle) (*docState, error) {
	db.mu.Lock()
	st, ok := db.state[h.ID]
	db.mu.Unlock()
	if ok {
		return st, nil
	}

	doc, err := db.asm.Assemble(ctx, h.ID)
	if err != nil {
		return nil, err
	}

	frontierEntries, err := db.store.GetEntries(ctx, doc.FrontierIDs)
	if err != nil {
		return nil, err
	}
	keyID := h.ID
	if len(frontierEntries) > 0 {
		keyID = frontierEntries[0].DecryptionKeyID
	}

	st = &docState{keyID: keyID, created: true, frontier: doc.FrontierIDs}
	db.mu.Lock()
	db.state[h.ID] = st
	db.mu.Unlock()
	return st, nil
}

// SetTrustFunc rebinds the trust function consulted by PutVerifiedEntries.
// The tenant and its directory are mutually referential at construction
// time (the directory is itself a document in this DB, but this DB needs a
// trust function to validate incoming entries): construct the DB with a
// permissive or nil trust function, open the directory against it, then
// call SetTrustFunc with the directory's own TrustFunc to close the loop.
func (db *DB) SetTrustFunc(trust entry.TrustFunc) {
	db.mu.Lock()
	db.trust = trust
	db.mu.Unlock()
}

// PutVerifiedEntries verifies each entry's signature and signer trust before
// inserting it into the store. The sync engine uses this for entries
// received from a remote replica; locally produced entries (already signed
// by this DB's own identity) go straight to the store.
func (db *DB) PutVerifiedEntries(ctx context.Context, entries []*entry.Entry) error {
	db.mu.Lock()
	trust := db.trust
	db.mu.Unlock()

	for _, e := range entries {
		if err := entry.Verify(e, trust); err != nil {
			return apperrors.Wrapf(err, "entry %s", e.ID)
		}
	}
	return db.store.PutEntries(ctx, entries)
}

func newRandomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure indicates a broken OS entropy source
	}
	return hex.EncodeToString(b)
}
