package docdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
	"github.com/vaultmesh/vaultmesh/internal/merger"
)

// DocBuilder is the mutable proxy passed to a changeDoc callback. It is
// valid only for the duration of that callback: any reference captured and
// used after the callback returns fails with InvalidArgument.
type DocBuilder struct {
	data  merger.State
	valid bool
}

func newBuilder(initial merger.State) *DocBuilder {
	data := make(merger.State, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &DocBuilder{data: data, valid: true}
}

func (b *DocBuilder) checkValid() error {
	if !b.valid {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "document builder used outside its changeDoc callback")
	}
	return nil
}

// Set assigns field to value.
func (b *DocBuilder) Set(field string, value any) error {
	if err := b.checkValid(); err != nil {
		return err
	}
	b.data[field] = value
	return nil
}

// Get reads the builder's current value for field.
func (b *DocBuilder) Get(field string) (any, bool, error) {
	if err := b.checkValid(); err != nil {
		return nil, false, err
	}
	v, ok := b.data[field]
	return v, ok, nil
}

// Delete removes field.
func (b *DocBuilder) Delete(field string) error {
	if err := b.checkValid(); err != nil {
		return err
	}
	delete(b.data, field)
	return nil
}

// ChangeDoc assembles the document's current state, passes a DocBuilder
// seeded with it to callback, and on return diffs the builder's final state
// against the original, emitting a doc_change entry; on a document's first
// change an empty doc_create entry is written before it. changeDoc calls
// on the same handle do not nest: a reentrant call fails.
func (db *DB) ChangeDoc(ctx context.Context, h *Handle, callback func(*DocBuilder) error) error {
	st, err := db.prepareForChange(ctx, h)
	if err != nil {
		return err
	}
	defer db.endChange(st)

	before, err := db.currentState(ctx, h, st)
	if err != nil {
		return err
	}

	builder := newBuilder(before)
	cbErr := callback(builder)
	builder.valid = false
	if cbErr != nil {
		return cbErr
	}

	change, changed := db.merger().Diff(before, builder.data)
	if !changed {
		return nil
	}

	key, ok := db.keys.Get(keybag.ScopeDoc, st.keyID)
	if !ok {
		return apperrors.Wrapf(apperrors.ErrMissingKey, "key %s", st.keyID)
	}

	now := time.Now()
	if !st.created {
		createEntry, err := entry.Sign(entry.TypeDocCreate, []byte{}, h.ID, nil, st.keyID, db.signer, key, now)
		if err != nil {
			return err
		}
		if err := db.store.PutEntries(ctx, []*entry.Entry{createEntry}); err != nil {
			return err
		}
		st.created = true
		st.frontier = []string{createEntry.ID}
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "encode doc_change payload")
	}

	changeEntry, err := entry.Sign(entry.TypeDocChange, payload, h.ID, st.frontier, st.keyID, db.signer, key, now)
	if err != nil {
		return err
	}
	if err := db.store.PutEntries(ctx, []*entry.Entry{changeEntry}); err != nil {
		return err
	}

	st.frontier = []string{changeEntry.ID}
	return nil
}

func (db *DB) prepareForChange(ctx context.Context, h *Handle) (*docState, error) {
	st, err := db.stateFor(ctx, h)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if st.inChange {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "changeDoc invoked reentrantly on the same document handle")
	}
	st.inChange = true
	return st, nil
}

func (db *DB) endChange(st *docState) {
	db.mu.Lock()
	st.inChange = false
	db.mu.Unlock()
}

func (db *DB) currentState(ctx context.Context, h *Handle, st *docState) (merger.State, error) {
	if !st.created {
		return db.merger().Init(), nil
	}
	doc, err := db.asm.Assemble(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

func (db *DB) merger() merger.Merger {
	return db.asm.Merger()
}

// Merger exposes the CRDT merger backing this DB, so callers built on top
// of it (the directory, the sync API layer) can read field values out of a
// Document.Data without knowing the merger's internal bookkeeping.
func (db *DB) Merger() merger.Merger {
	return db.asm.Merger()
}

// Store returns the CAS this DB is backed by, for callers that need raw
// store operations the facade doesn't expose directly (the sync engine's
// id diffing and entry transfer).
func (db *DB) Store() cas.Store {
	return db.store
}

// Keys returns the KeyBag this DB decrypts and encrypts with, for callers
// that provision keys out of band (tests, and any out-of-band key exchange
// a deployment layers on top of sync).
func (db *DB) Keys() *keybag.Bag {
	return db.keys
}
