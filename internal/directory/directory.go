// Package directory implements the trust set consumed by entry
// verification: a mapping from signer public key to granted/revoked state,
// itself maintained as an ordinary document in a docdb.DB (the directory is
// "a database built on this engine", not a separate subsystem). The admin
// key is granted trust when the directory is first created and is the only
// signer expected to call Grant/Revoke in a well-formed deployment; callers
// enforce that at the transport layer.
package directory

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/docdb"
	"github.com/vaultmesh/vaultmesh/internal/entry"
)

// Directory is a tenant's trusted-signer set. The admin key is trusted
// unconditionally (it is the statically provided root of trust that breaks
// the bootstrap cycle: the directory document's own doc_create/doc_change
// entries must be signed by someone before any grant exists to trust them
// against); every other key's trust is read from the directory document.
type Directory struct {
	db       *docdb.DB
	handle   *docdb.Handle
	adminKey ed25519.PublicKey
}

// Create reserves a new directory document and grants adminKey as its
// first trusted signer.
func Create(ctx context.Context, db *docdb.DB, adminKey ed25519.PublicKey) (*Directory, error) {
	h, err := db.CreateDocument()
	if err != nil {
		return nil, err
	}
	d := &Directory{db: db, handle: h, adminKey: adminKey}
	if err := d.Grant(ctx, adminKey); err != nil {
		return nil, err
	}
	return d, nil
}

// Open attaches to an existing directory document by id.
func Open(db *docdb.DB, docID string, adminKey ed25519.PublicKey) *Directory {
	return &Directory{db: db, handle: &docdb.Handle{ID: docID}, adminKey: adminKey}
}

// DocID returns the directory's document id, to be persisted alongside the
// tenant's configuration so Open can find it again.
func (d *Directory) DocID() string {
	return d.handle.ID
}

// Grant marks pub as a trusted signer from this point forward.
func (d *Directory) Grant(ctx context.Context, pub ed25519.PublicKey) error {
	return d.db.ChangeDoc(ctx, d.handle, func(b *docdb.DocBuilder) error {
		return b.Set(keyOf(pub), true)
	})
}

// Revoke marks pub untrusted from this point forward. Entries it signed
// before the revoking change's createdAt remain trusted, since verification
// is always performed against the directory's state at the entry's own
// createdAt.
func (d *Directory) Revoke(ctx context.Context, pub ed25519.PublicKey) error {
	return d.db.ChangeDoc(ctx, d.handle, func(b *docdb.DocBuilder) error {
		return b.Set(keyOf(pub), false)
	})
}

// IsTrusted reports whether pub was granted (and not subsequently revoked)
// as of at. A zero at means "currently". The admin key is always trusted.
func (d *Directory) IsTrusted(ctx context.Context, pub ed25519.PublicKey, at time.Time) (bool, error) {
	if len(d.adminKey) > 0 && ed25519.PublicKey(d.adminKey).Equal(pub) {
		return true, nil
	}

	var trusted bool
	if at.IsZero() {
		current, err := d.db.GetDocument(ctx, d.handle.ID)
		if err != nil {
			return false, err
		}
		v, ok := d.db.Merger().Value(current.Data, keyOf(pub))
		trusted = ok && v == true
		return trusted, nil
	}

	historical, err := d.db.GetDocumentAtTimestamp(ctx, d.handle.ID, at)
	if err != nil {
		return false, err
	}
	v, ok := d.db.Merger().Value(historical.Data, keyOf(pub))
	trusted = ok && v == true
	return trusted, nil
}

// TrustFunc returns an entry.TrustFunc bound to this directory, suitable
// for entry.Verify and docdb.DB.SetTrustFunc. The signature is
// context-free per entry.TrustFunc's contract, so it carries its own
// background context; directory lookups are local, in-memory CAS reads and
// do not block on I/O.
func (d *Directory) TrustFunc() entry.TrustFunc {
	return func(docID string, pub ed25519.PublicKey, at time.Time) bool {
		trusted, err := d.IsTrusted(context.Background(), pub, at)
		if err != nil {
			return false
		}
		return trusted
	}
}

func keyOf(pub ed25519.PublicKey) string {
	return "key:" + hex.EncodeToString(pub)
}
