package document

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
	"github.com/vaultmesh/vaultmesh/internal/merger"
	"github.com/vaultmesh/vaultmesh/internal/vaultcrypto"
)

type fixture struct {
	store  cas.Store
	keys   *keybag.Bag
	priv   ed25519.PrivateKey
	docKey []byte
	asm    *Assembler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	keys := keybag.New()
	docKey, err := keys.CreateDocKey("doc-key-1")
	require.NoError(t, err)

	store := cas.NewMemoryStore()
	return &fixture{
		store:  store,
		keys:   keys,
		priv:   priv,
		docKey: docKey,
		asm:    New(store, keys, merger.NewLWW()),
	}
}

func (f *fixture) sign(t *testing.T, entryType entry.Type, plaintext []byte, docID string, deps []string, createdAt time.Time) *entry.Entry {
	t.Helper()
	e, err := entry.Sign(entryType, plaintext, docID, deps, "doc-key-1", f.priv, f.docKey, createdAt)
	require.NoError(t, err)
	return e
}

func (f *fixture) put(t *testing.T, entries ...*entry.Entry) {
	t.Helper()
	require.NoError(t, f.store.PutEntries(context.Background(), entries))
}

func TestAssembleSimpleDocument(t *testing.T) {
	f := newFixture(t)
	base := time.Now()

	create := f.sign(t, entry.TypeDocCreate, []byte(""), "doc-1", nil, base)
	change, err := json.Marshal(merger.Change{"title": "hello"})
	require.NoError(t, err)
	changeEntry := f.sign(t, entry.TypeDocChange, change, "doc-1", []string{create.ID}, base.Add(time.Second))
	f.put(t, create, changeEntry)

	doc, err := f.asm.Assemble(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.False(t, doc.IsDeleted)
	assert.Equal(t, []string{changeEntry.ID}, doc.FrontierIDs)
}

func TestAssembleMarksDeleted(t *testing.T) {
	f := newFixture(t)
	base := time.Now()

	create := f.sign(t, entry.TypeDocCreate, []byte(""), "doc-1", nil, base)
	del := f.sign(t, entry.TypeDocDelete, []byte(""), "doc-1", []string{create.ID}, base.Add(time.Second))
	f.put(t, create, del)

	doc, err := f.asm.Assemble(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, doc.IsDeleted)
}

func TestAssembleSkipsEntryWithMissingKey(t *testing.T) {
	f := newFixture(t)
	base := time.Now()

	create := f.sign(t, entry.TypeDocCreate, []byte(""), "doc-1", nil, base)

	otherKeys := keybag.New()
	otherKey, err := otherKeys.CreateDocKey("other-key")
	require.NoError(t, err)
	change, err := json.Marshal(merger.Change{"title": "secret"})
	require.NoError(t, err)
	unreadable, err := entry.Sign(entry.TypeDocChange, change, "doc-1", []string{create.ID}, "other-key", f.priv, otherKey, base.Add(time.Second))
	require.NoError(t, err)

	f.put(t, create, unreadable)

	doc, err := f.asm.Assemble(context.Background(), "doc-1")
	require.NoError(t, err)
	_, ok := doc.Data["title"]
	assert.False(t, ok, "entry encrypted under an unavailable key must be skipped, not fatal")
}

func TestAssembleAtTimestampExcludesLaterEntries(t *testing.T) {
	f := newFixture(t)
	base := time.Now()

	create := f.sign(t, entry.TypeDocCreate, []byte(""), "doc-1", nil, base)
	change1, _ := json.Marshal(merger.Change{"v": 1})
	e1 := f.sign(t, entry.TypeDocChange, change1, "doc-1", []string{create.ID}, base.Add(time.Minute))
	change2, _ := json.Marshal(merger.Change{"v": 2})
	e2 := f.sign(t, entry.TypeDocChange, change2, "doc-1", []string{e1.ID}, base.Add(2*time.Minute))
	f.put(t, create, e1, e2)

	doc, err := f.asm.AssembleAtTimestamp(context.Background(), "doc-1", base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{e1.ID}, doc.FrontierIDs)
}

func TestAssembleNotFoundForUnknownDoc(t *testing.T) {
	f := newFixture(t)
	_, err := f.asm.Assemble(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestIterateDocumentHistory(t *testing.T) {
	f := newFixture(t)
	base := time.Now()

	create := f.sign(t, entry.TypeDocCreate, []byte(""), "doc-1", nil, base)
	change, _ := json.Marshal(merger.Change{"title": "hello"})
	changeEntry := f.sign(t, entry.TypeDocChange, change, "doc-1", []string{create.ID}, base.Add(time.Second))
	f.put(t, create, changeEntry)

	history, err := f.asm.IterateDocumentHistory(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, create.CreatedAt.UnixNano(), history[0].ChangeCreatedAt.UnixNano())
	assert.Equal(t, changeEntry.CreatedAt.UnixNano(), history[1].ChangeCreatedAt.UnixNano())
}

func TestIterateChangesSince(t *testing.T) {
	f := newFixture(t)
	base := time.Now()

	create1 := f.sign(t, entry.TypeDocCreate, []byte(""), "doc-1", nil, base)
	create2 := f.sign(t, entry.TypeDocCreate, []byte(""), "doc-2", nil, base.Add(time.Second))
	f.put(t, create1, create2)

	pages, _, hasMore, err := f.asm.IterateChangesSince(context.Background(), "", 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Len(t, pages, 2)
}
