package cas

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/vaultmesh/internal/entry"
	"github.com/vaultmesh/vaultmesh/internal/vaultcrypto"
)

func newTestEntry(t *testing.T, entryType entry.Type, docID string, deps []string, createdAt time.Time) *entry.Entry {
	t.Helper()
	_, priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)
	key, err := vaultcrypto.GenerateSymmetricKey()
	require.NoError(t, err)

	e, err := entry.Sign(entryType, []byte("payload-"+docID), docID, deps, "key-1", priv, key, createdAt)
	require.NoError(t, err)
	return e
}

func TestPutAndGetEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	e := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))

	got, err := store.GetEntries(ctx, []string{e.ID, "missing-id"})
	require.NoError(t, err)
	require.Len(t, got, 1, "unknown ids are silently dropped")
	assert.Equal(t, e.ID, got[0].ID)
}

func TestPutEntriesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	e := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))

	ids, err := store.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestPutEntriesRejectsMissingDependency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	e := newTestEntry(t, entry.TypeDocChange, "doc-1", []string{"nonexistent"}, time.Now())
	err := store.PutEntries(ctx, []*entry.Entry{e})
	assert.Error(t, err)
}

func TestPutEntriesAcceptsIntraBatchDependency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	create := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	change := newTestEntry(t, entry.TypeDocChange, "doc-1", []string{create.ID}, time.Now())

	err := store.PutEntries(ctx, []*entry.Entry{create, change})
	assert.NoError(t, err)
}

func TestHasEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))

	has, err := store.HasEntries(ctx, []string{e.ID, "missing"})
	require.NoError(t, err)
	assert.True(t, has[e.ID])
	assert.False(t, has["missing"])
}

func TestFindNewEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e1 := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	e2 := newTestEntry(t, entry.TypeDocCreate, "doc-2", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e1, e2}))

	newOnes, err := store.FindNewEntries(ctx, map[string]bool{e1.ID: true})
	require.NoError(t, err)
	require.Len(t, newOnes, 1)
	assert.Equal(t, e2.ID, newOnes[0].ID)
}

func TestScanEntriesSinceOrderingAndCursor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now()
	e1 := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, base)
	e2 := newTestEntry(t, entry.TypeDocCreate, "doc-2", nil, base.Add(time.Second))
	e3 := newTestEntry(t, entry.TypeDocCreate, "doc-3", nil, base.Add(2*time.Second))
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e3, e1, e2}))

	page1, cursor1, hasMore1, err := store.ScanEntriesSince(ctx, "", 2, nil)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, e1.ID, page1[0].ID)
	assert.Equal(t, e2.ID, page1[1].ID)
	assert.True(t, hasMore1)

	page2, _, hasMore2, err := store.ScanEntriesSince(ctx, cursor1, 2, nil)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, e3.ID, page2[0].ID)
	assert.False(t, hasMore2)
}

func TestResolveDependenciesTopologicalOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	create := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	change1 := newTestEntry(t, entry.TypeDocChange, "doc-1", []string{create.ID}, time.Now())
	change2 := newTestEntry(t, entry.TypeDocChange, "doc-1", []string{change1.ID}, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{create, change1, change2}))

	ids, err := store.ResolveDependencies(ctx, change2.ID, ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{create.ID, change1.ID, change2.ID}, ids)
}

func TestResolveDependenciesStopsAtEntryType(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	create := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	snapshot := newTestEntry(t, entry.TypeDocSnapshot, "doc-1", []string{create.ID}, time.Now())
	change := newTestEntry(t, entry.TypeDocChange, "doc-1", []string{snapshot.ID}, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{create, snapshot, change}))

	ids, err := store.ResolveDependencies(ctx, change.ID, ResolveOptions{StopAtEntryType: entry.TypeDocSnapshot})
	require.NoError(t, err)
	assert.Equal(t, []string{snapshot.ID, change.ID}, ids)
}

func TestPurgeDocHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	create := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{create}))

	require.NoError(t, store.PurgeDocHistory(ctx, "doc-1"))

	got, err := store.GetEntries(ctx, []string{create.ID})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetIDBloomSummaryContainsKnownIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))

	summary, err := store.GetIDBloomSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalIDs)
	assert.NotEmpty(t, summary.BitsetBase64)
}

func TestGetAttachmentChunk(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	manifestParent := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	chunk := newTestEntry(t, entry.TypeAttachmentChunk, "doc-1", []string{manifestParent.ID}, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{manifestParent, chunk}))

	data, err := store.GetAttachmentChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, chunk.EncryptedData, data)
}

func TestGetAttachmentChunkNotFoundForWrongType(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))

	_, err := store.GetAttachmentChunk(ctx, e.ID)
	assert.Error(t, err)
}

func TestContentHashDedupRefcounting(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)
	key, err := vaultcrypto.GenerateSymmetricKey()
	require.NoError(t, err)

	chunk := []byte("shared bytes")
	e1, err := entry.Sign(entry.TypeAttachmentChunk, chunk, "doc-1", []string{"m1"}, "key-1", priv, key, time.Now())
	require.NoError(t, err)
	e2, err := entry.Sign(entry.TypeAttachmentChunk, chunk, "doc-2", []string{"m2"}, "key-1", priv, key, time.Now())
	require.NoError(t, err)

	create1 := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	create1.ID = "m1"
	create2 := newTestEntry(t, entry.TypeDocCreate, "doc-2", nil, time.Now())
	create2.ID = "m2"

	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{create1, create2, e1, e2}))

	ref := store.byContentHash[e1.ContentHash]
	require.NotNil(t, ref)
	assert.Equal(t, 2, ref.refcount)
}
