package cas

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/vaultmesh/internal/entry"
)

func TestBoltStorePutAndGetEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	e := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))

	got, err := store.GetEntries(ctx, []string{e.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.EncryptedData, got[0].EncryptedData)
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)

	e := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetEntries(ctx, []string{e.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, e.DocID, got[0].DocID)
	assert.WithinDuration(t, e.CreatedAt, got[0].CreatedAt, time.Millisecond)
}

func TestBoltStorePurgeDocHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	e := newTestEntry(t, entry.TypeDocCreate, "doc-1", nil, time.Now())
	require.NoError(t, store.PutEntries(ctx, []*entry.Entry{e}))
	require.NoError(t, store.PurgeDocHistory(ctx, "doc-1"))

	got, err := store.GetEntries(ctx, []string{e.ID})
	require.NoError(t, err)
	assert.Empty(t, got)

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	ids, err := reopened.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
