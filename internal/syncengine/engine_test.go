package syncengine

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/docdb"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
	"github.com/vaultmesh/vaultmesh/internal/merger"
	"github.com/vaultmesh/vaultmesh/internal/vaultcrypto"
)

func trustAll(docID string, pub ed25519.PublicKey, at time.Time) bool { return true }

func newTestDB(t *testing.T) *docdb.DB {
	t.Helper()
	_, priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)
	return docdb.New(cas.NewMemoryStore(), keybag.New(), merger.NewLWW(), priv, trustAll)
}

// shareKeys copies every KeyBag entry from src into dst, the way two
// replicas sharing an out-of-band key exchange would before syncing.
func shareKeys(t *testing.T, src, dst *docdb.DB) {
	t.Helper()
	for _, name := range src.Keys().ListKeys() {
		scope, keyID, ok := splitKeyName(name)
		require.True(t, ok)
		key, ok := src.Keys().Get(scope, keyID)
		require.True(t, ok)
		require.NoError(t, dst.Keys().Set(scope, keyID, key, nil))
	}
}

func splitKeyName(name string) (keybag.Scope, string, bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return keybag.Scope(name[:i]), name[i+1:], true
		}
	}
	return "", "", false
}

func TestPullFromTransfersAllEntries(t *testing.T) {
	ctx := context.Background()
	server := newTestDB(t)
	h, err := server.CreateDocument()
	require.NoError(t, err)
	require.NoError(t, server.ChangeDoc(ctx, h, func(b *docdb.DocBuilder) error {
		return b.Set("name", "Alice")
	}))

	client := newTestDB(t)
	shareKeys(t, server, client)

	engine := New(client)
	var events []Progress
	result, err := engine.PullFrom(ctx, NewLocalPeer(server.Store()), "", func(p Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	assert.False(t, result.Cancelled)
	assert.Greater(t, result.TransferredEntries, 0)
	assert.NotEmpty(t, events)

	doc, err := client.GetDocument(ctx, h.ID)
	require.NoError(t, err)
	name, ok := client.Merger().Value(doc.Data, "name")
	require.True(t, ok)
	assert.Equal(t, "Alice", name)
}

func TestPullFromIsIdempotent(t *testing.T) {
	ctx := context.Background()
	server := newTestDB(t)
	h, err := server.CreateDocument()
	require.NoError(t, err)
	require.NoError(t, server.ChangeDoc(ctx, h, func(b *docdb.DocBuilder) error {
		return b.Set("x", 1)
	}))

	client := newTestDB(t)
	shareKeys(t, server, client)
	engine := New(client)

	_, err = engine.PullFrom(ctx, NewLocalPeer(server.Store()), "", nil)
	require.NoError(t, err)

	result, err := engine.PullFrom(ctx, NewLocalPeer(server.Store()), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TransferredEntries)
}

func TestPullFromScopedToDoc(t *testing.T) {
	ctx := context.Background()
	server := newTestDB(t)
	h1, err := server.CreateDocument()
	require.NoError(t, err)
	require.NoError(t, server.ChangeDoc(ctx, h1, func(b *docdb.DocBuilder) error { return b.Set("x", 1) }))
	h2, err := server.CreateDocument()
	require.NoError(t, err)
	require.NoError(t, server.ChangeDoc(ctx, h2, func(b *docdb.DocBuilder) error { return b.Set("y", 2) }))

	client := newTestDB(t)
	shareKeys(t, server, client)
	engine := New(client)

	_, err = engine.PullFrom(ctx, NewLocalPeer(server.Store()), h1.ID, nil)
	require.NoError(t, err)

	_, err = client.GetDocument(ctx, h1.ID)
	require.NoError(t, err)
	_, err = client.GetDocument(ctx, h2.ID)
	assert.Error(t, err)
}

func TestPullFromRespectsCancellation(t *testing.T) {
	ctx := context.Background()
	server := newTestDB(t)
	for i := 0; i < 5; i++ {
		h, err := server.CreateDocument()
		require.NoError(t, err)
		require.NoError(t, server.ChangeDoc(ctx, h, func(b *docdb.DocBuilder) error { return b.Set("i", i) }))
	}

	client := newTestDB(t)
	shareKeys(t, server, client)
	engine := New(client, WithMaxPayloadBytes(1)) // force one-id-per-batch

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()

	result, err := engine.PullFrom(cancelCtx, NewLocalPeer(server.Store()), "", nil)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, result.TransferredEntries)
}

func TestPushToTransfersMissingEntries(t *testing.T) {
	ctx := context.Background()
	client := newTestDB(t)
	h, err := client.CreateDocument()
	require.NoError(t, err)
	require.NoError(t, client.ChangeDoc(ctx, h, func(b *docdb.DocBuilder) error {
		return b.Set("name", "Bob")
	}))

	server := newTestDB(t)
	shareKeys(t, client, server)
	engine := New(client)

	result, err := engine.PushTo(ctx, NewLocalPeer(server.Store()), "", nil)
	require.NoError(t, err)
	assert.Greater(t, result.TransferredEntries, 0)

	doc, err := server.GetDocument(ctx, h.ID)
	require.NoError(t, err)
	name, ok := server.Merger().Value(doc.Data, "name")
	require.True(t, ok)
	assert.Equal(t, "Bob", name)
}

func TestPushToIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := newTestDB(t)
	h, err := client.CreateDocument()
	require.NoError(t, err)
	require.NoError(t, client.ChangeDoc(ctx, h, func(b *docdb.DocBuilder) error { return b.Set("x", 1) }))

	server := newTestDB(t)
	shareKeys(t, client, server)
	engine := New(client)

	_, err = engine.PushTo(ctx, NewLocalPeer(server.Store()), "", nil)
	require.NoError(t, err)

	result, err := engine.PushTo(ctx, NewLocalPeer(server.Store()), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TransferredEntries)
}
