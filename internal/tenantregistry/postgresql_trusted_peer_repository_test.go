package tenantregistry

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/vaultmesh/internal/testutil"
)

func TestPostgreSQLTrustedPeerRepository_AddGetList(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	testutil.CreateTestTenant(t, db, "postgres", "acme-corp")
	tenants := NewPostgreSQLTenantRepository(db)
	tenant, err := tenants.Get(context.Background(), "acme-corp")
	require.NoError(t, err)

	repo := NewPostgreSQLTrustedPeerRepository(db)
	ctx := context.Background()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	peer := NewTrustedPeer(tenant.ID, "laptop-replica", pub)
	require.NoError(t, repo.Add(ctx, peer))

	got, err := repo.Get(ctx, tenant.ID, "laptop-replica")
	require.NoError(t, err)
	assert.Equal(t, pub, ed25519.PublicKey(got.PublicKey))
	assert.Nil(t, got.RevokedAt)

	_, err = repo.Get(ctx, tenant.ID, "no-such-peer")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	list, err := repo.List(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPostgreSQLTrustedPeerRepository_Revoke(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	testutil.CreateTestTenant(t, db, "postgres", "acme-corp")
	tenants := NewPostgreSQLTenantRepository(db)
	tenant, err := tenants.Get(context.Background(), "acme-corp")
	require.NoError(t, err)

	repo := NewPostgreSQLTrustedPeerRepository(db)
	ctx := context.Background()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	peer := NewTrustedPeer(tenant.ID, "laptop-replica", pub)
	require.NoError(t, repo.Add(ctx, peer))

	require.NoError(t, repo.Revoke(ctx, tenant.ID, "laptop-replica"))
	got, err := repo.Get(ctx, tenant.ID, "laptop-replica")
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)

	err = repo.Revoke(ctx, tenant.ID, "no-such-peer")
	assert.ErrorIs(t, err, ErrPeerNotFound)
}
