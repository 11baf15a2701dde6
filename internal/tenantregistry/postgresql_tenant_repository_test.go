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

func TestNewPostgreSQLTenantRepository(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLTenantRepository(db)
	assert.NotNil(t, repo)
	assert.IsType(t, &PostgreSQLTenantRepository{}, repo)
}

func TestPostgreSQLTenantRepository_CreateAndGet(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLTenantRepository(db)
	ctx := context.Background()

	testutil.CreateTestTenant(t, db, "postgres", "acme-corp")

	tenant, err := repo.Get(ctx, "acme-corp")
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", tenant.TenantID)
	assert.Equal(t, "inmemory", tenant.DefaultCASBackend)
	assert.Nil(t, tenant.RevokedAt)
}

func TestPostgreSQLTenantRepository_CreateDuplicateReturnsConflict(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLTenantRepository(db)
	ctx := context.Background()

	testutil.CreateTestTenant(t, db, "postgres", "acme-corp")

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	dup := NewTenant("acme-corp", pub, "inmemory")

	err = repo.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrTenantExists)
}

func TestPostgreSQLTenantRepository_GetNotFound(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLTenantRepository(db)
	_, err := repo.Get(context.Background(), "ghost-corp")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestPostgreSQLTenantRepository_ListAndRevoke(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLTenantRepository(db)
	ctx := context.Background()

	testutil.CreateTestTenant(t, db, "postgres", "acme-corp")
	testutil.CreateTestTenant(t, db, "postgres", "globex-corp")

	tenants, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, tenants, 2)

	require.NoError(t, repo.Revoke(ctx, "acme-corp"))
	got, err := repo.Get(ctx, "acme-corp")
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)

	err = repo.Revoke(ctx, "ghost-corp")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}
