package directory

import (
	"context"
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

func TestCreateTrustsAdminKey(t *testing.T) {
	ctx := context.Background()
	adminPub, adminPriv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	db := docdb.New(cas.NewMemoryStore(), keybag.New(), merger.NewLWW(), adminPriv, nil)
	dir, err := Create(ctx, db, adminPub)
	require.NoError(t, err)
	db.SetTrustFunc(dir.TrustFunc())

	trusted, err := dir.IsTrusted(ctx, adminPub, time.Time{})
	require.NoError(t, err)
	assert.True(t, trusted)
}

func TestGrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	adminPub, adminPriv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)
	otherPub, _, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	db := docdb.New(cas.NewMemoryStore(), keybag.New(), merger.NewLWW(), adminPriv, nil)
	dir, err := Create(ctx, db, adminPub)
	require.NoError(t, err)
	db.SetTrustFunc(dir.TrustFunc())

	trusted, err := dir.IsTrusted(ctx, otherPub, time.Time{})
	require.NoError(t, err)
	assert.False(t, trusted)

	require.NoError(t, dir.Grant(ctx, otherPub))
	trusted, err = dir.IsTrusted(ctx, otherPub, time.Time{})
	require.NoError(t, err)
	assert.True(t, trusted)

	require.NoError(t, dir.Revoke(ctx, otherPub))
	trusted, err = dir.IsTrusted(ctx, otherPub, time.Time{})
	require.NoError(t, err)
	assert.False(t, trusted)
}

func TestRevokeDoesNotRetroactivelyDistrustPastEntries(t *testing.T) {
	ctx := context.Background()
	adminPub, adminPriv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)
	otherPub, _, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	db := docdb.New(cas.NewMemoryStore(), keybag.New(), merger.NewLWW(), adminPriv, nil)
	dir, err := Create(ctx, db, adminPub)
	require.NoError(t, err)
	db.SetTrustFunc(dir.TrustFunc())

	require.NoError(t, dir.Grant(ctx, otherPub))
	grantedAt := time.Now()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, dir.Revoke(ctx, otherPub))

	trustedAtGrantTime, err := dir.IsTrusted(ctx, otherPub, grantedAt.Add(time.Millisecond))
	require.NoError(t, err)
	assert.True(t, trustedAtGrantTime)

	trustedNow, err := dir.IsTrusted(ctx, otherPub, time.Time{})
	require.NoError(t, err)
	assert.False(t, trustedNow)
}

func TestOpenReattachesToExistingDirectory(t *testing.T) {
	ctx := context.Background()
	adminPub, adminPriv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	db := docdb.New(cas.NewMemoryStore(), keybag.New(), merger.NewLWW(), adminPriv, nil)
	dir, err := Create(ctx, db, adminPub)
	require.NoError(t, err)
	db.SetTrustFunc(dir.TrustFunc())

	reopened := Open(db, dir.DocID(), adminPub)
	trusted, err := reopened.IsTrusted(ctx, adminPub, time.Time{})
	require.NoError(t, err)
	assert.True(t, trusted)
}

func TestTrustFuncRejectsUngranted(t *testing.T) {
	ctx := context.Background()
	adminPub, adminPriv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)
	otherPub, _, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	db := docdb.New(cas.NewMemoryStore(), keybag.New(), merger.NewLWW(), adminPriv, nil)
	dir, err := Create(ctx, db, adminPub)
	require.NoError(t, err)

	trust := dir.TrustFunc()
	assert.True(t, trust(dir.DocID(), adminPub, time.Now()))
	assert.False(t, trust(dir.DocID(), otherPub, time.Now()))
}
