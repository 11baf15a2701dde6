package tenantregistry

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These exercise the error-mapping branches of the PostgreSQL/MySQL
// repositories without a live database, since a duplicate-key or
// connection-level failure is awkward to provoke reliably against a real
// server in a unit test.

func TestPostgreSQLTenantRepository_CreateMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgreSQLTenantRepository(db)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tenant := NewTenant("acme-corp", pub, "inmemory")

	mock.ExpectExec("INSERT INTO tenants").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "tenants_tenant_id_key"`))

	err = repo.Create(context.Background(), tenant)
	assert.ErrorIs(t, err, ErrTenantExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTenantRepository_CreateMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMySQLTenantRepository(db)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tenant := NewTenant("acme-corp", pub, "inmemory")

	mock.ExpectExec("INSERT INTO tenants").
		WillReturnError(errors.New("Error 1062: Duplicate entry 'acme-corp' for key 'tenant_id'"))

	err = repo.Create(context.Background(), tenant)
	assert.ErrorIs(t, err, ErrTenantExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLTenantRepository_CreateWrapsOtherErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgreSQLTenantRepository(db)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tenant := NewTenant("acme-corp", pub, "inmemory")

	mock.ExpectExec("INSERT INTO tenants").WillReturnError(errors.New("connection reset by peer"))

	err = repo.Create(context.Background(), tenant)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTenantExists)
	require.NoError(t, mock.ExpectationsWereMet())
}
