package tenantregistry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/database"
)

// PostgreSQLTenantRepository implements TenantRepository for PostgreSQL.
type PostgreSQLTenantRepository struct {
	db *sql.DB
}

// NewPostgreSQLTenantRepository creates a new PostgreSQL tenant repository.
func NewPostgreSQLTenantRepository(db *sql.DB) *PostgreSQLTenantRepository {
	return &PostgreSQLTenantRepository{db: db}
}

// Create inserts a new Tenant row. Returns ErrTenantExists on a duplicate
// tenant_id (spec §6.1: 409 duplicate tenant).
func (r *PostgreSQLTenantRepository) Create(ctx context.Context, tenant *Tenant) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO tenants (id, tenant_id, admin_public_key, default_cas_backend, created_at)
			  VALUES ($1, $2, $3, $4, $5)`

	_, err := querier.ExecContext(
		ctx, query,
		tenant.ID, tenant.TenantID, []byte(tenant.AdminPublicKey), tenant.DefaultCASBackend, tenant.CreatedAt,
	)
	if err != nil {
		if isPostgreSQLUniqueViolation(err) {
			return ErrTenantExists
		}
		return apperrors.Wrap(err, "failed to create tenant")
	}
	return nil
}

// Get retrieves a Tenant by its lowercased tenant_id.
func (r *PostgreSQLTenantRepository) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, admin_public_key, default_cas_backend, revoked_at, created_at
			  FROM tenants WHERE tenant_id = $1`

	var t Tenant
	var adminKey []byte
	err := querier.QueryRowContext(ctx, query, tenantID).Scan(
		&t.ID, &t.TenantID, &adminKey, &t.DefaultCASBackend, &t.RevokedAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get tenant")
	}
	t.AdminPublicKey = adminKey
	return &t, nil
}

// List retrieves tenants ordered by id descending with pagination.
func (r *PostgreSQLTenantRepository) List(ctx context.Context, offset, limit int) ([]*Tenant, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, admin_public_key, default_cas_backend, revoked_at, created_at
			  FROM tenants ORDER BY id DESC LIMIT $1 OFFSET $2`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list tenants")
	}
	defer func() { _ = rows.Close() }()

	tenants := make([]*Tenant, 0)
	for rows.Next() {
		var t Tenant
		var adminKey []byte
		if err := rows.Scan(&t.ID, &t.TenantID, &adminKey, &t.DefaultCASBackend, &t.RevokedAt, &t.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan tenant row")
		}
		t.AdminPublicKey = adminKey
		tenants = append(tenants, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "error iterating tenant rows")
	}
	return tenants, nil
}

// Revoke marks a tenant's admin key as revoked, without deleting the row.
func (r *PostgreSQLTenantRepository) Revoke(ctx context.Context, tenantID string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE tenants SET revoked_at = $1 WHERE tenant_id = $2`
	res, err := querier.ExecContext(ctx, query, time.Now().UTC(), tenantID)
	if err != nil {
		return apperrors.Wrap(err, "failed to revoke tenant")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to check revoke result")
	}
	if n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func isPostgreSQLUniqueViolation(err error) bool {
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}
