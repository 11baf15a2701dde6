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

// MySQLTenantRepository implements TenantRepository for MySQL, using
// BINARY(16) for UUID storage.
type MySQLTenantRepository struct {
	db *sql.DB
}

// NewMySQLTenantRepository creates a new MySQL tenant repository.
func NewMySQLTenantRepository(db *sql.DB) *MySQLTenantRepository {
	return &MySQLTenantRepository{db: db}
}

// Create inserts a new Tenant row. Returns ErrTenantExists on a duplicate
// tenant_id (spec §6.1: 409 duplicate tenant).
func (r *MySQLTenantRepository) Create(ctx context.Context, tenant *Tenant) error {
	querier := database.GetTx(ctx, r.db)

	id, err := tenant.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal tenant id")
	}

	query := `INSERT INTO tenants (id, tenant_id, admin_public_key, default_cas_backend, created_at)
			  VALUES (?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx, query,
		id, tenant.TenantID, []byte(tenant.AdminPublicKey), tenant.DefaultCASBackend, tenant.CreatedAt,
	)
	if err != nil {
		if isMySQLUniqueViolation(err) {
			return ErrTenantExists
		}
		return apperrors.Wrap(err, "failed to create tenant")
	}
	return nil
}

// Get retrieves a Tenant by its lowercased tenant_id.
func (r *MySQLTenantRepository) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, admin_public_key, default_cas_backend, revoked_at, created_at
			  FROM tenants WHERE tenant_id = ?`

	var t Tenant
	var idBytes []byte
	var adminKey []byte
	err := querier.QueryRowContext(ctx, query, tenantID).Scan(
		&idBytes, &t.TenantID, &adminKey, &t.DefaultCASBackend, &t.RevokedAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get tenant")
	}
	if err := t.ID.UnmarshalBinary(idBytes); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal tenant id")
	}
	t.AdminPublicKey = adminKey
	return &t, nil
}

// List retrieves tenants ordered by id descending with pagination.
func (r *MySQLTenantRepository) List(ctx context.Context, offset, limit int) ([]*Tenant, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, admin_public_key, default_cas_backend, revoked_at, created_at
			  FROM tenants ORDER BY id DESC LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list tenants")
	}
	defer func() { _ = rows.Close() }()

	tenants := make([]*Tenant, 0)
	for rows.Next() {
		var t Tenant
		var idBytes []byte
		var adminKey []byte
		if err := rows.Scan(&idBytes, &t.TenantID, &adminKey, &t.DefaultCASBackend, &t.RevokedAt, &t.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan tenant row")
		}
		if err := t.ID.UnmarshalBinary(idBytes); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal tenant id")
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
func (r *MySQLTenantRepository) Revoke(ctx context.Context, tenantID string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE tenants SET revoked_at = ? WHERE tenant_id = ?`
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

func isMySQLUniqueViolation(err error) bool {
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "duplicate entry") || strings.Contains(errMsg, "1062")
}
