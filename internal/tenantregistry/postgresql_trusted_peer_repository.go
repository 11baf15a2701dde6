package tenantregistry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/database"
)

// PostgreSQLTrustedPeerRepository implements TrustedPeerRepository for
// PostgreSQL.
type PostgreSQLTrustedPeerRepository struct {
	db *sql.DB
}

// NewPostgreSQLTrustedPeerRepository creates a new PostgreSQL trusted peer
// repository.
func NewPostgreSQLTrustedPeerRepository(db *sql.DB) *PostgreSQLTrustedPeerRepository {
	return &PostgreSQLTrustedPeerRepository{db: db}
}

func (r *PostgreSQLTrustedPeerRepository) Add(ctx context.Context, peer *TrustedPeer) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO tenant_trusted_peers (id, tenant_id, label, public_key, created_at)
			  VALUES ($1, $2, $3, $4, $5)`

	_, err := querier.ExecContext(
		ctx, query,
		peer.ID, peer.TenantID, peer.Label, []byte(peer.PublicKey), peer.CreatedAt,
	)
	if err != nil {
		if isPostgreSQLUniqueViolation(err) {
			return apperrors.Wrap(apperrors.ErrConflict, "trusted peer label already in use for this tenant")
		}
		return apperrors.Wrap(err, "failed to add trusted peer")
	}
	return nil
}

func (r *PostgreSQLTrustedPeerRepository) Get(ctx context.Context, tenantID uuid.UUID, label string) (*TrustedPeer, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, label, public_key, revoked_at, created_at
			  FROM tenant_trusted_peers WHERE tenant_id = $1 AND label = $2`

	var p TrustedPeer
	var pub []byte
	err := querier.QueryRowContext(ctx, query, tenantID, label).Scan(
		&p.ID, &p.TenantID, &p.Label, &pub, &p.RevokedAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPeerNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get trusted peer")
	}
	p.PublicKey = pub
	return &p, nil
}

func (r *PostgreSQLTrustedPeerRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*TrustedPeer, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, label, public_key, revoked_at, created_at
			  FROM tenant_trusted_peers WHERE tenant_id = $1 ORDER BY id DESC`

	rows, err := querier.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list trusted peers")
	}
	defer func() { _ = rows.Close() }()

	peers := make([]*TrustedPeer, 0)
	for rows.Next() {
		var p TrustedPeer
		var pub []byte
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Label, &pub, &p.RevokedAt, &p.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan trusted peer row")
		}
		p.PublicKey = pub
		peers = append(peers, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "error iterating trusted peer rows")
	}
	return peers, nil
}

func (r *PostgreSQLTrustedPeerRepository) Revoke(ctx context.Context, tenantID uuid.UUID, label string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE tenant_trusted_peers SET revoked_at = $1 WHERE tenant_id = $2 AND label = $3`
	res, err := querier.ExecContext(ctx, query, time.Now().UTC(), tenantID, label)
	if err != nil {
		return apperrors.Wrap(err, "failed to revoke trusted peer")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to check revoke result")
	}
	if n == 0 {
		return ErrPeerNotFound
	}
	return nil
}
