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

// MySQLTrustedPeerRepository implements TrustedPeerRepository for MySQL,
// using BINARY(16) for UUID storage.
type MySQLTrustedPeerRepository struct {
	db *sql.DB
}

// NewMySQLTrustedPeerRepository creates a new MySQL trusted peer repository.
func NewMySQLTrustedPeerRepository(db *sql.DB) *MySQLTrustedPeerRepository {
	return &MySQLTrustedPeerRepository{db: db}
}

func (r *MySQLTrustedPeerRepository) Add(ctx context.Context, peer *TrustedPeer) error {
	querier := database.GetTx(ctx, r.db)

	id, err := peer.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal trusted peer id")
	}
	tenantID, err := peer.TenantID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal tenant id")
	}

	query := `INSERT INTO tenant_trusted_peers (id, tenant_id, label, public_key, created_at)
			  VALUES (?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(ctx, query, id, tenantID, peer.Label, []byte(peer.PublicKey), peer.CreatedAt)
	if err != nil {
		if isMySQLUniqueViolation(err) {
			return apperrors.Wrap(apperrors.ErrConflict, "trusted peer label already in use for this tenant")
		}
		return apperrors.Wrap(err, "failed to add trusted peer")
	}
	return nil
}

func (r *MySQLTrustedPeerRepository) Get(ctx context.Context, tenantID uuid.UUID, label string) (*TrustedPeer, error) {
	querier := database.GetTx(ctx, r.db)

	tid, err := tenantID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal tenant id")
	}

	query := `SELECT id, tenant_id, label, public_key, revoked_at, created_at
			  FROM tenant_trusted_peers WHERE tenant_id = ? AND label = ?`

	var p TrustedPeer
	var idBytes, tenantIDBytes, pub []byte
	err = querier.QueryRowContext(ctx, query, tid, label).Scan(
		&idBytes, &tenantIDBytes, &p.Label, &pub, &p.RevokedAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPeerNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get trusted peer")
	}
	if err := p.ID.UnmarshalBinary(idBytes); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal trusted peer id")
	}
	if err := p.TenantID.UnmarshalBinary(tenantIDBytes); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal tenant id")
	}
	p.PublicKey = pub
	return &p, nil
}

func (r *MySQLTrustedPeerRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*TrustedPeer, error) {
	querier := database.GetTx(ctx, r.db)

	tid, err := tenantID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal tenant id")
	}

	query := `SELECT id, tenant_id, label, public_key, revoked_at, created_at
			  FROM tenant_trusted_peers WHERE tenant_id = ? ORDER BY id DESC`

	rows, err := querier.QueryContext(ctx, query, tid)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list trusted peers")
	}
	defer func() { _ = rows.Close() }()

	peers := make([]*TrustedPeer, 0)
	for rows.Next() {
		var p TrustedPeer
		var idBytes, tenantIDBytes, pub []byte
		if err := rows.Scan(&idBytes, &tenantIDBytes, &p.Label, &pub, &p.RevokedAt, &p.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan trusted peer row")
		}
		if err := p.ID.UnmarshalBinary(idBytes); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal trusted peer id")
		}
		if err := p.TenantID.UnmarshalBinary(tenantIDBytes); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal tenant id")
		}
		p.PublicKey = pub
		peers = append(peers, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "error iterating trusted peer rows")
	}
	return peers, nil
}

func (r *MySQLTrustedPeerRepository) Revoke(ctx context.Context, tenantID uuid.UUID, label string) error {
	querier := database.GetTx(ctx, r.db)

	tid, err := tenantID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal tenant id")
	}

	query := `UPDATE tenant_trusted_peers SET revoked_at = ? WHERE tenant_id = ? AND label = ?`
	res, err := querier.ExecContext(ctx, query, time.Now().UTC(), tid, label)
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
