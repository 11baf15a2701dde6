// Package tenantregistry persists the per-tenant configuration spec §6.2
// describes as a JSON file on disk: the tenant's admin Ed25519 public key,
// its default CAS backend, and the set of peer keys it trusts for sync.
// It has no concept of users or groups — that is internal/directory's job,
// scoped per database rather than per tenant.
package tenantregistry

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// Tenant is a row in the tenant registry: one entry per spec §6.2 tenant
// directory, minus the on-disk CAS files themselves.
type Tenant struct {
	ID                uuid.UUID
	TenantID          string // lowercased per spec §6.2
	AdminPublicKey    ed25519.PublicKey
	DefaultCASBackend string
	RevokedAt         *time.Time
	CreatedAt         time.Time
}

// TrustedPeer is a remote sync peer a tenant has chosen to trust, keyed by a
// label the peer authenticates as (spec §6.1's challenge `username`).
type TrustedPeer struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Label     string
	PublicKey ed25519.PublicKey
	RevokedAt *time.Time
	CreatedAt time.Time
}

// ErrTenantNotFound indicates no tenant matches the supplied id.
var ErrTenantNotFound = apperrors.Wrap(apperrors.ErrNotFound, "tenant not found")

// ErrTenantExists indicates a tenant with that id already exists (spec
// §6.1: 409 duplicate tenant).
var ErrTenantExists = apperrors.Wrap(apperrors.ErrConflict, "tenant already exists")

// ErrPeerNotFound indicates no trusted peer matches the supplied label.
var ErrPeerNotFound = apperrors.Wrap(apperrors.ErrNotFound, "trusted peer not found")

// TenantRepository persists Tenant rows.
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	List(ctx context.Context, offset, limit int) ([]*Tenant, error)
	Revoke(ctx context.Context, tenantID string) error
}

// TrustedPeerRepository persists TrustedPeer rows scoped to a tenant.
type TrustedPeerRepository interface {
	Add(ctx context.Context, peer *TrustedPeer) error
	Get(ctx context.Context, tenantID uuid.UUID, label string) (*TrustedPeer, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*TrustedPeer, error)
	Revoke(ctx context.Context, tenantID uuid.UUID, label string) error
}

// NewTenant builds a Tenant ready for TenantRepository.Create.
func NewTenant(tenantID string, adminKey ed25519.PublicKey, defaultCASBackend string) *Tenant {
	return &Tenant{
		ID:                uuid.Must(uuid.NewV7()),
		TenantID:          tenantID,
		AdminPublicKey:    adminKey,
		DefaultCASBackend: defaultCASBackend,
		CreatedAt:         time.Now().UTC(),
	}
}

// NewTrustedPeer builds a TrustedPeer ready for TrustedPeerRepository.Add.
func NewTrustedPeer(tenantID uuid.UUID, label string, pub ed25519.PublicKey) *TrustedPeer {
	return &TrustedPeer{
		ID:        uuid.Must(uuid.NewV7()),
		TenantID:  tenantID,
		Label:     label,
		PublicKey: pub,
		CreatedAt: time.Now().UTC(),
	}
}
