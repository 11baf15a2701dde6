package tenantregistry

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// AdminUsername is the fixed username a tenant's administrator authenticates
// as (spec §6.1's challenge `username`). Every other username is looked up
// among the tenant's trusted peers by label.
const AdminUsername = "admin"

// KeyResolver adapts a tenant's registry rows to internal/authsession's
// KeyResolver, scoped to one tenant: "admin" resolves to the tenant's admin
// key, anything else to a trusted peer's key by label.
type KeyResolver struct {
	tenants TenantRepository
	peers   TrustedPeerRepository
	tenant  string
}

// NewKeyResolver builds a KeyResolver for tenantID, backed by tenants and
// peers.
func NewKeyResolver(tenants TenantRepository, peers TrustedPeerRepository, tenantID string) *KeyResolver {
	return &KeyResolver{tenants: tenants, peers: peers, tenant: tenantID}
}

// ResolveKey implements authsession.KeyResolver.
func (r *KeyResolver) ResolveKey(ctx context.Context, username string) (ed25519.PublicKey, error) {
	tenant, err := r.tenants.Get(ctx, r.tenant)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, err
	}

	if username == AdminUsername {
		return tenant.AdminPublicKey, nil
	}

	peer, err := r.peers.Get(ctx, tenant.ID, username)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, err
	}
	return peer.PublicKey, nil
}

// IsTrusted implements authsession.KeyResolver: an admin key is trusted
// unless the tenant itself has been revoked; a peer key is trusted unless
// that specific trust entry has been revoked.
func (r *KeyResolver) IsTrusted(ctx context.Context, pub ed25519.PublicKey, at time.Time) (bool, error) {
	tenant, err := r.tenants.Get(ctx, r.tenant)
	if err != nil {
		return false, err
	}
	if tenant.RevokedAt != nil && !tenant.RevokedAt.After(at) {
		return false, nil
	}
	if ed25519.PublicKey(tenant.AdminPublicKey).Equal(pub) {
		return true, nil
	}

	peers, err := r.peers.List(ctx, tenant.ID)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		if !ed25519.PublicKey(p.PublicKey).Equal(pub) {
			continue
		}
		return p.RevokedAt == nil || p.RevokedAt.After(at), nil
	}
	return false, nil
}
