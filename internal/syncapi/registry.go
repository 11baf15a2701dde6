// Package syncapi is the thin Gin HTTP layer implementing the §6.1 wire
// protocol: per-tenant auth challenge/authenticate, and per-database sync
// operations (findNewEntries, getEntries, putEntries, hasEntries,
// getAllIds, resolveDependencies). It translates wire requests into calls
// against internal/authsession and internal/docdb, using internal/syncwire
// for the JSON shapes.
package syncapi

import (
	"context"

	"github.com/vaultmesh/vaultmesh/internal/authsession"
	"github.com/vaultmesh/vaultmesh/internal/docdb"
)

// Registry resolves the path-parameterized tenantId/dbId of an incoming
// request to the live objects that serve it. internal/app's container
// implements this over internal/tenantregistry and the set of opened
// internal/docdb.DB instances.
type Registry interface {
	// AuthManager returns the auth session manager for tenantID, or
	// apperrors.ErrUserNotFound if no such tenant exists.
	AuthManager(ctx context.Context, tenantID string) (*authsession.Manager, error)

	// Database returns the already-opened database dbID within tenantID,
	// or apperrors.ErrNotFound if the tenant or database doesn't exist.
	Database(ctx context.Context, tenantID, dbID string) (*docdb.DB, error)

	// Ping is used by the readiness endpoint to verify backing storage
	// (the tenant registry database) is reachable.
	Ping(ctx context.Context) error
}
