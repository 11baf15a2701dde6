package app

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
	"github.com/vaultmesh/vaultmesh/internal/authsession"
	"github.com/vaultmesh/vaultmesh/internal/cas"
	"github.com/vaultmesh/vaultmesh/internal/config"
	"github.com/vaultmesh/vaultmesh/internal/directory"
	"github.com/vaultmesh/vaultmesh/internal/docdb"
	"github.com/vaultmesh/vaultmesh/internal/keybag"
	"github.com/vaultmesh/vaultmesh/internal/merger"
	"github.com/vaultmesh/vaultmesh/internal/tenantregistry"
	"github.com/vaultmesh/vaultmesh/internal/vaultcrypto"
)

// directoryManifest records the document id of a database's directory
// document, the one thing about a freshly opened docdb.DB that can't be
// rediscovered from the CAS store alone: until it's loaded there's no trust
// function to walk the store with. Persisted as a small sidecar JSON file
// next to the database's CAS files (§6.2's on-disk tenant layout).
type directoryManifest struct {
	DirectoryDocID string `json:"directoryDocId"`
}

const infraSignerKeyName = "infra-signer"

// Registry resolves tenant IDs and (tenant, database) pairs into the live
// authsession.Manager and docdb.DB instances the sync API needs, per
// request, caching both behind a mutex so repeat requests for the same
// tenant or database reuse one in-process instance instead of re-reading
// config and re-opening CAS stores on every call.
type Registry struct {
	cfg        *config.Config
	tenantRepo tenantregistry.TenantRepository
	peerRepo   tenantregistry.TrustedPeerRepository
	db         *sql.DB
	logger     *slog.Logger

	mu       sync.Mutex
	managers map[string]*authsession.Manager
	dbs      map[string]*docdb.DB
	stores   map[string]interface{ Close() error }
}

// NewRegistry builds a Registry. db is the tenant registry's own SQL
// connection, used only for Ping; per-tenant data lives under
// cfg.TenantDataDir, not in db.
func NewRegistry(
	cfg *config.Config,
	tenantRepo tenantregistry.TenantRepository,
	peerRepo tenantregistry.TrustedPeerRepository,
	db *sql.DB,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		cfg:        cfg,
		tenantRepo: tenantRepo,
		peerRepo:   peerRepo,
		db:         db,
		logger:     logger,
		managers:   make(map[string]*authsession.Manager),
		dbs:        make(map[string]*docdb.DB),
		stores:     make(map[string]interface{ Close() error }),
	}
}

// Ping implements syncapi.Registry: a readiness probe against the tenant
// registry database.
func (r *Registry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// AuthManager implements syncapi.Registry, returning a per-tenant
// authsession.Manager backed by tenantregistry.KeyResolver.
func (r *Registry) AuthManager(ctx context.Context, tenantID string) (*authsession.Manager, error) {
	r.mu.Lock()
	if m, ok := r.managers[tenantID]; ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	if _, err := r.tenantRepo.Get(ctx, tenantID); err != nil {
		return nil, err
	}

	resolver := tenantregistry.NewKeyResolver(r.tenantRepo, r.peerRepo, tenantID)
	opts := []authsession.Option{
		authsession.WithChallengeTTL(r.cfg.ChallengeExpiration),
		authsession.WithSessionTTL(r.cfg.SessionTokenExpiration),
	}
	if r.cfg.RateLimitEnabled {
		opts = append(opts, authsession.WithRateLimit(r.cfg.RateLimitRequestsPerSec, r.cfg.RateLimitBurst))
	}
	manager := authsession.NewManager(resolver, opts...)

	r.mu.Lock()
	if existing, ok := r.managers[tenantID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.managers[tenantID] = manager
	r.mu.Unlock()
	return manager, nil
}

// Database implements syncapi.Registry, opening (and provisioning on first
// use) the docdb.DB for tenantID/dbID: a CAS store under
// cfg.TenantDataDir, a directory document bootstrapped with the tenant's
// admin key as its first trusted signer, and a local infra signing key
// used only to emit that bootstrap's entries.
func (r *Registry) Database(ctx context.Context, tenantID, dbID string) (*docdb.DB, error) {
	cacheKey := tenantID + "/" + dbID

	r.mu.Lock()
	if db, ok := r.dbs[cacheKey]; ok {
		r.mu.Unlock()
		return db, nil
	}
	r.mu.Unlock()

	tenant, err := r.tenantRepo.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	db, closer, err := r.openDatabase(ctx, tenant, dbID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.dbs[cacheKey]; ok {
		r.mu.Unlock()
		_ = closer.Close()
		return existing, nil
	}
	r.dbs[cacheKey] = db
	r.stores[cacheKey] = closer
	r.mu.Unlock()
	return db, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (r *Registry) openDatabase(
	ctx context.Context,
	tenant *tenantregistry.Tenant,
	dbID string,
) (*docdb.DB, interface{ Close() error }, error) {
	dataDir := filepath.Join(r.cfg.TenantDataDir, tenant.TenantID, dbID)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, apperrors.Wrapf(err, "create tenant data directory %s", dataDir)
	}

	backend := r.cfg.CASBackend
	if tenant.DefaultCASBackend != "" {
		backend = tenant.DefaultCASBackend
	}

	var store cas.Store
	var closer interface{ Close() error } = nopCloser{}
	switch backend {
	case "bolt":
		bolt, err := cas.NewBoltStore(dataDir)
		if err != nil {
			return nil, nil, apperrors.Wrapf(err, "open bolt cas store for %s/%s", tenant.TenantID, dbID)
		}
		store = bolt
		closer = bolt
	default:
		store = cas.NewMemoryStore()
	}

	signer, err := r.loadOrCreateInfraSigner(dataDir)
	if err != nil {
		return nil, nil, err
	}

	db := docdb.New(store, keybag.New(), merger.NewLWW(), signer, nil)

	dir, err := r.openOrCreateDirectory(ctx, db, dataDir, tenant.AdminPublicKey)
	if err != nil {
		return nil, nil, err
	}
	db.SetTrustFunc(dir.TrustFunc())

	return db, closer, nil
}

// loadOrCreateInfraSigner returns the Ed25519 key this process uses to sign
// the two entries it produces locally on a fresh database: the directory's
// own doc_create and the doc_change granting the tenant's admin key. Persisted in a
// small keybag file so restarts don't mint a new, differently-identified
// signer for an existing CAS store.
func (r *Registry) loadOrCreateInfraSigner(dataDir string) (ed25519.PrivateKey, error) {
	path := filepath.Join(dataDir, "infra.keybag")

	if data, err := os.ReadFile(path); err == nil {
		bag, err := keybag.Load(data, r.cfg.ServerKeyPassword)
		if err != nil {
			return nil, apperrors.Wrap(err, "unlock infra signer keybag")
		}
		raw, ok := bag.Get(keybag.ScopeTenant, infraSignerKeyName)
		if !ok {
			return nil, apperrors.Wrap(apperrors.ErrNotFound, "infra signer key missing from keybag")
		}
		return ed25519.PrivateKey(raw), nil
	} else if !os.IsNotExist(err) {
		return nil, apperrors.Wrapf(err, "read infra signer keybag %s", path)
	}

	_, priv, err := vaultcrypto.GenerateSigningKey()
	if err != nil {
		return nil, apperrors.Wrap(err, "generate infra signer key")
	}

	bag := keybag.New()
	if err := bag.Set(keybag.ScopeTenant, infraSignerKeyName, []byte(priv), nil); err != nil {
		return nil, apperrors.Wrap(err, "store infra signer key")
	}

	blob, err := bag.Save(r.cfg.ServerKeyPassword)
	if err != nil {
		return nil, apperrors.Wrap(err, "save infra signer keybag")
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, apperrors.Wrapf(err, "write infra signer keybag %s", path)
	}
	return priv, nil
}

// openOrCreateDirectory reads dataDir's directory manifest if present, or
// bootstraps a fresh directory document (trusting adminKey) and writes the
// manifest, closing the loop SetTrustFunc needs.
func (r *Registry) openOrCreateDirectory(
	ctx context.Context,
	db *docdb.DB,
	dataDir string,
	adminKey ed25519.PublicKey,
) (*directory.Directory, error) {
	path := filepath.Join(dataDir, "directory.json")

	if data, err := os.ReadFile(path); err == nil {
		var manifest directoryManifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, apperrors.Wrapf(err, "parse directory manifest %s", path)
		}
		return directory.Open(db, manifest.DirectoryDocID, adminKey), nil
	} else if !os.IsNotExist(err) {
		return nil, apperrors.Wrapf(err, "read directory manifest %s", path)
	}

	dir, err := directory.Create(ctx, db, adminKey)
	if err != nil {
		return nil, apperrors.Wrap(err, "bootstrap directory document")
	}

	manifest := directoryManifest{DirectoryDocID: dir.DocID()}
	blob, err := json.Marshal(manifest)
	if err != nil {
		return nil, apperrors.Wrap(err, "encode directory manifest")
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, apperrors.Wrapf(err, "write directory manifest %s", path)
	}
	return dir, nil
}

// Close releases every opened CAS store (bolt file handles; in-memory
// stores no-op).
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, closer := range r.stores {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("registry close errors: %v", errs)
	}
	return nil
}
