// Package app provides the dependency injection container that assembles
// vaultmeshd from its component packages: configuration, logging, the
// tenant registry database, server identity, and the sync API server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/vaultmesh/vaultmesh/internal/config"
	"github.com/vaultmesh/vaultmesh/internal/database"
	"github.com/vaultmesh/vaultmesh/internal/metrics"
	"github.com/vaultmesh/vaultmesh/internal/serveridentity"
	"github.com/vaultmesh/vaultmesh/internal/syncapi"
	"github.com/vaultmesh/vaultmesh/internal/tenantregistry"
	"github.com/vaultmesh/vaultmesh/internal/vaultlog"
)

// Container holds all application dependencies and provides methods to
// access them. Components are created on first access and cached; a failed
// initialization is cached too, so repeated callers see the same error
// instead of retrying a doomed dependency.
type Container struct {
	config *config.Config

	logger *slog.Logger
	db     *sql.DB

	tenantRepo tenantregistry.TenantRepository
	peerRepo   tenantregistry.TrustedPeerRepository

	metricsProvider *metrics.Provider
	metricsServer   *syncapi.MetricsServer
	registry        *Registry
	syncServer      *syncapi.Server

	mu                  sync.Mutex
	loggerInit          sync.Once
	dbInit              sync.Once
	tenantRepoInit      sync.Once
	peerRepoInit        sync.Once
	metricsProviderInit sync.Once
	metricsServerInit   sync.Once
	registryInit        sync.Once
	syncServerInit      sync.Once
	initErrors          map[string]error
}

// NewContainer creates a dependency injection container for cfg.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured structured logger, built once from
// cfg.LogFormat and cfg.LogLevel.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = vaultlog.New(os.Stdout, c.config.LogFormat, vaultlog.ParseLevel(c.config.LogLevel))
	})
	return c.logger
}

// DB returns the tenant registry's SQL connection, opened on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = database.Connect(database.Config{
			Driver:             c.config.DBDriver,
			ConnectionString:   c.config.DBConnectionString,
			MaxOpenConnections: c.config.DBMaxOpenConnections,
			MaxIdleConnections: c.config.DBMaxIdleConnections,
			ConnMaxLifetime:    c.config.DBConnMaxLifetime,
		})
		if err != nil {
			c.initErrors["db"] = fmt.Errorf("failed to connect to tenant registry database: %w", err)
		}
	})
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TenantRepository returns the driver-selected tenant repository.
func (c *Container) TenantRepository() (tenantregistry.TenantRepository, error) {
	var err error
	c.tenantRepoInit.Do(func() {
		c.tenantRepo, err = c.initTenantRepository()
		if err != nil {
			c.initErrors["tenantRepo"] = err
		}
	})
	if storedErr, exists := c.initErrors["tenantRepo"]; exists {
		return nil, storedErr
	}
	return c.tenantRepo, nil
}

func (c *Container) initTenantRepository() (tenantregistry.TenantRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tenant repository: %w", err)
	}
	switch c.config.DBDriver {
	case "mysql":
		return tenantregistry.NewMySQLTenantRepository(db), nil
	case "postgres":
		return tenantregistry.NewPostgreSQLTenantRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// TrustedPeerRepository returns the driver-selected trusted peer repository.
func (c *Container) TrustedPeerRepository() (tenantregistry.TrustedPeerRepository, error) {
	var err error
	c.peerRepoInit.Do(func() {
		c.peerRepo, err = c.initTrustedPeerRepository()
		if err != nil {
			c.initErrors["peerRepo"] = err
		}
	})
	if storedErr, exists := c.initErrors["peerRepo"]; exists {
		return nil, storedErr
	}
	return c.peerRepo, nil
}

func (c *Container) initTrustedPeerRepository() (tenantregistry.TrustedPeerRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for trusted peer repository: %w", err)
	}
	switch c.config.DBDriver {
	case "mysql":
		return tenantregistry.NewMySQLTrustedPeerRepository(db), nil
	case "postgres":
		return tenantregistry.NewPostgreSQLTrustedPeerRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// MetricsProvider returns the OpenTelemetry Prometheus provider, or nil if
// metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	if !c.config.MetricsEnabled {
		return nil, nil
	}
	var err error
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = fmt.Errorf("failed to build metrics provider: %w", err)
		}
	})
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// MetricsServer returns the standalone Prometheus scrape endpoint server,
// or nil if metrics are disabled.
func (c *Container) MetricsServer() (*syncapi.MetricsServer, error) {
	if !c.config.MetricsEnabled {
		return nil, nil
	}
	var err error
	c.metricsServerInit.Do(func() {
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

func (c *Container) initMetricsServer() (*syncapi.MetricsServer, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
	}
	return syncapi.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider), nil
}

// Registry returns the per-tenant runtime resolver that backs syncapi's
// Registry interface.
func (c *Container) Registry() (*Registry, error) {
	var err error
	c.registryInit.Do(func() {
		c.registry, err = c.initRegistry()
		if err != nil {
			c.initErrors["registry"] = err
		}
	})
	if storedErr, exists := c.initErrors["registry"]; exists {
		return nil, storedErr
	}
	return c.registry, nil
}

func (c *Container) initRegistry() (*Registry, error) {
	tenantRepo, err := c.TenantRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant repository for registry: %w", err)
	}
	peerRepo, err := c.TrustedPeerRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get trusted peer repository for registry: %w", err)
	}
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for registry: %w", err)
	}
	return NewRegistry(c.config, tenantRepo, peerRepo, db, c.Logger()), nil
}

// SyncServer returns the sync API HTTP server, wired against Registry.
func (c *Container) SyncServer() (*syncapi.Server, error) {
	var err error
	c.syncServerInit.Do(func() {
		c.syncServer, err = c.initSyncServer()
		if err != nil {
			c.initErrors["syncServer"] = err
		}
	})
	if storedErr, exists := c.initErrors["syncServer"]; exists {
		return nil, storedErr
	}
	return c.syncServer, nil
}

func (c *Container) initSyncServer() (*syncapi.Server, error) {
	registry, err := c.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry for sync server: %w", err)
	}
	srv := syncapi.NewServer(registry, c.config.ServerHost, c.config.ServerPort, c.Logger())
	srv.SetupRouter(c.config)
	return srv, nil
}

// ServerIdentityConfig builds the serveridentity.Config used to unlock the
// server's own sync-client keybag, from whichever of password or KMS the
// environment configured. KMSCiphertext is left empty, so the KMS path
// fails with serveridentity.ErrKMSCiphertextNotSet.
func (c *Container) ServerIdentityConfig() serveridentity.Config {
	return serveridentity.Config{
		Password:    c.config.ServerKeyPassword,
		KMSProvider: c.config.KMSProvider,
		KMSKeyURI:   c.config.KMSKeyURI,
	}
}

// Shutdown tears down initialized resources in reverse dependency order,
// collecting and returning every error encountered rather than stopping at
// the first.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.syncServer != nil {
		if err := c.syncServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("sync server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.registry != nil {
		if err := c.registry.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("registry close: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}
	return nil
}
