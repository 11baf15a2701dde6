package syncapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vaultmesh/vaultmesh/internal/config"
)

// Server is the HTTP front door for the sync wire protocol.
type Server struct {
	registry Registry
	server   *http.Server
	logger   *slog.Logger
	router   *gin.Engine
	reqGroup singleflight.Group
}

// NewServer constructs a Server bound to host:port, serving registry's
// tenants.
func NewServer(registry Registry, host string, port int, logger *slog.Logger) *Server {
	return &Server{
		registry: registry,
		logger:   logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter builds the Gin route tree: health/readiness outside
// versioning, then /{tenant}/auth/* and /{tenant}/sync/* per §6.1.
func (s *Server) SetupRouter(cfg *config.Config) {
	gin.SetMode(cfg.GetGinMode())
	router := gin.New()

	router.Use(gin.Recovery())

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(loggerMiddleware(s.logger))

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	h := &handlers{registry: s.registry, logger: s.logger, maxBodyBytes: cfg.SyncBatchPayloadBytes}

	var rateLimit gin.HandlerFunc
	if cfg.RateLimitEnabled {
		rateLimit = rateLimitMiddleware(cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst)
	}

	tenant := router.Group("/:tenant")
	{
		auth := tenant.Group("/auth")
		if rateLimit != nil {
			auth.Use(rateLimit)
		}
		auth.POST("/challenge", h.challengeHandler)
		auth.POST("/authenticate", h.authenticateHandler)

		sync := tenant.Group("/sync")
		sync.Use(authMiddleware(s.registry, s.logger))
		sync.POST("/findNewEntries", h.findNewEntriesHandler)
		sync.POST("/findNewEntriesForDoc", h.findNewEntriesForDocHandler)
		sync.POST("/getEntries", h.getEntriesHandler)
		sync.POST("/putEntries", h.putEntriesHandler)
		sync.POST("/hasEntries", h.hasEntriesHandler)
		sync.GET("/getAllIds", h.getAllIDsHandler)
		sync.POST("/resolveDependencies", h.resolveDependenciesHandler)
	}

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

// Start runs the HTTP server until it's shut down or fails to bind.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("router not initialized - call SetupRouter first")
	}
	s.server.Handler = s.router

	s.logger.Info("starting sync api server", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down sync api server")
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	v, _, _ := s.reqGroup.Do("health", func() (interface{}, error) {
		return gin.H{"status": "healthy"}, nil
	})
	c.JSON(http.StatusOK, v)
}

type readinessResult struct {
	statusCode int
	body       gin.H
}

func (s *Server) readinessHandler(c *gin.Context) {
	v, _, _ := s.reqGroup.Do("readiness", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status := "ok"
		httpStatus := http.StatusOK
		if err := s.registry.Ping(ctx); err != nil {
			s.logger.Error("readiness check failed", slog.Any("error", err))
			status = "error"
			httpStatus = http.StatusServiceUnavailable
		}

		return readinessResult{
			statusCode: httpStatus,
			body: gin.H{
				"status": map[int]string{
					http.StatusOK:                 "ready",
					http.StatusServiceUnavailable: "not_ready",
				}[httpStatus],
				"components": gin.H{"registry": status},
			},
		}, nil
	})

	res := v.(readinessResult)
	c.JSON(res.statusCode, res.body)
}

// createCORSMiddleware mirrors the teacher's origin parsing: disabled by
// default since this is a server-to-server sync API, opt in with a
// comma-separated allowlist.
func createCORSMiddleware(enabled bool, allowOriginsStr string, logger *slog.Logger) gin.HandlerFunc {
	if !enabled || allowOriginsStr == "" {
		return nil
	}

	origins := parseOrigins(allowOriginsStr)
	if len(origins) == 0 {
		return nil
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// parseOrigins parses a comma-separated origin list, trimming whitespace.
func parseOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
