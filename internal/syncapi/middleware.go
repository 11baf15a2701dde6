package syncapi

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

const sessionContextKey = "syncapi.username"

// loggerMiddleware logs each request's method, path, status and latency at
// Info level once the handler chain completes.
func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("sync api request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestid.Get(c)),
		)
	}
}

// authMiddleware validates the bearer session token against the tenant's
// authsession.Manager, storing the authenticated username in the gin
// context for handlers that need it.
func authMiddleware(registry Registry, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenant")

		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "bearer "
		if len(authHeader) <= len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
			handleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}
		token := authHeader[len(bearerPrefix):]

		manager, err := registry.AuthManager(c.Request.Context(), tenantID)
		if err != nil {
			handleErrorGin(c, err, logger)
			c.Abort()
			return
		}

		username, err := manager.ValidateToken(token)
		if err != nil {
			handleErrorGin(c, err, logger)
			c.Abort()
			return
		}

		c.Set(sessionContextKey, username)
		c.Next()
	}
}

// rateLimitMiddleware caps requests per client IP on the unauthenticated
// auth endpoints, mirroring the teacher's IP-based token rate limiter.
func rateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		limiter, ok := limiters[ip]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[ip] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			c.Abort()
			return
		}
		c.Next()
	}
}
