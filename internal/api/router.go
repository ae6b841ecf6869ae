// Package api wires together all HTTP routes for the operations console backend.
//
// Route grouping:
//   - /health and /ready are unauthenticated probes for the orchestrator.
//   - /api/v1/auth/{register,login,verification/*} are public but sit behind the stricter
//     auth rate limiter, since they are the endpoints credential stuffing targets.
//   - Everything else under /api/v1 requires a bearer token. Administrative routes add
//     RequireAdmin; module activity feeds are gated per module by the owning role.
//
// Every authorization gate re-reads the caller from the database, so a role change or a
// deactivation takes effect on the very next request.
package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/opsconsole/opsconsole/internal/api/admin"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
	"github.com/opsconsole/opsconsole/internal/storage"
	"github.com/opsconsole/opsconsole/internal/verification"

	// Import storage backends to register them
	_ "github.com/opsconsole/opsconsole/internal/storage/azure"
	_ "github.com/opsconsole/opsconsole/internal/storage/gcs"
	_ "github.com/opsconsole/opsconsole/internal/storage/local"
	_ "github.com/opsconsole/opsconsole/internal/storage/s3"
)

// Version is reported by /version. cmd/server overrides it at link time.
var Version = "dev"

// BackgroundServices holds resources that must be released during graceful shutdown.
// The caller (cmd/server) calls Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
	recorder     *audit.Recorder
	shipper      *audit.MultiShipper
}

// Shutdown stops the in-memory limiters, waits for in-flight activity shipping and then
// flushes the activity shippers
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.recorder != nil {
		bg.recorder.Wait()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("failed to close activity shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// track remembers l for Shutdown when it is a per-process limiter
func (bg *BackgroundServices) track(l middleware.Limiter) {
	if rl, ok := l.(*middleware.RateLimiter); ok {
		bg.rateLimiters = append(bg.rateLimiters, rl)
	}
}

// archiveEnabled reports whether any enabled shipper writes to object storage
func archiveEnabled(cfg *config.Config) bool {
	for _, s := range cfg.Audit.Shippers {
		if s.Enabled && s.Type == "object_storage" {
			return true
		}
	}
	return false
}

// newCodeStore selects the verification code store
func newCodeStore(cfg *config.Config, rdb redis.UniversalClient) (verification.CodeStore, error) {
	switch cfg.Verification.Store {
	case "redis":
		if rdb == nil {
			return nil, errors.New("verification.store=redis requires a redis client")
		}
		return verification.NewRedisStore(rdb), nil
	default:
		return verification.NewMemoryStore(nil), nil
	}
}

// NewRouter creates and configures the Gin router. rdb may be nil when Redis is disabled.
func NewRouter(cfg *config.Config, database *sql.DB, rdb redis.UniversalClient) (*gin.Engine, *BackgroundServices, error) {
	bg := &BackgroundServices{}

	var archive storage.Storage
	if archiveEnabled(cfg) {
		var err error
		archive, err = storage.NewStorage(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		slog.Info("initialized activity archive", "backend", cfg.Storage.Backend)
	}

	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers, archive)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize activity shippers: %w", err)
	}
	bg.shipper = shipper

	// Repositories
	userRepo := repositories.NewUserRepository(database)
	activityRepo := repositories.NewActivityRepository(database)
	grantRepo := repositories.NewRoleGrantRepository(db.Wrap(database))

	// Services
	var recorderOpts []audit.Option
	if shipper.Len() > 0 {
		recorderOpts = append(recorderOpts, audit.WithShipper(shipper))
	}
	recorder := audit.NewRecorder(activityRepo, recorderOpts...)
	bg.recorder = recorder
	accessService := services.NewAccessService(userRepo, grantRepo, recorder)
	userService := services.NewUserService(userRepo, recorder, &cfg.Auth)

	codeStore, err := newCodeStore(cfg, rdb)
	if err != nil {
		bg.Shutdown()
		return nil, nil, err
	}
	verifier := verification.NewService(codeStore,
		verification.LogSender{RevealCodes: gin.Mode() == gin.DebugMode}, cfg.Verification.CodeTTL)

	// Rate limiters
	var generalLimiter, authLimiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		generalLimiter, err = middleware.NewLimiter(cfg.Security.RateLimiting, rdb, "api", middleware.DefaultRateLimitConfig())
		if err != nil {
			bg.Shutdown()
			return nil, nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		bg.track(generalLimiter)

		// The auth limiter keeps its own strict budget; only the backend is shared.
		authCfg := config.RateLimitingConfig{Enabled: true, Backend: cfg.Security.RateLimiting.Backend}
		authLimiter, err = middleware.NewLimiter(authCfg, rdb, "auth", middleware.AuthRateLimitConfig())
		if err != nil {
			bg.Shutdown()
			return nil, nil, fmt.Errorf("failed to initialize auth rate limiter: %w", err)
		}
		bg.track(authLimiter)
	}
	limit := func(l middleware.Limiter) gin.HandlerFunc {
		if l == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(l)
	}

	// Handlers
	userHandlers := admin.NewUserHandlers(userService, accessService, userRepo)
	authHandlers := admin.NewAuthHandlers(userService, verifier)
	rbacHandlers := admin.NewRBACHandlers(accessService)
	activityHandlers := admin.NewActivityHandlers(recorder, accessService)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(database))
	router.GET("/ready", readinessHandler(database, archive))
	router.GET("/version", versionHandler())

	apiV1 := router.Group("/api/v1")
	{
		// Public authentication endpoints
		authGroup := apiV1.Group("/auth")
		authGroup.Use(limit(authLimiter))
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
			authGroup.POST("/verification/send", authHandlers.SendCodeHandler())
			authGroup.POST("/verification/verify", authHandlers.VerifyCodeHandler())
		}

		authenticated := apiV1.Group("")
		authenticated.Use(middleware.AuthMiddleware(userRepo))
		authenticated.Use(limit(generalLimiter))
		{
			authenticated.POST("/auth/logout", authHandlers.LogoutHandler())
			authenticated.POST("/auth/password", authHandlers.ChangePasswordHandler())
			authenticated.POST("/auth/refresh", authHandlers.RefreshHandler())
			authenticated.GET("/users/me", userHandlers.MeHandler())
			authenticated.GET("/roles", rbacHandlers.ListRoles)
			authenticated.GET("/access/check", rbacHandlers.CheckAccess)
			authenticated.GET("/activity/recent", activityHandlers.FeedGate(), activityHandlers.RecentActivity)

			adminGroup := authenticated.Group("")
			adminGroup.Use(middleware.RequireAdmin(accessService))
			{
				adminGroup.GET("/users", userHandlers.ListUsersHandler())
				adminGroup.POST("/users", userHandlers.CreateUserHandler())
				adminGroup.GET("/users/stats", userHandlers.UserStatsHandler())
				adminGroup.GET("/users/:id", userHandlers.GetUserHandler())
				adminGroup.PUT("/users/:id", userHandlers.UpdateUserHandler())
				adminGroup.PUT("/users/:id/role", userHandlers.AssignRoleHandler())
				adminGroup.POST("/users/:id/activate", userHandlers.ActivateUserHandler())
				adminGroup.POST("/users/:id/deactivate", userHandlers.DeactivateUserHandler())
				adminGroup.DELETE("/users/:id", userHandlers.DeleteUserHandler())
				adminGroup.GET("/roles/:role/users", userHandlers.UsersByRoleHandler())

				adminGroup.GET("/role-grants", rbacHandlers.ListGrants)
				adminGroup.PUT("/role-grants", rbacHandlers.UpsertGrant)
				adminGroup.GET("/role-grants/resolve", rbacHandlers.ResolveGrant)
			}
		}
	}

	return router, bg, nil
}

// @Summary      Health check
// @Description  Liveness probe. Returns 503 when the database cannot be reached.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. Unlike /health it also
// probes the activity archive when one is configured, since a broken archive would
// otherwise fail silently in the background.
func readinessHandler(db *sql.DB, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if archive != nil {
			// Exists on a sentinel key exercises credentials and connectivity without writing
			if _, err := archive.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "activity archive not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestIDFromContext(c.Request.Context())),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		if userID, ok := middleware.CurrentUserID(c); ok {
			attrs = append(attrs, slog.Int64("user_id", userID))
		}

		// The handler installed by telemetry.SetupLogger decides between JSON and text
		slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		wildcard := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowed, wildcard = true, true
				break
			}
			if allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			if wildcard {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				// Credentials may only be allowed for an explicitly listed origin
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Vary", "Origin")
			}
			methods := "GET, POST, PUT, DELETE, OPTIONS"
			if len(cfg.Security.CORS.AllowedMethods) > 0 {
				methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
