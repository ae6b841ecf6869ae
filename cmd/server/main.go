// @title           Operations Console API
// @version         1.0.0
// @description     Accounts, role-based access control and the activity audit trail of the operations console
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health and readiness probes. Prometheus metrics are served on a dedicated side port (default 9090, OPS_TELEMETRY_METRICS_PROMETHEUS_PORT) and are not part of this API.

// Package main is the entry point for the operations console server binary.
// It dispatches four subcommands (serve, migrate, create-admin, version) via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place. The serve
// command runs migrations on startup so freshly deployed containers never need a separate
// migration step.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/opsconsole/opsconsole/internal/api"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	api.Version = version

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "create-admin":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: %s create-admin <email> <name>", os.Args[0])
		}
		return createAdmin(cfg, os.Args[2], strings.Join(os.Args[3:], " "))
	case "version":
		fmt.Printf("Operations Console v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, create-admin, version", command)
	}
}

func serve(cfg *config.Config, configPath string) error {
	// Initialise the structured logger first so all later output uses the configured format
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fails outside dev mode when OPS_JWT_SECRET is not set
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	if err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
	}); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"user", cfg.Database.User, "dbname", cfg.Database.Name, "sslmode", cfg.Database.SSLMode)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	telemetry.StartDBStatsCollector(ctx, database)

	slog.Info("running database migrations")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		defer client.Close()
		rdb = client
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// Metrics live on a dedicated port so the scrape path is not reachable through the
	// public API ingress.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices, err := api.NewRouter(cfg, database, rdb)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"tls", cfg.Security.TLS.Enabled,
			"verification_store", cfg.Verification.Store)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		bgServices.Shutdown()
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop rate limiter goroutines and flush activity shippers after requests have drained
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// createAdmin bootstraps an active administrator account. Administrators are the only
// accounts that can create or activate others, so a fresh installation needs one created
// out of band. The temporary password is printed once and must be changed at first login.
func createAdmin(cfg *config.Config, email, name string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()
	users := repositories.NewUserRepository(database)
	recorder := audit.NewRecorder(repositories.NewActivityRepository(database))

	password, err := auth.GenerateTempPassword(cfg.Auth.TempPasswordLength)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	user := &models.User{
		Email:              strings.ToLower(strings.TrimSpace(email)),
		Name:               strings.TrimSpace(name),
		IsActive:           true,
		IsAdmin:            true,
		MustChangePassword: true,
		PasswordHash:       hash,
	}
	if err := users.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create administrator: %w", err)
	}

	if _, err := recorder.Record(ctx, audit.RecordInput{
		Module:      "users",
		EntityType:  "user",
		EntityID:    &user.ID,
		Action:      audit.ActionCreate,
		Description: audit.Describe(nil, "created administrator "+user.DisplayName()),
	}); err != nil {
		return err
	}

	separator := strings.Repeat("=", 66)
	fmt.Println(separator)
	fmt.Printf("  Administrator created: %s (id %d)\n", user.Email, user.ID)
	fmt.Printf("  Temporary password:    %s\n", password)
	fmt.Println("  The password must be changed at first login.")
	fmt.Println(separator)
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}
