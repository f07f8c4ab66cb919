package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/matric-platform/secretbroker/internal/broker/http"
	"github.com/matric-platform/secretbroker/internal/broker/service"
	"github.com/matric-platform/secretbroker/internal/broker/store"
	"github.com/matric-platform/secretbroker/internal/broker/store/drivers/sqlite"
	"github.com/matric-platform/secretbroker/pkg/brokersdk"
	"github.com/matric-platform/secretbroker/pkg/cryptox"
	"github.com/matric-platform/secretbroker/pkg/keycloak"
	"github.com/matric-platform/secretbroker/pkg/slogx"
	"github.com/matric-platform/secretbroker/pkg/vaultkv"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the broker sidecar with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db     store.Store
	broker *brokersdk.Broker

	// Services
	auditService        *service.AuditService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "secret-broker",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Audit storage first, the broker records into it from the start
	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initServices()

	if err := app.initBroker(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	// Acquire the first token before accepting traffic. A failure here is
	// logged but not fatal: the upstreams may simply not be up yet, and
	// readiness stays degraded until a refresh succeeds.
	warmCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := app.broker.Refresh(warmCtx); err != nil {
		app.logger.Warn("initial token acquisition failed, will retry on demand", "error", err)
	}
	cancel()

	app.logger.Info("secret broker starting",
		"port", app.cfg.Port,
		"tenant_id", app.cfg.TenantID,
		"version", BuildVersion,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down secret broker...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("secret broker stopped")
	return nil
}

// initDatabase initializes the audit database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes the audit and housekeeping services
func (app *Application) initServices() {
	app.auditService = &service.AuditService{
		Store:  app.db,
		Logger: app.logger,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.AuditRetention,
	)
}

// initBroker builds the credential broker from configuration
func (app *Application) initBroker() error {
	var sealer *cryptox.Sealer
	if app.cfg.TokenCacheFile != "" {
		s, err := cryptox.NewSealerFromFile(app.cfg.MasterKeyPath)
		if err != nil {
			return fmt.Errorf("failed to initialize token cache sealer: %w", err)
		}
		sealer = s
	}

	broker, err := brokersdk.New(brokersdk.Config{
		Identity: brokersdk.IdentityContext{
			TenantID: app.cfg.TenantID,
			UserID:   app.cfg.UserID,
		},
		Keycloak: keycloak.Config{
			URL:          app.cfg.KeycloakURL,
			Realm:        app.cfg.KeycloakRealm,
			ClientID:     app.cfg.ClientID,
			ClientSecret: app.cfg.ClientSecret,
			Scope:        app.cfg.Scope,
		},
		Vault: vaultkv.Config{
			URL:     app.cfg.VaultURL,
			JWTPath: app.cfg.VaultJWTPath,
			Role:    app.cfg.VaultRole,
		},
		RefreshMargin:           app.cfg.RefreshMargin,
		TenantClaim:             app.cfg.TenantClaim,
		DisableTenantClaimCheck: app.cfg.DisableTenantClaimCheck,
		CacheFile:               app.cfg.TokenCacheFile,
		Sealer:                  sealer,
		Recorder:                app.auditService,
		Logger:                  app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	app.broker = broker

	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	// Wire services to router
	router.Broker = app.broker
	router.AuditService = app.auditService
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
