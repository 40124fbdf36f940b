// Package app assembles the authorization server: configuration,
// storage, caches, services, HTTP wiring and lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parclabs/keygate/internal/auth/cache"
	httpapi "github.com/parclabs/keygate/internal/auth/http"
	"github.com/parclabs/keygate/internal/auth/service"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/internal/auth/store/drivers/postgres"
	"github.com/parclabs/keygate/internal/auth/store/drivers/sqlite"
	"github.com/parclabs/keygate/pkg/cryptox"
	"github.com/parclabs/keygate/pkg/jwtx"
	"github.com/parclabs/keygate/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the authorization server with all its
// dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db    store.Store
	cache cache.Client
	keys  *jwtx.KeySet

	// Services
	authenticator       *service.ClientAuthenticator
	dpopService         *service.DPoPService
	tokenService        *service.TokenService
	deviceService       *service.DeviceService
	parService          *service.PARService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg:    cfg,
		logger: slogx.New(cfg.LogFormat, cfg.LogLevel),
	}

	if err := app.loadPepper(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initCache(); err != nil {
		return nil, err
	}

	keys, err := InitSigningKeys(app.cfg, app.logger)
	if err != nil {
		return nil, err
	}
	app.keys = keys

	app.initServices()

	if err := app.seedClient(ctx); err != nil {
		return nil, err
	}

	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("authorization server starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authorization server...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.cache.Close(); err != nil {
		app.logger.Error("error closing cache", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authorization server stopped")
	return nil
}

// loadPepper reads the secret hashing pepper, when configured.
func (app *Application) loadPepper() error {
	if app.cfg.PepperFile == "" {
		return nil
	}
	data, err := os.ReadFile(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to read pepper file: %w", err)
	}
	cryptox.SetPepper(strings.TrimSpace(string(data)))
	return nil
}

// initDatabase opens the configured store and applies migrations.
func (app *Application) initDatabase(ctx context.Context) error {
	switch app.cfg.DatabaseDriver {
	case "postgres":
		db, err := postgres.NewStore(ctx, app.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.db = db

	case "sqlite":
		fallthrough
	default:
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.db = db
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.DatabaseDriver)
	return nil
}

// initCache opens the replay/nonce cache backend.
func (app *Application) initCache() error {
	switch app.cfg.CacheDriver {
	case "redis":
		c, err := cache.NewRedis(app.cfg.RedisAddr, app.cfg.RedisPassword, app.cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.cache = c
		app.logger.Info("redis replay cache connected", "addr", app.cfg.RedisAddr)

	case "memory":
		fallthrough
	default:
		app.cache = cache.NewMemory()
	}
	return nil
}

// initServices initializes all business logic services.
func (app *Application) initServices() {
	app.authenticator = &service.ClientAuthenticator{
		Store: app.db,
		Cache: app.cache,
		Audiences: []string{
			app.cfg.Issuer,
			app.cfg.Issuer + "/v1/oauth2/token",
		},
		AssertionMaxAge: app.cfg.AssertionMaxAge,
		ClockSkew:       app.cfg.ClockSkew,
	}

	app.dpopService = &service.DPoPService{
		Cache:         app.cache,
		ProofLifetime: app.cfg.DPoPProofLifetime,
		ClockSkew:     app.cfg.ClockSkew,
		RequireNonce:  app.cfg.DPoPRequireNonce,
		NonceTTL:      app.cfg.DPoPNonceTTL,
	}

	app.tokenService = &service.TokenService{
		Store:            app.db,
		KeySet:           app.keys,
		Issuer:           app.cfg.Issuer,
		DefaultAccessTTL: app.cfg.AccessTokenTTL,
	}

	app.deviceService = &service.DeviceService{
		Store:           app.db,
		VerificationURI: app.cfg.DeviceVerificationURI,
		DefaultTTL:      app.cfg.DeviceCodeTTL,
		PollInterval:    app.cfg.DevicePollInterval,
	}

	app.parService = &service.PARService{
		Store:      app.db,
		RequestTTL: app.cfg.PARRequestTTL,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.HousekeepingGrace,
	)
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keys,
		BuildVersion,
		app.db,
		app.cache,
		app.logger,
	)

	// Wire services to router
	router.Authenticator = app.authenticator
	router.DPoPService = app.dpopService
	router.TokenService = app.tokenService
	router.DeviceService = app.deviceService
	router.PARService = app.parService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
