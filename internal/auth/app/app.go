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

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	httpapi "github.com/notevault/auth/internal/auth/http"
	"github.com/notevault/auth/internal/auth/metrics"
	"github.com/notevault/auth/internal/auth/ratelimit"
	"github.com/notevault/auth/internal/auth/service"
	"github.com/notevault/auth/internal/auth/store"
	"github.com/notevault/auth/internal/auth/store/drivers/sqlite"
	"github.com/notevault/auth/pkg/cryptox"
	"github.com/notevault/auth/pkg/jwtx"
	"github.com/notevault/auth/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	keyStore *store.KeyStoreAdapter
	keychain *jwtx.KeyChain
	rdb      *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	tokenService        *service.TokenService
	sessionService      *service.SessionService
	authService         *service.AuthService
	housekeepingService *service.HousekeepingService

	scheduler *cron.Cron
	server    *http.Server
	router    *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			Release:          BuildVersion,
			AttachStacktrace: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	// Master key for encrypting private signing keys at rest.
	if cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyPath)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initKeys(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initRedis()

	app.registry = prometheus.NewRegistry()
	app.metrics = metrics.New(app.registry)

	app.initServices()
	app.initScheduler()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()
	app.scheduler.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

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
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	cronCtx := app.scheduler.Stop()
	<-cronCtx.Done()

	app.housekeepingService.Stop()

	if app.rdb != nil {
		if err := app.rdb.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if app.cfg.SentryDSN != "" {
		sentry.Flush(2 * time.Second)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations.
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

// initKeys loads the signing keys from the database, provisioning a fresh
// key pair on first boot.
func (app *Application) initKeys() error {
	app.keyStore = store.NewKeyStoreAdapter(app.db)

	kc, err := jwtx.NewKeyChain(context.Background(), jwtx.KeyChainOptions{
		Store:       app.keyStore,
		KidPrefix:   "notevault",
		RSABits:     app.cfg.RSABits,
		GracePeriod: app.cfg.KeyGracePeriod,
		Logger:      app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keychain = kc
	return nil
}

// initRedis connects the shared limiter store. Without an address the login
// limiter runs disabled, which is acceptable for local development only.
func (app *Application) initRedis() {
	if app.cfg.RedisAddr == "" {
		app.logger.Warn("REDIS_ADDR not set, login rate limiting disabled")
		return
	}

	app.rdb = redis.NewClient(&redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := app.rdb.Ping(ctx).Err(); err != nil {
		// The limiter fails open, so a slow redis shouldn't block boot.
		app.logger.Warn("redis ping failed at startup", "error", err)
	}
}

// initServices initializes all business logic services.
func (app *Application) initServices() {
	app.tokenService = service.NewTokenService(
		app.keychain,
		app.cfg.Issuer,
		app.cfg.Audience,
		app.cfg.AccessTokenTTL,
		app.cfg.RefreshTokenTTL,
	)

	app.sessionService = &service.SessionService{
		Store:      app.db,
		Tokens:     app.tokenService,
		Metrics:    app.metrics,
		SessionCap: app.cfg.SessionCap,
	}

	app.authService = &service.AuthService{
		Store:    app.db,
		Sessions: app.sessionService,
		Limiter:  ratelimit.New(app.rdb, app.logger),
		Metrics:  app.metrics,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.keychain,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initScheduler registers the periodic rotation check. The check runs daily
// and rotates only once the active key's age crosses the rotation interval,
// so restarts don't shorten key lifetimes.
func (app *Application) initScheduler() {
	app.scheduler = cron.New()

	if _, err := app.scheduler.AddFunc(app.cfg.RotationSchedule, app.rotateIfDue); err != nil {
		// Only reachable with a malformed schedule override.
		app.logger.Error("invalid rotation schedule, key rotation disabled",
			"schedule", app.cfg.RotationSchedule, "error", err)
	}
}

func (app *Application) rotateIfDue() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rec, err := app.keyStore.GetActiveSigningKey(ctx)
	if err != nil {
		app.logger.Error("rotation check: no active key", "error", err)
		return
	}

	age := time.Since(rec.CreatedAt)
	if age < app.cfg.KeyRotationInterval {
		return
	}

	signer, err := app.keychain.Rotate(ctx)
	if err != nil {
		app.logger.Error("scheduled key rotation failed", "error", err)
		sentry.CaptureException(err)
		return
	}

	app.metrics.KeyRotation()
	app.logger.Info("signing key rotated",
		"kid", signer.KID(),
		"previous_age", age.String(),
	)
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keychain,
		BuildVersion,
		app.db,
		app.registry,
		app.logger,
	)

	router.AuthService = app.authService
	router.TokenService = app.tokenService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
