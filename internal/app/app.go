// Package app wires the gateway's configuration, infrastructure, and domain
// packages together into a running process, in the shape of the teacher's
// own internal/app.Run: read config, connect to infrastructure, run
// migrations, then dispatch into the server loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/config"
	"github.com/nightgate/resourcegate/internal/decisionlog"
	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/httpserver"
	"github.com/nightgate/resourcegate/internal/kv"
	"github.com/nightgate/resourcegate/internal/pairing"
	"github.com/nightgate/resourcegate/internal/pipeline"
	"github.com/nightgate/resourcegate/internal/platform"
	"github.com/nightgate/resourcegate/internal/plugin"
	"github.com/nightgate/resourcegate/internal/policy"
	"github.com/nightgate/resourcegate/internal/pop"
	"github.com/nightgate/resourcegate/internal/repo/postgres"
	"github.com/nightgate/resourcegate/internal/telemetry"
	"github.com/nightgate/resourcegate/internal/vault"
	"github.com/nightgate/resourcegate/pkg/plugins/groq"
	"github.com/nightgate/resourcegate/pkg/plugins/slack"
)

// Run is the process entry point: it reads config, connects to
// infrastructure, and serves the gateway's HTTP API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting resourcegate", "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	v, err := vault.New(cfg.VaultMasterSecret)
	if err != nil {
		return fmt.Errorf("initializing vault: %w", err)
	}

	// Repo stores.
	apps := postgres.NewAppStore(db)
	credentials := postgres.NewCredentialStore(db)
	connectCodes := postgres.NewConnectCodeStore(db)
	installSessions := postgres.NewInstallSessionStore(db)
	permissions := postgres.NewPermissionStore(db)
	secrets := postgres.NewSecretStore(db)
	usage := postgres.NewUsageStore(db)

	kvStore := kv.New(rdb)

	authenticator := pop.NewAuthenticator(appLookup{apps: apps, credentials: credentials}, kvStore)

	pairingService := pairing.NewService(pairing.Stores{
		ConnectCodes:    connectCodes,
		InstallSessions: installSessions,
		Apps:            apps,
		Credentials:     credentials,
		Permissions:     permissions,
	}, cfg.GatewayURL)

	cleaner := pairing.NewCleaner(connectCodes, installSessions, apps, logger)
	go func() {
		if err := cleaner.Run(ctx); err != nil {
			logger.Error("pairing cleanup loop exited", "error", err)
		}
	}()

	policyEngine := policy.NewEngine(permissions, kvStore, usage, kvStore)

	registry := plugin.NewRegistry()
	groqPlugin := groq.New()
	if cfg.GroqBaseURL != "" {
		groqPlugin.WithBaseURL(cfg.GroqBaseURL)
	}
	registry.Register(groqPlugin)
	registry.Register(slack.New())

	decisions := decisionlog.NewWriter(db, logger)
	decisions.Start(ctx)
	defer decisions.Close()

	pl := pipeline.New(authenticator, permissions, policyEngine, registry, secrets, v, decisions, logger)

	adminHandlers := httpserver.NewAdminHandlers(pairingService, installSessions)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, adminHandlers, pl)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// appLookup adapts the separate app/credential stores into the combined
// lookup pop.Authenticator needs, since PoP verification always needs an
// app's active credentials alongside the app itself.
type appLookup struct {
	apps        *postgres.AppStore
	credentials *postgres.CredentialStore
}

func (l appLookup) GetByID(ctx context.Context, id string) (*domain.App, []domain.AppCredential, error) {
	appID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing app id: %w", err)
	}

	app, err := l.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, nil, err
	}

	creds, err := l.credentials.GetActiveByAppID(ctx, appID)
	if err != nil {
		return nil, nil, err
	}

	return app, creds, nil
}
