// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"workspace-engine/internal/activation"
	"workspace-engine/internal/api"
	"workspace-engine/internal/config"
	"workspace-engine/internal/consumer"
	"workspace-engine/internal/lifecycle"
	"workspace-engine/internal/model"
	"workspace-engine/internal/monitor"
	"workspace-engine/internal/provider"
	"workspace-engine/internal/reconcile"
	"workspace-engine/internal/scope"
	"workspace-engine/internal/secret"
	"workspace-engine/internal/slug"
	"workspace-engine/internal/store"
	"workspace-engine/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	stores := store.New(dbpool)

	sealer, err := secret.NewSealer(cfg.TokenSealKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token sealer: %w", err)
	}
	filter := scope.NewFilter(cfg.AllowedScopes)
	allocator := slug.NewAllocator(stores.Workspaces, stores.SlugHistory,
		cfg.SlugRedirectTTL, cfg.SlugHistoryKeep, logger)

	tokenSource := &provider.StaticInstallationTokenSource{Token: cfg.GithubToken}
	credentials := provider.NewCredentials(sealer, tokenSource)
	resolver := provider.NewResolver(credentials, cfg.GitlabBaseURL, logger)
	enumerator := provider.NewEnumerator(tokenSource, logger)

	clientFactory := func(ctx context.Context, w *model.Workspace) (syncer.ProviderClient, error) {
		token, err := credentials.TokenFor(ctx, w)
		if err != nil {
			return nil, err
		}
		switch w.ProviderMode {
		case model.ModePATOrg, model.ModeGithubAppInstallation:
			return provider.NewGitHubClient(token, logger), nil
		case model.ModeGitlabPAT:
			return provider.NewGitLabClient(token, cfg.GitlabBaseURL, logger)
		default:
			return nil, fmt.Errorf("unknown provider mode %q", w.ProviderMode)
		}
	}

	engine := syncer.NewEngine(stores.DB, stores.Workspaces, stores.Monitors,
		stores.Repositories, filter, clientFactory, cfg.DefaultSyncSinceTime, logger)
	consumers := consumer.NewInProcessController(stores.Monitors, logger)
	registry := monitor.NewRegistry(stores.DB, stores.Workspaces, stores.Monitors,
		stores.Repositories, resolver, consumers, engine, logger)
	reconciler := reconcile.NewReconciler(stores.DB, stores.Workspaces, stores.Users,
		allocator, stores.Monitors, stores.Repositories, consumers, logger)
	guard := lifecycle.NewGuard(stores.Workspaces, consumers, engine, logger)
	orchestrator := activation.NewOrchestrator(stores.Workspaces, stores.Monitors, filter,
		engine, consumers, cfg.ActivationConcurrency, cfg.ActivationTimeout, logger)

	// 6. Activate all eligible workspaces and keep installations fresh
	if err := orchestrator.ActivateAll(ctx); err != nil {
		logger.Error("Initial activation pass failed", "error", err)
	}
	go refreshInstallations(ctx, stores, enumerator, registry, cfg.SyncInterval, logger)

	// 7. Serve the API
	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(stores.Workspaces, guard, registry, allocator,
			orchestrator, reconciler, logger),
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// 8. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	<-ctx.Done()
	logger.Info("Shutdown signal received. Exiting.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// refreshInstallations periodically re-enumerates every installation-linked
// workspace and reconciles its monitor set against the grant. Mid-backfill
// monitors are protected from removal.
func refreshInstallations(ctx context.Context, stores *store.Stores, enumerator *provider.Enumerator,
	registry *monitor.Registry, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		workspaces, err := stores.Workspaces.List(ctx)
		if err != nil {
			logger.Error("Failed to list workspaces for installation refresh", "error", err)
			continue
		}
		for _, w := range workspaces {
			if w.InstallationID == nil || w.Status != model.StatusActive {
				continue
			}
			snapshot, err := enumerator.ListInstallationRepositories(ctx, *w.InstallationID)
			if err != nil {
				logger.Error("Installation enumeration failed",
					"workspace", w.Slug, "installation_id", *w.InstallationID, "error", err)
				continue
			}
			protected, err := midBackfillMonitors(ctx, stores, w.ID)
			if err != nil {
				logger.Error("Failed to collect protected monitors", "workspace", w.Slug, "error", err)
				continue
			}
			err = registry.EnsureInstallationRepositories(ctx, *w.InstallationID, snapshot, protected, true)
			if err != nil {
				logger.Error("Installation reconciliation failed", "workspace", w.Slug, "error", err)
			}
		}
	}
}

// midBackfillMonitors returns the repositories whose backfill has started but
// not finished; those stay monitored even when absent from an enumeration.
func midBackfillMonitors(ctx context.Context, stores *store.Stores, workspaceID int64) ([]string, error) {
	monitors, err := stores.Monitors.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	var names []string
	for i := range monitors {
		m := &monitors[i]
		if m.BackfillInitialized() && !m.BackfillComplete() {
			names = append(names, m.NameWithOwner)
		}
	}
	return names, nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
