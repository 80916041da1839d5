package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/galehq/gale/pkg/acl"
	"github.com/galehq/gale/pkg/api"
	"github.com/galehq/gale/pkg/auth"
	"github.com/galehq/gale/pkg/config"
	"github.com/galehq/gale/pkg/observability"
	"github.com/galehq/gale/pkg/provision"
)

func main() {
	seed := flag.Bool("seed", false, "Seed stock roles and fleet users before serving")
	reset := flag.Bool("reset", false, "Delete all stored users and roles before seeding (dev only)")
	layoutPath := flag.String("farm-layout", "", "YAML farm layout file for user seeding")
	seedOnly := flag.Bool("seed-only", false, "Run seeding and exit without serving")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.SetLevel(logrusLevel(cfg.Observability.LogLevel))

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize credential store: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		if db != nil {
			go pollDBStats(ctx, db, metrics, logger)
		}
	}

	vault := auth.NewVault(cfg.Auth.BcryptCost)
	compiler := acl.NewCompiler(store, logger, metrics)
	authenticator := auth.NewAuthenticator(store, vault, logger, metrics)

	issuer, err := auth.NewIssuer(store, compiler, auth.IssuerConfig{
		Secret:            cfg.Auth.SigningSecret,
		Algorithm:         cfg.Auth.SigningAlgorithm,
		DefaultTTLSeconds: cfg.Auth.DefaultTTLSeconds,
	}, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to configure token issuer: %v", err)
	}

	if *reset || *seed || *seedOnly {
		if err := runSeeding(ctx, cfg, store, vault, logger, log, *reset, *layoutPath); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		if *seedOnly {
			return
		}
	}

	server := api.NewServer(api.ServerOptions{
		Store:             store,
		Vault:             vault,
		Authenticator:     authenticator,
		Issuer:            issuer,
		Compiler:          compiler,
		Logger:            logger,
		Metrics:           metrics,
		Registry:          registry,
		DefaultTTLSeconds: cfg.Auth.DefaultTTLSeconds,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Auth node listening on %s", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Graceful shutdown failed: %v", err)
		}
	}
}

// openStore connects to Postgres when a URL is configured and falls back to
// the in-memory store otherwise. Migrations run on every start.
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (acl.CredentialStore, *sql.DB, error) {
	if cfg.Storage.PostgresURL == "" {
		log.Warn("GALE_POSTGRES_URL not set, using in-memory credential store")
		return acl.NewMemoryStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.Storage.PostgresMinConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := acl.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Connected to Postgres credential store")
	return acl.NewStore(db), db, nil
}

func runSeeding(ctx context.Context, cfg *config.Config, store acl.CredentialStore, vault *auth.Vault, logger *observability.Logger, log *logrus.Logger, reset bool, layoutPath string) error {
	if reset {
		resetter, ok := store.(interface{ Reset(context.Context) error })
		if !ok {
			return fmt.Errorf("store does not support reset")
		}
		if err := resetter.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset store: %w", err)
		}
		log.Warn("Credential store reset: all users and roles deleted")
	}

	if cfg.Auth.SeedPassword == "" {
		return fmt.Errorf("seeding requires GALE_SEED_PASSWORD")
	}

	layout := provision.DefaultLayout()
	if layoutPath != "" {
		loaded, err := provision.LoadLayout(layoutPath)
		if err != nil {
			return err
		}
		layout = loaded
	}

	seeder := provision.NewSeeder(store, vault, cfg.Auth.SeedPassword, logger)
	if err := seeder.SeedRoles(ctx); err != nil {
		return err
	}

	result, err := seeder.SeedUsers(ctx, layout.Farms)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"created": len(result.Created),
		"skipped": len(result.Skipped),
	}).Info("Seeding completed")
	return nil
}

// pollDBStats samples connection pool gauges every 15 seconds
func pollDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "db stats poller")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.CollectDBStats(stats.InUse, stats.Idle)
		}
	}
}

func logrusLevel(level observability.LogLevel) logrus.Level {
	switch level {
	case observability.DebugLevel:
		return logrus.DebugLevel
	case observability.WarnLevel:
		return logrus.WarnLevel
	case observability.ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
