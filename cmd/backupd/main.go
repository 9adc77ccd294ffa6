package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rescuedata/platform/internal/checksum"
	"github.com/rescuedata/platform/internal/config"
	"github.com/rescuedata/platform/internal/core"
	"github.com/rescuedata/platform/internal/db"
	"github.com/rescuedata/platform/internal/dump"
	"github.com/rescuedata/platform/internal/logging"
	"github.com/rescuedata/platform/internal/metrics"
	"github.com/rescuedata/platform/internal/scheduler"
	"github.com/rescuedata/platform/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	metrics.RegisterPgxPoolMetrics(pool)

	verifier, err := checksum.NewVerifier(cfg.ChecksumAlgorithm)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid checksum configuration")
	}

	workspaces := workspace.NewManager(cfg.TempRoot, logger)
	dumper := dump.NewGenerator(pool, dump.NewPostgresDialect(pool))
	ledger := core.NewLedger(pool)
	backups := core.NewBackupService(pool, ledger, verifier, workspaces, dumper, cfg.BackupRoot, cfg.UploadsRoot, logger)
	cleanup := core.NewCleanupService(ledger, logger)

	// The retention scheduler runs only in production-like environments so
	// development and test runs see no background writes.
	sched := scheduler.New(backups, cleanup, logger)
	if cfg.IsProduction() {
		if err := sched.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start retention scheduler")
		}
		defer sched.Stop()
	} else {
		logger.Info().Str("environment", cfg.Environment).Msg("retention scheduler disabled")
	}

	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("metrics server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown failed")
	}
}
