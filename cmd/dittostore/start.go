package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/gc"
	"github.com/marmos91/dittostore/pkg/hasher"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/marmos91/dittostore/pkg/server"
)

func runStart(args []string) error {
	fs := newFlagSet("start", "start [--config path]")
	configPath := fs.StringP("config", "c", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := setupLogging(cfg.Logging); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("DittoStore - file registry server")
	logger.Info("Log level: %s, format: %s", cfg.Logging.Level, cfg.Logging.Format)

	// ========================================================================
	// Step 1: Stores
	// ========================================================================

	alg, err := hasher.ParseAlgorithm(cfg.Hash.Algorithm)
	if err != nil {
		return err
	}

	staging, err := config.CreateContentStore(ctx, &cfg.Staging)
	if err != nil {
		return fmt.Errorf("staging store: %w", err)
	}
	logger.Info("Staging store: %s (%s)", staging.Root(), cfg.Staging.Type)

	permanent, err := config.CreateContentStore(ctx, &cfg.Permanent)
	if err != nil {
		return fmt.Errorf("permanent store: %w", err)
	}
	logger.Info("Permanent store: %s (%s)", permanent.Root(), cfg.Permanent.Type)

	snapshots, err := config.CreateSnapshotStore(ctx, &cfg.Metadata)
	if err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}
	logger.Info("Metadata store: %s", cfg.Metadata.Type)

	// ========================================================================
	// Step 2: Metrics and adapters
	// ========================================================================

	metricsResult := config.InitializeMetrics(cfg)

	adapters, err := config.CreateAdapters(cfg, metricsResult.TransferMetrics)
	if err != nil {
		_ = snapshots.Close()
		return err
	}

	srv := newServer(cfg, alg, staging, permanent, snapshots, metricsResult)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			_ = snapshots.Close()
			return err
		}
	}

	if metricsResult.Server != nil {
		metricsResult.Server.SetStatus(srv.Status)
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	// ========================================================================
	// Step 3: Serve until signalled
	// ========================================================================

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

func newServer(cfg *config.Config, alg hasher.Algorithm, staging, permanent content.Store, snapshots metadata.SnapshotStore, m *config.MetricsResult) *server.DittoServer {
	return server.New(server.Config{
		Staging:   staging,
		Permanent: permanent,
		Snapshots: snapshots,
		Algorithm: alg,
		Metrics:   m.TransferMetrics,
		Collector: gc.Config{
			Enabled:     cfg.Collector.Enabled,
			Interval:    cfg.Collector.Interval,
			IdleTimeout: cfg.Collector.IdleTimeout,
		},
		StopTimeout: cfg.Server.ShutdownTimeout,
	})
}

// setupLogging applies the logging section to the package logger.
func setupLogging(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("logging output: %w", err)
	}
	return nil
}
