// Command server runs the anomaly analytics REST API.
//
// Configuration comes from an optional YAML file (-config, default ANOMALY_CONFIG) overlaid by
// ANOMALY_* environment variables. The process shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/config"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/tracing"
	"github.com/ryuu1kyou/anomaly-analytics/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "anomaly-analytics: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("ANOMALY_CONFIG"), "path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := config.NewManager(*configPath)
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return err
	}
	cfg := mgr.Get(ctx)

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	endpoint := ""
	if cfg.Tracing.Enabled {
		endpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(cfg.Tracing.ServiceName, endpoint, cfg.Tracing.SamplingRate)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	srv, err := server.NewServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	updates := mgr.Watch(ctx)
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case next := <-updates:
			srv.ApplyConfig(next)
		}
	}
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", zap.Error(err))
	}
	log.Info("server exited gracefully")
	return nil
}
