package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oarkflow/vectorguard"
	"github.com/oarkflow/vectorguard/ingest"
	"github.com/oarkflow/vectorguard/server"
)

func main() {
	configPath := flag.String("config", getEnv("VECTORGUARD_CONFIG", ""), "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := vectorguard.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr := os.Getenv("VECTORGUARD_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}

	logger := vectorguard.NewLogger(cfg.LogLevel)
	metrics := vectorguard.NewPrometheusMetrics("vectorguard")

	var store vectorguard.VerdictStore = vectorguard.NewInMemoryVerdictStore(0)
	if cfg.Store.Path != "" {
		sqlite, err := vectorguard.OpenSQLiteVerdictStore(cfg.Store.Path)
		if err != nil {
			return err
		}
		store = sqlite
	}
	defer store.Close()

	engine, err := vectorguard.NewEngine(cfg,
		vectorguard.WithLogger(logger),
		vectorguard.WithMetrics(metrics),
		vectorguard.WithStore(store),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if configPath != "" {
		watcher, err := vectorguard.WatchConfig(configPath, engine.ApplyConfig, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", map[string]any{"error": err})
		} else {
			defer watcher.Close()
		}
	}

	if cfg.NATS.URL != "" {
		nc, err := ingest.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		sub := ingest.NewSubscriber(nc, engine, cfg.NATS, logger)
		if err := sub.Start(); err != nil {
			return err
		}
		defer sub.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go housekeeping(ctx, engine, store, cfg.Store.Retention, logger)

	srv := server.New(engine, server.Options{Metrics: metrics.Handler(), Logger: logger})
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down", nil)
		if err := srv.Shutdown(); err != nil {
			logger.Error("error shutting down server", map[string]any{"error": err})
		}
		return nil
	}
}

type pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// housekeeping expires ledger entries, trims persisted history and publishes gauges.
func housekeeping(ctx context.Context, engine *vectorguard.Engine, store vectorguard.VerdictStore, retention time.Duration, logger vectorguard.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := engine.Ledger().Cleanup()
			engine.ReportSources()
			if p, ok := store.(pruner); ok && retention > 0 {
				if _, err := p.Prune(ctx, time.Now().Add(-retention)); err != nil {
					logger.Warn("verdict history prune failed", map[string]any{"error": err})
				}
			}
			if removed > 0 {
				logger.Debug("ledger cleanup", map[string]any{"removed": removed})
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
