// Command analyzer implements the lactra lactation analysis service.
//
// The analyzer fits Wood's lactation curve to milk-yield measurements and
// derives performance indicators (peak yield, time to peak, total period
// yield, persistency). It serves an HTTP API providing:
//   - POST /analyze - Fit a curve and derive KPIs for submitted observations
//   - GET /report/latest?animal=<id> - Retrieve the latest stored report
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Optionally, a herd sync loop periodically pulls each configured animal's
// test-day records from a herd-management API and refreshes its report.
//
// Usage:
//
//	analyzer \
//	  -listen=:8084 \
//	  -storage=redis -redis-addr=redis:6379 \
//	  -period-days=305 \
//	  -herd-api-url='https://herd.example.com/animals/{{.Animal}}/testdays' \
//	  -animals=cow-042,cow-107 \
//	  -sync-interval=6h
//
// Environment variables mirror the flags: LISTEN, LOG_LEVEL, LOG_FORMAT,
// STORAGE, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_TTL, PERIOD_DAYS,
// HERD_API_URL, HERD_DAY_PATH, HERD_YIELD_PATH, HERD_TOKEN, HERD_TLS,
// ANIMALS, SYNC_INTERVAL, TLS_ENABLED, TLS_CERT_FILE, TLS_KEY_FILE,
// TLS_CA_FILE.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dairylab/lactra/cmd/analyzer/config"
	"github.com/dairylab/lactra/cmd/analyzer/metrics"
	"github.com/dairylab/lactra/cmd/analyzer/router"
	"github.com/dairylab/lactra/pkg/httpx"
	"github.com/dairylab/lactra/pkg/records"
	"github.com/dairylab/lactra/pkg/storage"
	lactratls "github.com/dairylab/lactra/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting lactra analyzer",
		"version", version,
		"storage", cfg.Storage,
		"period_days", cfg.PeriodDays,
	)

	store := newStore(cfg, logger)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	m := metrics.New()

	mux := router.SetupRoutes(store, cfg.PeriodDays, m, logger)
	handler := httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
	server := httpx.NewServer(cfg.Listen, handler, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.SyncEnabled() {
		source := &records.Client{
			URL:       cfg.HerdAPIURL,
			DayPath:   cfg.HerdDayPath,
			YieldPath: cfg.HerdYieldPath,
			Headers:   map[string]string{"Authorization": "Bearer {{.Token}}"},
			TemplateVars: map[string]string{
				"Token": cfg.HerdToken,
			},
		}
		if cfg.HerdToken == "" {
			source.Headers = nil
			source.TemplateVars = nil
		}
		if cfg.HerdTLS {
			clientTLS, err := lactratls.NewClientTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
			if err != nil {
				logger.Error("failed to build herd API client TLS config", "error", err)
				os.Exit(1)
			}
			source.HTTPClient = &http.Client{
				Timeout:   10 * time.Second,
				Transport: &http.Transport{TLSClientConfig: clientTLS},
			}
		}

		syncer := NewSyncer(source, store, cfg.Animals, cfg.PeriodDays, logger, m)
		go func() {
			if err := syncer.Run(ctx, cfg.SyncInterval); err != nil && ctx.Err() == nil {
				logger.Error("herd sync loop exited", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			tlsConfig, err := lactratls.NewServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
			if err != nil {
				errCh <- err
				return
			}
			server.SetTLSConfig(tlsConfig)
			errCh <- server.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := server.Stop(15 * time.Second); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			os.Exit(1)
		}
	}
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// newStore selects the report store backend.
func newStore(cfg *config.Config, logger *slog.Logger) storage.Store {
	switch cfg.Storage {
	case "redis":
		store, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("using redis report store", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
		return store
	default:
		logger.Info("using in-memory report store")
		return storage.NewMemoryStore()
	}
}
