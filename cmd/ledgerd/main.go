// Command ledgerd is the audit ledger daemon. It loads a YAML configuration
// file, opens the configured store (memory, SQLite, or PostgreSQL), starts
// the single-writer ledger, exposes the REST API over HTTP, and shuts down
// gracefully on SIGTERM or SIGINT, draining every accepted intent before
// exit.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/provance/ledger/internal/config"
	"github.com/provance/ledger/internal/ledger"
	"github.com/provance/ledger/internal/server/rest"
	"github.com/provance/ledger/internal/store"
	"github.com/provance/ledger/internal/store/memory"
	"github.com/provance/ledger/internal/store/postgres"
	"github.com/provance/ledger/internal/store/sqlite"
	"github.com/provance/ledger/internal/writer"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "/etc/ledgerd/ledgerd.yaml", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("ledgerd starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("storage_driver", cfg.Storage.Driver),
	)

	secret, err := cfg.LoadSecret()
	if err != nil {
		logger.Error("failed to load secret key", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()
	logger.Info("store ready", slog.String("driver", cfg.Storage.Driver))

	// ── Ledger ────────────────────────────────────────────────────────────────
	metrics := writer.NewMetrics()
	ldg, err := ledger.New(ledger.Options{
		GenesisHash:        cfg.GenesisHash,
		SecretKey:          secret,
		QueueCapacity:      cfg.QueueCapacity,
		LeaseDuration:      cfg.LeaseDuration.Std(),
		LeaseRenewInterval: cfg.LeaseRenewInterval.Std(),
		RetryAttempts:      cfg.RetryAttempts,
		RetryBase:          time.Duration(cfg.RetryBaseSeconds) * time.Second,
		LockResourceName:   cfg.LockResourceName,
		Logger:             logger,
		Metrics:            metrics,
	}, st)
	if err != nil {
		logger.Error("failed to construct ledger", slog.Any("error", err))
		os.Exit(1)
	}

	if err := ldg.Start(ctx); err != nil {
		// Typically lease-unavailable: another writer is active.
		logger.Error("failed to start ledger writer", slog.Any("error", err))
		os.Exit(1)
	}

	// ── REST API server ───────────────────────────────────────────────────────
	var pubKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = rest.ParseRSAPublicKey(pemBytes)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("jwt_public_key_path not configured; REST API authentication disabled (dev mode)")
	}

	restSrv := rest.NewServer(ldg)
	httpHandler := rest.NewRouter(restSrv, pubKey, metrics.Handler())

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── Start serving ─────────────────────────────────────────────────────────
	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP REST server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(httpErrCh)
	}()

	// ── Wait for shutdown signal or fatal error ───────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("HTTP server error", slog.Any("error", err))
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting HTTP requests first, then drain the ledger so every
	// intent accepted before the cutoff is sealed and persisted.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}
	if err := ldg.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ledger shutdown error", slog.Any("error", err))
	}

	logger.Info("ledgerd exited cleanly")
}

// openStore constructs the configured store implementation and returns it
// with its close function.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		s, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
