// Councild is the strategic advisory daemon.
//
// It serves the HTTP API, runs the monthly review scheduler and, when
// Temporal is enabled, a worker for the cycle workflow.
//
// Usage:
//
//	councild                       # ~/.config/council/config.yaml + env
//	councild -config /etc/council/config.yaml
//	councild version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/config"
	"github.com/fyrsmithlabs/council/internal/logging"
	"github.com/fyrsmithlabs/council/internal/telemetry"
)

// Set via ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Printf("councild %s (commit %s, built %s)\n", version, gitCommit, buildDate)
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\nUsage:\n  councild [-config path]\n  councild version\n", args[0])
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("councild: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	tel, err := telemetry.New(ctx, telemetryConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting councild",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("temporal", cfg.Cycle.TemporalEnabled),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("similarity", cfg.Similarity.Enabled))

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	if err := app.start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := app.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	app.stop(logger)

	logger.Info("councild stopped")
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Fields["version"] = version
	return logging.New(lc, nil)
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Observability.EnableTelemetry
	tc.ServiceName = cfg.Observability.ServiceName
	tc.ServiceVersion = version
	tc.Endpoint = cfg.Observability.OTLPEndpoint
	tc.Protocol = cfg.Observability.OTLPProtocol
	tc.Insecure = cfg.Observability.OTLPInsecure
	tc.SampleRate = cfg.Observability.SampleRate
	tc.ShutdownTimeout = 5 * time.Second
	return tc
}
