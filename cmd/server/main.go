// Safepay - escrow and risk-screened payments over pluggable providers
package main

import (
	"context"
	"os"
	"time"

	"github.com/mbd888/safepay/internal/config"
	"github.com/mbd888/safepay/internal/logging"
	"github.com/mbd888/safepay/internal/server"
	"github.com/mbd888/safepay/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured one is available
	logger := logging.New("info", "text")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.LogFile != "" {
		fileLogger, closer := logging.NewWithFile(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
		defer func() { _ = closer.Close() }()
		logger = fileLogger
	} else {
		logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	logger.Info("starting safepay",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"provider", cfg.Provider,
	)

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
