// Tianguis - escrow and unified transaction ledger for a second-hand marketplace
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/tianguisdev/tianguis/internal/config"
	"github.com/tianguisdev/tianguis/internal/logging"
	"github.com/tianguisdev/tianguis/internal/server"
)

// set by ldflags at release build time
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// Bootstrap logger; the server rebuilds one from config.
	logger := logging.New("info", "text")
	logger.Info("starting tianguis", "version", version, "commit", commit, "build_time", buildTime)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "failed to load config", err)
	}
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"window_hours", cfg.WindowHours,
		"sweep_interval_minutes", cfg.SweepInterval,
	)

	srv, err := server.New(cfg)
	if err != nil {
		fatal(logger, "failed to create server", err)
	}
	if err := srv.Run(context.Background()); err != nil {
		fatal(logger, "server error", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
