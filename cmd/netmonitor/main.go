// Entry point for the netmonitor daemon: per-process network sampling,
// tiered rollup, and the loopback stats API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"netmonitor/config"
	"netmonitor/daemon"
	"netmonitor/sampler"
	"netmonitor/store"
)

func main() {
	dataDir := env("NETMONITOR_DATA_DIR", "")

	// Logging first, at the default level; the config file may retune it
	// once loaded.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfgPath := filepath.Join(cfg.DataDir, "config.yaml")

	loaded, err := config.LoadFile(cfgPath)
	if err != nil {
		logger.Error("invalid configuration", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if dataDir != "" {
		loaded.DataDir = dataDir
	}
	cfg = loaded

	lvl, _ := config.ParseLevel(cfg.LogLevel)
	level.Set(lvl)

	if err := os.MkdirAll(cfg.LogDir(), 0o700); err != nil {
		logger.Error("create data directory", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		logger.Error("open store", "path", cfg.DBPath(), "error", err)
		os.Exit(1)
	}

	manager := config.NewManager(cfgPath, cfg, level)
	d := daemon.New(logger, manager, st, sampler.NettopSource{}, clockwork.NewRealClock())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		st.Close()
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	if err := d.Stop(); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
