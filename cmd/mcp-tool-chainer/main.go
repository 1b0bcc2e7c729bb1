// Command mcp-tool-chainer is an MCP aggregator server: it serves the
// mcp_chain, chainable_tools, and discover_tools tools to an upstream MCP
// client over stdio while driving a configurable fleet of downstream MCP
// child processes.
//
// Usage:
//
//	mcp-tool-chainer [config.json]
//
// The positional argument is the path to an mcpServers JSON config file.
// When absent, the CONFIG_PATH environment variable is consulted; when that
// is empty too, the server starts in a degraded mode with an empty tool
// registry but a fully responsive upstream protocol.
//
// All logging goes to stderr: stdout carries the upstream MCP wire.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localSummer/mcp-tool-chainer/internal/app"
	"github.com/localSummer/mcp-tool-chainer/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	// ── Load configuration ──────────────────────────────────────────────
	configPath := flag.Arg(0)
	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mcp-tool-chainer: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// ── Logger ──────────────────────────────────────────────────────────
	var level config.LogLevel
	if cfg != nil {
		level = cfg.Settings.LogLevel
	}
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("mcp-tool-chainer starting",
		"config", configPath,
		"degraded", cfg == nil,
	)

	// ── Application wiring ──────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	runErr := application.Run(ctx)

	// ── Graceful shutdown ───────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the stderr text logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
