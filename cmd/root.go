// Package cmd provides the CLI commands for the data agent.
//
// Commands:
//   - migrate: apply embedded database migrations
//   - seed: load curated knowledge from a YAML file
//   - search: run retrieval for a question and print the context block
//   - sql: validate and execute a read-only query through the guard
//   - introspect: describe a table from the live catalog
//   - version: show build information
//
// All data commands handle SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/da/internal/app"
	"github.com/koopa0/da/internal/config"
	"github.com/koopa0/da/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "da",
	Short: "da - retrieval and learning backend for the data analysis agent",
	Long: `da manages the retrieval-and-learning subsystem of a conversational
data analysis agent: a curated knowledge base, an accumulated learnings
collection, live schema introspection, and guarded read-only SQL execution.

Requires a PostgreSQL database with the pgvector extension and, for
commands that embed content, the GEMINI_API_KEY environment variable.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadEnvironment loads configuration and installs the process logger.
func loadEnvironment() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level:  parseLevel(cfg.LogLevel),
		JSON:   cfg.LogJSON,
		Pretty: cfg.LogPretty,
	})
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// setupApp builds the full application for commands that need the
// stores. Overrides derive a command-specific variant of the loaded
// configuration. The returned context is canceled on SIGINT/SIGTERM.
func setupApp(parent context.Context, overrides ...config.Override) (context.Context, *app.App, func(), error) {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return nil, nil, nil, err
	}

	if len(overrides) > 0 {
		cfg, err = cfg.Derive(overrides...)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("initializing application: %w", err)
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
		stop()
	}
	return ctx, a, cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
