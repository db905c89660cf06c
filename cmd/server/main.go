// Package main is the entrypoint for the pmengine server and operator CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", apperr.Loggable(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pmengine",
		Short:         "Preventive maintenance decision and execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newScanCmd(),
		newCreateKeyCmd(),
	)
	return root
}

// parseLevel maps a configured level name to a slog level. Unknown names
// fall back to info; config validation rejects them earlier.
func parseLevel(name string) slog.Level {
	switch name {
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

// setupLogging installs the JSON logger for the loaded config. When a log
// file is configured, output is teed to a size-rotated file.
func setupLogging(base io.Writer, cfg config.LogConfig) io.Closer {
	out := base
	var closer io.Closer = io.NopCloser(nil)

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(base, rotator)
		closer = rotator
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}))
	slog.SetDefault(logger.With("service", "pmengine"))
	return closer
}

// loadConfig loads configuration and installs logging for a subcommand.
// Logs go to stderr so command output on stdout stays parseable.
func loadConfig(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, setupLogging(cmd.ErrOrStderr(), cfg.Log), nil
}
