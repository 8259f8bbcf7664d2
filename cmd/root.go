package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/geodiff-tools/registry-replay/config"
	"github.com/geodiff-tools/registry-replay/internal/logger"
	"github.com/geodiff-tools/registry-replay/replay"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "registry-replay",
	Short: "Replay geodiff address changes against a remote registry",
	Long: `registry-replay consumes a geodiff report of inserted, updated and
deleted address records and replays those changes against a remote
address-registry API, with per-record failure isolation and a
machine-readable summary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(2)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to config file")
}

// loadConfig reads configuration and configures logging from it. Every
// command goes through here first.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)
	return cfg, nil
}

func replayOptions(cfg *config.Config) replay.Options {
	return replay.Options{
		Concurrency:    cfg.Replay.Concurrency,
		MaxAttempts:    cfg.Replay.MaxAttempts,
		RetryBaseDelay: cfg.Replay.RetryBaseDelay,
		RetryMaxDelay:  cfg.Replay.RetryMaxDelay,
		DryRun:         cfg.Replay.DryRun,
	}
}
