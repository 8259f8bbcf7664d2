package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geodiff-tools/registry-replay/config"
	"github.com/geodiff-tools/registry-replay/journal"
	"github.com/geodiff-tools/registry-replay/metrics"
	"github.com/geodiff-tools/registry-replay/registry/anncsu"
	"github.com/geodiff-tools/registry-replay/replay"
	"github.com/geodiff-tools/registry-replay/report"
)

const (
	appliedSuffix = ".applied"
	failedSuffix  = ".failed"
	summarySuffix = ".summary.json"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory for geodiff reports and replay them",
	Long: `Polls the configured directory for report files on an interval and
replays each one. Processed reports are renamed with an .applied or
.failed suffix and get a summary document written next to them. Serves
prometheus metrics and a health check while running.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Watch.Dir == "" {
		return errors.New("watch directory not configured")
	}

	m := metrics.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		slog.Info("Starting metrics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	var jnl journal.Journal
	if cfg.Journal.Path != "" {
		jnl, err = journal.New(cfg.Journal.Path, m)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jnl.Close()
	}

	client, err := anncsu.New(cfg.Registry, m)
	if err != nil {
		return fmt.Errorf("build registry client: %w", err)
	}
	engine := replay.NewEngine(client, replayOptions(cfg), m)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Watching for reports", "dir", cfg.Watch.Dir, "interval", cfg.Watch.Interval)

	ticker := time.NewTicker(cfg.Watch.Interval)
	defer ticker.Stop()

	for {
		if err := sweep(ctx, cfg, engine, jnl, m); err != nil {
			slog.Error("Sweep failed", "error", err)
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			slog.Info("Shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server shutdown error", "error", err)
			}
			slog.Info("Watch shutdown complete")
			return nil
		}
	}
}

// sweep replays every pending report file in the watch directory.
func sweep(ctx context.Context, cfg *config.Config, engine *replay.Engine, jnl journal.Journal, m *metrics.Metrics) error {
	dirEntries, err := os.ReadDir(cfg.Watch.Dir)
	if err != nil {
		return fmt.Errorf("read watch dir: %w", err)
	}

	for _, de := range dirEntries {
		if de.IsDir() || !isPendingReport(de.Name()) {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := filepath.Join(cfg.Watch.Dir, de.Name())
		processReport(ctx, path, engine, jnl, m)
	}
	return nil
}

func isPendingReport(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, summarySuffix)
}

func processReport(ctx context.Context, path string, engine *replay.Engine, jnl journal.Journal, m *metrics.Metrics) {
	slog.Info("Processing report", "path", path)

	rep, err := report.Load(path)
	if err != nil {
		slog.Error("Report rejected", "path", path, "error", err)
		m.IncReplayRun(false)
		markProcessed(path, failedSuffix)
		return
	}

	start := time.Now()
	summary, err := engine.Run(ctx, rep)
	m.SetReplayDuration(time.Since(start))
	if err != nil {
		slog.Error("Replay failed", "path", path, "error", err)
		m.IncReplayRun(false)
		markProcessed(path, failedSuffix)
		return
	}
	m.IncReplayRun(summary.Failed == 0)

	if err := emitSummary(summary, path+summarySuffix); err != nil {
		slog.Error("Fail write summary", "path", path, "error", err)
	}

	if jnl != nil {
		if err := jnl.Append(ctx, newJournalEntry(rep, summary, path, start)); err != nil {
			slog.Warn("fail record run in journal", "error", err)
		}
	}

	suffix := appliedSuffix
	if summary.Failed > 0 {
		suffix = failedSuffix
	}
	markProcessed(path, suffix)

	slog.Info("Report processed",
		"path", path,
		"total", summary.Total,
		"applied", summary.Applied,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
}

// markProcessed renames the report so the next sweep skips it.
func markProcessed(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		slog.Error("Fail rename processed report", "path", path, "error", err)
	}
}
