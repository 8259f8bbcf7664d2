package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/geodiff-tools/registry-replay/config"
	"github.com/geodiff-tools/registry-replay/journal"
	"github.com/geodiff-tools/registry-replay/metrics"
	"github.com/geodiff-tools/registry-replay/registry/anncsu"
	"github.com/geodiff-tools/registry-replay/replay"
	"github.com/geodiff-tools/registry-replay/report"
)

var (
	outputPath string
	dryRun     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <report>",
	Short: "Replay a geodiff report against the registry",
	Long: `Parses a geodiff report, given as a file path or inline JSON text,
and replays its changes against the remote address registry. The summary
document is written to stdout or --output. Exits 1 when any record failed
to apply.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write summary to file instead of stdout")
	replayCmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, make no registry calls")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dryRun {
		cfg.Replay.DryRun = true
	}

	rep, err := report.Load(args[0])
	if err != nil {
		return err
	}

	m := metrics.New()
	client, err := anncsu.New(cfg.Registry, m)
	if err != nil {
		return fmt.Errorf("build registry client: %w", err)
	}
	engine := replay.NewEngine(client, replayOptions(cfg), m)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	summary, err := engine.Run(ctx, rep)
	m.SetReplayDuration(time.Since(start))
	if err != nil {
		m.IncReplayRun(false)
		return err
	}
	m.IncReplayRun(summary.Failed == 0)

	if cfg.Journal.Path != "" {
		if err := appendJournal(ctx, cfg, m, rep, summary, args[0], start); err != nil {
			slog.Warn("fail record run in journal", "error", err)
		}
	}

	if err := emitSummary(summary, outputPath); err != nil {
		return err
	}

	slog.Info("Replay completed",
		"total", summary.Total,
		"applied", summary.Applied,
		"skipped", summary.Skipped,
		"failed", summary.Failed)

	if summary.Failed > 0 {
		stop()
		os.Exit(1)
	}
	return nil
}

func emitSummary(summary replay.Summary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func appendJournal(ctx context.Context, cfg *config.Config, m *metrics.Metrics, rep report.Report, summary replay.Summary, source string, start time.Time) error {
	jnl, err := journal.New(cfg.Journal.Path, m)
	if err != nil {
		return err
	}
	defer jnl.Close()
	return jnl.Append(ctx, newJournalEntry(rep, summary, source, start))
}

func newJournalEntry(rep report.Report, summary replay.Summary, fallbackSource string, start time.Time) journal.Entry {
	source := rep.Source
	if source == "" {
		source = fallbackSource
	}
	return journal.Entry{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: start.Unix(),
		Total:     summary.Total,
		Applied:   summary.Applied,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	}
}
