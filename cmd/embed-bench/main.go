// Package main provides the embed-bench binary.
// It benchmarks embedding models for retrieval quality and encoding cost
// over a dataset of text/query pairs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/embedbench/embed-bench/internal/bench"
	"github.com/embedbench/embed-bench/internal/bus"
	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/dataset"
	"github.com/embedbench/embed-bench/internal/encode"
	apperrors "github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
	"github.com/embedbench/embed-bench/internal/report"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// .env is optional; a real environment variable always wins.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "embed-bench",
		Short: "Embed Bench - retrieval benchmark for embedding models",
		Long: `Embed Bench measures retrieval quality and encoding cost for a set of
embedding models over one dataset of text/query pairs.

Each model encodes the corpus and the queries, queries are ranked against
the corpus by dot-product similarity, and Recall@K plus MRR are computed
against the pair ordering. Encoding wall time, CPU use, and peak RSS are
recorded per phase.

Run 'embed-bench run' to execute a benchmark.
Run 'embed-bench --help' for available commands.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		runCmd(),
		historyCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(apperrors.ExitCode(err))
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark over all configured models",
		Long: `Run every configured model against the dataset, sequentially, and
print a report.

A model whose provider fails is reported as failed and the remaining
models still run. Bad input or configuration aborts the whole run.

Examples:
  embed-bench run -c bench.yaml                 # Models and dataset from config
  embed-bench run --dataset pairs.jsonl         # Override the dataset path
  embed-bench run --limit 500 --format json     # First 500 pairs, JSON report`,
		RunE: runBenchmark,
	}

	cmd.Flags().String("dataset", "", "dataset path (overrides config)")
	cmd.Flags().Int("limit", 0, "max dataset pairs, 0 = all (overrides config)")
	cmd.Flags().String("bus", "", "event bus type (memory, kafka; overrides config)")

	return cmd
}

func runBenchmark(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Override from flags
	if cmd.Flags().Changed("dataset") {
		cfg.Dataset.Path, _ = cmd.Flags().GetString("dataset")
	}
	if cmd.Flags().Changed("limit") {
		cfg.Dataset.Limit, _ = cmd.Flags().GetInt("limit")
	}
	if cmd.Flags().Changed("bus") {
		cfg.Bus.Type, _ = cmd.Flags().GetString("bus")
	}

	logLevel := cfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.Log.Format)

	log.Info("Starting benchmark",
		"version", version,
		"dataset", cfg.Dataset.Path,
		"models", len(cfg.Models),
	)

	ds, err := dataset.Load(cfg.Dataset.Path, cfg.Dataset.Limit)
	if err != nil {
		return err
	}

	eventBus, cleanup, err := buildBus(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	subscribeEventSink(ctx, eventBus, log)

	sampler, err := encode.NewSampler()
	if err != nil {
		return err
	}

	var history *bench.HistoryStore
	if cfg.History.Enabled {
		history, err = bench.NewHistoryStore(cfg.History)
		if err != nil {
			return err
		}
		defer func() { _ = history.Close() }()
		log.Info("Run history enabled", "redis_url", cfg.History.RedisURL)
	}

	encoder := encode.NewEncoder(cfg.Encode, sampler, eventBus, log)
	runner := bench.NewRunner(cfg, encoder, eventBus, history, log)

	result, err := runner.Run(ctx, ds)
	if err != nil {
		return err
	}

	return report.Render(os.Stdout, result, format)
}

// subscribeEventSink mirrors every lifecycle event into the debug log.
func subscribeEventSink(ctx context.Context, eventBus bus.Bus, log *logger.Logger) {
	topics := []string{
		bus.TopicRunStarted,
		bus.TopicRunFinished,
		bus.TopicModelStarted,
		bus.TopicModelFinished,
		bus.TopicEncodeProgress,
	}

	for _, topic := range topics {
		if err := eventBus.Subscribe(ctx, topic, func(_ context.Context, e bus.Event) error {
			log.Debug("Event", "topic", e.Type, "source", e.Source, "run_id", e.RunID)
			return nil
		}); err != nil {
			log.Warn("Failed to subscribe event sink", "topic", topic, "error", err.Error())
		}
	}
}

// buildBus constructs the event bus, wrapped with JSONL event logging
// when configured. The returned cleanup closes both.
func buildBus(cfg *config.Config, log *logger.Logger) (bus.Bus, func(), error) {
	innerBus, err := bus.NewBus(cfg.Bus)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Bus.EventLog == "" {
		return innerBus, func() { _ = innerBus.Close() }, nil
	}

	eventLogger, err := bus.NewEventLogger(cfg.Bus.EventLog, true)
	if err != nil {
		_ = innerBus.Close()
		return nil, nil, err
	}
	log.Info("Event logging enabled", "path", cfg.Bus.EventLog)

	// LoggedBus.Close also closes the event logger.
	loggedBus := bus.NewLoggedBus(innerBus, eventLogger, log)

	return loggedBus, func() { _ = loggedBus.Close() }, nil
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent benchmark runs",
		Long: `List recent runs from the Redis history store, newest first.

Requires history to be enabled in the config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			format, _ := cmd.Flags().GetString("format")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if !cfg.History.Enabled {
				return apperrors.ConfigError("run history is not enabled; set history.enabled in the config")
			}

			history, err := bench.NewHistoryStore(cfg.History)
			if err != nil {
				return err
			}
			defer func() { _ = history.Close() }()

			reports, err := history.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			return report.RenderHistory(os.Stdout, reports, format)
		},
	}

	cmd.Flags().Int("limit", 10, "max runs to show")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("embed-bench %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
