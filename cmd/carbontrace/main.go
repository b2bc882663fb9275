package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"carbontrace/internal/archive"
	"carbontrace/internal/cache"
	"carbontrace/internal/config"
	"carbontrace/internal/ledger"
	"carbontrace/internal/normalize"
	"carbontrace/internal/output"
	"carbontrace/internal/runner"
	"carbontrace/internal/xbrl"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "carbontrace",
	Short: "carbontrace - regulatory ESG/finance filing ETL",
	Long: `carbontrace ingests regulatory financial/ESG disclosure filings,
extracts a curated vocabulary of reported facts, and materializes them as
CSV, Parquet and Excel tables plus a JSON run manifest.

Pipeline per source: fetch (cached) -> resolve instance document ->
load fact graph -> filter & normalize. A failing source becomes a single
error row; it never aborts the run.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes the full acquisition-and-normalization pipeline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch all declared sources and materialize the fact table",
	Long: `Processes every source in the source list, strictly one at a time
and in declaration order:

  1. Fetch:      download into the cache (skipped when already cached)
  2. Resolve:    select the instance document out of the artifact
  3. Load:       parse the fact graph
  4. Normalize:  filter facts against the concept vocabulary

All rows, including one error row per failed source, land in the same
table, written as CSV, Parquet and Excel with a manifest describing
the run.`,
	RunE: runPipeline,
}

// sourcesCmd prints the parsed source list
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the declared source URLs",
	RunE:  listSources,
}

// historyCmd prints recent runs from the ledger
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs recorded in the ledger",
	RunE:  showHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default "+config.DefaultPath+" when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	historyCmd.Flags().IntP("limit", "n", 10, "number of runs to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(historyCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return err
	}

	sources, err := readSources(cfg)
	if err != nil {
		return err
	}
	logger.Info("run starting",
		zap.Int("sources", len(sources)),
		zap.String("cache_dir", cfg.Paths.CacheDir),
		zap.String("out_dir", cfg.Paths.OutDir))

	store, err := cache.New(cfg.Paths.CacheDir, cfg.HTTP.TimeoutDuration(), cfg.HTTP.UserAgent, logger)
	if err != nil {
		return err
	}
	vocab := normalize.DefaultVocabulary()
	vocab.Extend(cfg.Vocabulary.ExtraConcepts, cfg.Vocabulary.ExtraKeywords)

	r := runner.New(
		store,
		archive.NewResolver(logger),
		xbrl.NewLoader(logger),
		normalize.New(vocab, logger),
		cfg.Run.SourceBudgetDuration(),
		logger,
	)

	start := time.Now()
	records, downloads := r.Run(cmd.Context(), sources)

	// Only materializer (and ledger-open) failures are fatal: the run
	// itself absorbs per-source errors as rows.
	manifest, err := output.NewMaterializer(cfg.Paths.OutDir, cfg.Run.Notes, logger).
		Materialize(records, downloads)
	if err != nil {
		return err
	}

	if cfg.Ledger.Enabled {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer l.Close()
		if err := l.Record(cmd.Context(), ledger.Entry{
			RunID:    uuid.NewString(),
			Version:  manifest.Version,
			Rows:     manifest.Rows,
			Duration: time.Since(start),
			OutDir:   cfg.Paths.OutDir,
		}); err != nil {
			return err
		}
	}

	fmt.Printf("run %s complete: %d rows, %d sources downloaded, outputs in %s\n",
		manifest.Version, manifest.Rows, len(downloads), cfg.Paths.OutDir)
	return nil
}

func listSources(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return err
	}
	sources, err := readSources(cfg)
	if err != nil {
		return err
	}
	for _, s := range sources {
		fmt.Println(s)
	}
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  rows=%-6d  took=%-10s  %s\n", e.Version, e.Rows, e.Duration, e.OutDir)
	}
	return nil
}

func readSources(cfg *config.Config) ([]string, error) {
	f, err := os.Open(cfg.Paths.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("open source list: %w", err)
	}
	defer f.Close()
	return runner.ParseSources(f)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
