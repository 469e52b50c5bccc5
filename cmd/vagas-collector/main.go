// Command vagas-collector drives the job-listing collection engine.
// Grounded on the teacher's cmd/webstalk/main.go — same cobra root/flag
// shape and graceful-shutdown-on-signal discipline, rewired from a
// generic crawl/search/ai-crawl command set onto the collection engine's
// single "collect" operation plus "config"/"version" introspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edukz/vagas-collector/internal/browserpool"
	"github.com/edukz/vagas-collector/internal/cache"
	"github.com/edukz/vagas-collector/internal/checkpoint"
	"github.com/edukz/vagas-collector/internal/collector"
	"github.com/edukz/vagas-collector/internal/config"
	"github.com/edukz/vagas-collector/internal/extractor"
	"github.com/edukz/vagas-collector/internal/jobrecord"
	"github.com/edukz/vagas-collector/internal/observability"
	"github.com/edukz/vagas-collector/internal/recorder"
	"github.com/edukz/vagas-collector/internal/storage"
)

var (
	cfgFile     string
	verbose     bool
	catalogPath string
	policy      string
	urlsPerRun  int
	forceFull   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vagas-collector",
		Short: "vagas-collector — incremental job-listing collection engine",
		Long: `vagas-collector harvests job listings from a fixed catalog of source
queries under a rate-limited, pooled headless browser, deduplicating
against a compressed on-disk cache and checkpointing progress per URL
so repeat runs only surface what changed.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(collectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func collectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection session against the catalog",
		RunE:  runCollect,
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "./data/catalog.json", "path to the catalog JSON file")
	cmd.Flags().StringVar(&policy, "policy", "", "diversity mode override (balanced, geographic, remote_only, professional, seniority, complete, custom, ml)")
	cmd.Flags().IntVar(&urlsPerRun, "urls", 0, "override urls_per_session (0 = use config)")
	cmd.Flags().BoolVar(&forceFull, "force-full", false, "bypass incremental checkpoints for this run")
	return cmd
}

func runCollect(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if policy != "" {
		cfg.Session.DiversityMode = policy
	}
	if urlsPerRun > 0 {
		cfg.Session.URLsPerSession = urlsPerRun
	}
	if forceFull {
		cfg.Session.ForceFull = true
	}

	catalog, err := jobrecord.LoadCatalog(catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if len(catalog) == 0 {
		return fmt.Errorf("catalog at %s is empty — seed it with at least one query URL", catalogPath)
	}

	cacheStore, err := cache.Open(cfg.Session.CacheDir, cfg.Session.CompressionLevel, cfg.Session.MaxSizeMB, logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer cacheStore.Close()

	checkpoints := checkpoint.New(cfg.Session.CheckpointDir, logger)
	rec := recorder.New(logger)
	ex := extractor.New(logger)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(logger)
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	engine, err := browserpool.NewRodEngine(cfg.Browser.Headless, logger, browserpool.WithStealth(), browserpool.WithCustomArgs(cfg.Browser.CustomArgs))
	if err != nil {
		return fmt.Errorf("launch browser engine: %w", err)
	}
	defer engine.Close()

	orch := collector.New(engine, catalog, cacheStore, checkpoints, rec, metrics, ex, logger)

	if cfg.Storage.Mongo.Enabled {
		mirror, err := storage.NewMongoMirror(cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database, cfg.Storage.Mongo.Collection, logger)
		if err != nil {
			return fmt.Errorf("connect mongo mirror: %w", err)
		}
		defer mirror.Close()
		orch = orch.WithMirror(mirror)
	}

	// §5's whole-run bound: maxPages × maxConcurrent × (pageLoadTimeout+1s),
	// so a session can't run indefinitely even absent a SIGINT/SIGTERM.
	ctx, cancel := context.WithTimeout(context.Background(), sessionDeadline(cfg))
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling in-flight session", "signal", sig)
		cancel()
	}()

	start := time.Now()
	result, err := orch.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("run session: %w", err)
	}
	elapsed := time.Since(start)

	for _, c := range catalog {
		if m, ok := result.PerURLMetrics[c.URL]; ok && m.Completed {
			recorder.ApplyBuckets(c, recorder.Observation{
				URL:       c.URL,
				Timestamp: result.FinishedAt,
				NewJobs:   m.New,
				TotalJobs: m.RecordsExtracted,
				Errors:    m.Errors,
			})
			c.PerformanceScore = rec.Score(c.URL)
		}
	}
	if err := jobrecord.SaveCatalog(catalogPath, catalog); err != nil {
		logger.Warn("failed to persist catalog stats", "error", err)
	}

	if err := persistSession(cfg.Session.ResultsDir, cfg.Session.MaxFilesPerType, result); err != nil {
		logger.Warn("failed to persist session result", "error", err)
	}

	logger.Info("session complete",
		"elapsed", elapsed,
		"new", len(result.New),
		"updated", len(result.Updated),
		"urls", len(result.PerURLMetrics),
	)
	fmt.Printf("Session complete in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  New:     %d\n", len(result.New))
	fmt.Printf("  Updated: %d\n", len(result.Updated))
	fmt.Printf("  URLs:    %d\n", len(result.PerURLMetrics))
	return nil
}

// sessionDeadline computes §5's whole-run upper bound: every URL's worker
// may take up to maxPages page loads, each bounded by pageLoadTimeout plus
// a 1s margin, and up to maxConcurrent such workers may be mid-flight at
// once without advancing the wall clock.
func sessionDeadline(cfg *config.Config) time.Duration {
	concurrent := cfg.Session.MaxConcurrent
	if concurrent < 1 {
		concurrent = 1
	}
	perPage := cfg.Session.PageLoadTimeout + time.Second
	return time.Duration(cfg.Session.MaxPages) * time.Duration(concurrent) * perPage
}

func persistSession(resultsDir string, maxFilesPerType int, result *collector.SessionResult) error {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return err
	}
	name := result.StartedAt.Format("2006-01-02-150405") + ".json"
	path := filepath.Join(resultsDir, name)
	data, err := marshalSession(result)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	return rotateOldSessions(resultsDir, maxFilesPerType)
}

func marshalSession(result *collector.SessionResult) ([]byte, error) {
	return json.MarshalIndent(result, "", "  ")
}

func rotateOldSessions(resultsDir string, maxFiles int) error {
	if maxFiles <= 0 {
		return nil
	}
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return err
	}
	if len(entries) <= maxFiles {
		return nil
	}
	// Entries are named by timestamp, so lexical order is chronological.
	excess := len(entries) - maxFiles
	for i := 0; i < excess; i++ {
		_ = os.Remove(filepath.Join(resultsDir, entries[i].Name()))
	}
	return nil
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Session:\n")
			fmt.Printf("  URLs per session:  %d\n", cfg.Session.URLsPerSession)
			fmt.Printf("  Max pages:         %d\n", cfg.Session.MaxPages)
			fmt.Printf("  Max concurrent:    %d\n", cfg.Session.MaxConcurrent)
			fmt.Printf("  Diversity mode:    %s\n", cfg.Session.DiversityMode)
			fmt.Printf("  Incremental:       %v\n", cfg.Session.EnableIncremental)
			fmt.Printf("  Dedup:             %v (similarity: %v)\n", cfg.Session.EnableDeduplication, cfg.Session.EnableSimilarityDedup)
			fmt.Printf("  Cache dir:         %s\n", cfg.Session.CacheDir)
			fmt.Printf("  Results dir:       %s\n", cfg.Session.ResultsDir)
			fmt.Printf("  Checkpoint dir:    %s\n", cfg.Session.CheckpointDir)
			fmt.Printf("\nLimiter:\n")
			fmt.Printf("  Requests/sec:      %.2f\n", cfg.Limiter.RequestsPerSecond)
			fmt.Printf("  Burst:             %d\n", cfg.Limiter.BurstLimit)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Headless:          %v\n", cfg.Browser.Headless)
			fmt.Printf("  Pool size:         %d-%d\n", cfg.Browser.MinPages, cfg.Browser.MaxPages)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vagas-collector %s\n", config.Version)
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
