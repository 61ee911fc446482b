package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/IshaanNene/catalogcrawl/internal/config"
	"github.com/IshaanNene/catalogcrawl/internal/engine"
	"github.com/IshaanNene/catalogcrawl/internal/fetcher"
	"github.com/IshaanNene/catalogcrawl/internal/observability"
	"github.com/IshaanNene/catalogcrawl/internal/pipeline"
	"github.com/IshaanNene/catalogcrawl/internal/router"
	"github.com/IshaanNene/catalogcrawl/internal/storage"
	"github.com/IshaanNene/catalogcrawl/internal/types"
)

var (
	cfgFile          string
	verbose          bool
	resume           bool
	maxItems         int64
	followPagination bool
	concurrent       int
	outputPath       string
	backends         string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "catalogcrawl",
		Short: "catalogcrawl crawls the forever21 catalog into per-color product records",
		Long: `catalogcrawl walks the forever21 storefront from the home page, main
categories, subcategories or single product pages and writes one record per
product color with sizes, availability, images, description and composition.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// crawlCmd creates the "crawl" subcommand.
func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [start-url...]",
		Short: "Crawl the catalog",
		Long: `Crawl from the given start URLs, or from site.start_urls when none are
given. The page kind of each URL is inferred from its path.`,
		RunE: runCrawl,
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the last checkpoint and append to existing output")
	cmd.Flags().Int64Var(&maxItems, "max-items", -1, "stop after this many records (0 = unlimited, -1 = config)")
	cmd.Flags().BoolVar(&followPagination, "follow-pagination", false, "crawl every listing page, not just the first")
	cmd.Flags().IntVarP(&concurrent, "concurrency", "n", 0, "number of concurrent workers (0 = config)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output directory")
	cmd.Flags().StringVarP(&backends, "format", "f", "", "comma-separated storage backends: json, jsonl, csv, mongo")

	return cmd
}

// runCrawl executes the crawl command.
func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	applyCLIOverrides(cmd, cfg, args)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seeds, err := cfg.Site.Seeds()
	if err != nil {
		return err
	}
	if len(seeds) == 0 && !resume {
		return errors.New("no start URLs: pass them as arguments or set site.start_urls")
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, logger)

	metrics := observability.NewMetrics(prometheus.NewRegistry(), logger)
	eng.SetMetrics(metrics)
	if cfg.Metrics.Enabled {
		metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path)
	}

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	eng.SetFetcher(httpFetcher)

	rt, err := router.New(router.Config{
		BaseURL:                  cfg.Site.BaseURL,
		VariantEndpoint:          cfg.Site.VariantEndpoint,
		Source:                   cfg.Site.Source,
		MaxSubcategoriesPerGroup: cfg.Site.MaxSubcategoriesPerGroup,
		MaxProductsPerPage:       cfg.Site.MaxProductsPerPage,
		FollowPagination:         cfg.Site.FollowPagination,
	}, eng.Counter(), logger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	eng.SetHandler(rt)

	pipe, err := pipeline.FromConfig(&cfg.Pipeline, logger)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	eng.SetPipeline(pipe)

	store, err := storage.New(&cfg.Storage, storage.Options{
		Resume: resume,
		Fields: cfg.Pipeline.OutputFields,
	}, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	eng.SetStorage(store)

	debug, err := storage.NewDebugSink(cfg.Storage.DebugPath, resume, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create debug sink: %w", err)
	}
	eng.SetFailureSink(debug)

	if resume {
		restored, err := eng.RestoreCheckpoint()
		if err != nil {
			logger.Warn("checkpoint not restored, starting fresh", "error", err)
		}
		// Output written after the last checkpoint still counts.
		if n := int64(store.Count()); n > eng.Counter().Count() {
			eng.Counter().Set(n)
		}
		logger.Info("resuming crawl", "checkpoint", restored, "stored_records", store.Count())
	}

	var seedsAdded int
	for _, seed := range seeds {
		if _, err := eng.AddSeed(seed.URL, seed.Label); err != nil {
			if !errors.Is(err, types.ErrDuplicate) {
				logger.Warn("seed skipped", "url", seed.URL, "reason", err)
			}
			continue
		}
		seedsAdded++
	}

	logger.Info("starting crawl",
		"seeds", seedsAdded,
		"concurrency", cfg.Engine.Concurrency,
		"max_items", cfg.Engine.MaxItems,
		"follow_pagination", cfg.Site.FollowPagination,
		"backends", cfg.Storage.Backends,
		"output", cfg.Storage.OutputPath,
	)

	go func() {
		<-ctx.Done()
		logger.Info("received signal, shutting down")
		eng.Stop()
	}()

	start := time.Now()
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	eng.Wait()

	elapsed := time.Since(start)
	stats := eng.Stats().Snapshot()

	fmt.Printf("\nCrawl finished in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("   Requests:  %v sent, %v failed, %v retried\n", stats["requests_sent"], stats["requests_failed"], stats["requests_retried"])
	fmt.Printf("   Records:   %v emitted, %v dropped, %v stored\n", stats["records_emitted"], stats["records_dropped"], stats["records_stored"])
	fmt.Printf("   Output:    %s\n", cfg.Storage.OutputPath)
	if debug.Count() > 0 {
		fmt.Printf("   Failures:  %d written to %s\n", debug.Count(), cfg.Storage.DebugPath)
	}

	return nil
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("catalogcrawl %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand, which prints the effective
// configuration as YAML.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

// setupLogger builds the slog logger described by the logging section.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config, args []string) {
	if len(args) > 0 {
		cfg.Site.StartURLs = cfg.Site.StartURLs[:0]
		for _, a := range args {
			cfg.Site.StartURLs = append(cfg.Site.StartURLs, config.StartURL{URL: a})
		}
	}
	if maxItems >= 0 {
		cfg.Engine.MaxItems = maxItems
	}
	if cmd.Flags().Changed("follow-pagination") {
		cfg.Site.FollowPagination = followPagination
	}
	if concurrent > 0 {
		cfg.Engine.Concurrency = concurrent
	}
	if outputPath != "" {
		cfg.Storage.OutputPath = outputPath
	}
	if backends != "" {
		var list []string
		for _, b := range strings.Split(backends, ",") {
			if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
				list = append(list, b)
			}
		}
		cfg.Storage.Backends = list
	}
}
