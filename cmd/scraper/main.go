package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-mobiles/config"
	"github.com/aluiziolira/go-scrape-mobiles/models"
	"github.com/aluiziolira/go-scrape-mobiles/parser"
	"github.com/aluiziolira/go-scrape-mobiles/pipeline"
	"github.com/aluiziolira/go-scrape-mobiles/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := loadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		return 2
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	var (
		fetcher  pipeline.Fetcher
		recorder *scraper.Metrics
	)
	if cfg.InputFile == "" {
		s, err := scraper.NewScraper(cfg)
		if err != nil {
			slog.Error("initialising scraper", slog.Any("error", err))
			return 1
		}
		fetcher = s
		recorder = s.Metrics
	} else {
		recorder = scraper.NewMetrics()
	}

	extractor, err := parser.NewExtractor(parser.DefaultFields(cfg.LinkPrefix, cfg.Limit), cfg.SelectorCacheSize)
	if err != nil {
		slog.Error("building extractor", slog.Any("error", err))
		return 1
	}

	// The output is only opened once a table exists, so a failed run never
	// truncates the previous file.
	newWriter := func() (pipeline.OutputWriter, error) {
		return createWriter(cfg.OutputFormat, cfg.OutputFile)
	}

	p, err := pipeline.NewPipeline(cfg, fetcher, extractor, newWriter)
	if err != nil {
		slog.Error("building pipeline", slog.Any("error", err))
		return 1
	}
	p.WithRecorder(recorder)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, recorder)
	defer shutdownMetricsServer(metricsServer)

	slog.Info("starting extraction",
		slog.String("url", cfg.SearchURL),
		slog.String("input", cfg.InputFile),
		slog.Int("limit", cfg.Limit),
		slog.String("align", cfg.AlignPolicy),
	)

	result, err := p.Run(ctx)
	if err != nil {
		slog.Error("extraction failed", slog.Any("error", err))
		return 1
	}

	printSummary(result)
	return 0
}

// loadConfig layers defaults, an optional YAML file, the environment and
// finally command-line flags.
func loadConfig(args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	configPath := findConfigFlag(args)
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	fs.String("config", configPath, "Path to a YAML config file")
	fs.StringVar(&cfg.SearchURL, "url", cfg.SearchURL, "Search results page to fetch")
	fs.StringVar(&cfg.InputFile, "input", cfg.InputFile, "Read markup from a local file instead of fetching")
	fs.StringVar(&cfg.LinkPrefix, "link-prefix", cfg.LinkPrefix, "String prepended to every extracted href")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "Maximum matches kept per field")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header")
	fs.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output file path")
	fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, json, or dual")
	fs.StringVar(&cfg.AlignPolicy, "align", cfg.AlignPolicy, "Row alignment for unequal fields: truncate, pad, or strict")
	fs.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	cfg.AlignPolicy = strings.ToLower(cfg.AlignPolicy)
	return cfg, nil
}

// findConfigFlag pulls -config out of args before the full flag set is
// built, so file values can become flag defaults.
func findConfigFlag(args []string) string {
	for i, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if value, ok := strings.CutPrefix(name, "config="); ok {
			return value
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		return pipeline.NewDualWriter(filename, pipeline.JSONPathFor(filename))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}

func shutdownMetricsServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(result *models.RunResult) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Extraction complete")
	fmt.Printf("  Source:        %s\n", result.Source)
	fmt.Printf("  Bytes read:    %d\n", result.BytesRead)
	fmt.Printf("  Rows written:  %d\n", result.RowCount)

	names := make([]string, 0, len(result.FieldCounts))
	for name := range result.FieldCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-14s %d\n", name+":", result.FieldCounts[name])
	}
	fmt.Printf("  Duration:      %v\n", result.Duration())
	fmt.Printf("  Output file:   %s\n", result.OutputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
