package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aschwenker-insight/snowflake-connector-net/internal/config"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/export"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/progress"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	manifest := fs.String("manifest", "", "Local manifest file with presigned chunk URLs")
	bucket := fs.String("bucket", "", "Bucket URL holding the chunks (s3://, gs://, file://)")
	object := fs.String("object", "", "Staged result set path in the bucket")
	output := fs.String("output", "", "Output file (default: stdout)")
	concurrency := fs.Int("concurrency", 0, "Number of chunks downloaded in parallel (default: 4)")
	parser := fs.String("parser", "", "Chunk parser: reusable or oneshot")
	memoryLimit := fs.String("memory-limit", "", "Upper bound for prefetched chunk memory (e.g., 512MiB)")
	maxRetries := fs.Int("max-retries", -1, "Failed attempts tolerated per chunk (default: 7)")
	noRetry := fs.Bool("no-retry", false, "Fail on the first chunk error")
	force404 := fs.Bool("force-retry-404", false, "Retry chunks answered with 404")
	verify := fs.Bool("verify", false, "Verify chunk checksums")
	showProgress := fs.Bool("progress", false, "Show progress on stderr")
	verbose := fs.Bool("verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: sfchunk fetch [options]

Download every chunk of a result set and write its rows as JSON lines,
in result order. The manifest is read from -manifest, or from the staged
result set at -bucket/-object. When -bucket is given, chunks are read from
the bucket; otherwise chunk URLs are fetched over HTTPS.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	flags := config.Config{
		Manifest:       *manifest,
		Bucket:         *bucket,
		Object:         *object,
		Output:         *output,
		Concurrency:    *concurrency,
		Parser:         *parser,
		Progress:       *showProgress,
		VerifyChecksum: *verify,
		Retry: config.RetryConfig{
			Disable:         *noRetry,
			ForceRetryOn404: *force404,
		},
	}
	if *memoryLimit != "" {
		size, err := progress.ParseBytes(*memoryLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -memory-limit: %v\n", err)
			return ExitInvalidArgs
		}
		flags.MemoryLimit = size
	}

	cfg, err := loadConfig(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *maxRetries >= 0 {
		cfg.Retry.MaxRetries = *maxRetries
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		return ExitGeneralError
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	m, bkt, err := loadManifest(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitSourceNotAccess
	}
	if bkt != nil {
		defer bkt.Close()
	}

	var w io.Writer = os.Stdout
	dest := "stdout"
	if cfg.Output != "" && cfg.Output != "-" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
			return ExitGeneralError
		}
		defer f.Close()
		w = f
		dest = cfg.Output
	}

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalRows:   m.RowCount,
			TotalChunks: len(m.Chunks),
			Workers:     cfg.Concurrency,
			Source:      sourceName(cfg),
		})
		reporter.Start()
	}

	stats, err := export.Export(ctx, m, w, export.Options{
		Config:   cfg,
		Bucket:   bkt,
		Progress: reporter,
		Logger:   logger,
	})
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	fmt.Fprintf(os.Stderr, "[sfchunk] Fetched %d rows from %d chunks (%d retries) to %s\n",
		stats.Rows, stats.Chunks, stats.Retries, dest)
	return ExitSuccess
}

func sourceName(cfg config.Config) string {
	if cfg.Manifest != "" {
		return cfg.Manifest
	}
	return cfg.Bucket + "/" + cfg.Object
}
