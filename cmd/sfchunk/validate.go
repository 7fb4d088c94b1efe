package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aschwenker-insight/snowflake-connector-net/internal/config"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/export"
	"github.com/aschwenker-insight/snowflake-connector-net/pkg/resultset"
)

// runValidate checks that a staged result set is complete and every chunk
// exists with the size recorded in the manifest. With -full it also
// downloads and parses every chunk.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	bucket := fs.String("bucket", "", "Bucket URL (required)")
	object := fs.String("object", "", "Staged result set path (required)")
	full := fs.Bool("full", false, "Download and parse every chunk and compare row counts")
	concurrency := fs.Int("concurrency", 0, "Number of chunks downloaded in parallel with -full")
	verbose := fs.Bool("verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: sfchunk validate [options]

Verify that a staged result set is complete and all chunks exist with
correct sizes. Only metadata is read unless -full is given.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *bucket == "" || *object == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -object are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath, config.Config{
		Bucket:         *bucket,
		Object:         *object,
		Concurrency:    *concurrency,
		VerifyChecksum: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	// A local manifest from the config file or environment does not apply.
	cfg.Manifest = ""
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, err := resultset.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	result, err := resultset.Validate(ctx, bkt, cfg.Object)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Printf("Result set: %s\n", cfg.Object)
	fmt.Printf("Rows: %d\n", result.RowCount)
	fmt.Printf("Chunks: %d\n", result.ChunkCount)

	if !result.Valid {
		fmt.Println("Status: INVALID")
		fmt.Printf("Missing chunks: %d\n", result.MissingChunks)
		fmt.Printf("Size mismatches: %d\n", result.SizeMismatches)
		printErrors(result.Errors)
		return ExitValidationFailed
	}

	if *full {
		logger, err := newLogger(*verbose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
			return ExitGeneralError
		}
		defer logger.Sync()

		m, err := resultset.ReadManifest(ctx, bkt, cfg.Object)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}

		stats, err := export.Export(ctx, m, io.Discard, export.Options{
			Config:  cfg,
			Bucket:  bkt,
			Logger:  logger,
			Discard: true,
		})
		if err != nil {
			fmt.Println("Status: INVALID")
			printErrors([]string{err.Error()})
			return ExitValidationFailed
		}
		fmt.Printf("Rows read: %d (%d retries)\n", stats.Rows, stats.Retries)
	}

	fmt.Println("Status: VALID")
	return ExitSuccess
}

func printErrors(errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Println("\nErrors:")
	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}
}
