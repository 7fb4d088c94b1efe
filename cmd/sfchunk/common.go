package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gocloud.dev/blob"

	"github.com/aschwenker-insight/snowflake-connector-net/internal/config"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/export"
	"github.com/aschwenker-insight/snowflake-connector-net/pkg/resultset"
)

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[sfchunk] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// newLogger logs to stderr. Only warnings and errors are shown unless
// verbose is set.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// loadConfig layers the config file, the environment and the flags.
func loadConfig(path string, flags config.Config) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg.Merge(flags), nil
}

// loadManifest reads the manifest from a local file or from the bucket. The
// returned bucket is non-nil when cfg names one; the caller closes it.
func loadManifest(ctx context.Context, cfg config.Config) (*resultset.Manifest, *blob.Bucket, error) {
	var bucket *blob.Bucket
	if cfg.Bucket != "" {
		var err error
		bucket, err = resultset.OpenBucket(ctx, cfg.Bucket)
		if err != nil {
			return nil, nil, err
		}
	}

	var (
		m   *resultset.Manifest
		err error
	)
	if cfg.Manifest != "" {
		m, err = readManifestFile(cfg.Manifest)
	} else {
		m, err = resultset.ReadManifest(ctx, bucket, cfg.Object)
	}
	if err != nil {
		if bucket != nil {
			bucket.Close()
		}
		return nil, nil, err
	}
	return m, bucket, nil
}

func readManifestFile(path string) (*resultset.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return resultset.DecodeManifest(f)
}

// exitCode maps an export error onto a process exit code.
func exitCode(err error) int {
	var cerr *resultset.ChunkError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &cerr):
		return ExitChunkFailed
	case errors.Is(err, export.ErrRowCountMismatch):
		return ExitRowCountMismatch
	default:
		return ExitGeneralError
	}
}
