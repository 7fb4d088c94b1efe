package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"gocloud.dev/blob"

	"github.com/aschwenker-insight/snowflake-connector-net/internal/config"
	sfhttp "github.com/aschwenker-insight/snowflake-connector-net/internal/http"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/progress"
	"github.com/aschwenker-insight/snowflake-connector-net/pkg/resultset"
)

// ErrRowCountMismatch is returned when the rows read differ from the row
// count announced by the manifest.
var ErrRowCountMismatch = errors.New("export: row count mismatch")

// Options configures an export.
type Options struct {
	// Config supplies concurrency, retry, parser and HTTP settings.
	Config config.Config

	// Bucket, when set, serves chunk objects directly from storage instead
	// of fetching chunk URLs over HTTP.
	Bucket *blob.Bucket

	// Fetcher overrides the fetcher built from Bucket or the HTTP settings.
	Fetcher resultset.Fetcher

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	Logger *zap.Logger

	// Discard reads every row without writing it.
	Discard bool
}

// Stats summarizes a finished export.
type Stats struct {
	Rows     int64
	Chunks   int
	Attempts int64
	Retries  int64
	Duration time.Duration
}

// Export reads the result set described by m and writes one JSON array per
// row to w.
func Export(ctx context.Context, m *resultset.Manifest, w io.Writer, opts Options) (Stats, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config

	fetcher, release, err := newFetcher(m, opts)
	if err != nil {
		return Stats{}, err
	}
	defer release()

	dopts := []resultset.Option{
		resultset.WithConcurrency(cfg.Concurrency),
		resultset.WithRetryPolicy(cfg.RetryPolicy()),
		resultset.WithParserFactory(resultset.DefaultParserFactory{Kind: cfg.ParserKind()}),
		resultset.WithMemoryLimit(cfg.MemoryLimit),
		resultset.WithVerifyChecksum(cfg.VerifyChecksum),
		resultset.WithLogger(logger),
	}
	if opts.Progress != nil {
		dopts = append(dopts, resultset.WithObserver(opts.Progress))
	}

	d := resultset.NewDownloader(fetcher, m.Descriptors(), dopts...)
	if err := d.Start(ctx); err != nil {
		return Stats{}, fmt.Errorf("start downloader: %w", err)
	}
	logger.Info("export started",
		zap.String("retrieval_id", d.ID()),
		zap.Int("chunks", d.Len()),
		zap.Int64("rows", m.RowCount),
	)

	rows := resultset.NewRows(d, m.Rowset, m.RecordsAffected)
	defer rows.Close()

	var (
		bw  *bufio.Writer
		enc *json.Encoder
	)
	if !opts.Discard {
		bw = bufio.NewWriterSize(w, 1<<20)
		enc = json.NewEncoder(bw)
	}

	for rows.Next(ctx) {
		if enc == nil {
			continue
		}
		if err := enc.Encode(rows.Values()); err != nil {
			return stats(d, rows, start), fmt.Errorf("write row %d: %w", rows.RowsRead(), err)
		}
	}
	// Rows read before a failure are still flushed.
	if bw != nil {
		if err := bw.Flush(); err != nil && rows.Err() == nil {
			return stats(d, rows, start), fmt.Errorf("flush output: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return stats(d, rows, start), err
	}

	st := stats(d, rows, start)
	if m.RowCount > 0 && st.Rows != m.RowCount {
		return st, fmt.Errorf("%w: manifest has %d rows, read %d", ErrRowCountMismatch, m.RowCount, st.Rows)
	}

	logger.Info("export complete",
		zap.String("retrieval_id", d.ID()),
		zap.Int64("rows", st.Rows),
		zap.Int64("attempts", st.Attempts),
		zap.Int64("retries", st.Retries),
		zap.Duration("duration", st.Duration),
	)
	return st, nil
}

func stats(d *resultset.Downloader, rows *resultset.Rows, start time.Time) Stats {
	ds := d.Stats()
	return Stats{
		Rows:     rows.RowsRead(),
		Chunks:   ds.ChunksDelivered,
		Attempts: ds.Attempts,
		Retries:  ds.Retries,
		Duration: time.Since(start),
	}
}

// newFetcher picks how chunks are retrieved. The returned func releases
// whatever the fetcher holds once the export is done.
func newFetcher(m *resultset.Manifest, opts Options) (resultset.Fetcher, func(), error) {
	if opts.Fetcher != nil {
		return opts.Fetcher, func() {}, nil
	}
	if opts.Bucket != nil {
		return &resultset.BucketFetcher{
			Bucket:          opts.Bucket,
			ForceRetryOn404: opts.Config.Retry.ForceRetryOn404,
		}, func() {}, nil
	}

	client, err := sfhttp.NewClient(opts.Config.HTTPOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("create http client: %w", err)
	}
	fetcher := &resultset.HTTPFetcher{
		Client:  client,
		Headers: m.ChunkHeaders,
		QRMK:    m.QRMK,
	}
	return fetcher, client.Transport().CloseIdleConnections, nil
}
