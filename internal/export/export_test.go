package export

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/aschwenker-insight/snowflake-connector-net/internal/config"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/progress"
	"github.com/aschwenker-insight/snowflake-connector-net/pkg/resultset"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Manifest = "test"
	cfg.Concurrency = 3
	cfg.Retry.Backoff = time.Millisecond
	cfg.Retry.MaxBackoff = 5 * time.Millisecond
	cfg.HTTP.Timeout = 5 * time.Second
	return cfg
}

func stageRows(t *testing.T, bucket *blob.Bucket, dest string, n int) *resultset.Manifest {
	t.Helper()
	rows := make([][]resultset.Value, n)
	for i := range rows {
		rows[i] = []resultset.Value{fmt.Sprintf("row-%d", i), json.Number(fmt.Sprint(i))}
	}
	m, err := resultset.Stage(context.Background(), bucket, dest, rows,
		resultset.WithRowsPerChunk(7),
		resultset.WithInlineRows(3),
	)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	return m
}

func readLines(t *testing.T, out *bytes.Buffer) [][]any {
	t.Helper()
	var lines [][]any
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var row []any
		dec := json.NewDecoder(strings.NewReader(sc.Text()))
		dec.UseNumber()
		if err := dec.Decode(&row); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		lines = append(lines, row)
	}
	return lines
}

func checkRows(t *testing.T, lines [][]any, n int) {
	t.Helper()
	if len(lines) != n {
		t.Fatalf("got %d lines, want %d", len(lines), n)
	}
	for i, row := range lines {
		if row[0] != fmt.Sprintf("row-%d", i) {
			t.Fatalf("line %d: got %v", i, row)
		}
		if row[1] != json.Number(fmt.Sprint(i)) {
			t.Fatalf("line %d: got number %v", i, row[1])
		}
	}
}

func TestExportFromBucket(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	m := stageRows(t, bucket, "q1", 50)

	reporter := progress.NewReporter(progress.Options{
		TotalRows:   m.RowCount,
		TotalChunks: len(m.Chunks),
		Output:      io.Discard,
	})

	cfg := testConfig()
	cfg.VerifyChecksum = true

	var out bytes.Buffer
	stats, err := Export(ctx, m, &out, Options{
		Config:   cfg,
		Bucket:   bucket,
		Progress: reporter,
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	checkRows(t, readLines(t, &out), 50)
	if stats.Rows != 50 {
		t.Errorf("stats rows = %d, want 50", stats.Rows)
	}
	if stats.Chunks != len(m.Chunks) {
		t.Errorf("stats chunks = %d, want %d", stats.Chunks, len(m.Chunks))
	}
	if stats.Retries != 0 {
		t.Errorf("stats retries = %d, want 0", stats.Retries)
	}
}

func TestExportOverHTTPWithRetries(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	m := stageRows(t, bucket, "q2", 40)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(resultset.HeaderSSECKey) != "qrmk-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/")
		mu.Lock()
		seen[key]++
		first := seen[key] == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		data, err := bucket.ReadAll(r.Context(), key)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	defer server.Close()

	for i := range m.Chunks {
		m.Chunks[i].URL = server.URL + "/" + m.Chunks[i].URL
	}
	m.QRMK = "qrmk-key"

	var out bytes.Buffer
	stats, err := Export(ctx, m, &out, Options{Config: testConfig()})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	checkRows(t, readLines(t, &out), 40)
	if stats.Retries != int64(len(m.Chunks)) {
		t.Errorf("stats retries = %d, want %d", stats.Retries, len(m.Chunks))
	}
	if stats.Attempts != 2*int64(len(m.Chunks)) {
		t.Errorf("stats attempts = %d, want %d", stats.Attempts, 2*len(m.Chunks))
	}
}

func TestExportClosesIdleConnections(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	m := stageRows(t, bucket, "q3", 20)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := bucket.ReadAll(r.Context(), strings.TrimPrefix(r.URL.Path, "/"))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	defer server.Close()

	for i := range m.Chunks {
		m.Chunks[i].URL = server.URL + "/" + m.Chunks[i].URL
	}

	// Keep-alive connections left open by Export would hold both client and
	// server connection goroutines while the server is still running.
	ignore := goleak.IgnoreCurrent()
	var out bytes.Buffer
	if _, err := Export(ctx, m, &out, Options{Config: testConfig()}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	checkRows(t, readLines(t, &out), 20)
	goleak.VerifyNone(t, ignore)
}

func TestExportDiscard(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	m := stageRows(t, bucket, "q3", 20)

	var out bytes.Buffer
	stats, err := Export(ctx, m, &out, Options{Config: testConfig(), Bucket: bucket, Discard: true})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %d bytes", out.Len())
	}
	if stats.Rows != 20 {
		t.Errorf("stats rows = %d, want 20", stats.Rows)
	}
}

func TestExportRowCountMismatch(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	m := stageRows(t, bucket, "q4", 10)
	m.RowCount = 11

	_, err = Export(ctx, m, io.Discard, Options{Config: testConfig(), Bucket: bucket})
	if !errors.Is(err, ErrRowCountMismatch) {
		t.Fatalf("expected ErrRowCountMismatch, got %v", err)
	}
}

func TestExportChunkFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &resultset.Manifest{
		RowCount:    4,
		ColumnCount: 1,
		Rowset:      [][]resultset.Value{{"inline"}},
		Chunks: []resultset.ChunkDescriptor{
			{URL: "c0", RowCount: 3},
		},
	}

	var calls int
	fetcher := resultset.FetcherFunc(func(ctx context.Context, c *resultset.ResultChunk) (io.ReadCloser, error) {
		calls++
		return nil, errors.New("connection reset by peer")
	})

	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.Retry.MaxRetries = 2

	var out bytes.Buffer
	stats, err := Export(context.Background(), m, &out, Options{Config: cfg, Fetcher: fetcher})

	var cerr *resultset.ChunkError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ChunkError, got %v", err)
	}
	if !errors.Is(err, resultset.ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("fetch calls = %d, want 3", calls)
	}
	if stats.Rows != 1 {
		t.Errorf("stats rows = %d, want 1", stats.Rows)
	}
	if out.String() != "[\"inline\"]\n" {
		t.Errorf("expected the inline row to be flushed, got %q", out.String())
	}
}

func TestExportCanceled(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &resultset.Manifest{
		ColumnCount: 1,
		Chunks:      []resultset.ChunkDescriptor{{URL: "c0", RowCount: 1}},
	}

	fetcher := resultset.FetcherFunc(func(ctx context.Context, c *resultset.ResultChunk) (io.ReadCloser, error) {
		return nil, errors.New("unreachable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Export(ctx, m, io.Discard, Options{Config: testConfig(), Fetcher: fetcher})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
