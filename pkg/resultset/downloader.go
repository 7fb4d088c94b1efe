package resultset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sfhttp "github.com/aschwenker-insight/snowflake-connector-net/internal/http"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/metrics"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/retry"
)

// DefaultConcurrency is the number of chunks downloaded in parallel by default.
const DefaultConcurrency = 4

// DefaultCloseGrace is how long Close lets in-flight requests finish before
// canceling them.
const DefaultCloseGrace = 5 * time.Second

// Observer receives chunk lifecycle events. Calls come from worker
// goroutines and must be safe for concurrent use.
type Observer interface {
	ChunkStarted()
	ChunkRetried()
	ChunkCompleted(rows int, bytes int64)
	ChunkFailed()
}

// Options configures a Downloader.
type Options struct {
	// Concurrency is the number of workers and the prefetch window.
	Concurrency int

	// RetryPolicy bounds retries per chunk and the wait between them.
	RetryPolicy retry.Policy

	// ParserFactory creates the parser for every attempt.
	ParserFactory ParserFactory

	// MemoryLimit shrinks the prefetch window so that the window times the
	// largest uncompressed chunk stays below it. Zero means no limit.
	MemoryLimit int64

	// VerifyChecksum compares the payload against the descriptor checksum.
	// A mismatch is a retryable parse failure.
	VerifyChecksum bool

	// CloseGrace bounds how long Close waits for requests already in
	// flight. Once it passes they are canceled. Zero means DefaultCloseGrace.
	CloseGrace time.Duration

	Logger   *zap.Logger
	Observer Observer
}

// Option is a functional option for configuring a Downloader.
type Option func(*Options)

// WithConcurrency sets the number of parallel downloads.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		o.Concurrency = n
	}
}

// WithMaxRetries sets how many failed attempts a chunk tolerates.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.RetryPolicy.MaxRetries = n
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Options) {
		o.RetryPolicy = p
	}
}

// WithParserFactory sets the factory used to parse chunk payloads.
func WithParserFactory(f ParserFactory) Option {
	return func(o *Options) {
		o.ParserFactory = f
	}
}

// WithMemoryLimit bounds the memory held by prefetched chunks.
func WithMemoryLimit(bytes int64) Option {
	return func(o *Options) {
		o.MemoryLimit = bytes
	}
}

// WithVerifyChecksum enables checksum verification of chunk payloads.
func WithVerifyChecksum(verify bool) Option {
	return func(o *Options) {
		o.VerifyChecksum = verify
	}
}

// WithCloseGrace sets how long Close waits for in-flight requests.
func WithCloseGrace(d time.Duration) Option {
	return func(o *Options) {
		o.CloseGrace = d
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithObserver registers an observer for chunk events.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// Stats are diagnostic counters of a Downloader.
type Stats struct {
	Chunks          int
	ChunksDelivered int
	RowsDelivered   int64
	Attempts        int64
	Retries         int64
}

// Downloader retrieves the chunks of a result set with a bounded worker pool
// and hands them to a single consumer in index order.
//
// Next must not be called concurrently.
type Downloader struct {
	id      string
	fetcher Fetcher
	opts    Options
	log     *zap.Logger

	chunks []*ResultChunk
	window int
	jobs   chan *ResultChunk

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// inflight carries requests. It survives cancel and is stopped by Close
	// once the grace period runs out.
	inflight     context.Context
	stopInflight context.CancelFunc

	mu        sync.Mutex
	started   bool
	closed    bool
	next      int
	scheduled int
	err       error
	delivered int
	rows      int64

	attempts atomic.Int64
	retries  atomic.Int64
}

// NewDownloader creates a downloader for the given chunks. Nothing is
// fetched until Start is called.
func NewDownloader(fetcher Fetcher, descs []ChunkDescriptor, options ...Option) *Downloader {
	opts := Options{
		Concurrency:   DefaultConcurrency,
		RetryPolicy:   retry.DefaultPolicy(),
		ParserFactory: DefaultParserFactory{Kind: ParserReusable},
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = DefaultCloseGrace
	}
	if opts.ParserFactory == nil {
		opts.ParserFactory = DefaultParserFactory{Kind: ParserReusable}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	chunks := make([]*ResultChunk, len(descs))
	for i, desc := range descs {
		chunks[i] = newResultChunk(i, desc)
	}

	window := prefetchWindow(opts.Concurrency, opts.MemoryLimit, descs)
	id := uuid.NewString()

	return &Downloader{
		id:      id,
		fetcher: fetcher,
		opts:    opts,
		log:     opts.Logger.With(zap.String("retrieval_id", id)),
		chunks:  chunks,
		window:  window,
		jobs:    make(chan *ResultChunk, window),
	}
}

// prefetchWindow returns how many chunks may be outstanding at once.
func prefetchWindow(concurrency int, memoryLimit int64, descs []ChunkDescriptor) int {
	window := concurrency
	if memoryLimit > 0 {
		var largest int64
		for _, d := range descs {
			if d.UncompressedSize > largest {
				largest = d.UncompressedSize
			}
		}
		if largest > 0 {
			if n := memoryLimit / largest; n < int64(window) {
				window = int(n)
			}
		}
	}
	if window > len(descs) {
		window = len(descs)
	}
	if window < 1 {
		window = 1
	}
	return window
}

// ID returns the identifier attached to every log line of this retrieval.
func (d *Downloader) ID() string {
	return d.id
}

// Len returns the number of chunks.
func (d *Downloader) Len() int {
	return len(d.chunks)
}

// Start launches the workers and schedules the first window of chunks.
// Work stops when ctx is done or Close is called. Calling Start again is a
// no-op.
func (d *Downloader) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.started {
		return nil
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.inflight, d.stopInflight = context.WithCancel(context.WithoutCancel(ctx))

	workers := d.window
	if workers > len(d.chunks) {
		workers = len(d.chunks)
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.scheduleLocked()

	d.log.Info("starting chunk retrieval",
		zap.Int("chunks", len(d.chunks)),
		zap.Int("workers", workers),
		zap.Int("window", d.window),
		zap.Int("max_retries", d.opts.RetryPolicy.MaxRetries),
	)
	return nil
}

// scheduleLocked hands chunks to the workers until the window is full.
// The jobs channel holds window entries, so the sends never block.
func (d *Downloader) scheduleLocked() {
	for d.scheduled < len(d.chunks) && d.scheduled < d.next+d.window {
		d.jobs <- d.chunks[d.scheduled]
		d.scheduled++
	}
}

// Next returns the next chunk in index order, blocking until it is ready.
// It returns io.EOF after the last chunk, the chunk's ChunkError if it
// failed (on this and every later call), and ErrClosed after Close.
func (d *Downloader) Next(ctx context.Context) (*ResultChunk, error) {
	d.mu.Lock()
	switch {
	case d.err != nil:
		err := d.err
		d.mu.Unlock()
		return nil, err
	case d.closed:
		d.mu.Unlock()
		return nil, ErrClosed
	case !d.started:
		d.mu.Unlock()
		return nil, ErrNotStarted
	case d.next >= len(d.chunks):
		d.mu.Unlock()
		return nil, io.EOF
	}
	c := d.chunks[d.next]
	d.mu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	switch c.State() {
	case StateReady:
		d.chunks[d.next] = nil
		d.next++
		d.delivered++
		d.rows += int64(len(c.Rows()))
		d.scheduleLocked()
		return c, nil
	case StateFailed:
		d.err = c.Err()
		d.log.Error("chunk retrieval failed", zap.Int("chunk", c.Index()), zap.Error(d.err))
		return nil, d.err
	default:
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
}

// Close stops queued and retrying work and waits for the workers to exit.
// Requests already in flight are allowed to finish within Options.CloseGrace
// and are canceled after that, so Close blocks for at most the grace period
// plus the time a fetcher takes to honor cancellation. Their results are
// dropped. Close is idempotent.
func (d *Downloader) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	if d.started {
		close(d.jobs)
	}
	d.mu.Unlock()

	if d.stopInflight != nil {
		grace := time.AfterFunc(d.opts.CloseGrace, d.stopInflight)
		d.wg.Wait()
		grace.Stop()
		d.stopInflight()
	}

	d.mu.Lock()
	for i := range d.chunks {
		d.chunks[i] = nil
	}
	d.mu.Unlock()

	d.log.Debug("chunk retrieval closed")
	return nil
}

// Stats returns diagnostic counters.
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Chunks:          len(d.chunks),
		ChunksDelivered: d.delivered,
		RowsDelivered:   d.rows,
		Attempts:        d.attempts.Load(),
		Retries:         d.retries.Load(),
	}
}

func (d *Downloader) worker() {
	defer d.wg.Done()

	scratch := NewScratch()
	defer scratch.Release()

	for c := range d.jobs {
		d.process(c, scratch)
	}
}

// attemptResult is the outcome of one download and parse attempt.
type attemptResult struct {
	err       error
	kind      FailureKind
	retryable bool
	rows      int
	bytes     int64
}

// process runs attempts for c until it is ready, fails terminally or the
// downloader stops.
func (d *Downloader) process(c *ResultChunk, scratch *Scratch) {
	log := d.log.With(zap.Int("chunk", c.Index()))
	obs := d.opts.Observer

	for {
		if d.ctx.Err() != nil {
			c.cancel()
			metrics.ChunkAttempts.WithLabelValues(metrics.OutcomeCanceled).Inc()
			return
		}

		if err := c.begin(); err != nil {
			log.Error("unexpected chunk state", zap.Error(err))
			c.fail(err)
			return
		}
		attempt := d.attempts.Add(1)
		if c.Attempts() == 1 && obs != nil {
			obs.ChunkStarted()
		}
		log.Debug("downloading chunk", zap.Int("attempt", c.Attempts()), zap.Int64("total_attempts", attempt))

		start := time.Now()
		res := d.attempt(c, scratch)
		metrics.ChunkBytes.Add(float64(res.bytes))

		if d.ctx.Err() != nil {
			c.cancel()
			metrics.ChunkAttempts.WithLabelValues(metrics.OutcomeDiscarded).Inc()
			return
		}

		if res.err == nil {
			if err := c.ready(); err != nil {
				log.Error("publish chunk", zap.Error(err))
				c.fail(err)
				return
			}
			metrics.ChunkAttempts.WithLabelValues(metrics.OutcomeReady).Inc()
			metrics.ChunkDuration.Observe(time.Since(start).Seconds())
			metrics.RowsParsed.Add(float64(res.rows))
			if obs != nil {
				obs.ChunkCompleted(res.rows, res.bytes)
			}
			log.Debug("chunk ready", zap.Int("rows", res.rows), zap.Int64("bytes", res.bytes))
			return
		}

		failures := c.recordFailure(res.kind, res.err)
		var reason error
		switch {
		case !res.retryable:
			reason = ErrNonRetryable
		case d.opts.RetryPolicy.Exhausted(failures):
			reason = ErrRetriesExhausted
		}
		if reason != nil {
			cerr := c.fail(reason)
			metrics.ChunkAttempts.WithLabelValues(metrics.OutcomeFailed).Inc()
			if obs != nil {
				obs.ChunkFailed()
			}
			log.Warn("chunk failed", zap.Stringer("kind", res.kind), zap.Error(cerr))
			return
		}

		d.retries.Add(1)
		metrics.ChunkAttempts.WithLabelValues(metrics.OutcomeRetry).Inc()
		metrics.ChunkRetries.WithLabelValues(res.kind.String()).Inc()
		if obs != nil {
			obs.ChunkRetried()
		}
		log.Warn("retrying chunk",
			zap.Int("failures", failures),
			zap.Stringer("kind", res.kind),
			zap.Error(res.err),
		)

		if err := d.opts.RetryPolicy.Wait(d.ctx, failures); err != nil {
			c.cancel()
			metrics.ChunkAttempts.WithLabelValues(metrics.OutcomeCanceled).Inc()
			return
		}
	}
}

// attempt performs one fetch and parse. The request is detached from the
// downloader's cancellation; Close only aborts it once the grace period ends.
func (d *Downloader) attempt(c *ResultChunk, scratch *Scratch) attemptResult {
	body, err := d.fetcher.Fetch(d.inflight, c)
	if err != nil {
		kind, retryable := classify(err)
		return attemptResult{err: err, kind: kind, retryable: retryable}
	}
	defer body.Close()

	if err := c.transition(StateParsing); err != nil {
		return attemptResult{err: err, kind: FailureParse}
	}

	counter := &countingReader{r: body}
	var verify *checksumReader
	var payload io.Reader = counter
	if d.opts.VerifyChecksum && c.Descriptor().Checksum != "" {
		verify = &checksumReader{r: counter, hash: sha256.New()}
		payload = verify
	}

	parser := d.opts.ParserFactory.Parser(payload, scratch)
	if err := parser.ParseChunk(c); err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			err = &ParseError{Index: c.Index(), Err: err}
		}
		return attemptResult{err: err, kind: FailureParse, retryable: true, bytes: counter.n}
	}

	if verify != nil {
		// The decoder may stop before trailing whitespace.
		if _, err := io.Copy(io.Discard, verify); err != nil {
			return attemptResult{err: &ParseError{Index: c.Index(), Err: err}, kind: FailureParse, retryable: true, bytes: counter.n}
		}
		if sum := verify.Sum(); sum != c.Descriptor().Checksum {
			err := &ParseError{
				Index: c.Index(),
				Err:   fmt.Errorf("checksum mismatch: expected %s, got %s", c.Descriptor().Checksum, sum),
			}
			return attemptResult{err: err, kind: FailureParse, retryable: true, bytes: counter.n}
		}
	}

	c.mu.Lock()
	filled, rows := c.filled, len(c.rows)
	c.mu.Unlock()
	if !filled {
		err := &ParseError{Index: c.Index(), Err: errors.New("parser returned without rows")}
		return attemptResult{err: err, kind: FailureParse, retryable: true, bytes: counter.n}
	}

	return attemptResult{rows: rows, bytes: counter.n}
}

// classify decides the failure kind of a fetch error and whether it may be
// retried.
func classify(err error) (FailureKind, bool) {
	var se *sfhttp.StatusError
	if errors.As(err, &se) {
		return FailureStatus, se.Retryable
	}
	return FailureTransport, sfhttp.IsRetryable(err)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// checksumReader hashes everything read through it.
type checksumReader struct {
	r    io.Reader
	hash hash.Hash
}

func (c *checksumReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.hash.Write(p[:n])
	}
	return n, err
}

func (c *checksumReader) Sum() string {
	return hex.EncodeToString(c.hash.Sum(nil))
}
