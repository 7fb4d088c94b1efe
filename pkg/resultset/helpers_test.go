package resultset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// chunkPayload returns a payload of n single-column rows whose values are
// "<chunk>-<row>".
func chunkPayload(chunk, n int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `["%d-%d"]`, chunk, i)
	}
	b.WriteByte(']')
	return b.String()
}

// descriptors returns n descriptors with rowsPerChunk rows each; the URL is
// the chunk index.
func descriptors(n, rowsPerChunk int) []ChunkDescriptor {
	descs := make([]ChunkDescriptor, n)
	for i := range descs {
		descs[i] = ChunkDescriptor{
			URL:         fmt.Sprint(i),
			RowCount:    rowsPerChunk,
			ColumnCount: 1,
		}
	}
	return descs
}

// payloadFetcher serves chunkPayload for every chunk and counts calls.
type payloadFetcher struct {
	calls atomic.Int64
	// before runs ahead of every fetch; a non-nil error fails the attempt.
	before func(ctx context.Context, c *ResultChunk) error
}

func (f *payloadFetcher) Fetch(ctx context.Context, c *ResultChunk) (io.ReadCloser, error) {
	f.calls.Add(1)
	if f.before != nil {
		if err := f.before(ctx, c); err != nil {
			return nil, err
		}
	}
	return io.NopCloser(strings.NewReader(chunkPayload(c.Index(), c.RowCount()))), nil
}

var errInjected = errors.New("json parsing error")

// failingFactory fails the first failures parsers it creates across all
// chunks, then delegates to the default factory.
type failingFactory struct {
	mu       sync.Mutex
	failures int
	created  int
	next     ParserFactory
}

func newFailingFactory(failures int) *failingFactory {
	return &failingFactory{failures: failures, next: DefaultParserFactory{}}
}

func (f *failingFactory) Parser(body io.Reader, scratch *Scratch) ChunkParser {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.created <= f.failures {
		return failingParser{}
	}
	return f.next.Parser(body, scratch)
}

func (f *failingFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type failingParser struct{}

func (failingParser) ParseChunk(*ResultChunk) error {
	return errInjected
}

// countingObserver records chunk events.
type countingObserver struct {
	started, retried, completed, failed atomic.Int64
	rows                                atomic.Int64
}

func (o *countingObserver) ChunkStarted() { o.started.Add(1) }
func (o *countingObserver) ChunkRetried() { o.retried.Add(1) }
func (o *countingObserver) ChunkFailed()  { o.failed.Add(1) }
func (o *countingObserver) ChunkCompleted(rows int, _ int64) {
	o.completed.Add(1)
	o.rows.Add(int64(rows))
}

// drain reads every chunk from d and returns the number of rows seen and the
// first error other than io.EOF.
func drain(ctx context.Context, d *Downloader) (int, []int, error) {
	var rows int
	var order []int
	for {
		c, err := d.Next(ctx)
		if err == io.EOF {
			return rows, order, nil
		}
		if err != nil {
			return rows, order, err
		}
		order = append(order, c.Index())
		rows += len(c.Rows())
	}
}
