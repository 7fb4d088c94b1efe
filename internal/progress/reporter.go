package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalRows is the number of rows in the result set.
	TotalRows int64

	// TotalChunks is the total number of chunks.
	TotalChunks int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Source names the result set being read (for display).
	Source string
}

// Reporter outputs human-readable progress information. It implements
// resultset.Observer.
type Reporter struct {
	opts Options

	mu              sync.Mutex
	completedBytes  atomic.Int64
	completedRows   atomic.Int64
	completedChunks atomic.Int32
	inProgress      atomic.Int32
	retries         atomic.Int32
	failed          atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastRows        int64
	stopCh          chan struct{}
	doneCh          chan struct{}
	started         bool
	stopped         bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[sfchunk] Reading: %s\n", r.opts.Source)
	fmt.Fprintf(r.opts.Output, "[sfchunk] Rows: %s | Chunks: %d | Workers: %d\n",
		humanize.Comma(r.opts.TotalRows),
		r.opts.TotalChunks,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// ChunkStarted marks a chunk as in progress.
func (r *Reporter) ChunkStarted() {
	r.inProgress.Add(1)
}

// ChunkRetried counts a failed attempt that will be retried.
func (r *Reporter) ChunkRetried() {
	r.retries.Add(1)
}

// ChunkCompleted marks a chunk as completed.
func (r *Reporter) ChunkCompleted(rows int, bytes int64) {
	r.completedRows.Add(int64(rows))
	r.completedBytes.Add(bytes)
	r.completedChunks.Add(1)
	r.inProgress.Add(-1)
}

// ChunkFailed marks a chunk as failed (removes from in-progress).
func (r *Reporter) ChunkFailed() {
	r.failed.Add(1)
	r.inProgress.Add(-1)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	rows := r.completedRows.Load()
	completedChunks := int(r.completedChunks.Load())
	inProgress := int(r.inProgress.Load())

	r.mu.Lock()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(rows-r.lastRows) / elapsed
	r.lastUpdate = now
	r.lastRows = rows
	r.mu.Unlock()

	var percent float64
	eta := "calculating..."
	if r.opts.TotalRows > 0 {
		percent = float64(rows) / float64(r.opts.TotalRows) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalRows - rows)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	pending := r.opts.TotalChunks - completedChunks - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[sfchunk] Progress: %.1f%% | %s / %s rows | %s | Speed: %s rows/s | ETA: %s    ",
		percent,
		humanize.Comma(rows),
		humanize.Comma(r.opts.TotalRows),
		FormatBytes(r.completedBytes.Load()),
		humanize.Comma(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[sfchunk] Chunks: %d completed | %d in-progress | %d pending | %d retries    \033[A",
		completedChunks,
		inProgress,
		pending,
		r.retries.Load(),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	rows := r.completedRows.Load()
	duration := time.Since(r.startTime)
	avg := float64(rows) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[sfchunk] Rows: %s / %s | %s    \n",
		humanize.Comma(rows),
		humanize.Comma(r.opts.TotalRows),
		FormatBytes(r.completedBytes.Load()),
	)
	fmt.Fprintf(r.opts.Output, "[sfchunk] Chunks: %d completed | %d failed | %d retries    \n",
		r.completedChunks.Load(),
		r.failed.Load(),
		r.retries.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[sfchunk] Total time: %s | Average: %s rows/s\n",
		formatDuration(duration),
		humanize.Comma(int64(avg)),
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats b with binary units, e.g. "256 MiB".
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a byte string such as "256MiB" or "1GB".
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
