package resultset

import (
	"fmt"
	"sync"
)

// State is the download state of a ResultChunk.
type State int

const (
	// StatePending means no attempt has been started yet.
	StatePending State = iota
	// StateDownloading means an attempt is waiting for the response.
	StateDownloading
	// StateParsing means the response arrived and the payload is being parsed.
	StateParsing
	// StateReady means the rows are materialized and visible.
	StateReady
	// StateFailed means the last attempt failed. It is terminal once the
	// chunk's done channel is closed.
	StateFailed
	// StateCanceled means the downloader was closed before the chunk finished.
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDownloading:
		return "downloading"
	case StateParsing:
		return "parsing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the allowed state changes.
var transitions = map[State][]State{
	StatePending:     {StateDownloading, StateCanceled},
	StateDownloading: {StateParsing, StateFailed, StateCanceled},
	StateParsing:     {StateReady, StateFailed, StateCanceled},
	StateFailed:      {StateDownloading, StateCanceled},
}

// ChunkDescriptor describes one server-side partition of a result set.
type ChunkDescriptor struct {
	URL              string `json:"url"`
	RowCount         int    `json:"row_count"`
	ColumnCount      int    `json:"column_count,omitempty"`
	UncompressedSize int64  `json:"uncompressed_size,omitempty"`
	CompressedSize   int64  `json:"compressed_size,omitempty"`
	// Checksum is the hex SHA-256 of the stored payload, if known.
	Checksum string `json:"checksum,omitempty"`
}

// ResultChunk is one partition of a result set and its materialized rows.
// Rows are only visible once the chunk is Ready; after that they never change.
type ResultChunk struct {
	index int
	desc  ChunkDescriptor

	mu       sync.Mutex
	state    State
	rows     [][]Value
	filled   bool
	terminal bool
	err      error

	// Retry state. Written only by the worker holding the chunk.
	attempts int
	lastKind FailureKind
	failures []error

	done chan struct{}
}

func newResultChunk(index int, desc ChunkDescriptor) *ResultChunk {
	return &ResultChunk{
		index: index,
		desc:  desc,
		done:  make(chan struct{}),
	}
}

// Index returns the position of the chunk in the result set.
func (c *ResultChunk) Index() int { return c.index }

// URL returns the download location of the chunk.
func (c *ResultChunk) URL() string { return c.desc.URL }

// RowCount returns the number of rows the chunk is expected to hold.
func (c *ResultChunk) RowCount() int { return c.desc.RowCount }

// ColumnCount returns the expected number of values per row, or 0 if unknown.
func (c *ResultChunk) ColumnCount() int { return c.desc.ColumnCount }

// Descriptor returns the descriptor the chunk was created from.
func (c *ResultChunk) Descriptor() ChunkDescriptor { return c.desc }

// State returns the current state.
func (c *ResultChunk) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rows returns the materialized rows, or nil unless the chunk is Ready.
func (c *ResultChunk) Rows() [][]Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	return c.rows
}

// Attempts returns the number of download attempts made so far.
func (c *ResultChunk) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Err returns the terminal error of a failed chunk.
func (c *ResultChunk) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetRows stores the parsed rows. It is only accepted while the chunk is
// Parsing, at most once per attempt, and the rows must match the expected
// row and column counts.
func (c *ResultChunk) SetRows(rows [][]Value) error {
	if c.desc.RowCount >= 0 && len(rows) != c.desc.RowCount {
		return &ParseError{
			Index: c.index,
			Err:   fmt.Errorf("expected %d rows, got %d", c.desc.RowCount, len(rows)),
		}
	}
	if c.desc.ColumnCount > 0 {
		for i, row := range rows {
			if len(row) != c.desc.ColumnCount {
				return &ParseError{
					Index: c.index,
					Err:   fmt.Errorf("row %d: expected %d columns, got %d", i, c.desc.ColumnCount, len(row)),
				}
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateParsing {
		return fmt.Errorf("resultset: chunk %d: rows set while %s", c.index, c.state)
	}
	if c.filled {
		return fmt.Errorf("resultset: chunk %d: rows already set", c.index)
	}
	if rows == nil {
		rows = [][]Value{}
	}
	c.rows = rows
	c.filled = true
	return nil
}

// transition moves the chunk to state to if the change is allowed.
func (c *ResultChunk) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *ResultChunk) transitionLocked(to State) error {
	if c.terminal {
		return fmt.Errorf("resultset: chunk %d: %s is terminal", c.index, c.state)
	}
	if to == StateReady && !c.filled {
		return fmt.Errorf("resultset: chunk %d: ready without rows", c.index)
	}
	for _, allowed := range transitions[c.state] {
		if allowed == to {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("resultset: chunk %d: invalid transition %s -> %s", c.index, c.state, to)
}

// begin starts a new attempt.
func (c *ResultChunk) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(StateDownloading); err != nil {
		return err
	}
	c.attempts++
	return nil
}

// recordFailure moves the chunk to Failed, drops partially set rows and
// returns the number of failures recorded so far.
func (c *ResultChunk) recordFailure(kind FailureKind, err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFailed
	c.rows = nil
	c.filled = false
	c.lastKind = kind
	c.failures = append(c.failures, err)
	return len(c.failures)
}

// ready publishes the rows and releases waiters.
func (c *ResultChunk) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(StateReady); err != nil {
		return err
	}
	c.failures = nil
	c.terminal = true
	close(c.done)
	return nil
}

// fail makes the Failed state terminal with the aggregated error.
func (c *ResultChunk) fail(reason error) *ChunkError {
	c.mu.Lock()
	defer c.mu.Unlock()
	cerr := &ChunkError{
		Index:    c.index,
		Attempts: c.attempts,
		Kind:     c.lastKind,
		Reason:   reason,
		Failures: c.failures,
	}
	c.state = StateFailed
	c.err = cerr
	c.terminal = true
	close(c.done)
	return cerr
}

// cancel ends the chunk without an error.
func (c *ResultChunk) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return
	}
	c.state = StateCanceled
	c.rows = nil
	c.filled = false
	c.terminal = true
	close(c.done)
}
