package resultset

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	// ErrClosed is returned by Next after the downloader has been closed.
	ErrClosed = errors.New("resultset: downloader closed")

	// ErrNotStarted is returned by Next before Start.
	ErrNotStarted = errors.New("resultset: downloader not started")

	// ErrRetriesExhausted is the reason of a ChunkError whose retry budget ran out.
	ErrRetriesExhausted = errors.New("resultset: retries exhausted")

	// ErrNonRetryable is the reason of a ChunkError that failed with an error
	// that must not be retried.
	ErrNonRetryable = errors.New("resultset: non-retryable failure")
)

// FailureKind classifies why an attempt failed.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransport
	FailureStatus
	FailureParse
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransport:
		return "transport"
	case FailureStatus:
		return "status"
	case FailureParse:
		return "parse"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseError is returned when a chunk payload cannot be turned into rows.
// It is always retryable.
type ParseError struct {
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("resultset: parse chunk %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ChunkError is the terminal error of a chunk. Failures holds the error of
// every failed attempt in order.
type ChunkError struct {
	Index    int
	Attempts int
	Kind     FailureKind
	Reason   error
	Failures []error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("resultset: chunk %d failed after %d attempts (%v, last %s failure): %v",
		e.Index, e.Attempts, e.Reason, e.Kind, multierr.Combine(e.Failures...))
}

// Unwrap exposes the reason and every attempt failure to errors.Is and errors.As.
func (e *ChunkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, e.Reason)
	return append(errs, e.Failures...)
}
