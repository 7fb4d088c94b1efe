package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultMaxRetries is the number of retries a chunk gets by default.
const DefaultMaxRetries = 7

// Policy decides whether another attempt is allowed and how long to wait
// before it.
type Policy struct {
	// MaxRetries is the number of failed attempts tolerated. The chunk fails
	// once the number of failures exceeds it.
	MaxRetries int

	// Backoff is the delay before the first retry. Zero retries immediately.
	Backoff time.Duration

	// MaxBackoff caps the exponential growth of Backoff.
	MaxBackoff time.Duration

	// Clock is used for waiting. Nil means the real clock.
	Clock clockwork.Clock
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		Backoff:    time.Second,
		MaxBackoff: 16 * time.Second,
	}
}

// NoRetry returns a policy that fails on the first retryable error.
func NoRetry() Policy {
	return Policy{}
}

// Exhausted reports whether failures has used up the budget.
func (p Policy) Exhausted(failures int) bool {
	return failures > p.MaxRetries
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff <= 0 || attempt <= 0 {
		return 0
	}

	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	backoff := p.Backoff * time.Duration(1<<uint(shift))
	if p.MaxBackoff > 0 && (backoff > p.MaxBackoff || backoff <= 0) {
		backoff = p.MaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	return time.Duration(float64(backoff) * (0.5 + rand.Float64()))
}

// Wait blocks for Delay(attempt) or until ctx is done.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}

	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
