package retry

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.MaxRetries != 7 {
		t.Errorf("expected default max retries 7, got %d", p.MaxRetries)
	}
	if p.Backoff != time.Second {
		t.Errorf("expected default backoff 1s, got %v", p.Backoff)
	}
	if p.MaxBackoff != 16*time.Second {
		t.Errorf("expected default max backoff 16s, got %v", p.MaxBackoff)
	}
}

func TestExhausted(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		failures int
		want     bool
	}{
		{0, false},
		{6, false},
		{7, false}, // the budget is inclusive
		{8, true},
	}

	for _, tt := range tests {
		if got := p.Exhausted(tt.failures); got != tt.want {
			t.Errorf("Exhausted(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}

	if !NoRetry().Exhausted(1) {
		t.Error("NoRetry should be exhausted after one failure")
	}
}

func TestDelay(t *testing.T) {
	p := Policy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{40, time.Second},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := p.Delay(tt.attempt)
			if d < tt.base/2 || d > tt.base*3/2 {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", tt.attempt, d, tt.base/2, tt.base*3/2)
			}
		}
	}

	if d := (Policy{}).Delay(3); d != 0 {
		t.Errorf("expected zero delay without backoff, got %v", d)
	}
	if d := p.Delay(0); d != 0 {
		t.Errorf("expected zero delay for attempt 0, got %v", d)
	}
}

func TestWaitUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := Policy{Backoff: time.Minute, MaxBackoff: time.Hour, Clock: clock}

	done := make(chan error, 1)
	go func() {
		done <- p.Wait(context.Background(), 1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiter never blocked: %v", err)
	}

	select {
	case <-done:
		t.Fatal("Wait returned before the clock advanced")
	default:
	}

	clock.Advance(2 * time.Minute)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after the clock advanced")
	}
}

func TestWaitCanceled(t *testing.T) {
	p := Policy{Backoff: time.Hour, Clock: clockwork.NewFakeClock()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Wait(ctx, 1); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := (Policy{}).Wait(ctx, 1); err != context.Canceled {
		t.Errorf("expected context.Canceled without backoff, got %v", err)
	}
}
