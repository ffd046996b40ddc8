package delivery_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/bridge/delivery"
)

var errBoom = errors.New("boom")

func testPolicy() delivery.Policy {
	return delivery.Policy{
		MaxAttempts:  5,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		MaxTotalWait: time.Minute,
	}
}

func TestRetrierDecide(t *testing.T) {
	retrier := delivery.NewRetrier(testPolicy())

	tests := []struct {
		name     string
		err      error
		delivery *delivery.Delivery
		want     delivery.Decision
	}{
		{
			name:     "success → Delivered",
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 5},
			want:     delivery.Delivered,
		},
		{
			name:     "permanent → Fail immediately",
			err:      delivery.Permanent(errBoom),
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 5},
			want:     delivery.Fail,
		},
		{
			name:     "wrapped permanent → Fail",
			err:      errors.Join(errors.New("ctx"), delivery.Permanent(errBoom)),
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 5},
			want:     delivery.Fail,
		},
		{
			name:     "transient → Retry (within limits)",
			err:      delivery.Transient(errBoom, 0),
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 5},
			want:     delivery.Retry,
		},
		{
			name:     "unclassified → Retry",
			err:      errBoom,
			delivery: &delivery.Delivery{AttemptCount: 4, MaxAttempts: 5},
			want:     delivery.Retry,
		},
		{
			name:     "transient → Exhausted (attempts)",
			err:      delivery.Transient(errBoom, 0),
			delivery: &delivery.Delivery{AttemptCount: 5, MaxAttempts: 5},
			want:     delivery.Exhausted,
		},
		{
			name:     "transient → Exhausted (total wait)",
			err:      delivery.Transient(errBoom, 0),
			delivery: &delivery.Delivery{AttemptCount: 2, MaxAttempts: 5, Waited: 59 * time.Second},
			want:     delivery.Exhausted,
		},
		{
			name:     "retry-after beyond total wait → Exhausted",
			err:      delivery.Transient(errBoom, 2*time.Minute),
			delivery: &delivery.Delivery{AttemptCount: 1, MaxAttempts: 5},
			want:     delivery.Exhausted,
		},
		{
			name:     "zero MaxAttempts falls back to policy",
			err:      errBoom,
			delivery: &delivery.Delivery{AttemptCount: 5},
			want:     delivery.Exhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := retrier.Decide(tt.err, tt.delivery)
			if got != tt.want {
				t.Fatalf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	retrier := delivery.NewRetrier(testPolicy())

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, w := range want {
		if got := retrier.Backoff(i+1, 0); got != w {
			t.Fatalf("attempt %d: got %s, want %s", i+1, got, w)
		}
	}
}

func TestBackoffJitterIsBounded(t *testing.T) {
	p := testPolicy()
	p.Jitter = 0.5

	hi := delivery.NewRetrier(p).WithRand(func() float64 { return 0.999 })
	lo := delivery.NewRetrier(p).WithRand(func() float64 { return 0 })

	for attempt := 1; attempt <= 6; attempt++ {
		base := lo.Backoff(attempt, 0)
		got := hi.Backoff(attempt, 0)
		if got < base || got > base+base/2 {
			t.Fatalf("attempt %d: jittered %s outside [%s, %s]", attempt, got, base, base+base/2)
		}
	}
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	retrier := delivery.NewRetrier(testPolicy())

	if got := retrier.Backoff(1, 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected retry-after to win, got %s", got)
	}
	if got := retrier.Backoff(5, time.Second); got != 8*time.Second {
		t.Fatalf("expected exponential delay to win, got %s", got)
	}
}

// A transient error is retried with non-decreasing waits until the attempt
// budget is spent, then the delivery is exhausted.
func TestRetrySequenceEndsExhausted(t *testing.T) {
	retrier := delivery.NewRetrier(testPolicy())
	d := &delivery.Delivery{MaxAttempts: 5}

	var last time.Duration
	for {
		d.AttemptCount++
		decision, wait := retrier.Decide(delivery.Transient(errBoom, 0), d)
		if decision == delivery.Exhausted {
			break
		}
		if decision != delivery.Retry {
			t.Fatalf("unexpected decision %s", decision)
		}
		if wait < last {
			t.Fatalf("wait decreased: %s after %s", wait, last)
		}
		last = wait
		d.Waited += wait
	}
	if d.AttemptCount != 5 {
		t.Fatalf("expected 5 attempts, got %d", d.AttemptCount)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []delivery.State{delivery.StateSuccess, delivery.StatePermanentFailure, delivery.StateRetryExhausted, delivery.StateAbandoned} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []delivery.State{delivery.StatePending, delivery.StateRetrying} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
