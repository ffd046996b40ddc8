package delivery

import (
	"math/rand/v2"
	"time"
)

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the send succeeded.
	Delivered Decision = iota

	// Retry means the send failed transiently and should be attempted again
	// after the returned wait.
	Retry

	// Fail means the send failed permanently.
	Fail

	// Exhausted means the send failed transiently but the attempt or wait
	// budget is spent.
	Exhausted
)

func (d Decision) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Policy bounds the retry behaviour.
type Policy struct {
	// MaxAttempts is the total number of sends, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential term.
	MaxDelay time.Duration

	// MaxTotalWait caps the sum of all waits for one delivery.
	MaxTotalWait time.Duration

	// Jitter adds up to this fraction of the delay at random.
	Jitter float64
}

// DefaultPolicy returns five attempts, 500ms doubling to 8s, 20% jitter and
// at most one minute of waiting.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		MaxTotalWait: time.Minute,
		Jitter:       0.2,
	}
}

// Retrier decides what to do after a delivery attempt.
type Retrier struct {
	policy Policy
	rand   func() float64
}

// NewRetrier creates a retrier with the given policy.
func NewRetrier(p Policy) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &Retrier{policy: p, rand: rand.Float64}
}

// WithRand replaces the jitter source, for deterministic tests.
func (r *Retrier) WithRand(fn func() float64) *Retrier {
	r.rand = fn
	return r
}

// Policy returns the retry policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Decide classifies the result of the attempt just made on d.
//
// Decision matrix:
//   - nil error → Delivered
//   - PermanentError → Fail
//   - anything else → Retry after Backoff, or Exhausted when d has used
//     MaxAttempts or the wait would push it past MaxTotalWait
func (r *Retrier) Decide(err error, d *Delivery) (Decision, time.Duration) {
	if err == nil {
		return Delivered, 0
	}
	if IsPermanent(err) {
		return Fail, 0
	}

	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.policy.MaxAttempts
	}
	if d.AttemptCount >= maxAttempts {
		return Exhausted, 0
	}

	wait := r.Backoff(d.AttemptCount, RetryAfter(err))
	if r.policy.MaxTotalWait > 0 && d.Waited+wait > r.policy.MaxTotalWait {
		return Exhausted, 0
	}
	return Retry, wait
}

// Backoff returns the wait after the given attempt (1-based): BaseDelay
// doubled per attempt, capped at MaxDelay, plus jitter. A longer retry-after
// hint from the platform wins.
func (r *Retrier) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := r.policy.BaseDelay
	for i := 1; i < attempt && delay < r.policy.MaxDelay; i++ {
		delay *= 2
	}
	if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
		delay = r.policy.MaxDelay
	}
	if r.policy.Jitter > 0 {
		delay += time.Duration(r.rand() * r.policy.Jitter * float64(delay))
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}
