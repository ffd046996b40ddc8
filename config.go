package bridge

import (
	"fmt"
	"time"

	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/heartbeat"
	"github.com/xraph/bridge/ratelimit"
)

// Config holds the configuration for a Bridge instance.
type Config struct {
	// QueueSize bounds the inbound queue of each platform. Publish blocks
	// while the queue is full.
	QueueSize int

	// Lanes is the number of sequential processors per platform. Events are
	// assigned to a lane by channel, so one channel is handled in order.
	Lanes int

	// Concurrency bounds concurrent sends per destination platform.
	Concurrency map[event.Platform]int

	// DeliveryQueueSize is the buffer of each delivery worker.
	DeliveryQueueSize int

	// AttemptTimeout bounds a single outbound send.
	AttemptTimeout time.Duration

	// Retry controls backoff between send attempts.
	Retry delivery.Policy

	// DedupPolicy decides what happens to an event when the dedup store
	// cannot be reached.
	DedupPolicy dedup.Policy

	// RateLimits is the number of sends per second allowed per destination
	// channel, by platform. A nil map disables rate limiting.
	RateLimits map[event.Platform]float64

	// HeartbeatInterval is the period of the liveness log.
	HeartbeatInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for queued events and
	// in-flight deliveries.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize: 256,
		Lanes:     8,
		Concurrency: map[event.Platform]int{
			event.Discord:  delivery.DefaultWorkers,
			event.Telegram: delivery.DefaultWorkers,
		},
		DeliveryQueueSize: 64,
		AttemptTimeout:    15 * time.Second,
		Retry:             delivery.DefaultPolicy(),
		DedupPolicy:       dedup.FailOpen,
		RateLimits:        ratelimit.DefaultRates(),
		HeartbeatInterval: heartbeat.DefaultInterval,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Validate reports the first out-of-range value.
func (c Config) Validate() error {
	switch {
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	case c.Lanes <= 0:
		return fmt.Errorf("%w: lanes must be positive", ErrInvalidConfig)
	case c.AttemptTimeout < 0:
		return fmt.Errorf("%w: attempt timeout must not be negative", ErrInvalidConfig)
	case c.Retry.MaxAttempts <= 0:
		return fmt.Errorf("%w: retry max attempts must be positive", ErrInvalidConfig)
	case c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay:
		return fmt.Errorf("%w: retry delays must satisfy 0 <= base <= max", ErrInvalidConfig)
	case c.Retry.Jitter < 0 || c.Retry.Jitter > 1:
		return fmt.Errorf("%w: retry jitter must be within [0, 1]", ErrInvalidConfig)
	case c.ShutdownTimeout < 0:
		return fmt.Errorf("%w: shutdown timeout must not be negative", ErrInvalidConfig)
	}
	for p, n := range c.Concurrency {
		if n <= 0 {
			return fmt.Errorf("%w: concurrency for %s must be positive", ErrInvalidConfig, p)
		}
	}
	for p, r := range c.RateLimits {
		if r <= 0 {
			return fmt.Errorf("%w: rate limit for %s must be positive", ErrInvalidConfig, p)
		}
	}
	return nil
}
