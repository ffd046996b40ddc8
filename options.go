package bridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/filter"
	"github.com/xraph/bridge/mapping"
	"github.com/xraph/bridge/observability"
	"github.com/xraph/bridge/pair"
	"github.com/xraph/bridge/store"
)

// Option configures a Bridge instance.
type Option func(*Bridge) error

// WithStore sets the persistence backend. It supplies pairs, dedup, message
// links and the DLQ unless one of them is overridden.
func WithStore(s store.Store) Option {
	return func(b *Bridge) error {
		b.store = s
		return nil
	}
}

// WithDedup overrides the dedup store, for example with a dedup.Composite of
// a local and a shared backend.
func WithDedup(d dedup.Store) Option {
	return func(b *Bridge) error {
		b.dedup = d
		return nil
	}
}

// WithMapping overrides the message link store.
func WithMapping(m mapping.Store) Option {
	return func(b *Bridge) error {
		b.mapping = m
		return nil
	}
}

// WithPairStore overrides where the pair table is persisted.
func WithPairStore(s pair.Store) Option {
	return func(b *Bridge) error {
		b.pairStore = s
		return nil
	}
}

// WithSender registers the outbound sender for a platform.
func WithSender(p event.Platform, s delivery.Sender) Option {
	return func(b *Bridge) error {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown platform %q", ErrInvalidConfig, p)
		}
		if s == nil {
			return fmt.Errorf("%w: nil sender for %s", ErrInvalidConfig, p)
		}
		b.senders[p] = s
		return nil
	}
}

// WithLogger sets the structured logger for the Bridge instance.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) error {
		if logger != nil {
			b.logger = logger
		}
		return nil
	}
}

// WithMetrics attaches metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) error {
		b.metrics = m
		return nil
	}
}

// WithTracer attaches an OpenTelemetry tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(b *Bridge) error {
		b.tracer = t
		return nil
	}
}

// WithFilters sets the initial filter configuration.
func WithFilters(cfg filter.Config) Option {
	return func(b *Bridge) error {
		b.filterConfig = cfg
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(b *Bridge) error {
		b.config = cfg
		return nil
	}
}

// WithQueueSize sets the per-platform inbound queue size.
func WithQueueSize(n int) Option {
	return func(b *Bridge) error {
		b.config.QueueSize = n
		return nil
	}
}

// WithLanes sets the number of sequential processors per platform.
func WithLanes(n int) Option {
	return func(b *Bridge) error {
		b.config.Lanes = n
		return nil
	}
}

// WithConcurrency bounds concurrent sends to platform p.
func WithConcurrency(p event.Platform, n int) Option {
	return func(b *Bridge) error {
		conc := make(map[event.Platform]int, len(b.config.Concurrency)+1)
		for k, v := range b.config.Concurrency {
			conc[k] = v
		}
		conc[p] = n
		b.config.Concurrency = conc
		return nil
	}
}

// WithAttemptTimeout bounds a single outbound send.
func WithAttemptTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.AttemptTimeout = d
		return nil
	}
}

// WithRetryPolicy sets the backoff policy.
func WithRetryPolicy(p delivery.Policy) Option {
	return func(b *Bridge) error {
		b.config.Retry = p
		return nil
	}
}

// WithDedupPolicy sets the behaviour when the dedup store is unreachable.
func WithDedupPolicy(p dedup.Policy) Option {
	return func(b *Bridge) error {
		b.config.DedupPolicy = p
		return nil
	}
}

// WithRateLimits sets per-platform sends per second per channel. Pass nil to
// disable rate limiting.
func WithRateLimits(rates map[event.Platform]float64) Option {
	return func(b *Bridge) error {
		b.config.RateLimits = rates
		return nil
	}
}

// WithHeartbeatInterval sets the liveness log period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.HeartbeatInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for queued events and
// in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.ShutdownTimeout = d
		return nil
	}
}
