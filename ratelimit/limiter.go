// Package ratelimit paces outbound sends per destination channel.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/bridge/event"
)

// Default per-channel send rates, in messages per second.
const (
	DefaultDiscordRate  = 5
	DefaultTelegramRate = 1
)

// Limiter implements token bucket rate limiting per destination channel.
// Each platform has its own rate; a rate of 0 means unlimited.
type Limiter struct {
	mu      sync.Mutex
	rates   map[event.Platform]float64
	buckets map[string]*bucket
}

type bucket struct {
	tokens       float64
	lastFill     time.Time
	rateLimit    float64 // tokens per second
	blockedUntil time.Time
}

// New creates a limiter with the given per-platform rates.
func New(rates map[event.Platform]float64) *Limiter {
	r := make(map[event.Platform]float64, len(rates))
	for p, v := range rates {
		r[p] = v
	}
	return &Limiter{
		rates:   r,
		buckets: make(map[string]*bucket),
	}
}

// DefaultRates returns the default per-platform rates.
func DefaultRates() map[event.Platform]float64 {
	return map[event.Platform]float64{
		event.Discord:  DefaultDiscordRate,
		event.Telegram: DefaultTelegramRate,
	}
}

func key(p event.Platform, channelID string) string {
	return string(p) + ":" + channelID
}

// Allow reports whether a send to the channel may proceed now and, if so,
// consumes a token.
func (l *Limiter) Allow(p event.Platform, channelID string) bool {
	ok, _ := l.reserve(p, channelID)
	return ok
}

// Reserve takes a token if one is available. Otherwise it returns how long
// to wait before trying again; nothing is consumed in that case.
func (l *Limiter) Reserve(p event.Platform, channelID string) (bool, time.Duration) {
	return l.reserve(p, channelID)
}

// Wait blocks until a send to the channel is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, p event.Platform, channelID string) error {
	for {
		ok, wait := l.reserve(p, channelID)
		if ok {
			return nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Penalize blocks the channel for d, typically the retry-after hint of a
// rate-limited response, so queued sends do not hit the same limit.
func (l *Limiter) Penalize(p event.Platform, channelID string, d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getOrCreateBucket(key(p, channelID), l.rateFor(p))
	until := time.Now().Add(d)
	if until.After(b.blockedUntil) {
		b.blockedUntil = until
	}
	b.tokens = 0
}

// Reset clears the rate limit state for a channel.
func (l *Limiter) Reset(p event.Platform, channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key(p, channelID))
}

// reserve takes a token if one is available. Otherwise it returns how long
// to wait before trying again.
func (l *Limiter) reserve(p event.Platform, channelID string) (bool, time.Duration) {
	rate := l.rateFor(p)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key(p, channelID)]
	if rate <= 0 && (!ok || b.blockedUntil.IsZero()) {
		return true, 0
	}
	if !ok {
		b = l.getOrCreateBucket(key(p, channelID), rate)
	}

	now := time.Now()
	if now.Before(b.blockedUntil) {
		return false, b.blockedUntil.Sub(now)
	}
	if rate <= 0 {
		return true, 0
	}

	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, time.Duration((1 - b.tokens) / b.rateLimit * float64(time.Second))
}

func (l *Limiter) rateFor(p event.Platform) float64 {
	return l.rates[p]
}

func (l *Limiter) getOrCreateBucket(k string, rateLimit float64) *bucket {
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{
			tokens:    max(rateLimit, 1), // start full
			lastFill:  time.Now(),
			rateLimit: rateLimit,
		}
		l.buckets[k] = b
	}
	return b
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * b.rateLimit
	burst := max(b.rateLimit, 1)
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastFill = now
}
