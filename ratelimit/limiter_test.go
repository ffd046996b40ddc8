package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/bridge/event"
)

func limiter(rate float64) *Limiter {
	return New(map[event.Platform]float64{event.Telegram: rate})
}

func TestAllow_Unlimited(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		if !l.Allow(event.Discord, "1") {
			t.Fatal("unconfigured platform should be unlimited")
		}
	}
}

func TestAllow_RateLimited(t *testing.T) {
	l := limiter(2)

	// First two should be allowed (bucket starts full).
	if !l.Allow(event.Telegram, "-200") {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow(event.Telegram, "-200") {
		t.Fatal("second call should be allowed")
	}

	// Third should be denied (bucket exhausted).
	if l.Allow(event.Telegram, "-200") {
		t.Fatal("third call should be denied")
	}

	// Other chats have their own bucket.
	if !l.Allow(event.Telegram, "-300") {
		t.Fatal("other chat should be allowed")
	}
}

func TestAllow_Refills(t *testing.T) {
	l := limiter(10)

	for i := 0; i < 10; i++ {
		l.Allow(event.Telegram, "c")
	}
	if l.Allow(event.Telegram, "c") {
		t.Fatal("should be denied after exhausting bucket")
	}

	time.Sleep(200 * time.Millisecond)

	if !l.Allow(event.Telegram, "c") {
		t.Fatal("should be allowed after refill")
	}
}

func TestAllow_FractionalRate(t *testing.T) {
	l := limiter(0.5)
	if !l.Allow(event.Telegram, "c") {
		t.Fatal("bucket should start with one token")
	}
	if l.Allow(event.Telegram, "c") {
		t.Fatal("second send should wait two seconds")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	l := limiter(1)
	l.Allow(event.Telegram, "c")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, event.Telegram, "c"); err == nil {
		t.Fatal("Wait should return error when context is cancelled")
	}
}

func TestWait_EventuallyAllowed(t *testing.T) {
	l := limiter(20) // ~50ms per token

	for i := 0; i < 20; i++ {
		l.Allow(event.Telegram, "c")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, event.Telegram, "c"); err != nil {
		t.Fatalf("Wait should succeed, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Wait should have blocked for at least some time")
	}
}

func TestPenalize(t *testing.T) {
	l := New(nil)
	l.Penalize(event.Discord, "100", 80*time.Millisecond)

	if l.Allow(event.Discord, "100") {
		t.Fatal("penalized channel must be blocked even without a rate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := l.Wait(ctx, event.Discord, "100"); err != nil {
		t.Fatalf("Wait should succeed after the penalty, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("Wait should honour the penalty")
	}
}

func TestReserve_ReportsWait(t *testing.T) {
	l := New(nil)
	l.Penalize(event.Discord, "100", time.Second)

	ok, wait := l.Reserve(event.Discord, "100")
	if ok {
		t.Fatal("penalized channel should not be reservable")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("unexpected wait %s", wait)
	}
	if ok, _ := l.Reserve(event.Discord, "101"); !ok {
		t.Fatal("other channels are unaffected")
	}
}

func TestReset(t *testing.T) {
	l := limiter(1)

	l.Allow(event.Telegram, "c")
	if l.Allow(event.Telegram, "c") {
		t.Fatal("should be denied")
	}

	l.Reset(event.Telegram, "c")

	if !l.Allow(event.Telegram, "c") {
		t.Fatal("should be allowed after reset")
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := limiter(100)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow(event.Telegram, "c")
		}()
	}

	wg.Wait()
	close(allowed)

	trueCount := 0
	for v := range allowed {
		if v {
			trueCount++
		}
	}

	// The bucket starts with 100 tokens; refill during the test may add a few.
	if trueCount < 100 || trueCount > 110 {
		t.Fatalf("expected about 100 allowed, got %d", trueCount)
	}
}
