package dedup_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/event"
)

// setStore is a minimal in-test Store without expiry.
type setStore struct {
	mu   sync.Mutex
	seen map[event.Fingerprint]bool
	err  error
}

func newSetStore() *setStore { return &setStore{seen: map[event.Fingerprint]bool{}} }

func (s *setStore) CheckAndMark(_ context.Context, fp event.Fingerprint) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[fp] {
		return true, nil
	}
	s.seen[fp] = true
	return false, nil
}

func TestCompositeMarksEveryStore(t *testing.T) {
	local, shared := newSetStore(), newSetStore()
	c := dedup.NewComposite(local, nil, shared)

	fp := event.NewFingerprint(event.Discord, "1", "m")
	dup, err := c.CheckAndMark(context.Background(), fp)
	if err != nil || dup {
		t.Fatalf("first call: dup=%v err=%v", dup, err)
	}
	if !local.seen[fp] || !shared.seen[fp] {
		t.Fatal("both stores should be marked")
	}

	dup, err = c.CheckAndMark(context.Background(), fp)
	if err != nil || !dup {
		t.Fatalf("second call: dup=%v err=%v", dup, err)
	}
}

func TestCompositeDuplicateInAnyStoreWins(t *testing.T) {
	local, shared := newSetStore(), newSetStore()
	fp := event.NewFingerprint(event.Telegram, "-1", "9")
	shared.seen[fp] = true

	dup, err := dedup.NewComposite(local, shared).CheckAndMark(context.Background(), fp)
	if err != nil || !dup {
		t.Fatalf("expected duplicate from shared store, dup=%v err=%v", dup, err)
	}
}

func TestCompositeSurfacesUnavailable(t *testing.T) {
	local := newSetStore()
	broken := &setStore{err: dedup.Unavailable("set", errors.New("connection refused"))}
	c := dedup.NewComposite(local, broken)

	fp := event.NewFingerprint(event.Discord, "1", "m")
	dup, err := c.CheckAndMark(context.Background(), fp)
	if dup {
		t.Fatal("not a duplicate")
	}
	if !errors.Is(err, dedup.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	// The local store still remembers it, so a replay is caught even while
	// the shared store is down.
	dup, err = c.CheckAndMark(context.Background(), fp)
	if !dup || err != nil {
		t.Fatalf("expected local duplicate, dup=%v err=%v", dup, err)
	}
}
