// Package memory provides an in-memory Store implementation for unit testing
// and single-process deployments.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/dlq"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/mapping"
	"github.com/xraph/bridge/pair"
	bridgestore "github.com/xraph/bridge/store"
)

// compile-time interface check.
var _ bridgestore.Store = (*Store)(nil)

// DefaultMaxFingerprints bounds the dedup table.
const DefaultMaxFingerprints = 100_000

// Option configures a memory Store.
type Option func(*Store)

// WithDedupTTL sets how long fingerprints stay visible.
func WithDedupTTL(ttl time.Duration) Option {
	return func(s *Store) { s.dedupTTL = ttl }
}

// WithMaxFingerprints bounds the dedup table. When full, expired entries are
// purged and then the oldest are evicted, which may re-admit a duplicate.
func WithMaxFingerprints(n int) Option {
	return func(s *Store) { s.maxFingerprints = n }
}

// WithMappingTTL sets how long message links are kept.
func WithMappingTTL(ttl time.Duration) Option {
	return func(s *Store) { s.mappingTTL = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	dedupTTL        time.Duration
	maxFingerprints int
	mappingTTL      time.Duration
	now             func() time.Time

	fingerprints map[event.Fingerprint]*list.Element
	fpOrder      *list.List // of *fingerprint, oldest first
	pairs        []pair.Pair
	links        map[mapping.Ref][]link
	dlqEntries   map[string]*dlq.Entry // keyed by ID string

	closed bool
}

type fingerprint struct {
	fp      event.Fingerprint
	expires time.Time
}

type link struct {
	other   mapping.Ref
	expires time.Time
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		dedupTTL:        dedup.DefaultTTL,
		maxFingerprints: DefaultMaxFingerprints,
		mappingTTL:      mapping.DefaultTTL,
		now:             time.Now,
		fingerprints:    make(map[event.Fingerprint]*list.Element),
		fpOrder:         list.New(),
		links:           make(map[mapping.Ref][]link),
		dlqEntries:      make(map[string]*dlq.Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return bridge.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// dedup.Store
// ──────────────────────────────────────────────────

// CheckAndMark reports whether fp is already recorded and unexpired, and
// records it otherwise. The test and the write happen under one lock.
func (s *Store) CheckAndMark(_ context.Context, fp event.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, dedup.Unavailable("check_and_mark", bridge.ErrStoreClosed)
	}

	now := s.now()
	if el, ok := s.fingerprints[fp]; ok {
		if now.Before(el.Value.(*fingerprint).expires) {
			return true, nil
		}
		s.removeFingerprint(el)
	}

	if s.maxFingerprints > 0 && len(s.fingerprints) >= s.maxFingerprints {
		s.evictFingerprints(now)
	}
	s.fingerprints[fp] = s.fpOrder.PushBack(&fingerprint{fp: fp, expires: now.Add(s.dedupTTL)})
	return false, nil
}

// evictFingerprints drops expired entries, then the oldest until there is room
// for one more. Entries are kept in insertion order, and with a fixed TTL that
// is also expiry order, so both passes stop at the first survivor. Caller
// holds s.mu.
func (s *Store) evictFingerprints(now time.Time) {
	for el := s.fpOrder.Front(); el != nil; el = s.fpOrder.Front() {
		if now.Before(el.Value.(*fingerprint).expires) {
			break
		}
		s.removeFingerprint(el)
	}
	for len(s.fingerprints) >= s.maxFingerprints {
		s.removeFingerprint(s.fpOrder.Front())
	}
}

func (s *Store) removeFingerprint(el *list.Element) {
	delete(s.fingerprints, el.Value.(*fingerprint).fp)
	s.fpOrder.Remove(el)
}

// Fingerprints returns the number of recorded fingerprints, expired or not.
func (s *Store) Fingerprints() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fingerprints)
}

// ──────────────────────────────────────────────────
// pair.Store
// ──────────────────────────────────────────────────

// LoadPairs returns the saved pairs.
func (s *Store) LoadPairs(_ context.Context) ([]pair.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, bridge.ErrStoreClosed
	}
	return append([]pair.Pair(nil), s.pairs...), nil
}

// SavePairs replaces the saved pairs.
func (s *Store) SavePairs(_ context.Context, pairs []pair.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return bridge.ErrStoreClosed
	}
	s.pairs = append([]pair.Pair(nil), pairs...)
	return nil
}

// ──────────────────────────────────────────────────
// mapping.Store
// ──────────────────────────────────────────────────

// PutLink records l in both directions.
func (s *Store) PutLink(_ context.Context, l mapping.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return bridge.ErrStoreClosed
	}

	exp := s.now().Add(s.mappingTTL)
	s.links[l.Source] = append(s.live(l.Source), link{other: l.Target, expires: exp})
	s.links[l.Target] = append(s.live(l.Target), link{other: l.Source, expires: exp})
	return nil
}

// live returns the unexpired links of ref. Caller holds s.mu for writing.
func (s *Store) live(ref mapping.Ref) []link {
	now := s.now()
	kept := s.links[ref][:0]
	for _, l := range s.links[ref] {
		if now.Before(l.expires) {
			kept = append(kept, l)
		}
	}
	return kept
}

// Counterpart returns the message linked to ref in (platform, channelID).
func (s *Store) Counterpart(_ context.Context, ref mapping.Ref, platform event.Platform, channelID string) (mapping.Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return mapping.Ref{}, bridge.ErrStoreClosed
	}

	now := s.now()
	for _, l := range s.links[ref] {
		if l.other.Platform == platform && l.other.ChannelID == channelID && now.Before(l.expires) {
			return l.other, nil
		}
	}
	return mapping.Ref{}, mapping.ErrNotFound
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// PushDLQ stores a failed delivery.
func (s *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return bridge.ErrStoreClosed
	}
	cp := *entry
	s.dlqEntries[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries, newest first, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if !opts.Match(e) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkReplayed sets ReplayedAt on an entry.
func (s *Store) MarkReplayed(_ context.Context, dlqID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return dlq.ErrNotFound
	}
	if e.ReplayedAt != nil {
		return dlq.ErrAlreadyReplayed
	}
	e.ReplayedAt = &at
	e.Touch()
	return nil
}

// PurgeDLQ deletes DLQ entries that failed before a threshold.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.FailedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
