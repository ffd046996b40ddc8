package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/mapping"
	bridgestore "github.com/xraph/bridge/store"
)

// compile-time interface check
var _ bridgestore.Store = (*Store)(nil)

// Option configures a Redis Store.
type Option func(*Store)

// WithPrefix sets the key namespace. The default is DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithDedupTTL sets how long fingerprints stay visible.
func WithDedupTTL(ttl time.Duration) Option {
	return func(s *Store) { s.dedupTTL = ttl }
}

// WithMappingTTL sets how long message links are kept.
func WithMappingTTL(ttl time.Duration) Option {
	return func(s *Store) { s.mappingTTL = ttl }
}

// Store implements store.Store using Redis, via Grove KV for entity blobs and
// the raw client for sets, hashes and sorted-set indexes.
type Store struct {
	kv  *kv.Store
	rdb goredis.UniversalClient

	prefix     string
	dedupTTL   time.Duration
	mappingTTL time.Duration
}

// New creates a new Redis store backed by Grove KV.
func New(store *kv.Store, opts ...Option) *Store {
	return newStore(store, redisdriver.UnwrapClient(store), opts)
}

// Open connects to the Redis server at url (e.g. "redis://localhost:6379/0")
// through a Grove KV redis driver and returns a store on top of it.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	drv := redisdriver.New()
	if err := drv.Open(ctx, url); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("bridge/redis: open: %w", err)
	}
	store, err := kv.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("bridge/redis: open: %w", err)
	}
	return New(store, opts...), nil
}

// NewFromClient creates a store on a bare go-redis client.
func NewFromClient(rdb goredis.UniversalClient, opts ...Option) *Store {
	return newStore(nil, rdb, opts)
}

func newStore(store *kv.Store, rdb goredis.UniversalClient, opts []Option) *Store {
	s := &Store{
		kv:         store,
		rdb:        rdb,
		prefix:     DefaultPrefix,
		dedupTTL:   dedup.DefaultTTL,
		mappingTTL: mapping.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op for Redis (no schema migrations needed).
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.kv != nil {
		return s.kv.Ping(ctx)
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.kv != nil {
		return s.kv.Close()
	}
	return s.rdb.Close()
}

// scoreFromTime converts a time.Time to a sorted set score (unix seconds as float64).
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// isNotFound checks for either the KV or the raw client's missing-key sentinel.
func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrNotFound) || errors.Is(err, goredis.Nil)
}

// getEntity retrieves and decodes a JSON entity.
func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	var (
		raw []byte
		err error
	)
	if s.kv != nil {
		raw, err = s.kv.GetRaw(ctx, key)
	} else {
		raw, err = s.rdb.Get(ctx, key).Bytes()
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// setEntity encodes and stores a JSON entity.
func (s *Store) setEntity(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bridge/redis: marshal entity: %w", err)
	}
	if s.kv != nil {
		return s.kv.SetRaw(ctx, key, raw)
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

// zRangeByScoreIDs returns all member IDs from a sorted set within a score range.
func (s *Store) zRangeByScoreIDs(ctx context.Context, key string, lo, hi float64) ([]string, error) {
	minStr := "-inf"
	maxStr := "+inf"
	if !math.IsInf(lo, -1) {
		minStr = strconv.FormatFloat(lo, 'f', -1, 64)
	}
	if !math.IsInf(hi, 1) {
		maxStr = "(" + strconv.FormatFloat(hi, 'f', -1, 64)
	}
	return s.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: minStr,
		Max: maxStr,
	}).Result()
}

// applyPagination applies offset and limit to a slice.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset > 0 && offset >= len(items) {
		return nil
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
