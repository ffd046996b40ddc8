package redis

import (
	"context"

	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/event"
)

// CheckAndMark records fp with SET NX EX. Redis performs the test and the
// write atomically, so concurrent callers across processes agree on exactly
// one admission.
func (s *Store) CheckAndMark(ctx context.Context, fp event.Fingerprint) (bool, error) {
	set, err := s.rdb.SetNX(ctx, s.key(keyDedup, string(fp)), 1, s.dedupTTL).Result()
	if err != nil {
		return false, dedup.Unavailable("bridge/redis: check_and_mark", err)
	}
	return !set, nil
}
