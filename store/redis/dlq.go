package redis

import (
	"context"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/bridge/dlq"
	"github.com/xraph/bridge/id"
)

// PushDLQ stores an entry and indexes it by failure time.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	entryID := entry.ID.String()

	if err := s.setEntity(ctx, s.key(keyDLQ, entryID), entry); err != nil {
		return fmt.Errorf("bridge/redis: push dlq: %w", err)
	}

	score := scoreFromTime(entry.FailedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, s.key(zDLQAll), goredis.Z{Score: score, Member: entryID})
	if entry.Platform != "" {
		pipe.ZAdd(ctx, s.key(zDLQPlatform, string(entry.Platform)), goredis.Z{Score: score, Member: entryID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bridge/redis: push dlq indexes: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	zKey := s.key(zDLQAll)
	if opts.Platform != "" {
		zKey = s.key(zDLQPlatform, string(opts.Platform))
	}

	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zKey, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("bridge/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var e dlq.Entry
		if err := s.getEntity(ctx, s.key(keyDLQ, ids[i]), &e); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("bridge/redis: list dlq: %w", err)
		}
		if !opts.Match(&e) {
			continue
		}
		result = append(result, &e)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := s.getEntity(ctx, s.key(keyDLQ, dlqID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, fmt.Errorf("bridge/redis: get dlq: %w", err)
	}
	return &e, nil
}

// MarkReplayed claims the entry's replay marker with SET NX, so two
// concurrent replays cannot both succeed, then records ReplayedAt.
func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	e, err := s.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}

	claimed, err := s.rdb.SetNX(ctx, s.key(keyDLQReplay, dlqID.String()), at.Format(time.RFC3339Nano), 0).Result()
	if err != nil {
		return fmt.Errorf("bridge/redis: mark replayed: %w", err)
	}
	if !claimed || e.ReplayedAt != nil {
		return dlq.ErrAlreadyReplayed
	}

	e.ReplayedAt = &at
	e.Touch()
	if err := s.setEntity(ctx, s.key(keyDLQ, dlqID.String()), e); err != nil {
		return fmt.Errorf("bridge/redis: mark replayed: %w", err)
	}
	return nil
}

// PurgeDLQ deletes entries that failed before the threshold.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, s.key(zDLQAll), math.Inf(-1), scoreFromTime(before))
	if err != nil {
		return 0, fmt.Errorf("bridge/redis: purge list: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		var e dlq.Entry
		if err := s.getEntity(ctx, s.key(keyDLQ, entryID), &e); err != nil && !isNotFound(err) {
			return count, fmt.Errorf("bridge/redis: purge: %w", err)
		}

		if err := s.deleteDLQEntry(ctx, entryID, string(e.Platform)); err != nil {
			return count, fmt.Errorf("bridge/redis: purge: %w", err)
		}
		count++
	}

	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, s.key(zDLQAll)).Result()
	if err != nil {
		return 0, fmt.Errorf("bridge/redis: count dlq: %w", err)
	}
	return count, nil
}

// deleteDLQEntry removes a DLQ entry, its replay marker and its index entries.
func (s *Store) deleteDLQEntry(ctx context.Context, entryID, platform string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, s.key(keyDLQ, entryID), s.key(keyDLQReplay, entryID))
	pipe.ZRem(ctx, s.key(zDLQAll), entryID)
	if platform != "" {
		pipe.ZRem(ctx, s.key(zDLQPlatform, platform), entryID)
	}
	_, err := pipe.Exec(ctx)
	return err
}
