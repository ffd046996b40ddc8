package redis

import (
	"context"
	"fmt"

	"github.com/xraph/bridge/pair"
)

// LoadPairs returns the saved pairs, or none if nothing was saved yet.
func (s *Store) LoadPairs(ctx context.Context) ([]pair.Pair, error) {
	var pairs []pair.Pair
	if err := s.getEntity(ctx, s.key(keyPairs), &pairs); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bridge/redis: load pairs: %w", err)
	}
	return pairs, nil
}

// SavePairs replaces the saved pairs with one write.
func (s *Store) SavePairs(ctx context.Context, pairs []pair.Pair) error {
	if pairs == nil {
		pairs = []pair.Pair{}
	}
	if err := s.setEntity(ctx, s.key(keyPairs), pairs); err != nil {
		return fmt.Errorf("bridge/redis: save pairs: %w", err)
	}
	return nil
}
