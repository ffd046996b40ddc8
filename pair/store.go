package pair

import "context"

// Store persists the routing table. The registry never calls it directly;
// the process loads pairs at startup and saves them from an OnChange hook.
type Store interface {
	// LoadPairs returns the persisted pairs. An empty result is not an error.
	LoadPairs(ctx context.Context) ([]Pair, error)

	// SavePairs replaces the persisted pairs with the given snapshot.
	SavePairs(ctx context.Context, pairs []Pair) error
}
