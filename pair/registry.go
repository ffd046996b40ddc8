package pair

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/internal/entity"
)

// ChangeFunc observes the routing table after a successful mutation.
// It runs while the registry's write lock is held, so snapshots reach it in
// mutation order. It must not call back into the registry's mutators.
type ChangeFunc func(ctx context.Context, pairs []Pair) error

// Registry is the live routing table.
//
// Readers load an immutable snapshot without locking. Writers are
// serialized by a mutex, build a fresh snapshot and publish it with a single
// atomic store, so a reader sees either the old table or the new one.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	hooks   []ChangeFunc
	logger  *slog.Logger
}

type location struct {
	platform  event.Platform
	channelID string
}

type snapshot struct {
	pairs []Pair
	byID  map[id.ID]int
	byLoc map[location][]int
}

func newSnapshot(pairs []Pair) *snapshot {
	sort.SliceStable(pairs, func(i, j int) bool {
		if !pairs[i].CreatedAt.Equal(pairs[j].CreatedAt) {
			return pairs[i].CreatedAt.Before(pairs[j].CreatedAt)
		}
		return pairs[i].ID.String() < pairs[j].ID.String()
	})

	s := &snapshot{
		pairs: pairs,
		byID:  make(map[id.ID]int, len(pairs)),
		byLoc: make(map[location][]int, len(pairs)*2),
	}
	for i, p := range pairs {
		s.byID[p.ID] = i
		src := location{p.Source.Platform, p.Source.ChannelID}
		s.byLoc[src] = append(s.byLoc[src], i)
		if p.mode() == Bidirectional {
			dst := location{p.Destination.Platform, p.Destination.ChannelID}
			s.byLoc[dst] = append(s.byLoc[dst], i)
		}
	}
	return s
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.current.Store(newSnapshot(nil))
	return r
}

// OnChange registers a hook invoked after every successful Upsert or Remove.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// List returns every pair, oldest first.
func (r *Registry) List() []Pair {
	s := r.current.Load()
	out := make([]Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Len returns the number of pairs.
func (r *Registry) Len() int {
	return len(r.current.Load().pairs)
}

// Get returns the pair with the given id.
func (r *Registry) Get(pairID id.ID) (Pair, bool) {
	s := r.current.Load()
	i, ok := s.byID[pairID]
	if !ok {
		return Pair{}, false
	}
	return s.pairs[i], true
}

// Resolve returns the pairs that carry traffic out of the given channel.
// A bidirectional pair matches on either of its sides. An empty result means
// the channel is not bridged.
func (r *Registry) Resolve(platform event.Platform, channelID string) []Pair {
	s := r.current.Load()
	idx := s.byLoc[location{platform, channelID}]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Pair, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.pairs[i])
	}
	return out
}

// Upsert validates the input and inserts a new pair (Nil ID) or replaces an
// existing one in place. CreatedAt survives replacement.
func (r *Registry) Upsert(ctx context.Context, in Input) (Pair, error) {
	candidate := Pair{
		ID:          in.ID,
		Source:      in.Source,
		Destination: in.Destination,
		ThreadID:    in.ThreadID,
		Mode:        in.Mode,
	}
	if candidate.Mode == "" {
		candidate.Mode = Bidirectional
	}
	if err := validate(candidate); err != nil {
		return Pair{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	next := make([]Pair, 0, len(cur.pairs)+1)

	if candidate.ID.IsNil() {
		candidate.ID = id.NewPairID()
		candidate.Entity = entity.New()
		next = append(next, cur.pairs...)
	} else {
		i, ok := cur.byID[candidate.ID]
		if !ok {
			return Pair{}, &NotFoundError{ID: candidate.ID}
		}
		candidate.Entity = cur.pairs[i].Entity
		candidate.Touch()
		for j, p := range cur.pairs {
			if j != i {
				next = append(next, p)
			}
		}
	}

	if ve := checkConflicts(candidate, next); ve != nil {
		return Pair{}, ve
	}

	next = append(next, candidate)
	r.publish(ctx, newSnapshot(next))

	r.logger.InfoContext(ctx, "pair upserted",
		"pair_id", candidate.ID,
		"source", candidate.Source.Platform, "source_channel", candidate.Source.ChannelID,
		"destination", candidate.Destination.Platform, "destination_channel", candidate.Destination.ChannelID,
		"mode", candidate.Mode,
	)
	return candidate, nil
}

// Remove deletes a pair. Removing an unknown id, including one that was
// already removed, returns a NotFoundError.
func (r *Registry) Remove(ctx context.Context, pairID id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	i, ok := cur.byID[pairID]
	if !ok {
		return &NotFoundError{ID: pairID}
	}

	next := make([]Pair, 0, len(cur.pairs)-1)
	next = append(next, cur.pairs[:i]...)
	next = append(next, cur.pairs[i+1:]...)
	r.publish(ctx, newSnapshot(next))

	r.logger.InfoContext(ctx, "pair removed", "pair_id", pairID)
	return nil
}

// Load replaces the whole table, typically with pairs read from a Store at
// startup. Pairs without an id get one. Change hooks are not invoked.
// The table is left untouched if any pair is invalid.
func (r *Registry) Load(pairs []Pair) error {
	next := make([]Pair, 0, len(pairs))
	for i, p := range pairs {
		if p.Mode == "" {
			p.Mode = Bidirectional
		}
		if err := validate(p); err != nil {
			return err
		}
		if p.ID.IsNil() {
			p.ID = id.NewPairID()
		}
		if p.CreatedAt.IsZero() {
			p.Entity = entity.New()
		}
		if ve := checkConflicts(p, next); ve != nil {
			ve.Field = "pairs[" + strconv.Itoa(i) + "]." + ve.Field
			return ve
		}
		next = append(next, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(newSnapshot(next))
	return nil
}

// publish swaps in the new snapshot and notifies hooks. Callers hold r.mu.
func (r *Registry) publish(ctx context.Context, s *snapshot) {
	r.current.Store(s)

	if len(r.hooks) == 0 {
		return
	}
	view := make([]Pair, len(s.pairs))
	copy(view, s.pairs)
	for _, fn := range r.hooks {
		if err := fn(ctx, view); err != nil {
			r.logger.ErrorContext(ctx, "pair change hook failed", "error", err)
		}
	}
}
