package dedup

import (
	"context"
	"errors"

	"github.com/xraph/bridge/event"
)

// Composite consults several stores in order, typically a process-local one
// in front of a shared one. Every store is marked, and a fingerprint is a
// duplicate if any store has seen it.
//
// When no store reports a duplicate and at least one failed, the failures
// are returned so the caller's fail-open/fail-closed policy applies.
type Composite struct {
	stores []Store
}

var _ Store = (*Composite)(nil)

// NewComposite combines stores. Nil entries are skipped.
func NewComposite(stores ...Store) *Composite {
	c := &Composite{stores: make([]Store, 0, len(stores))}
	for _, s := range stores {
		if s != nil {
			c.stores = append(c.stores, s)
		}
	}
	return c
}

// CheckAndMark implements Store.
func (c *Composite) CheckAndMark(ctx context.Context, fp event.Fingerprint) (bool, error) {
	var (
		duplicate bool
		errs      []error
	)
	for _, s := range c.stores {
		dup, err := s.CheckAndMark(ctx, fp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		duplicate = duplicate || dup
	}
	if duplicate {
		return true, nil
	}
	return false, errors.Join(errs...)
}
