// Package dedup defines the duplicate-suppression contract of the bridge.
//
// A Store remembers event fingerprints for a fixed TTL. CheckAndMark is the
// only operation the relay path depends on: it tests and records in one
// atomic step, so two concurrent observations of the same message cannot both
// be admitted.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/bridge/event"
)

// DefaultTTL is how long a fingerprint stays visible when none is configured.
const DefaultTTL = 5 * time.Minute

// ErrStoreUnavailable is wrapped by backends that cannot reach their storage.
var ErrStoreUnavailable = errors.New("dedup: store unavailable")

// Store records handled fingerprints.
type Store interface {
	// CheckAndMark reports whether fp was already recorded and unexpired.
	// When it was not, it is recorded with a fresh TTL. A duplicate hit never
	// extends the TTL.
	CheckAndMark(ctx context.Context, fp event.Fingerprint) (duplicate bool, err error)
}

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Policy decides what the relay does when the store is unavailable.
type Policy int

const (
	// FailOpen relays the event anyway and risks a duplicate.
	FailOpen Policy = iota

	// FailClosed drops the event.
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}
