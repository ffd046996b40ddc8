package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/bridge/id"
)

// ErrNotFound is returned when a DLQ entry does not exist.
var ErrNotFound = errors.New("dlq: entry not found")

// ErrAlreadyReplayed is returned when replaying an entry a second time.
var ErrAlreadyReplayed = errors.New("dlq: entry already replayed")

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ stores a failed delivery.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns DLQ entries, newest first, optionally filtered.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns a DLQ entry by ID.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// MarkReplayed sets ReplayedAt on an entry. It returns ErrAlreadyReplayed
	// if the entry was already marked.
	MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error

	// PurgeDLQ deletes DLQ entries that failed before a threshold.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of DLQ entries.
	CountDLQ(ctx context.Context) (int64, error)
}
