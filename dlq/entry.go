package dlq

import (
	"time"

	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/internal/entity"
)

// Entry represents a delivery that failed permanently or exhausted its retries.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// DeliveryID references the failed delivery.
	DeliveryID id.ID `json:"delivery_id"`

	// PairID is the pair the delivery was routed through.
	PairID id.ID `json:"pair_id"`

	// Platform and ChannelID name the destination, for filtering.
	Platform  event.Platform `json:"platform"`
	ChannelID string         `json:"channel_id"`

	// Request is the outbound message as it was submitted. Replay resubmits it.
	Request delivery.Request `json:"request"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// State is the terminal state: permanent_failure or retry_exhausted.
	State delivery.State `json:"state"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the delivery was given up on.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset   int
	Limit    int
	Platform event.Platform
	PairID   *id.ID
	From     *time.Time
	To       *time.Time

	// Pending limits the result to entries not yet replayed.
	Pending bool
}

// Match reports whether e passes the filters in o. Pagination is not applied.
func (o ListOpts) Match(e *Entry) bool {
	if o.Platform != "" && e.Platform != o.Platform {
		return false
	}
	if o.PairID != nil && e.PairID != *o.PairID {
		return false
	}
	if o.From != nil && e.FailedAt.Before(*o.From) {
		return false
	}
	if o.To != nil && !e.FailedAt.Before(*o.To) {
		return false
	}
	if o.Pending && e.ReplayedAt != nil {
		return false
	}
	return true
}
