package delivery

import (
	"time"

	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/mapping"
)

// State is the position of a delivery in its lifecycle:
//
//	Pending → Success
//	Pending → Retrying → Pending
//	Pending → PermanentFailure
//	Pending → RetryExhausted
//
// Success, PermanentFailure and RetryExhausted are terminal. Abandoned marks a
// delivery dropped at shutdown before it reached a terminal state.
type State string

const (
	StatePending          State = "pending"
	StateRetrying         State = "retrying"
	StateSuccess          State = "success"
	StatePermanentFailure State = "permanent_failure"
	StateRetryExhausted   State = "retry_exhausted"
	StateAbandoned        State = "abandoned"
)

// Terminal reports whether no further attempts will be made.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StatePermanentFailure, StateRetryExhausted, StateAbandoned:
		return true
	default:
		return false
	}
}

// Request is one outbound message for one destination.
type Request struct {
	PairID        id.ID             `json:"pair_id"`
	Fingerprint   event.Fingerprint `json:"fingerprint"`
	CorrelationID string            `json:"correlation_id,omitempty"`

	// Source is the original message; it is linked to the sent copy on success.
	Source mapping.Ref `json:"source"`

	Platform         event.Platform `json:"platform"`
	ChannelID        string         `json:"channel_id"`
	ThreadID         string         `json:"thread_id,omitempty"`
	Content          string         `json:"content"`
	ReplyToMessageID string         `json:"reply_to_message_id,omitempty"`
}

// Receipt is returned by a Sender after a successful send.
type Receipt struct {
	MessageID string `json:"message_id"`
}

// Delivery tracks one Request through its attempts.
type Delivery struct {
	ID      id.ID   `json:"id"`
	Request Request `json:"request"`
	State   State   `json:"state"`

	// AttemptCount is the number of sends made so far.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts bounds AttemptCount.
	MaxAttempts int `json:"max_attempts"`

	// Waited is the total backoff scheduled so far.
	Waited time.Duration `json:"waited"`

	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     string     `json:"last_error,omitempty"`
	Replay        bool       `json:"replay,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (d *Delivery) complete(s State) {
	now := time.Now().UTC()
	d.State = s
	d.CompletedAt = &now
}
