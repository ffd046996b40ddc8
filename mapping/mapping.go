// Package mapping remembers which relayed message corresponds to which
// original, so replies can be threaded on the other side of the bridge.
package mapping

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/bridge/event"
)

// DefaultTTL bounds how long links are kept by expiring backends.
const DefaultTTL = 7 * 24 * time.Hour

// ErrNotFound is returned by Counterpart when no link exists.
var ErrNotFound = errors.New("mapping: link not found")

// Ref addresses one message on one platform.
type Ref struct {
	Platform  event.Platform `json:"platform"`
	ChannelID string         `json:"channel_id"`
	MessageID string         `json:"message_id"`
}

// Link connects an original message to its relayed copy.
type Link struct {
	Source    Ref       `json:"source"`
	Target    Ref       `json:"target"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists links. Lookups work in both directions: given either side of
// a link and the channel of the other side, Counterpart returns the other side.
type Store interface {
	// PutLink records a link.
	PutLink(ctx context.Context, l Link) error

	// Counterpart returns the message linked to ref that lives in
	// (platform, channelID), or ErrNotFound.
	Counterpart(ctx context.Context, ref Ref, platform event.Platform, channelID string) (Ref, error)
}
