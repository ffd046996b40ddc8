// Package pair holds the routing table of the bridge: which chat channel on
// one platform is linked to which channel on the other.
package pair

import (
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/internal/entity"
)

// Mode controls which directions a pair relays.
type Mode string

const (
	// Bidirectional relays source to destination and back. This is the default.
	Bidirectional Mode = "bidirectional"

	// OneWay relays from source to destination only.
	OneWay Mode = "oneway"
)

// Endpoint is one side of a pair.
type Endpoint struct {
	Platform  event.Platform `json:"platform"`
	ChannelID string         `json:"channel_id"`
}

// Pair links a source channel to a destination channel, optionally scoped to
// a thread (Discord thread or Telegram forum topic) on the destination side.
//
// Pairs handed out by the Registry are copies; changing one has no effect on
// the routing table.
type Pair struct {
	entity.Entity

	ID          id.ID    `json:"id"`
	Source      Endpoint `json:"source"`
	Destination Endpoint `json:"destination"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Mode        Mode     `json:"mode"`
}

// Route is the outbound side of a pair for one inbound event.
type Route struct {
	PairID    id.ID
	Platform  event.Platform
	ChannelID string
	ThreadID  string
}

// RouteFrom returns where a message seen on (platform, channelID, threadID)
// should be sent. ok is false when this pair does not carry traffic from
// that location.
func (p Pair) RouteFrom(platform event.Platform, channelID, threadID string) (Route, bool) {
	if p.Source.Platform == platform && p.Source.ChannelID == channelID {
		return Route{
			PairID:    p.ID,
			Platform:  p.Destination.Platform,
			ChannelID: p.Destination.ChannelID,
			ThreadID:  p.ThreadID,
		}, true
	}

	if p.mode() == Bidirectional && p.Destination.Platform == platform && p.Destination.ChannelID == channelID {
		if p.ThreadID != "" && p.ThreadID != threadID {
			return Route{}, false
		}
		return Route{
			PairID:    p.ID,
			Platform:  p.Source.Platform,
			ChannelID: p.Source.ChannelID,
		}, true
	}

	return Route{}, false
}

func (p Pair) mode() Mode {
	if p.Mode == "" {
		return Bidirectional
	}
	return p.Mode
}

// reverses reports whether q links the same two channels as p, pointed the
// other way.
func (p Pair) reverses(q Pair) bool {
	return p.Source == q.Destination && p.Destination == q.Source
}

func (p Pair) duplicates(q Pair) bool {
	return p.Source == q.Source && p.Destination == q.Destination && p.ThreadID == q.ThreadID
}

// Input is the creation/update payload for pairs.
type Input struct {
	// ID selects the pair to replace. Leave it Nil to create a new pair.
	ID id.ID `json:"id,omitempty"`

	Source      Endpoint `json:"source"`
	Destination Endpoint `json:"destination"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Mode        Mode     `json:"mode,omitempty"`
}
