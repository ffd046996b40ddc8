// Package event defines the inbound message events the bridge relays.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform names a chat platform the bridge speaks to.
type Platform string

// Supported platforms.
const (
	Discord  Platform = "discord"
	Telegram Platform = "telegram"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{Discord, Telegram}

// ParsePlatform accepts the canonical name or the short tag ("dc", "tg").
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discord", "dc":
		return Discord, nil
	case "telegram", "tg":
		return Telegram, nil
	default:
		return "", fmt.Errorf("event: unknown platform %q", s)
	}
}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	return p == Discord || p == Telegram
}

// Tag returns the short label used when rendering relayed messages.
func (p Platform) Tag() string {
	switch p {
	case Discord:
		return "dc"
	case Telegram:
		return "tg"
	default:
		return string(p)
	}
}

// Opposite returns the other side of the bridge.
func (p Platform) Opposite() Platform {
	if p == Discord {
		return Telegram
	}
	return Discord
}

// Author identifies who wrote a message.
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	IsBot bool   `json:"is_bot,omitempty"`
}

// Attachment is a file or media item attached to a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Reply describes the message an event is replying to.
type Reply struct {
	MessageID string `json:"message_id"`
	Author    string `json:"author,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Event is one message observed on a platform. Adapters construct it and
// hand it to the bridge; nothing mutates it afterwards.
type Event struct {
	Platform      Platform     `json:"platform"`
	ChannelID     string       `json:"channel_id"`
	ThreadID      string       `json:"thread_id,omitempty"`
	Author        Author       `json:"author"`
	Content       string       `json:"content"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	MessageID     string       `json:"message_id"`
	ReplyTo       *Reply       `json:"reply_to,omitempty"`
	ReceivedAt    time.Time    `json:"received_at"`
	CorrelationID string       `json:"correlation_id,omitempty"`
}

// Fingerprint is the dedup key of an event.
type Fingerprint string

// NewFingerprint derives a fingerprint from its three components.
func NewFingerprint(p Platform, channelID, messageID string) Fingerprint {
	return Fingerprint(string(p) + ":" + channelID + ":" + messageID)
}

// Fingerprint returns the key identifying the underlying platform message.
// Two observations of the same message yield the same fingerprint.
func (e *Event) Fingerprint() Fingerprint {
	return NewFingerprint(e.Platform, e.ChannelID, e.MessageID)
}

// ErrInvalidEvent is returned by Validate.
var ErrInvalidEvent = errors.New("event: invalid event")

// Validate checks that the identifying fields are present.
func (e *Event) Validate() error {
	switch {
	case !e.Platform.Valid():
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidEvent, e.Platform)
	case e.ChannelID == "":
		return fmt.Errorf("%w: channel id is required", ErrInvalidEvent)
	case e.MessageID == "":
		return fmt.Errorf("%w: message id is required", ErrInvalidEvent)
	}
	return nil
}
