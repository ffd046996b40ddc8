// Package format renders inbound events as text for the opposite platform.
package format

import (
	"strings"
	"unicode/utf8"

	"github.com/xraph/bridge/event"
)

// Message length limits per destination platform, in characters.
const (
	DiscordLimit  = 2000
	TelegramLimit = 4096
)

// ReplyExcerptLimit caps the quoted text in a reply header.
const ReplyExcerptLimit = 180

const ellipsis = "…"

// Mirror markers are appended to every relayed message so the bridge can
// recognise its own output when a platform echoes it back. U+2063 is an
// invisible separator.
const (
	discordMarker  = "⁣dc_mirror⁣"
	telegramMarker = "⁣tg_mirror⁣"
)

// Limit returns the message length limit for a platform.
func Limit(p event.Platform) int {
	if p == event.Discord {
		return DiscordLimit
	}
	return TelegramLimit
}

// Marker returns the mirror marker for messages originating on p.
func Marker(p event.Platform) string {
	if p == event.Discord {
		return discordMarker
	}
	return telegramMarker
}

// IsMirrored reports whether content was produced by the bridge.
func IsMirrored(content string) bool {
	return strings.Contains(content, discordMarker) || strings.Contains(content, telegramMarker)
}

// Render builds the text delivered to destination for evt. It returns an
// empty string when there is nothing to relay.
//
// Layout:
//
//	↪ reply to <author>: <excerpt>
//	[dc] <author>: <content>
//	Attachments:
//	- <name>: <url>
func Render(evt *event.Event, destination event.Platform) string {
	content := strings.TrimSpace(evt.Content)
	if content == "" && len(evt.Attachments) == 0 {
		return ""
	}

	lines := make([]string, 0, 3+len(evt.Attachments))

	if evt.ReplyTo != nil && strings.TrimSpace(evt.ReplyTo.Content) != "" {
		author := evt.ReplyTo.Author
		if author == "" {
			author = "unknown"
		}
		excerpt := Truncate(strings.TrimSpace(StripMarkers(evt.ReplyTo.Content)), ReplyExcerptLimit)
		lines = append(lines, "↪ reply to "+author+": "+excerpt)
	}

	lines = append(lines, strings.TrimRight("["+evt.Platform.Tag()+"] "+authorName(evt.Author)+": "+content, " "))

	if len(evt.Attachments) > 0 {
		lines = append(lines, "Attachments:")
		for _, a := range evt.Attachments {
			lines = append(lines, "- "+renderAttachment(a))
		}
	}

	marker := Marker(evt.Platform)
	body := Truncate(strings.Join(lines, "\n"), Limit(destination)-utf8.RuneCountInString(marker))
	return body + marker
}

// StripMarkers removes mirror markers from s.
func StripMarkers(s string) string {
	s = strings.ReplaceAll(s, discordMarker, "")
	return strings.ReplaceAll(s, telegramMarker, "")
}

// Truncate shortens s to at most limit runes, ending in an ellipsis when
// anything was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	keep := limit - utf8.RuneCountInString(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return strings.TrimRight(string(runes[:keep]), " \t\n") + ellipsis
}

func authorName(a event.Author) string {
	if a.Name != "" {
		return a.Name
	}
	if a.ID != "" {
		return a.ID
	}
	return "unknown"
}

func renderAttachment(a event.Attachment) string {
	switch {
	case a.Name != "" && a.URL != "":
		return a.Name + ": " + a.URL
	case a.URL != "":
		return a.URL
	case a.Name != "":
		return a.Name
	default:
		return "attachment"
	}
}
