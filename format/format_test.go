package format_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/format"
)

func TestRenderPlain(t *testing.T) {
	evt := &event.Event{
		Platform: event.Discord,
		Author:   event.Author{ID: "42", Name: "alice"},
		Content:  "  hello  ",
	}
	got := format.Render(evt, event.Telegram)

	if !strings.HasPrefix(got, "[dc] alice: hello") {
		t.Fatalf("unexpected body %q", got)
	}
	if !format.IsMirrored(got) {
		t.Fatal("rendered text must carry a mirror marker")
	}
	if format.StripMarkers(got) != "[dc] alice: hello" {
		t.Fatalf("unexpected stripped text %q", format.StripMarkers(got))
	}
}

func TestRenderReplyAndAttachments(t *testing.T) {
	evt := &event.Event{
		Platform: event.Telegram,
		Author:   event.Author{ID: "7"},
		Content:  "look",
		ReplyTo:  &event.Reply{MessageID: "1", Author: "bob", Content: strings.Repeat("x", 300)},
		Attachments: []event.Attachment{
			{Name: "cat.png", URL: "https://cdn/cat.png"},
			{URL: "https://cdn/raw"},
			{},
		},
	}
	lines := strings.Split(format.StripMarkers(format.Render(evt, event.Discord)), "\n")

	if !strings.HasPrefix(lines[0], "↪ reply to bob: ") || !strings.HasSuffix(lines[0], "…") {
		t.Fatalf("unexpected reply header %q", lines[0])
	}
	excerpt := strings.TrimPrefix(lines[0], "↪ reply to bob: ")
	if n := utf8.RuneCountInString(excerpt); n != format.ReplyExcerptLimit {
		t.Fatalf("excerpt should be capped at %d runes, got %d", format.ReplyExcerptLimit, n)
	}

	want := []string{"[tg] 7: look", "Attachments:", "- cat.png: https://cdn/cat.png", "- https://cdn/raw", "- attachment"}
	if len(lines) != len(want)+1 {
		t.Fatalf("unexpected lines %q", lines)
	}
	for i, w := range want {
		if lines[i+1] != w {
			t.Fatalf("line %d: got %q want %q", i+1, lines[i+1], w)
		}
	}
}

func TestRenderRespectsDestinationLimit(t *testing.T) {
	evt := &event.Event{Platform: event.Telegram, Author: event.Author{Name: "a"}, Content: strings.Repeat("é", 5000)}

	toDiscord := format.Render(evt, event.Discord)
	if n := utf8.RuneCountInString(toDiscord); n != format.DiscordLimit {
		t.Fatalf("expected %d runes, got %d", format.DiscordLimit, n)
	}
	if !format.IsMirrored(toDiscord) {
		t.Fatal("marker must survive truncation")
	}

	toTelegram := format.Render(&event.Event{Platform: event.Discord, Content: strings.Repeat("a", 5000)}, event.Telegram)
	if n := utf8.RuneCountInString(toTelegram); n != format.TelegramLimit {
		t.Fatalf("expected %d runes, got %d", format.TelegramLimit, n)
	}
}

func TestRenderEmpty(t *testing.T) {
	if got := format.Render(&event.Event{Platform: event.Discord, Content: "   "}, event.Telegram); got != "" {
		t.Fatalf("expected nothing to relay, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello world", 6, "hello…"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := format.Truncate(tt.in, tt.limit); got != tt.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
