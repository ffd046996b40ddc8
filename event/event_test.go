package event_test

import (
	"errors"
	"testing"

	"github.com/xraph/bridge/event"
)

func TestFingerprintIsDeterministic(t *testing.T) {
	a := &event.Event{Platform: event.Discord, ChannelID: "100", MessageID: "m1", Content: "hello"}
	b := &event.Event{Platform: event.Discord, ChannelID: "100", MessageID: "m1", Content: "edited"}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected equal fingerprints, got %q and %q", a.Fingerprint(), b.Fingerprint())
	}

	c := &event.Event{Platform: event.Telegram, ChannelID: "100", MessageID: "m1"}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("fingerprints must differ across platforms")
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    event.Platform
		wantErr bool
	}{
		{in: "discord", want: event.Discord},
		{in: "DC", want: event.Discord},
		{in: " telegram ", want: event.Telegram},
		{in: "tg", want: event.Telegram},
		{in: "slack", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := event.ParsePlatform(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpposite(t *testing.T) {
	if event.Discord.Opposite() != event.Telegram || event.Telegram.Opposite() != event.Discord {
		t.Fatal("opposite platform mismatch")
	}
}

func TestValidate(t *testing.T) {
	ok := &event.Event{Platform: event.Telegram, ChannelID: "-200", MessageID: "7"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missing := &event.Event{Platform: event.Telegram, ChannelID: "-200"}
	if err := missing.Validate(); !errors.Is(err, event.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
