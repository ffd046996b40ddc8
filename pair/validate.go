package pair

import (
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
)

const maxIDLen = 32

func validate(p Pair) error {
	if err := validateEndpoint("source", p.Source); err != nil {
		return err
	}
	if err := validateEndpoint("destination", p.Destination); err != nil {
		return err
	}
	if p.Source.Platform == p.Destination.Platform {
		return &ValidationError{Field: "destination.platform", Message: "must differ from source platform"}
	}
	if p.ThreadID != "" && !isDigits(p.ThreadID) {
		return &ValidationError{Field: "thread_id", Message: "must be numeric"}
	}
	if p.Mode != Bidirectional && p.Mode != OneWay {
		return &ValidationError{Field: "mode", Message: "must be bidirectional or oneway"}
	}
	if !p.ID.IsNil() && p.ID.Prefix() != id.PrefixPair {
		return &ValidationError{Field: "id", Message: "not a pair id"}
	}
	return nil
}

// validateEndpoint checks channel identifiers. Discord channels are unsigned
// snowflakes; Telegram chat ids are signed integers.
func validateEndpoint(field string, e Endpoint) error {
	switch e.Platform {
	case event.Discord:
		if !isDigits(e.ChannelID) {
			return &ValidationError{Field: field + ".channel_id", Message: "discord channel id must be a numeric snowflake"}
		}
	case event.Telegram:
		s := e.ChannelID
		if len(s) > 0 && s[0] == '-' {
			s = s[1:]
		}
		if !isDigits(s) {
			return &ValidationError{Field: field + ".channel_id", Message: "telegram chat id must be an integer"}
		}
	default:
		return &ValidationError{Field: field + ".platform", Message: "unknown platform " + string(e.Platform)}
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" || len(s) > maxIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// checkConflicts rejects a candidate that would form a cycle of length one
// with an existing pair, duplicate an existing route, or reuse an id.
// Fan-out from one source to several destinations is allowed.
func checkConflicts(candidate Pair, existing []Pair) *ValidationError {
	for _, p := range existing {
		switch {
		case p.ID == candidate.ID:
			return &ValidationError{Field: "id", Message: "duplicate pair id " + p.ID.String()}
		case p.reverses(candidate):
			return &ValidationError{Field: "destination", Message: "reverse of pair " + p.ID.String() + " would form a relay loop"}
		case p.duplicates(candidate):
			return &ValidationError{Field: "destination", Message: "route already exists as pair " + p.ID.String()}
		}
	}
	return nil
}
