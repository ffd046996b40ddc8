package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UserList is a JSON array of user ids given as strings or numbers.
type UserList []string

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *UserList) UnmarshalText(text []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(text, &raw); err != nil {
		return errors.New("must be a JSON array of strings or numbers")
	}
	out := make(UserList, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return errors.New("must be a JSON array of strings or numbers")
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}

// CommandList is a JSON array of command strings.
type CommandList []string

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *CommandList) UnmarshalText(text []byte) error {
	var out []string
	if err := json.Unmarshal(text, &out); err != nil {
		return errors.New("must be a JSON array of strings")
	}
	*l = out
	return nil
}

// Flag is a boolean accepting 1/true/yes/on and 0/false/no/off.
type Flag bool

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Flag) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "1", "true", "yes", "on":
		*f = true
	case "0", "false", "no", "off":
		*f = false
	default:
		return fmt.Errorf("%q is not a boolean", text)
	}
	return nil
}
