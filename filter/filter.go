// Package filter decides whether an inbound message is eligible for relay.
//
// Evaluation is a pure function of the event and a Config. Rules run in a
// fixed order and the first rejection wins:
//
//  1. bot authors, when IgnoreBots is set
//  2. authors on the deny list
//  3. authors missing from a non-empty allow list
//  4. messages starting with an excluded command
package filter

import (
	"strings"
	"sync/atomic"

	"github.com/xraph/bridge/event"
)

// Reason explains an evaluation outcome.
type Reason string

// Evaluation outcomes.
const (
	Admitted           Reason = "ok"
	IgnoredBot         Reason = "ignored_bot"
	BlacklistedUser    Reason = "blacklisted_user"
	NotWhitelistedUser Reason = "not_whitelisted_user"
	ExcludedCommand    Reason = "excluded_command"
)

// DefaultExcludedCommands are dropped unless configured otherwise.
var DefaultExcludedCommands = []string{"/start", "!admin"}

// Config is the filter configuration. Author lists hold platform user ids.
type Config struct {
	AllowList        []string `json:"allow_list"        yaml:"allow_list"`
	DenyList         []string `json:"deny_list"         yaml:"deny_list"`
	ExcludedCommands []string `json:"excluded_commands" yaml:"excluded_commands"`
	IgnoreBots       bool     `json:"ignore_bots"       yaml:"ignore_bots"`
}

// DefaultConfig drops bots and the default excluded commands.
func DefaultConfig() Config {
	return Config{
		ExcludedCommands: append([]string(nil), DefaultExcludedCommands...),
		IgnoreBots:       true,
	}
}

// Normalize trims entries and drops empty ones.
func (c Config) Normalize() Config {
	return Config{
		AllowList:        clean(c.AllowList),
		DenyList:         clean(c.DenyList),
		ExcludedCommands: clean(c.ExcludedCommands),
		IgnoreBots:       c.IgnoreBots,
	}
}

func clean(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Evaluate applies cfg to evt and returns whether it is admitted and why.
func Evaluate(evt *event.Event, cfg *Config) (bool, Reason) {
	author := strings.TrimSpace(evt.Author.ID)

	if cfg.IgnoreBots && evt.Author.IsBot {
		return false, IgnoredBot
	}
	if author != "" && contains(cfg.DenyList, author) {
		return false, BlacklistedUser
	}
	if len(cfg.AllowList) > 0 && (author == "" || !contains(cfg.AllowList, author)) {
		return false, NotWhitelistedUser
	}
	if isExcludedCommand(evt.Content, cfg.ExcludedCommands) {
		return false, ExcludedCommand
	}
	return true, Admitted
}

// Admit reports whether evt passes cfg.
func Admit(evt *event.Event, cfg *Config) bool {
	ok, _ := Evaluate(evt, cfg)
	return ok
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.TrimSpace(v) == s {
			return true
		}
	}
	return false
}

// isExcludedCommand matches the first word of the message against the
// excluded commands. Telegram's "/cmd@BotName" form matches "/cmd".
func isExcludedCommand(content string, commands []string) bool {
	if len(commands) == 0 {
		return false
	}
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	for _, c := range commands {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if first == c || strings.HasPrefix(first, c+"@") {
			return true
		}
	}
	return false
}

// Chain holds the process-wide filter configuration. Readers never block;
// Swap publishes a new configuration atomically.
type Chain struct {
	cfg atomic.Pointer[Config]
}

// NewChain creates a chain with an initial configuration.
func NewChain(cfg Config) *Chain {
	c := &Chain{}
	c.Swap(cfg)
	return c
}

// Config returns the active configuration. Callers must not modify it.
func (c *Chain) Config() *Config {
	return c.cfg.Load()
}

// Swap replaces the active configuration.
func (c *Chain) Swap(cfg Config) {
	n := cfg.Normalize()
	c.cfg.Store(&n)
}

// Evaluate applies the active configuration to evt.
func (c *Chain) Evaluate(evt *event.Event) (bool, Reason) {
	return Evaluate(evt, c.cfg.Load())
}
