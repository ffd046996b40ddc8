// Package config loads the bridge process configuration from the
// environment and an optional YAML filter file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/filter"
	"github.com/xraph/bridge/pair"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("config: invalid")

// Dedup backends.
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Config is the process configuration.
type Config struct {
	DiscordToken  string `env:"DISCORD_BOT_TOKEN"`
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`

	// BridgePairs is a JSON array of {discord_channel_id, telegram_chat_id}.
	// Without it a single pair is taken from DiscordChannelID and TelegramChatID.
	BridgePairs      string `env:"BRIDGE_PAIRS"`
	DiscordChannelID string `env:"DISCORD_CHANNEL_ID"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`

	WhitelistUsers   UserList    `env:"WHITELIST_USERS"`
	BlacklistUsers   UserList    `env:"BLACKLIST_USERS"`
	ExcludedCommands CommandList `env:"EXCLUDED_COMMANDS" envDefault:"[\"/start\",\"!admin\"]"`
	IgnoreBots       Flag        `env:"IGNORE_BOTS"       envDefault:"true"`
	FiltersFile      string      `env:"FILTERS_FILE"`

	DedupBackend    string        `env:"DEDUP_BACKEND"     envDefault:"memory"`
	DedupTTL        time.Duration `env:"DEDUP_TTL"         envDefault:"5m"`
	DedupFailClosed Flag          `env:"DEDUP_FAIL_CLOSED"`
	RedisURL        string        `env:"REDIS_URL"`

	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS"   envDefault:"5"`
	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY"     envDefault:"500ms"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY"      envDefault:"8s"`
	RetryMaxTotalWait time.Duration `env:"RETRY_MAX_TOTAL_WAIT" envDefault:"1m"`

	PairsFile  string        `env:"PAIRS_FILE"`
	MappingDB  string        `env:"MAPPING_DB"`
	MappingTTL time.Duration `env:"MAPPING_TTL" envDefault:"168h"`

	AdminAddr  string `env:"ADMIN_ADDR"`
	AdminToken string `env:"ADMIN_TOKEN"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"   envDefault:"30s"`
	LogLevel          string        `env:"BRIDGE_LOG_LEVEL"   envDefault:"info"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch cfg.DedupBackend {
	case DedupMemory:
	case DedupRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("%w: DEDUP_BACKEND=redis requires REDIS_URL", ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: DEDUP_BACKEND must be memory or redis, got %q", ErrInvalid, cfg.DedupBackend)
	}
	return cfg, nil
}

// RequireTokens checks that both bot tokens are set.
func (c *Config) RequireTokens() error {
	var missing []string
	if c.DiscordToken == "" {
		missing = append(missing, "DISCORD_BOT_TOKEN")
	}
	if c.TelegramToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// RetryPolicy returns the delivery retry policy.
func (c *Config) RetryPolicy() delivery.Policy {
	p := delivery.DefaultPolicy()
	p.MaxAttempts = c.RetryMaxAttempts
	p.BaseDelay = c.RetryBaseDelay
	p.MaxDelay = c.RetryMaxDelay
	p.MaxTotalWait = c.RetryMaxTotalWait
	return p
}

// DedupPolicy returns what to do when the dedup store is unreachable.
func (c *Config) DedupPolicy() dedup.Policy {
	if c.DedupFailClosed {
		return dedup.FailClosed
	}
	return dedup.FailOpen
}

// Filters returns the filter configuration from the environment, overlaid
// with FiltersFile when one is set.
func (c *Config) Filters() (filter.Config, error) {
	base := c.EnvFilters()
	if c.FiltersFile == "" {
		return base, nil
	}
	return LoadFilterFile(c.FiltersFile, base)
}

// EnvFilters returns the filter configuration from the environment alone.
func (c *Config) EnvFilters() filter.Config {
	return filter.Config{
		AllowList:        c.WhitelistUsers,
		DenyList:         c.BlacklistUsers,
		ExcludedCommands: c.ExcludedCommands,
		IgnoreBots:       bool(c.IgnoreBots),
	}.Normalize()
}

type pairEntry struct {
	DiscordChannelID json.Number `json:"discord_channel_id"`
	TelegramChatID   json.Number `json:"telegram_chat_id"`
	ThreadID         json.Number `json:"thread_id"`
	Mode             pair.Mode   `json:"mode"`
}

// Pairs returns the seed pairs. It returns nil when neither BRIDGE_PAIRS nor
// the single-pair variables are set.
func (c *Config) Pairs() ([]pair.Input, error) {
	if c.BridgePairs == "" {
		return c.singlePair()
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(c.BridgePairs), &entries); err != nil {
		return nil, fmt.Errorf("%w: BRIDGE_PAIRS must contain valid JSON: %w", ErrInvalid, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: BRIDGE_PAIRS must be a non-empty JSON array", ErrInvalid)
	}

	out := make([]pair.Input, 0, len(entries))
	for i, raw := range entries {
		var e pairEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: BRIDGE_PAIRS[%d] must be an object with integer ids: %w", ErrInvalid, i, err)
		}
		if e.DiscordChannelID == "" || e.TelegramChatID == "" {
			return nil, fmt.Errorf("%w: BRIDGE_PAIRS[%d] must include discord_channel_id and telegram_chat_id", ErrInvalid, i)
		}
		in, err := seed(string(e.DiscordChannelID), string(e.TelegramChatID))
		if err != nil {
			return nil, fmt.Errorf("%w: BRIDGE_PAIRS[%d]: %w", ErrInvalid, i, err)
		}
		in.ThreadID = string(e.ThreadID)
		in.Mode = e.Mode
		out = append(out, in)
	}
	return out, nil
}

func (c *Config) singlePair() ([]pair.Input, error) {
	switch {
	case c.DiscordChannelID == "" && c.TelegramChatID == "":
		return nil, nil
	case c.DiscordChannelID == "" || c.TelegramChatID == "":
		return nil, fmt.Errorf("%w: DISCORD_CHANNEL_ID and TELEGRAM_CHAT_ID must be set together", ErrInvalid)
	}
	in, err := seed(c.DiscordChannelID, c.TelegramChatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return []pair.Input{in}, nil
}

func seed(discordChannel, telegramChat string) (pair.Input, error) {
	if _, err := strconv.ParseUint(discordChannel, 10, 64); err != nil {
		return pair.Input{}, fmt.Errorf("discord_channel_id %q must be an integer", discordChannel)
	}
	if _, err := strconv.ParseInt(telegramChat, 10, 64); err != nil {
		return pair.Input{}, fmt.Errorf("telegram_chat_id %q must be an integer", telegramChat)
	}
	return pair.Input{
		Source:      pair.Endpoint{Platform: event.Discord, ChannelID: discordChannel},
		Destination: pair.Endpoint{Platform: event.Telegram, ChannelID: telegramChat},
	}, nil
}
