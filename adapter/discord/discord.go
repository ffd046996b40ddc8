// Package discord connects the bridge to Discord through a bot session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/xraph/bridge/adapter"
	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/event"
)

// Intents are the gateway intents the adapter needs to read channel messages.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

// session is the part of *discordgo.Session used for sending.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Adapter receives Discord messages and sends relayed ones.
type Adapter struct {
	dg     *discordgo.Session
	sender session
	sink   adapter.Sink
	logger *slog.Logger

	selfID atomic.Value // string; written on gateway goroutines
	fatal  chan error
}

// New creates an adapter for the given bot token. Nothing connects until Run.
func New(token string, sink adapter.Sink, logger *slog.Logger) (*Adapter, error) {
	if token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	dg.Identify.Intents = Intents
	// Rate limits are surfaced as retryable errors instead of blocking
	// inside discordgo.
	dg.ShouldRetryOnRateLimit = false

	a := newAdapter(dg, sink, logger)
	a.dg = dg
	return a, nil
}

func newAdapter(s session, sink adapter.Sink, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		sender: s,
		sink:   sink,
		logger: logger.With("platform", event.Discord),
		fatal:  make(chan error, 1),
	}
}

// Run opens the gateway connection and relays messages until ctx is done or
// the session fails unrecoverably.
func (a *Adapter) Run(ctx context.Context) error {
	removeReady := a.dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			a.selfID.Store(r.User.ID)
		}
	})
	defer removeReady()
	remove := a.dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		a.onMessage(ctx, m)
	})
	defer remove()

	if err := a.dg.Open(); err != nil {
		return a.sink.ReportFatal(event.Discord, fmt.Errorf("discord: open session: %w", err))
	}
	defer a.dg.Close()

	if a.dg.State != nil && a.dg.State.User != nil {
		a.selfID.Store(a.dg.State.User.ID)
		a.logger.InfoContext(ctx, "discord connected", "bot_user", a.dg.State.User.Username)
	}
	a.sink.ReportHealthy(event.Discord)

	select {
	case <-ctx.Done():
		return nil
	case err := <-a.fatal:
		return err
	}
}

func (a *Adapter) onMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if self, _ := a.selfID.Load().(string); self != "" && m.Author.ID == self {
		return
	}
	evt := toEvent(m.Message)
	if err := a.sink.Publish(ctx, evt); err != nil {
		a.logger.WarnContext(ctx, "publish failed",
			"channel_id", evt.ChannelID,
			"message_id", evt.MessageID,
			"error", err,
		)
	}
}

// toEvent converts a Discord message. A reply carries the referenced
// message's id and, when the gateway included it, its author and text.
func toEvent(m *discordgo.Message) *event.Event {
	evt := &event.Event{
		Platform:  event.Discord,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Author: event.Author{
			ID:    m.Author.ID,
			Name:  displayName(m),
			IsBot: m.Author.Bot,
		},
		ReceivedAt: m.Timestamp.UTC(),
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}

	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		evt.Attachments = append(evt.Attachments, event.Attachment{Name: att.Filename, URL: att.URL})
	}

	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		evt.ReplyTo = &event.Reply{MessageID: ref.MessageID}
		if rm := m.ReferencedMessage; rm != nil {
			evt.ReplyTo.Content = rm.Content
			if rm.Author != nil {
				evt.ReplyTo.Author = displayName(rm)
			}
		}
	}
	return evt
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// Send posts a relayed message. Messages for a thread go to the thread
// channel. Implements delivery.Sender.
func (a *Adapter) Send(ctx context.Context, req delivery.Request) (delivery.Receipt, error) {
	channelID := req.ChannelID
	if req.ThreadID != "" {
		channelID = req.ThreadID
	}

	msg := &discordgo.MessageSend{
		Content: req.Content,
		// Relayed text never pings anyone.
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	if req.ReplyToMessageID != "" {
		failIfMissing := false
		msg.Reference = &discordgo.MessageReference{
			MessageID:       req.ReplyToMessageID,
			ChannelID:       channelID,
			FailIfNotExists: &failIfMissing,
		}
	}

	sent, err := a.sender.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		err = classify(err)
		if isUnauthorized(err) {
			a.reportFatal(err)
		}
		return delivery.Receipt{}, err
	}
	return delivery.Receipt{MessageID: sent.ID}, nil
}

func (a *Adapter) reportFatal(err error) {
	ferr := a.sink.ReportFatal(event.Discord, err)
	select {
	case a.fatal <- ferr:
	default:
	}
}

// Permanent Discord API error codes: the target is gone or the bot may not
// post there, so retrying cannot help.
var permanentCodes = map[int]bool{
	discordgo.ErrCodeUnknownChannel:         true,
	discordgo.ErrCodeMissingAccess:          true,
	discordgo.ErrCodeCannotSendEmptyMessage: true,
	discordgo.ErrCodeMissingPermissions:     true,
}

// classify maps a discordgo error onto the delivery error taxonomy.
func classify(err error) error {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		var wait time.Duration
		if rl.RateLimit != nil && rl.TooManyRequests != nil {
			wait = rl.RetryAfter
		}
		return delivery.Transient(err, wait)
	}

	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return delivery.Transient(err, 0)
	}
	if rest.Message != nil && permanentCodes[rest.Message.Code] {
		return delivery.Permanent(err)
	}
	if rest.Response == nil {
		return delivery.Transient(err, 0)
	}

	switch code := rest.Response.StatusCode; {
	case code == http.StatusTooManyRequests:
		return delivery.Transient(err, retryAfterHeader(rest.Response.Header))
	case code >= 500:
		return delivery.Transient(err, 0)
	case code == http.StatusUnauthorized:
		return delivery.Permanent(&unauthorizedError{err})
	case code >= 400:
		return delivery.Permanent(err)
	default:
		return delivery.Transient(err, 0)
	}
}

func retryAfterHeader(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// unauthorizedError marks a rejected bot token.
type unauthorizedError struct{ err error }

func (e *unauthorizedError) Error() string { return "discord: unauthorized: " + e.err.Error() }
func (e *unauthorizedError) Unwrap() error { return e.err }

func isUnauthorized(err error) bool {
	var ue *unauthorizedError
	return errors.As(err, &ue)
}
