// Package telegram connects the bridge to Telegram through the Bot API,
// receiving updates by long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"github.com/xraph/bridge/adapter"
	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/event"
)

// PollTimeout is the long polling timeout in seconds.
const PollTimeout = 30

// client is the part of *telego.Bot used for sending.
type client interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Adapter receives Telegram messages and sends relayed ones.
type Adapter struct {
	bot    *telego.Bot
	client client
	sink   adapter.Sink
	logger *slog.Logger

	selfID int64
	fatal  chan error
}

// New creates an adapter for the given bot token. Nothing connects until Run.
func New(token string, sink adapter.Sink, logger *slog.Logger) (*Adapter, error) {
	if token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	a := newAdapter(bot, sink, logger)
	a.bot = bot
	return a, nil
}

func newAdapter(c client, sink adapter.Sink, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client: c,
		sink:   sink,
		logger: logger.With("platform", event.Telegram),
		fatal:  make(chan error, 1),
	}
}

// Run polls for updates and relays messages until ctx is done or the bot
// token is rejected.
func (a *Adapter) Run(ctx context.Context) error {
	me, err := a.bot.GetMe(ctx)
	if err != nil {
		return a.sink.ReportFatal(event.Telegram, fmt.Errorf("telegram: get me: %w", err))
	}
	a.selfID = me.ID
	a.logger.InfoContext(ctx, "telegram connected", "bot_user", me.Username)

	updates, err := a.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        PollTimeout,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return a.sink.ReportFatal(event.Telegram, fmt.Errorf("telegram: start polling: %w", err))
	}
	a.sink.ReportHealthy(event.Telegram)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-a.fatal:
			return err
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Message != nil {
				a.onMessage(ctx, u.Message)
			}
		}
	}
}

func (a *Adapter) onMessage(ctx context.Context, m *telego.Message) {
	if m.From != nil && a.selfID != 0 && m.From.ID == a.selfID {
		return
	}
	evt := toEvent(m)
	if err := a.sink.Publish(ctx, evt); err != nil {
		a.logger.WarnContext(ctx, "publish failed",
			"channel_id", evt.ChannelID,
			"message_id", evt.MessageID,
			"error", err,
		)
	}
}

// toEvent converts a Telegram message. Captions stand in for text on media
// messages; forum topic messages carry their thread id.
func toEvent(m *telego.Message) *event.Event {
	evt := &event.Event{
		Platform:   event.Telegram,
		ChannelID:  strconv.FormatInt(m.Chat.ID, 10),
		MessageID:  strconv.Itoa(m.MessageID),
		Content:    m.Text,
		ReceivedAt: time.Unix(m.Date, 0).UTC(),
	}
	if evt.Content == "" {
		evt.Content = m.Caption
	}
	if m.Date == 0 {
		evt.ReceivedAt = time.Now().UTC()
	}
	if m.IsTopicMessage && m.MessageThreadID != 0 {
		evt.ThreadID = strconv.Itoa(m.MessageThreadID)
	}
	if m.From != nil {
		evt.Author = event.Author{
			ID:    strconv.FormatInt(m.From.ID, 10),
			Name:  userName(m.From),
			IsBot: m.From.IsBot,
		}
	}

	switch {
	case len(m.Photo) > 0:
		evt.Attachments = append(evt.Attachments, event.Attachment{Name: "photo"})
	case m.Document != nil:
		evt.Attachments = append(evt.Attachments, event.Attachment{Name: m.Document.FileName})
	}

	// In forum chats every topic message "replies" to the topic's root;
	// only a reply to another message counts.
	if r := m.ReplyToMessage; r != nil && r.MessageID != m.MessageThreadID {
		evt.ReplyTo = &event.Reply{MessageID: strconv.Itoa(r.MessageID), Content: r.Text}
		if evt.ReplyTo.Content == "" {
			evt.ReplyTo.Content = r.Caption
		}
		if r.From != nil {
			evt.ReplyTo.Author = userName(r.From)
		}
	}
	return evt
}

func userName(u *telego.User) string {
	if u.Username != "" {
		return u.Username
	}
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

// Send posts a relayed message. Implements delivery.Sender.
func (a *Adapter) Send(ctx context.Context, req delivery.Request) (delivery.Receipt, error) {
	chatID, err := strconv.ParseInt(req.ChannelID, 10, 64)
	if err != nil {
		return delivery.Receipt{}, delivery.Permanent(fmt.Errorf("telegram: chat id %q: %w", req.ChannelID, err))
	}

	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   req.Content,
	}
	if req.ThreadID != "" {
		if thread, err := strconv.Atoi(req.ThreadID); err == nil {
			params.MessageThreadID = thread
		}
	}
	if req.ReplyToMessageID != "" {
		if replyTo, err := strconv.Atoi(req.ReplyToMessageID); err == nil {
			params.ReplyParameters = &telego.ReplyParameters{
				MessageID:                replyTo,
				AllowSendingWithoutReply: true,
			}
		}
	}

	msg, err := a.client.SendMessage(ctx, params)
	if err != nil {
		err = classify(err)
		if isUnauthorized(err) {
			ferr := a.sink.ReportFatal(event.Telegram, err)
			select {
			case a.fatal <- ferr:
			default:
			}
		}
		return delivery.Receipt{}, err
	}
	return delivery.Receipt{MessageID: strconv.Itoa(msg.MessageID)}, nil
}

// classify maps a Bot API error onto the delivery error taxonomy.
func classify(err error) error {
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return delivery.Transient(err, 0)
	}

	switch code := apiErr.ErrorCode; {
	case code == http.StatusTooManyRequests:
		var wait time.Duration
		if apiErr.Parameters != nil {
			wait = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		return delivery.Transient(err, wait)
	case code >= 500:
		return delivery.Transient(err, 0)
	case code == http.StatusUnauthorized:
		return delivery.Permanent(&unauthorizedError{err})
	case code >= 400:
		// Chat not found, bot blocked or kicked, message rejected.
		return delivery.Permanent(err)
	default:
		return delivery.Transient(err, 0)
	}
}

// unauthorizedError marks a rejected bot token.
type unauthorizedError struct{ err error }

func (e *unauthorizedError) Error() string { return "telegram: unauthorized: " + e.err.Error() }
func (e *unauthorizedError) Unwrap() error { return e.err }

func isUnauthorized(err error) bool {
	var ue *unauthorizedError
	return errors.As(err, &ue)
}
