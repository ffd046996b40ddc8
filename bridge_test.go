package bridge_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.uber.org/goleak"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/dlq"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/filter"
	"github.com/xraph/bridge/format"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/mapping"
	"github.com/xraph/bridge/observability"
	"github.com/xraph/bridge/pair"
	"github.com/xraph/bridge/store/memory"
)

func ctx() context.Context { return context.Background() }

// stubSender records sent requests and returns sequential message ids.
type stubSender struct {
	prefix string
	fail   func(req delivery.Request) error

	mu    sync.Mutex
	sent  []delivery.Request
	calls atomic.Int32
}

func (s *stubSender) Send(_ context.Context, req delivery.Request) (delivery.Receipt, error) {
	s.calls.Add(1)
	if s.fail != nil {
		if err := s.fail(req); err != nil {
			return delivery.Receipt{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return delivery.Receipt{MessageID: s.prefix + strconv.Itoa(len(s.sent))}, nil
}

func (s *stubSender) requests() []delivery.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.Request(nil), s.sent...)
}

func (s *stubSender) to(channel string) []delivery.Request {
	var out []delivery.Request
	for _, r := range s.requests() {
		if r.ChannelID == channel {
			out = append(out, r)
		}
	}
	return out
}

// unavailableDedup always fails.
type unavailableDedup struct{}

func (unavailableDedup) CheckAndMark(context.Context, event.Fingerprint) (bool, error) {
	return false, dedup.Unavailable("check", errors.New("connection refused"))
}

type harness struct {
	bridge   *bridge.Bridge
	store    *memory.Store
	discord  *stubSender
	telegram *stubSender
}

func newHarness(t *testing.T, opts ...bridge.Option) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		discord:  &stubSender{prefix: "dc-"},
		telegram: &stubSender{prefix: "tg-"},
	}
	base := []bridge.Option{
		bridge.WithStore(h.store),
		bridge.WithSender(event.Discord, h.discord),
		bridge.WithSender(event.Telegram, h.telegram),
		bridge.WithRetryPolicy(delivery.Policy{
			MaxAttempts:  3,
			BaseDelay:    5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			MaxTotalWait: time.Second,
		}),
		bridge.WithRateLimits(nil),
		bridge.WithShutdownTimeout(5 * time.Second),
	}
	b, err := bridge.New(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	h.bridge = b
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.bridge.Start(ctx()); err != nil {
		t.Fatal(err)
	}
}

// stop drains the bridge; afterwards every counter is final.
func (h *harness) stop(t *testing.T) {
	t.Helper()
	if err := h.bridge.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) addPair(t *testing.T, src, dst pair.Endpoint) pair.Pair {
	t.Helper()
	p, err := h.bridge.Pairs().Upsert(ctx(), pair.Input{Source: src, Destination: dst})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (h *harness) publish(t *testing.T, evt *event.Event) {
	t.Helper()
	if err := h.bridge.Publish(ctx(), evt); err != nil {
		t.Fatal(err)
	}
}

func discordEndpoint(ch string) pair.Endpoint {
	return pair.Endpoint{Platform: event.Discord, ChannelID: ch}
}

func telegramEndpoint(ch string) pair.Endpoint {
	return pair.Endpoint{Platform: event.Telegram, ChannelID: ch}
}

func discordMessage(channel, msgID, content string) *event.Event {
	return &event.Event{
		Platform:  event.Discord,
		ChannelID: channel,
		MessageID: msgID,
		Author:    event.Author{ID: "42", Name: "alice"},
		Content:   content,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ──────────────────────────────────────────────────
// Construction and lifecycle
// ──────────────────────────────────────────────────

func TestNewRequiresStoreAndSender(t *testing.T) {
	if _, err := bridge.New(); !errors.Is(err, bridge.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
	if _, err := bridge.New(bridge.WithStore(memory.New())); !errors.Is(err, bridge.ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
	_, err := bridge.New(
		bridge.WithStore(memory.New()),
		bridge.WithSender(event.Telegram, &stubSender{}),
		bridge.WithLanes(0),
	)
	if !errors.Is(err, bridge.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestPublishLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	if err := h.bridge.Publish(ctx(), discordMessage("100", "1", "hi")); !errors.Is(err, bridge.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	h.start(t)
	if err := h.bridge.Publish(ctx(), &event.Event{Platform: event.Discord, ChannelID: "100"}); !errors.Is(err, event.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	h.stop(t)

	if err := h.bridge.Publish(ctx(), discordMessage("100", "1", "hi")); !errors.Is(err, bridge.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := h.bridge.Start(ctx()); !errors.Is(err, bridge.ErrStopped) {
		t.Fatalf("expected ErrStopped on restart, got %v", err)
	}
}

func TestPublishAfterStartContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	startCtx, cancel := context.WithCancel(ctx())
	if err := h.bridge.Start(startCtx); err != nil {
		t.Fatal(err)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)

	for i := range 100 {
		if err := h.bridge.Publish(ctx(), discordMessage("100", strconv.Itoa(i), "late")); !errors.Is(err, bridge.ErrStopped) {
			t.Fatalf("publish %d: expected ErrStopped, got %v", i, err)
		}
	}
	if err := h.bridge.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
}

// ──────────────────────────────────────────────────
// Relay
// ──────────────────────────────────────────────────

func TestRelayDiscordToTelegram(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	p := h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	h.publish(t, discordMessage("100", "1", "hello"))
	h.stop(t)

	sent := h.telegram.requests()
	if len(sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sent))
	}
	req := sent[0]
	if req.ChannelID != "-200" || req.PairID != p.ID {
		t.Fatalf("wrong destination: %+v", req)
	}
	if !strings.HasPrefix(req.Content, "[dc] alice: hello") {
		t.Fatalf("unexpected content %q", req.Content)
	}
	if !format.IsMirrored(req.Content) {
		t.Fatal("relayed content should carry the mirror marker")
	}
	if req.CorrelationID == "" {
		t.Fatal("expected a correlation id")
	}
	if len(h.discord.requests()) != 0 {
		t.Fatal("nothing should be sent back to discord")
	}

	// The sent copy is linked to the original.
	got, err := h.store.Counterpart(ctx(),
		mapping.Ref{Platform: event.Discord, ChannelID: "100", MessageID: "1"},
		event.Telegram, "-200")
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageID != "tg-1" {
		t.Fatalf("linked message: got %q, want tg-1", got.MessageID)
	}

	if st := h.bridge.Heartbeat().Snapshot(); st.Outcomes.Succeeded != 1 || st.Platforms[event.Discord].TotalEvents != 1 {
		t.Fatalf("heartbeat not fed: %+v", st)
	}
}

func TestRelayReverseDirection(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	h.publish(t, &event.Event{
		Platform:  event.Telegram,
		ChannelID: "-200",
		MessageID: "7",
		Author:    event.Author{ID: "9", Name: "bob"},
		Content:   "hi from telegram",
	})
	h.stop(t)

	sent := h.discord.to("100")
	if len(sent) != 1 || !strings.HasPrefix(sent[0].Content, "[tg] bob: hi from telegram") {
		t.Fatalf("unexpected discord sends: %+v", sent)
	}
}

// Two pairs linking the same channels, one scoped to a topic, both route a
// topic message back to Discord. It is sent there once.
func TestOverlappingPairsSendOncePerDestination(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	if _, err := h.bridge.Pairs().Upsert(ctx(), pair.Input{
		Source:      discordEndpoint("100"),
		Destination: telegramEndpoint("-200"),
		ThreadID:    "5",
	}); err != nil {
		t.Fatal(err)
	}
	h.start(t)

	h.publish(t, &event.Event{
		Platform:  event.Telegram,
		ChannelID: "-200",
		ThreadID:  "5",
		MessageID: "7",
		Author:    event.Author{ID: "9", Name: "bob"},
		Content:   "in the topic",
	})
	h.stop(t)

	if n := len(h.discord.to("100")); n != 1 {
		t.Fatalf("expected 1 discord send, got %d", n)
	}
}

func TestChannelOrderIsPreserved(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	const n = 50
	for i := range n {
		h.publish(t, discordMessage("100", strconv.Itoa(i), "m"+strconv.Itoa(i)))
	}
	h.stop(t)

	sent := h.telegram.to("-200")
	if len(sent) != n {
		t.Fatalf("expected %d sends, got %d", n, len(sent))
	}
	for i, req := range sent {
		if want := "[dc] alice: m" + strconv.Itoa(i); !strings.HasPrefix(req.Content, want) {
			t.Fatalf("send %d: got %q, want prefix %q", i, req.Content, want)
		}
	}
}

func TestMetricsFollowPairsAndDeliveries(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := observability.NewMetrics(gu.NewMetricsCollector("bridge"))
	h := newHarness(t, bridge.WithMetrics(m))
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-300"))
	h.start(t)

	h.publish(t, discordMessage("100", "1", "hello"))
	waitFor(t, func() bool { return len(h.telegram.requests()) == 2 })
	h.stop(t)

	if v := m.Pairs.Value(); v != 2 {
		t.Fatalf("pairs gauge: got %v, want 2", v)
	}
	if v := m.PendingDeliveries.Value(); v != 0 {
		t.Fatalf("pending deliveries gauge: got %v, want 0", v)
	}
}

func TestDoubleDeliverySentOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	h.publish(t, discordMessage("100", "1", "hello"))
	h.publish(t, discordMessage("100", "1", "hello"))
	h.stop(t)

	if n := len(h.telegram.requests()); n != 1 {
		t.Fatalf("expected exactly 1 send, got %d", n)
	}
	if st := h.bridge.Stats(); st.Received != 2 || st.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestFanOutIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.telegram.fail = func(req delivery.Request) error {
		if req.ChannelID == "-300" {
			return delivery.Permanent(errors.New("chat not found"))
		}
		return nil
	}
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-300"))
	h.start(t)

	h.publish(t, discordMessage("100", "1", "hello"))
	h.stop(t)

	if n := len(h.telegram.to("-200")); n != 1 {
		t.Fatalf("healthy destination: expected 1 send, got %d", n)
	}
	if n := h.telegram.calls.Load(); n != 2 {
		t.Fatalf("permanent failure must not be retried: %d calls", n)
	}

	entries, err := h.bridge.DLQ().List(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ChannelID != "-300" || entries[0].State != delivery.StatePermanentFailure {
		t.Fatalf("unexpected DLQ contents: %+v", entries)
	}
}

func TestTransientFailureRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	var failures atomic.Int32
	h.telegram.fail = func(delivery.Request) error {
		if failures.Add(1) <= 2 {
			return delivery.Transient(errors.New("502 bad gateway"), 0)
		}
		return nil
	}
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	h.publish(t, discordMessage("100", "1", "hello"))
	h.stop(t)

	if n := len(h.telegram.requests()); n != 1 {
		t.Fatalf("expected 1 successful send, got %d", n)
	}
	if st := h.bridge.Stats().Deliveries; st.Retried != 2 || st.Succeeded != 1 {
		t.Fatalf("unexpected delivery stats %+v", st)
	}
}

func TestDrops(t *testing.T) {
	tests := []struct {
		name string
		evt  *event.Event
	}{
		{"bot author", &event.Event{Platform: event.Discord, ChannelID: "100", MessageID: "1",
			Author: event.Author{ID: "1", IsBot: true}, Content: "beep"}},
		{"excluded command", discordMessage("100", "2", "/start now")},
		{"mirrored echo", discordMessage("100", "3", "[tg] bob: hi"+format.Marker(event.Telegram))},
		{"unbridged channel", discordMessage("999", "4", "hello")},
		{"empty", discordMessage("100", "5", "   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			h := newHarness(t)
			h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
			h.start(t)
			h.publish(t, tt.evt)
			h.stop(t)

			if n := len(h.telegram.requests()); n != 0 {
				t.Fatalf("expected no sends, got %d", n)
			}
			if st := h.bridge.Stats(); st.Dropped != 1 {
				t.Fatalf("expected 1 drop, got %+v", st)
			}
		})
	}
}

func TestFilterSwapAppliesToNextEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	h.publish(t, discordMessage("100", "1", "first"))
	waitFor(t, func() bool { return len(h.telegram.requests()) == 1 })

	cfg := filter.DefaultConfig()
	cfg.DenyList = []string{"42"}
	h.bridge.Filters().Swap(cfg)

	h.publish(t, discordMessage("100", "2", "second"))
	h.stop(t)

	if n := len(h.telegram.requests()); n != 1 {
		t.Fatalf("deny-listed author relayed: %d sends", n)
	}
}

func TestReplyThreading(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	h.publish(t, discordMessage("100", "1", "question"))
	waitFor(t, func() bool { return len(h.telegram.requests()) == 1 })
	waitFor(t, func() bool { return h.bridge.Heartbeat().Snapshot().Outcomes.Succeeded == 1 })

	// A Telegram user replies to the relayed copy "tg-1".
	h.publish(t, &event.Event{
		Platform:  event.Telegram,
		ChannelID: "-200",
		MessageID: "8",
		Author:    event.Author{ID: "9", Name: "bob"},
		Content:   "answer",
		ReplyTo:   &event.Reply{MessageID: "tg-1", Author: "alice", Content: "question"},
	})
	h.stop(t)

	sent := h.discord.to("100")
	if len(sent) != 1 {
		t.Fatalf("expected 1 discord send, got %d", len(sent))
	}
	if sent[0].ReplyToMessageID != "1" {
		t.Fatalf("reply target: got %q, want the original message 1", sent[0].ReplyToMessageID)
	}
}

// ──────────────────────────────────────────────────
// Dedup policy
// ──────────────────────────────────────────────────

func TestDedupUnavailablePolicy(t *testing.T) {
	tests := []struct {
		policy dedup.Policy
		want   int
	}{
		{dedup.FailOpen, 1},
		{dedup.FailClosed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			defer goleak.VerifyNone(t)

			h := newHarness(t, bridge.WithDedup(unavailableDedup{}), bridge.WithDedupPolicy(tt.policy))
			h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
			h.start(t)
			h.publish(t, discordMessage("100", "1", "hello"))
			h.stop(t)

			if n := len(h.telegram.requests()); n != tt.want {
				t.Fatalf("expected %d sends, got %d", tt.want, n)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Pairs
// ──────────────────────────────────────────────────

func TestRemoveUnknownPair(t *testing.T) {
	h := newHarness(t)
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))

	err := h.bridge.Pairs().Remove(ctx(), id.NewPairID())
	var nf *pair.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if h.bridge.Pairs().Len() != 1 {
		t.Fatal("registry changed")
	}
}

func TestRemovedPairStopsRouting(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	p := h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	if err := h.bridge.Pairs().Remove(ctx(), p.ID); err != nil {
		t.Fatal(err)
	}
	h.publish(t, discordMessage("100", "1", "hello"))
	h.stop(t)

	if n := len(h.telegram.requests()); n != 0 {
		t.Fatalf("expected no sends after removal, got %d", n)
	}
}

func TestLoadPairsSeedsAndPersists(t *testing.T) {
	h := newHarness(t)
	seed := pair.Input{Source: discordEndpoint("100"), Destination: telegramEndpoint("-200")}

	if err := h.bridge.LoadPairs(ctx(), seed); err != nil {
		t.Fatal(err)
	}
	stored, _ := h.store.LoadPairs(ctx())
	if len(stored) != 1 {
		t.Fatalf("seed not saved: %d pairs", len(stored))
	}

	// A second bridge over the same store loads instead of seeding.
	b2, err := bridge.New(bridge.WithStore(h.store), bridge.WithSender(event.Telegram, &stubSender{}))
	if err != nil {
		t.Fatal(err)
	}
	other := pair.Input{Source: discordEndpoint("300"), Destination: telegramEndpoint("-400")}
	if err := b2.LoadPairs(ctx(), other); err != nil {
		t.Fatal(err)
	}
	got := b2.Pairs().List()
	if len(got) != 1 || got[0].ID != stored[0].ID {
		t.Fatalf("expected stored pair, got %+v", got)
	}
}

// ──────────────────────────────────────────────────
// DLQ replay and adapter health
// ──────────────────────────────────────────────────

func TestReplayIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	var broken atomic.Bool
	broken.Store(true)
	h.telegram.fail = func(delivery.Request) error {
		if broken.Load() {
			return delivery.Permanent(errors.New("forbidden"))
		}
		return nil
	}
	h.addPair(t, discordEndpoint("100"), telegramEndpoint("-200"))
	h.start(t)

	h.publish(t, discordMessage("100", "1", "hello"))
	var entryID id.ID
	waitFor(t, func() bool {
		entries, _ := h.bridge.DLQ().List(ctx(), dlq.ListOpts{})
		if len(entries) == 1 {
			entryID = entries[0].ID
			return true
		}
		return false
	})

	broken.Store(false)
	if _, err := h.bridge.DLQ().Replay(ctx(), entryID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.bridge.DLQ().Replay(ctx(), entryID); !errors.Is(err, dlq.ErrAlreadyReplayed) {
		t.Fatalf("expected ErrAlreadyReplayed, got %v", err)
	}
	h.stop(t)

	if n := len(h.telegram.requests()); n != 1 {
		t.Fatalf("expected exactly 1 successful send after replay, got %d", n)
	}
}

func TestReportFatal(t *testing.T) {
	h := newHarness(t)

	err := h.bridge.ReportFatal(event.Telegram, errors.New("401 unauthorized"))
	if !errors.Is(err, bridge.ErrAdapterFatal) {
		t.Fatalf("expected ErrAdapterFatal, got %v", err)
	}
	var fe *bridge.AdapterFatalError
	if !errors.As(err, &fe) || fe.Platform != event.Telegram {
		t.Fatalf("expected AdapterFatalError for telegram, got %v", err)
	}
	if h.bridge.Heartbeat().Healthy() {
		t.Fatal("expected unhealthy monitor")
	}

	h.bridge.ReportHealthy(event.Telegram)
	if !h.bridge.Heartbeat().Healthy() {
		t.Fatal("expected healthy monitor")
	}
}
