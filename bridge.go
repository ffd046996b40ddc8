package bridge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/dlq"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/filter"
	"github.com/xraph/bridge/format"
	"github.com/xraph/bridge/heartbeat"
	"github.com/xraph/bridge/mapping"
	"github.com/xraph/bridge/observability"
	"github.com/xraph/bridge/pair"
	"github.com/xraph/bridge/ratelimit"
	"github.com/xraph/bridge/store"
)

// Reasons an inbound event produced no deliveries, in addition to the
// filter.Reason values.
const (
	DropDuplicate        = "duplicate"
	DropDedupUnavailable = "dedup_unavailable"
	DropMirroredEcho     = "mirrored_echo"
	DropNoRoute          = "no_route"
	DropEmpty            = "empty"
	DropShutdown         = "shutdown"
)

// Bridge relays chat messages between Discord and Telegram channels.
type Bridge struct {
	config       Config
	filterConfig filter.Config
	store        store.Store
	dedup        dedup.Store
	mapping      mapping.Store
	pairStore    pair.Store
	senders      map[event.Platform]delivery.Sender
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	logger       *slog.Logger

	registry *pair.Registry
	filters  *filter.Chain
	monitor  *heartbeat.Monitor
	engine   *delivery.Engine
	dlqSvc   *dlq.Service

	queues map[event.Platform]chan *event.Event
	lanes  map[event.Platform][]chan *event.Event

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool

	pending    sync.WaitGroup
	publishing sync.WaitGroup
	workers    sync.WaitGroup

	received, dropped atomic.Int64
}

// Stats is a point-in-time view of the bridge counters.
type Stats struct {
	Received   int64          `json:"received"`
	Dropped    int64          `json:"dropped"`
	Pairs      int            `json:"pairs"`
	Deliveries delivery.Stats `json:"deliveries"`
}

// New creates a Bridge with the given options. A store and at least one
// sender are required.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		config:       DefaultConfig(),
		filterConfig: filter.DefaultConfig(),
		senders:      make(map[event.Platform]delivery.Sender, 2),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.store == nil {
		return nil, ErrNoStore
	}
	if len(b.senders) == 0 {
		return nil, ErrNoSender
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.dedup == nil {
		b.dedup = b.store
	}
	if b.mapping == nil {
		b.mapping = b.store
	}
	if b.pairStore == nil {
		b.pairStore = b.store
	}
	b.wireServices()
	return b, nil
}

// wireServices initializes the internal services after options have been applied.
func (b *Bridge) wireServices() {
	b.registry = pair.NewRegistry(b.logger)
	b.registry.OnChange(b.persistPairs)

	b.filters = filter.NewChain(b.filterConfig)
	b.monitor = heartbeat.New(b.config.HeartbeatInterval, b.logger)

	b.dlqSvc = dlq.NewService(b.store, b.logger)
	b.dlqSvc.SetMetrics(b.metrics)

	var limiter *ratelimit.Limiter
	if b.config.RateLimits != nil {
		limiter = ratelimit.New(b.config.RateLimits)
	}

	b.engine = delivery.NewEngine(b.senders, delivery.EngineConfig{
		Workers:        b.config.Concurrency,
		QueueSize:      b.config.DeliveryQueueSize,
		AttemptTimeout: b.config.AttemptTimeout,
		Retry:          b.config.Retry,
		Limiter:        limiter,
		DLQ:            b.dlqSvc,
		OnComplete:     b.onComplete,
		Metrics:        b.metrics,
		Tracer:         b.tracer,
	}, b.logger)
	b.dlqSvc.SetResubmitter(b.engine)

	b.queues = map[event.Platform]chan *event.Event{
		event.Discord:  make(chan *event.Event, b.config.QueueSize),
		event.Telegram: make(chan *event.Event, b.config.QueueSize),
	}
	b.lanes = make(map[event.Platform][]chan *event.Event, len(b.queues))
	laneSize := max(1, b.config.QueueSize/b.config.Lanes)
	for p := range b.queues {
		lanes := make([]chan *event.Event, b.config.Lanes)
		for i := range lanes {
			lanes[i] = make(chan *event.Event, laneSize)
		}
		b.lanes[p] = lanes
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
}

// LoadPairs fills the routing table from the pair store. When the store holds
// no pairs, the seed inputs are added instead and saved back.
func (b *Bridge) LoadPairs(ctx context.Context, seed ...pair.Input) error {
	pairs, err := b.pairStore.LoadPairs(ctx)
	if err != nil {
		return fmt.Errorf("bridge: load pairs: %w", err)
	}

	if len(pairs) > 0 {
		if err := b.registry.Load(pairs); err != nil {
			return fmt.Errorf("bridge: load pairs: %w", err)
		}
		b.metrics.SetPairs(len(pairs))
		b.logger.InfoContext(ctx, "pairs loaded", "count", len(pairs))
		return nil
	}

	for _, in := range seed {
		if _, err := b.registry.Upsert(ctx, in); err != nil {
			return fmt.Errorf("bridge: seed pair: %w", err)
		}
	}
	if len(seed) > 0 {
		b.logger.InfoContext(ctx, "pairs seeded", "count", len(seed))
	}
	return nil
}

func (b *Bridge) persistPairs(ctx context.Context, pairs []pair.Pair) error {
	b.metrics.SetPairs(len(pairs))
	return b.pairStore.SavePairs(ctx, pairs)
}

// Start launches the event lanes and the delivery engine. Cancelling ctx has
// the same effect as a Stop whose grace period has already expired, so
// callers wanting a graceful drain pass a context they do not cancel and
// call Stop.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}
	if b.started {
		return nil
	}
	b.started = true

	context.AfterFunc(ctx, b.cancel)
	b.engine.Start(ctx)

	for p, queue := range b.queues {
		lanes := b.lanes[p]
		b.workers.Add(1)
		go func() {
			defer b.workers.Done()
			b.dispatch(queue, lanes)
		}()
		for _, lane := range lanes {
			b.workers.Add(1)
			go func() {
				defer b.workers.Done()
				b.runLane(lane)
			}()
		}
	}

	b.logger.InfoContext(ctx, "bridge started",
		"pairs", b.registry.Len(),
		"lanes", b.config.Lanes,
		"dedup_policy", b.config.DedupPolicy,
	)
	return nil
}

// Stop stops accepting events, then waits up to the shutdown timeout for
// queued events and in-flight deliveries. Whatever is left after that is
// abandoned; abandoned events keep their dedup record.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	if !started {
		b.cancel()
		return nil
	}

	if b.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.ShutdownTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("bridge: drain events: %w", ctx.Err()))
	}

	b.cancel()
	b.publishing.Wait()
	b.workers.Wait()
	discarded := b.drainQueues()
	<-done

	if err := b.engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("bridge: stop delivery: %w", err))
	}

	st := b.engine.Stats()
	b.logger.InfoContext(ctx, "bridge stopped",
		"received", b.received.Load(),
		"discarded", discarded,
		"delivered", st.Succeeded,
		"abandoned", st.Abandoned,
	)
	return errors.Join(errs...)
}

// Publish hands an inbound event to the bridge. It blocks while the
// platform's queue is full, until ctx is done or the bridge stops.
// Missing correlation ids and receive times are filled in.
func (b *Bridge) Publish(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return fmt.Errorf("%w: nil event", event.ErrInvalidEvent)
	}
	if err := evt.Validate(); err != nil {
		return err
	}

	e := *evt
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	b.mu.RLock()
	if b.stopped || b.ctx.Err() != nil {
		b.mu.RUnlock()
		return ErrStopped
	}
	if !b.started {
		b.mu.RUnlock()
		return ErrNotStarted
	}
	b.pending.Add(1)
	b.publishing.Add(1)
	b.mu.RUnlock()
	defer b.publishing.Done()

	select {
	case b.queues[e.Platform] <- &e:
		return nil
	case <-ctx.Done():
		b.pending.Done()
		return ctx.Err()
	case <-b.ctx.Done():
		b.pending.Done()
		return ErrStopped
	}
}

// ReportFatal marks the adapter for p as failed. The returned error wraps
// ErrAdapterFatal and is meant to be returned to the process supervisor.
func (b *Bridge) ReportFatal(p event.Platform, err error) error {
	b.monitor.MarkFatal(p, err)
	return Fatal(p, err)
}

// ReportHealthy clears a previous ReportFatal for p.
func (b *Bridge) ReportHealthy(p event.Platform) {
	b.monitor.MarkHealthy(p)
}

// Pairs returns the routing table.
func (b *Bridge) Pairs() *pair.Registry { return b.registry }

// Filters returns the filter chain. Swap on it applies to the next event.
func (b *Bridge) Filters() *filter.Chain { return b.filters }

// DLQ returns the DLQ service.
func (b *Bridge) DLQ() *dlq.Service { return b.dlqSvc }

// Heartbeat returns the liveness monitor.
func (b *Bridge) Heartbeat() *heartbeat.Monitor { return b.monitor }

// Store returns the underlying store.
func (b *Bridge) Store() store.Store { return b.store }

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:   b.received.Load(),
		Dropped:    b.dropped.Load(),
		Pairs:      b.registry.Len(),
		Deliveries: b.engine.Stats(),
	}
}

// ──────────────────────────────────────────────────
// Event lanes
// ──────────────────────────────────────────────────

func laneOf(channelID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channelID))
	return int(h.Sum32() % uint32(n))
}

// dispatch moves events from a platform queue to the lane owning their channel.
func (b *Bridge) dispatch(queue chan *event.Event, lanes []chan *event.Event) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case evt := <-queue:
			select {
			case lanes[laneOf(evt.ChannelID, len(lanes))] <- evt:
			case <-b.ctx.Done():
				b.discard(evt)
				return
			}
		}
	}
}

func (b *Bridge) runLane(lane chan *event.Event) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case evt := <-lane:
			b.process(evt)
		}
	}
}

// process handles one event. A panic is contained to the event.
func (b *Bridge) process(evt *event.Event) {
	defer b.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				"panic", r,
				"platform", evt.Platform,
				"channel_id", evt.ChannelID,
				"message_id", evt.MessageID,
				"correlation_id", evt.CorrelationID,
			)
		}
	}()
	b.handle(b.ctx, evt)
}

func (b *Bridge) discard(evt *event.Event) {
	b.dropped.Add(1)
	b.metrics.RecordDrop(string(evt.Platform), DropShutdown)
	b.pending.Done()
}

func (b *Bridge) drainQueues() int {
	n := 0
	drain := func(ch chan *event.Event) {
		for {
			select {
			case evt := <-ch:
				b.discard(evt)
				n++
			default:
				return
			}
		}
	}
	for p, queue := range b.queues {
		drain(queue)
		for _, lane := range b.lanes[p] {
			drain(lane)
		}
	}
	return n
}

// ──────────────────────────────────────────────────
// Relay pipeline
// ──────────────────────────────────────────────────

// handle runs the relay pipeline for one event:
//
//	fingerprint → dedup → echo check → filter → resolve → render → submit
//
// Every early return is a silent drop with a logged reason.
func (b *Bridge) handle(ctx context.Context, evt *event.Event) {
	ctx, span := b.tracer.StartEventSpan(ctx, string(evt.Platform), evt.ChannelID, evt.MessageID, evt.CorrelationID)
	defer span.End()

	b.received.Add(1)
	b.metrics.RecordEvent(string(evt.Platform))
	b.monitor.RecordEvent(evt.Platform)

	log := b.logger.With(
		"platform", evt.Platform,
		"channel_id", evt.ChannelID,
		"message_id", evt.MessageID,
		"correlation_id", evt.CorrelationID,
	)

	dup, err := b.dedup.CheckAndMark(ctx, evt.Fingerprint())
	switch {
	case err != nil && b.config.DedupPolicy == dedup.FailClosed:
		log.WarnContext(ctx, "dedup store unavailable, dropping event", "error", err)
		b.drop(ctx, log, evt, DropDedupUnavailable)
		return
	case err != nil:
		log.WarnContext(ctx, "dedup store unavailable, relaying anyway", "error", err)
	case dup:
		b.drop(ctx, log, evt, DropDuplicate)
		return
	}

	if format.IsMirrored(evt.Content) {
		b.drop(ctx, log, evt, DropMirroredEcho)
		return
	}

	if ok, reason := b.filters.Evaluate(evt); !ok {
		b.drop(ctx, log, evt, string(reason))
		return
	}

	routes := b.routes(evt)
	if len(routes) == 0 {
		b.drop(ctx, log, evt, DropNoRoute)
		return
	}

	if strings.TrimSpace(evt.Content) == "" && len(evt.Attachments) == 0 {
		b.drop(ctx, log, evt, DropEmpty)
		return
	}

	source := mapping.Ref{Platform: evt.Platform, ChannelID: evt.ChannelID, MessageID: evt.MessageID}
	for _, rt := range routes {
		req := delivery.Request{
			PairID:        rt.PairID,
			Fingerprint:   evt.Fingerprint(),
			CorrelationID: evt.CorrelationID,
			Source:        source,
			Platform:      rt.Platform,
			ChannelID:     rt.ChannelID,
			ThreadID:      rt.ThreadID,
			Content:       format.Render(evt, rt.Platform),
		}
		if evt.ReplyTo != nil && evt.ReplyTo.MessageID != "" {
			req.ReplyToMessageID = b.replyTarget(ctx, log, evt, rt)
		}

		deliveryID, err := b.engine.Submit(ctx, req)
		if err != nil {
			log.WarnContext(ctx, "submit delivery failed",
				"pair_id", rt.PairID,
				"destination", rt.Platform,
				"destination_channel_id", rt.ChannelID,
				"error", err,
			)
			continue
		}
		log.DebugContext(ctx, "delivery submitted",
			"delivery_id", deliveryID,
			"pair_id", rt.PairID,
			"destination", rt.Platform,
			"destination_channel_id", rt.ChannelID,
		)
	}
}

// routes returns one route per distinct destination carrying traffic out of
// the event's channel. Pairs that differ only in thread both match a message
// from that thread on the reverse side; the first pair wins.
func (b *Bridge) routes(evt *event.Event) []pair.Route {
	pairs := b.registry.Resolve(evt.Platform, evt.ChannelID)
	out := make([]pair.Route, 0, len(pairs))
	type target struct {
		platform event.Platform
		channel  string
		thread   string
	}
	seen := make(map[target]struct{}, len(pairs))
	for _, p := range pairs {
		rt, ok := p.RouteFrom(evt.Platform, evt.ChannelID, evt.ThreadID)
		if !ok {
			continue
		}
		key := target{rt.Platform, rt.ChannelID, rt.ThreadID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rt)
	}
	return out
}

// replyTarget finds the copy of the replied-to message in the destination
// channel. Threading is best-effort: lookup failures only log.
func (b *Bridge) replyTarget(ctx context.Context, log *slog.Logger, evt *event.Event, rt pair.Route) string {
	ref := mapping.Ref{Platform: evt.Platform, ChannelID: evt.ChannelID, MessageID: evt.ReplyTo.MessageID}
	target, err := b.mapping.Counterpart(ctx, ref, rt.Platform, rt.ChannelID)
	if err != nil {
		if !errors.Is(err, mapping.ErrNotFound) {
			log.WarnContext(ctx, "reply lookup failed", "reply_to", evt.ReplyTo.MessageID, "error", err)
		}
		return ""
	}
	return target.MessageID
}

func (b *Bridge) drop(ctx context.Context, log *slog.Logger, evt *event.Event, reason string) {
	b.dropped.Add(1)
	b.metrics.RecordDrop(string(evt.Platform), reason)
	log.DebugContext(ctx, "event dropped", "reason", reason)
}

// onComplete links a delivered copy to its original and feeds the heartbeat.
func (b *Bridge) onComplete(ctx context.Context, d *delivery.Delivery, r delivery.Receipt) {
	defer b.monitor.RecordOutcome(d.State)

	if d.State != delivery.StateSuccess || r.MessageID == "" || d.Request.Source.MessageID == "" {
		return
	}
	link := mapping.Link{
		Source: d.Request.Source,
		Target: mapping.Ref{
			Platform:  d.Request.Platform,
			ChannelID: d.Request.ChannelID,
			MessageID: r.MessageID,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := b.mapping.PutLink(ctx, link); err != nil {
		b.logger.WarnContext(ctx, "record message link failed",
			"delivery_id", d.ID,
			"correlation_id", d.Request.CorrelationID,
			"error", err,
		)
	}
}
