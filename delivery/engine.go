package delivery

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/observability"
	"github.com/xraph/bridge/ratelimit"
)

var (
	// ErrClosed is returned by Submit once Stop has been called.
	ErrClosed = errors.New("delivery: engine closed")

	// ErrNoSender is returned by Submit for a platform without a Sender.
	ErrNoSender = errors.New("delivery: no sender for platform")
)

// DLQPusher receives deliveries that failed permanently or exhausted their
// retries.
type DLQPusher interface {
	PushFailed(ctx context.Context, d *Delivery) error
}

// CompleteFunc is called once per delivery when it reaches a terminal state
// other than Abandoned. The receipt is zero unless the state is Success.
type CompleteFunc func(ctx context.Context, d *Delivery, r Receipt)

// DefaultWorkers is the number of workers for a platform with no explicit
// concurrency.
const DefaultWorkers = 4

// EngineConfig holds engine configuration.
type EngineConfig struct {
	// Workers bounds concurrent sends per destination platform.
	Workers map[event.Platform]int

	// QueueSize is the buffer of each worker's queue.
	QueueSize int

	// AttemptTimeout bounds a single send.
	AttemptTimeout time.Duration

	Retry      Policy
	Limiter    *ratelimit.Limiter
	DLQ        DLQPusher
	OnComplete CompleteFunc
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// Stats is a point-in-time view of the engine counters.
type Stats struct {
	Submitted       int64 `json:"submitted"`
	Succeeded       int64 `json:"succeeded"`
	Retried         int64 `json:"retried"`
	PermanentFailed int64 `json:"permanent_failed"`
	Exhausted       int64 `json:"exhausted"`
	Abandoned       int64 `json:"abandoned"`
	InFlight        int64 `json:"in_flight"`
}

// Engine delivers requests through per-platform worker shards. A request is
// routed to a shard by its destination channel, so sends to one channel are
// serialized while different channels proceed in parallel. Retry and rate
// limit waits run on timers outside the workers.
type Engine struct {
	senders map[event.Platform]Sender
	retrier *Retrier
	config  EngineConfig
	logger  *slog.Logger

	shards map[event.Platform][]chan *Delivery

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started bool

	inflight sync.WaitGroup
	workers  sync.WaitGroup
	timers   sync.WaitGroup

	submitted, succeeded, retried atomic.Int64
	failed, exhausted, abandoned  atomic.Int64
	pending                       atomic.Int64
}

// NewEngine creates a delivery engine for the given senders.
func NewEngine(senders map[event.Platform]Sender, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultPolicy()
	}

	e := &Engine{
		senders: senders,
		retrier: NewRetrier(cfg.Retry),
		config:  cfg,
		logger:  logger,
		shards:  make(map[event.Platform][]chan *Delivery, len(senders)),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	for p := range senders {
		n := cfg.Workers[p]
		if n <= 0 {
			n = DefaultWorkers
		}
		lanes := make([]chan *Delivery, n)
		for i := range lanes {
			lanes[i] = make(chan *Delivery, cfg.QueueSize)
		}
		e.shards[p] = lanes
	}
	return e
}

// Start launches the workers. Cancelling ctx has the same effect as a Stop
// with an expired grace period.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	context.AfterFunc(ctx, e.cancel)

	for p, lanes := range e.shards {
		for _, lane := range lanes {
			e.workers.Add(1)
			go func(p event.Platform, lane chan *Delivery) {
				defer e.workers.Done()
				e.work(p, lane)
			}(p, lane)
		}
	}
}

// Stop stops accepting submissions and waits for in-flight deliveries until
// ctx is done. Deliveries still pending after that are abandoned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.cancel()
	e.workers.Wait()
	e.timers.Wait()
	for _, lanes := range e.shards {
		for _, lane := range lanes {
			e.drain(lane)
		}
	}
	<-done

	if n := e.abandoned.Load(); n > 0 {
		e.logger.Warn("deliveries abandoned at shutdown", "count", n)
	}
	return err
}

// Submit queues req for delivery. It blocks while the destination shard is
// full, until ctx is done.
func (e *Engine) Submit(ctx context.Context, req Request) (id.ID, error) {
	return e.submit(ctx, req, false)
}

// Resubmit queues req as a replay, with a fresh attempt budget.
func (e *Engine) Resubmit(ctx context.Context, req Request) (id.ID, error) {
	return e.submit(ctx, req, true)
}

func (e *Engine) submit(ctx context.Context, req Request, replay bool) (id.ID, error) {
	lanes, ok := e.shards[req.Platform]
	if !ok {
		return id.Nil, fmt.Errorf("%w: %s", ErrNoSender, req.Platform)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return id.Nil, ErrClosed
	}

	d := &Delivery{
		ID:          id.NewDeliveryID(),
		Request:     req,
		State:       StatePending,
		MaxAttempts: e.retrier.Policy().MaxAttempts,
		Replay:      replay,
		CreatedAt:   time.Now().UTC(),
	}

	e.inflight.Add(1)
	select {
	case lanes[shardOf(req.ChannelID, len(lanes))] <- d:
	case <-ctx.Done():
		e.inflight.Done()
		return id.Nil, ctx.Err()
	case <-e.ctx.Done():
		e.inflight.Done()
		return id.Nil, ErrClosed
	}

	e.submitted.Add(1)
	e.pending.Add(1)
	e.config.Metrics.DeliveryQueued()
	return d.ID, nil
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Submitted:       e.submitted.Load(),
		Succeeded:       e.succeeded.Load(),
		Retried:         e.retried.Load(),
		PermanentFailed: e.failed.Load(),
		Exhausted:       e.exhausted.Load(),
		Abandoned:       e.abandoned.Load(),
		InFlight:        e.pending.Load(),
	}
}

func shardOf(channelID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channelID))
	return int(h.Sum32() % uint32(n))
}

// work runs one shard. A delivery whose channel is rate limited is held in
// a per-channel queue owned by the worker, so the shard keeps serving other
// channels while order within the held channel is preserved.
func (e *Engine) work(p event.Platform, lane chan *Delivery) {
	sender := e.senders[p]
	held := make(map[string][]*Delivery)
	wake := make(chan string)

	for {
		select {
		case <-e.ctx.Done():
			for _, q := range held {
				for _, d := range q {
					e.abandon(d)
				}
			}
			return

		case d := <-lane:
			ch := d.Request.ChannelID
			if q, ok := held[ch]; ok {
				held[ch] = append(q, d)
				continue
			}
			if wait, blocked := e.reserve(d); blocked {
				held[ch] = []*Delivery{d}
				e.wakeAfter(wake, ch, wait)
				continue
			}
			e.process(sender, lane, d)

		case ch := <-wake:
			q := held[ch]
			for len(q) > 0 {
				if wait, blocked := e.reserve(q[0]); blocked {
					e.wakeAfter(wake, ch, wait)
					break
				}
				d := q[0]
				q = q[1:]
				e.process(sender, lane, d)
			}
			if len(q) == 0 {
				delete(held, ch)
			} else {
				held[ch] = q
			}
		}
	}
}

// reserve takes a send slot for d from the limiter. blocked is true when
// the channel must wait.
func (e *Engine) reserve(d *Delivery) (wait time.Duration, blocked bool) {
	if e.config.Limiter == nil {
		return 0, false
	}
	ok, wait := e.config.Limiter.Reserve(d.Request.Platform, d.Request.ChannelID)
	return wait, !ok
}

// wakeAfter signals the worker once channelID may be tried again.
func (e *Engine) wakeAfter(wake chan<- string, channelID string, wait time.Duration) {
	e.timers.Add(1)
	go func() {
		defer e.timers.Done()

		t := time.NewTimer(wait)
		defer t.Stop()

		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
		}

		select {
		case wake <- channelID:
		case <-e.ctx.Done():
		}
	}()
}

// process makes one attempt on d and moves it to its next state.
func (e *Engine) process(sender Sender, lane chan *Delivery, d *Delivery) {
	ctx := e.ctx
	req := d.Request

	ctx, span := e.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), req.PairID.String(), string(req.Platform), req.ChannelID)

	attemptCtx := ctx
	if e.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.config.AttemptTimeout)
		defer cancel()
	}

	d.AttemptCount++
	start := time.Now()
	receipt, err := e.send(attemptCtx, sender, req)
	latency := time.Since(start)
	e.config.Tracer.EndDeliverySpan(span, d.AttemptCount, latency.Milliseconds(), err)

	if err != nil && e.ctx.Err() != nil {
		d.LastError = err.Error()
		e.abandon(d)
		return
	}

	decision, wait := e.retrier.Decide(err, d)
	if err != nil {
		d.LastError = err.Error()
	}

	log := e.logger.With(
		"delivery_id", d.ID,
		"pair_id", req.PairID,
		"platform", req.Platform,
		"channel_id", req.ChannelID,
		"correlation_id", req.CorrelationID,
		"attempt", d.AttemptCount,
	)

	switch decision {
	case Delivered:
		d.complete(StateSuccess)
		e.succeeded.Add(1)
		e.config.Metrics.RecordDelivery(string(req.Platform), "success", latency.Seconds())
		log.DebugContext(ctx, "delivered", "message_id", receipt.MessageID, "latency_ms", latency.Milliseconds())
		e.finish(d, receipt)

	case Retry:
		d.State = StateRetrying
		d.Waited += wait
		d.NextAttemptAt = time.Now().Add(wait).UTC()
		if ra := RetryAfter(err); ra > 0 && e.config.Limiter != nil {
			e.config.Limiter.Penalize(req.Platform, req.ChannelID, ra)
		}
		e.retried.Add(1)
		e.config.Metrics.RecordDelivery(string(req.Platform), "retried", latency.Seconds())
		log.DebugContext(ctx, "retry scheduled", "wait", wait, "error", err)
		e.schedule(lane, d, wait)

	case Fail:
		d.complete(StatePermanentFailure)
		e.failed.Add(1)
		e.config.Metrics.RecordDelivery(string(req.Platform), "permanent_failure", latency.Seconds())
		log.WarnContext(ctx, "delivery failed permanently", "error", err)
		e.deadLetter(ctx, log, d)
		e.finish(d, Receipt{})

	case Exhausted:
		d.complete(StateRetryExhausted)
		e.exhausted.Add(1)
		e.config.Metrics.RecordDelivery(string(req.Platform), "retry_exhausted", latency.Seconds())
		log.WarnContext(ctx, "delivery retries exhausted", "waited", d.Waited, "error", err)
		e.deadLetter(ctx, log, d)
		e.finish(d, Receipt{})
	}
}

func (e *Engine) deadLetter(ctx context.Context, log *slog.Logger, d *Delivery) {
	if e.config.DLQ == nil {
		return
	}
	if err := e.config.DLQ.PushFailed(context.WithoutCancel(ctx), d); err != nil {
		log.ErrorContext(ctx, "push to DLQ failed", "error", err)
		return
	}
	e.config.Metrics.DeadLettered()
}

// send calls the sender, converting a panic into a transient error.
func (e *Engine) send(ctx context.Context, sender Sender, req Request) (r Receipt, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("delivery: sender panic: %v", rec)
		}
	}()
	return sender.Send(ctx, req)
}

func (e *Engine) schedule(lane chan *Delivery, d *Delivery, wait time.Duration) {
	e.timers.Add(1)
	go func() {
		defer e.timers.Done()

		t := time.NewTimer(wait)
		defer t.Stop()

		select {
		case <-e.ctx.Done():
			e.abandon(d)
			return
		case <-t.C:
		}

		d.State = StatePending
		select {
		case lane <- d:
		case <-e.ctx.Done():
			e.abandon(d)
		}
	}()
}

func (e *Engine) finish(d *Delivery, r Receipt) {
	if e.config.OnComplete != nil {
		e.config.OnComplete(context.WithoutCancel(e.ctx), d, r)
	}
	e.done()
}

func (e *Engine) abandon(d *Delivery) {
	d.complete(StateAbandoned)
	e.abandoned.Add(1)
	e.logger.Debug("delivery abandoned",
		"delivery_id", d.ID, "platform", d.Request.Platform, "channel_id", d.Request.ChannelID,
		"attempts", d.AttemptCount)
	e.done()
}

func (e *Engine) done() {
	e.pending.Add(-1)
	e.config.Metrics.DeliveryDone()
	e.inflight.Done()
}

func (e *Engine) drain(lane chan *Delivery) {
	for {
		select {
		case d := <-lane:
			e.abandon(d)
		default:
			return
		}
	}
}
