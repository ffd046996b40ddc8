package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/internal/entity"
	"github.com/xraph/bridge/observability"
)

// ErrNoResubmitter is returned by Replay when no engine is attached.
var ErrNoResubmitter = errors.New("dlq: no resubmitter")

// Resubmitter queues a request for another round of delivery.
type Resubmitter interface {
	Resubmit(ctx context.Context, req delivery.Request) (id.ID, error)
}

// Service manages the dead letter queue.
type Service struct {
	store   Store
	resub   Resubmitter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// SetResubmitter attaches the engine used by Replay.
func (svc *Service) SetResubmitter(r Resubmitter) { svc.resub = r }

// SetMetrics attaches metric instruments.
func (svc *Service) SetMetrics(m *observability.Metrics) { svc.metrics = m }

// PushFailed creates a DLQ entry from a failed delivery. Implements
// delivery.DLQPusher.
func (svc *Service) PushFailed(ctx context.Context, d *delivery.Delivery) error {
	entry := &Entry{
		Entity:       entity.New(),
		ID:           id.NewDLQID(),
		DeliveryID:   d.ID,
		PairID:       d.Request.PairID,
		Platform:     d.Request.Platform,
		ChannelID:    d.Request.ChannelID,
		Request:      d.Request,
		Error:        d.LastError,
		State:        d.State,
		AttemptCount: d.AttemptCount,
		FailedAt:     time.Now().UTC(),
	}
	if d.CompletedAt != nil {
		entry.FailedAt = *d.CompletedAt
	}

	if err := svc.store.PushDLQ(ctx, entry); err != nil {
		return fmt.Errorf("dlq: push %s: %w", d.ID, err)
	}
	return nil
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay resubmits a single DLQ entry and marks it replayed. The source
// message's dedup record is not consulted, so replay always sends; a second
// Replay of the same entry returns ErrAlreadyReplayed and sends nothing.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) (id.ID, error) {
	if svc.resub == nil {
		return id.Nil, ErrNoResubmitter
	}

	entry, err := svc.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return id.Nil, err
	}
	if entry.ReplayedAt != nil {
		return id.Nil, ErrAlreadyReplayed
	}

	// Mark first: a crash after this point loses the replay instead of
	// sending it twice.
	if err := svc.store.MarkReplayed(ctx, dlqID, time.Now().UTC()); err != nil {
		return id.Nil, err
	}

	deliveryID, err := svc.resub.Resubmit(ctx, entry.Request)
	if err != nil {
		return id.Nil, fmt.Errorf("dlq: replay %s: %w", dlqID, err)
	}

	svc.logger.InfoContext(ctx, "dlq entry replayed",
		"dlq_id", dlqID,
		"delivery_id", deliveryID,
		"pair_id", entry.PairID,
		"platform", entry.Platform,
		"channel_id", entry.ChannelID,
	)
	return deliveryID, nil
}

// ReplayBulk replays every pending entry that failed within [from, to).
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	entries, err := svc.store.ListDLQ(ctx, ListOpts{From: &from, To: &to, Pending: true})
	if err != nil {
		return 0, err
	}

	var n int64
	for _, e := range entries {
		if _, err := svc.Replay(ctx, e.ID); err != nil {
			if errors.Is(err, ErrAlreadyReplayed) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Purge removes entries that failed before the given time.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := svc.store.PurgeDLQ(ctx, before)
	if err != nil {
		return 0, err
	}
	if count, err := svc.store.CountDLQ(ctx); err == nil {
		svc.metrics.SetDLQSize(int(count))
	}
	return n, nil
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
