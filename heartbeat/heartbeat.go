// Package heartbeat emits a periodic liveness signal for the bridge.
//
// The Monitor counts inbound events per platform and delivery outcomes,
// tracks adapter health, and on every tick logs a "bridge heartbeat" record
// with the counts since the previous beat.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/bridge/delivery"
	"github.com/xraph/bridge/event"
)

// DefaultInterval is the heartbeat period when none is configured.
const DefaultInterval = 60 * time.Second

// PlatformStatus is the health and traffic of one platform adapter.
type PlatformStatus struct {
	Healthy     bool      `json:"healthy"`
	Error       string    `json:"error,omitempty"`
	ChangedAt   time.Time `json:"changed_at"`
	SinceBeat   int64     `json:"events_since_beat"`
	TotalEvents int64     `json:"events_total"`
}

// Outcomes counts deliveries by terminal state.
type Outcomes struct {
	Succeeded       int64 `json:"succeeded"`
	PermanentFailed int64 `json:"permanent_failed"`
	Exhausted       int64 `json:"exhausted"`
}

// Snapshot is the state reported by one beat.
type Snapshot struct {
	At        time.Time                         `json:"at"`
	StartedAt time.Time                         `json:"started_at"`
	Beats     int64                             `json:"beats"`
	Platforms map[event.Platform]PlatformStatus `json:"platforms"`
	Outcomes  Outcomes                          `json:"outcomes"`
}

// Healthy reports whether no platform is marked fatal.
func (s Snapshot) Healthy() bool {
	for _, p := range s.Platforms {
		if !p.Healthy {
			return false
		}
	}
	return true
}

// Monitor aggregates liveness data. It is safe for concurrent use.
type Monitor struct {
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	started   time.Time
	lastBeat  time.Time
	beats     int64
	platforms map[event.Platform]*PlatformStatus
	outcomes  Outcomes
}

// New creates a monitor that tracks both platforms as healthy.
func New(interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		platforms: make(map[event.Platform]*PlatformStatus, 2),
	}
	m.started = m.now().UTC()
	for _, p := range []event.Platform{event.Discord, event.Telegram} {
		m.platforms[p] = &PlatformStatus{Healthy: true, ChangedAt: m.started}
	}
	return m
}

// Interval returns the beat period.
func (m *Monitor) Interval() time.Duration { return m.interval }

func (m *Monitor) status(p event.Platform) *PlatformStatus {
	st, ok := m.platforms[p]
	if !ok {
		st = &PlatformStatus{Healthy: true, ChangedAt: m.now().UTC()}
		m.platforms[p] = st
	}
	return st
}

// RecordEvent counts an inbound event from p.
func (m *Monitor) RecordEvent(p event.Platform) {
	m.mu.Lock()
	st := m.status(p)
	st.SinceBeat++
	st.TotalEvents++
	m.mu.Unlock()
}

// RecordOutcome counts a delivery that reached state s. Non-terminal and
// abandoned states are ignored.
func (m *Monitor) RecordOutcome(s delivery.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch s {
	case delivery.StateSuccess:
		m.outcomes.Succeeded++
	case delivery.StatePermanentFailure:
		m.outcomes.PermanentFailed++
	case delivery.StateRetryExhausted:
		m.outcomes.Exhausted++
	}
}

// MarkFatal records that the adapter for p failed unrecoverably.
func (m *Monitor) MarkFatal(p event.Platform, err error) {
	m.mu.Lock()
	st := m.status(p)
	st.Healthy = false
	if err != nil {
		st.Error = err.Error()
	}
	st.ChangedAt = m.now().UTC()
	m.mu.Unlock()

	m.logger.Error("adapter marked unhealthy", "platform", p, "error", err)
}

// MarkHealthy clears a previous MarkFatal for p.
func (m *Monitor) MarkHealthy(p event.Platform) {
	m.mu.Lock()
	st := m.status(p)
	changed := !st.Healthy
	st.Healthy = true
	st.Error = ""
	if changed {
		st.ChangedAt = m.now().UTC()
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info("adapter healthy again", "platform", p)
	}
}

// Healthy reports whether every adapter is healthy.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.platforms {
		if !st.Healthy {
			return false
		}
	}
	return true
}

// Snapshot returns the current state without resetting any counters.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.lastBeat)
}

func (m *Monitor) snapshotLocked(at time.Time) Snapshot {
	s := Snapshot{
		At:        at,
		StartedAt: m.started,
		Beats:     m.beats,
		Platforms: make(map[event.Platform]PlatformStatus, len(m.platforms)),
		Outcomes:  m.outcomes,
	}
	for p, st := range m.platforms {
		s.Platforms[p] = *st
	}
	return s
}

// Beat logs one heartbeat and resets the per-beat event counters.
func (m *Monitor) Beat(ctx context.Context) Snapshot {
	m.mu.Lock()
	m.beats++
	m.lastBeat = m.now().UTC()
	s := m.snapshotLocked(m.lastBeat)
	for _, st := range m.platforms {
		st.SinceBeat = 0
	}
	m.mu.Unlock()

	attrs := []any{
		"alive_at", s.At,
		"beat", s.Beats,
		"healthy", s.Healthy(),
		"delivered", s.Outcomes.Succeeded,
		"failed", s.Outcomes.PermanentFailed,
		"exhausted", s.Outcomes.Exhausted,
	}
	for p, st := range s.Platforms {
		attrs = append(attrs, slog.Group(string(p),
			"events", st.SinceBeat,
			"total", st.TotalEvents,
			"healthy", st.Healthy,
		))
	}
	m.logger.InfoContext(ctx, "bridge heartbeat", attrs...)
	return s
}

// Run beats every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Beat(ctx)
		}
	}
}
