package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for the bridge, backed by any go-utils
// MetricFactory. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsReceived    gu.Counter
	EventsDropped     gu.Counter
	DeliveriesTotal   gu.Counter
	DeliveryLatency   gu.Histogram
	DLQSize           gu.Gauge
	PendingDeliveries gu.Gauge
	Pairs             gu.Gauge
}

// NewMetrics creates bridge metric instruments using the supplied factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsReceived:    factory.Counter("bridge_events_received_total"),
		EventsDropped:     factory.Counter("bridge_events_dropped_total"),
		DeliveriesTotal:   factory.Counter("bridge_deliveries_total"),
		DeliveryLatency:   factory.Histogram("bridge_delivery_latency_seconds"),
		DLQSize:           factory.Gauge("bridge_dlq_size"),
		PendingDeliveries: factory.Gauge("bridge_pending_deliveries"),
		Pairs:             factory.Gauge("bridge_pairs"),
	}
}

// RecordEvent counts an inbound event from platform.
func (m *Metrics) RecordEvent(platform string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabels(map[string]string{"platform": platform}).Inc()
}

// RecordDrop counts an inbound event that produced no deliveries.
func (m *Metrics) RecordDrop(platform, reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabels(map[string]string{"platform": platform, "reason": reason}).Inc()
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(platform, status string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabels(map[string]string{"platform": platform, "status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// DeliveryQueued tracks a delivery entering the engine.
func (m *Metrics) DeliveryQueued() {
	if m == nil {
		return
	}
	m.PendingDeliveries.Inc()
}

// DeliveryDone tracks a delivery reaching a terminal state.
func (m *Metrics) DeliveryDone() {
	if m == nil {
		return
	}
	m.PendingDeliveries.Dec()
}

// DeadLettered tracks an entry pushed to the dead letter queue.
func (m *Metrics) DeadLettered() {
	if m == nil {
		return
	}
	m.DLQSize.Inc()
}

// SetDLQSize sets the dead letter queue gauge, e.g. after a replay or purge.
func (m *Metrics) SetDLQSize(n int) {
	if m == nil {
		return
	}
	m.DLQSize.Set(float64(n))
}

// SetPairs sets the active pair gauge.
func (m *Metrics) SetPairs(n int) {
	if m == nil {
		return
	}
	m.Pairs.Set(float64(n))
}
