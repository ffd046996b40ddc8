// Package adapter holds what the platform adapters share: the sink they feed
// and the supervision contract of their Run loops.
package adapter

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/xraph/bridge/event"
)

// ErrUnbound is returned by a Deferred sink used before Bind.
var ErrUnbound = errors.New("adapter: sink not bound")

// Sink receives inbound events and adapter health changes. *bridge.Bridge
// implements it.
type Sink interface {
	// Publish hands an inbound event to the relay. It may block for
	// backpressure.
	Publish(ctx context.Context, evt *event.Event) error

	// ReportFatal marks the platform unhealthy and returns the error the
	// adapter's Run should return.
	ReportFatal(p event.Platform, err error) error

	// ReportHealthy clears a previous ReportFatal.
	ReportHealthy(p event.Platform)
}

// Runner is implemented by every platform adapter. Run blocks until ctx is
// done, returning nil, or until the adapter hits a fatal error.
type Runner interface {
	Run(ctx context.Context) error
}

// Deferred is a Sink whose target is bound after construction. Adapters are
// also the bridge's senders, so they exist before the bridge does.
type Deferred struct {
	target atomic.Pointer[sinkBox]
}

type sinkBox struct{ Sink }

// Bind sets the sink events are forwarded to.
func (d *Deferred) Bind(s Sink) { d.target.Store(&sinkBox{s}) }

// Publish implements Sink. It fails until Bind is called.
func (d *Deferred) Publish(ctx context.Context, evt *event.Event) error {
	s := d.target.Load()
	if s == nil {
		return ErrUnbound
	}
	return s.Publish(ctx, evt)
}

// ReportFatal implements Sink. Unbound, it returns err unchanged.
func (d *Deferred) ReportFatal(p event.Platform, err error) error {
	if s := d.target.Load(); s != nil {
		return s.ReportFatal(p, err)
	}
	return err
}

// ReportHealthy implements Sink.
func (d *Deferred) ReportHealthy(p event.Platform) {
	if s := d.target.Load(); s != nil {
		s.ReportHealthy(p)
	}
}
