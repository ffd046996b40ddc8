package bridge

import (
	"errors"
	"fmt"

	"github.com/xraph/bridge/event"
)

// Sentinel errors returned by Bridge operations.
var (
	// ErrNoStore is returned when a Bridge is created without a store.
	ErrNoStore = errors.New("bridge: store is required")

	// ErrNoSender is returned when a platform has no outbound sender.
	ErrNoSender = errors.New("bridge: no sender for platform")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("bridge: store is closed")

	// ErrStopped is returned by Publish once the bridge is stopping.
	ErrStopped = errors.New("bridge: stopped")

	// ErrNotStarted is returned by Publish before Start.
	ErrNotStarted = errors.New("bridge: not started")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("bridge: invalid config")

	// ErrAdapterFatal marks an adapter failure the process cannot recover from,
	// such as revoked credentials.
	ErrAdapterFatal = errors.New("bridge: adapter fatal")
)

// AdapterFatalError reports an unrecoverable adapter failure for one platform.
type AdapterFatalError struct {
	Platform event.Platform
	Err      error
}

func (e *AdapterFatalError) Error() string {
	return fmt.Sprintf("bridge: %s adapter fatal: %v", e.Platform, e.Err)
}

func (e *AdapterFatalError) Unwrap() []error { return []error{ErrAdapterFatal, e.Err} }

// Fatal wraps err as an AdapterFatalError for platform.
func Fatal(platform event.Platform, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterFatalError{Platform: platform, Err: err}
}
