package delivery

import (
	"context"
	"errors"
	"time"
)

// Sender delivers a request to one platform. Implementations must classify
// failures: wrap retry-worthy errors with Transient (passing any retry-after
// hint from the platform) and hopeless ones with Permanent. Unclassified
// errors are treated as transient.
type Sender interface {
	Send(ctx context.Context, req Request) (Receipt, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, req Request) (Receipt, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, req Request) (Receipt, error) {
	return f(ctx, req)
}

// TransientError is a failure worth retrying: rate limiting, a 5xx, a
// dropped connection.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return "transient delivery error (retry after " + e.RetryAfter.String() + "): " + e.Err.Error()
	}
	return "transient delivery error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure that will not go away on retry: an unknown
// channel, revoked permissions, a rejected payload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent delivery error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient marks err as retry-worthy.
func Transient(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// Permanent marks err as not retry-worthy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryAfter returns the platform's retry hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
