package pair

import (
	"errors"

	"github.com/xraph/bridge/id"
)

// ErrNotFound is matched by every NotFoundError via errors.Is.
var ErrNotFound = errors.New("pair: not found")

// ValidationError indicates a malformed pair or one that would break a
// routing invariant. Nothing is applied when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "pair validation: " + e.Field + ": " + e.Message
}

// NotFoundError is returned when a mutation targets an unknown pair id.
type NotFoundError struct {
	ID id.ID
}

func (e *NotFoundError) Error() string {
	return "pair: not found: " + e.ID.String()
}

// Is makes errors.Is(err, ErrNotFound) hold for any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
