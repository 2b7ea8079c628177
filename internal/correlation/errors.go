package correlation

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateCorrelation is matched by DuplicateCorrelationError via errors.Is.
var ErrDuplicateCorrelation = errors.New("duplicate correlation id")

// ErrTimeout is matched by TimeoutError via errors.Is.
var ErrTimeout = errors.New("correlation timed out")

// DuplicateCorrelationError is returned when registering an id that is
// already live. It indicates a programming error in the caller.
type DuplicateCorrelationError struct {
	ID string
}

func (e *DuplicateCorrelationError) Error() string {
	return fmt.Sprintf("correlation id %q already registered", e.ID)
}

// Is reports whether target is ErrDuplicateCorrelation.
func (e *DuplicateCorrelationError) Is(target error) bool {
	return target == ErrDuplicateCorrelation
}

// TimeoutError completes a future whose deadline passed before a response.
type TimeoutError struct {
	ID       string
	TaskID   string
	Deadline time.Time
}

func (e *TimeoutError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("correlation %s for task %s timed out at %s", e.ID, e.TaskID, e.Deadline.Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("correlation %s timed out at %s", e.ID, e.Deadline.Format(time.RFC3339Nano))
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
