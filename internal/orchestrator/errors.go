package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("orchestrator not started")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("orchestrator stopped")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("orchestrator already started")
	// ErrMalformedResponse marks a reply payload that could not be decoded.
	ErrMalformedResponse = errors.New("malformed task response")
)

// DispatchError reports a task that could not be sent to any target.
type DispatchError struct {
	TaskID     string
	Capability string
	Err        error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch %s (%s): %v", e.TaskID, e.Capability, e.Err)
	}
	return fmt.Sprintf("dispatch %s: no agent serves capability %q", e.TaskID, e.Capability)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// BackendUnavailableError reports a target whose circuit is open.
type BackendUnavailableError struct {
	BackendID string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: circuit open", e.BackendID)
}

// AgentError is an explicit error reply from a worker agent.
type AgentError struct {
	TaskID  string
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent failed task %s: %s", e.TaskID, e.Message)
}

// NotRunError fills a task that was never dispatched because its session
// ended first. Cause is the session context error.
type NotRunError struct {
	TaskID   string
	Deadline time.Time
	Cause    error
}

func (e *NotRunError) Error() string {
	if errors.Is(e.Cause, context.Canceled) {
		return fmt.Sprintf("task %s not run: session stopped", e.TaskID)
	}
	return fmt.Sprintf("task %s not run: session timed out at %s", e.TaskID, e.Deadline.Format(time.RFC3339Nano))
}

func (e *NotRunError) Unwrap() error {
	return e.Cause
}
