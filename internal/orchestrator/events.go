package orchestrator

import (
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventSessionCreated indicates a request was accepted.
	EventSessionCreated EventType = "session_created"
	// EventTaskDispatched indicates a task was sent to an agent or the backend.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskResolved indicates a task got a primary result.
	EventTaskResolved EventType = "task_resolved"
	// EventTaskDegraded indicates a task result came from fallback.
	EventTaskDegraded EventType = "task_degraded"
	// EventSessionDone indicates the session reached a terminal state.
	EventSessionDone EventType = "session_done"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// SessionID is the session the event belongs to.
	SessionID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// Capability is the task's capability, if applicable.
	Capability string
	// Target is the agent ID or backend ID a task was sent to.
	Target string
	// Source records which path produced a task result.
	Source models.ResultSource
	// State is the session state at emission time.
	State models.SessionState
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the elapsed time for task and session events.
	Duration time.Duration
}
