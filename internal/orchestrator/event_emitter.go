package orchestrator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/conductor/internal/metrics"
)

// emitTimeout is how long Emit waits on a full channel before dropping.
const emitTimeout = 100 * time.Millisecond

// EventEmitter handles event emission for the orchestrator.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	mu           sync.RWMutex
	closed       bool
	events       chan OrchestratorEvent
	droppedCount atomic.Uint64
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *slog.Logger, m *metrics.Metrics) *EventEmitter {
	if logger == nil {
		logger = discardLogger()
	}
	return &EventEmitter{
		events:  make(chan OrchestratorEvent, bufferSize),
		logger:  logger,
		metrics: m,
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
// A nil emitter discards events.
func (e *EventEmitter) Emit(event OrchestratorEvent) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		e.metrics.EventDropped()
		if count%10 == 1 { // every 10th drop
			e.logger.Warn("event channel full, dropped event", "total_dropped", count, "type", event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	if e == nil {
		return 0
	}
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events. It is nil for a nil emitter.
func (e *EventEmitter) Events() <-chan OrchestratorEvent {
	if e == nil {
		return nil
	}
	return e.events
}

// Close closes the events channel. Later emits are discarded.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
