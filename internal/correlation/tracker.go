// Package correlation matches asynchronous responses to the requests that
// caused them. Each in-flight dispatch registers a correlation id and gets
// a Future; the broker reply handler resolves it, and a periodic sweep
// fails it with a TimeoutError once its deadline passes.
//
// Removal from the registry decides which completion wins, so a late reply
// after a timeout (or a duplicate reply) finds no entry and is dropped.
package correlation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often Run sweeps expired contexts.
const DefaultSweepInterval = 250 * time.Millisecond

type entry struct {
	id        string
	taskID    string
	createdAt time.Time
	deadline  time.Time
	future    *Future
}

// Tracker is the registry of in-flight correlation contexts.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry

	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	// onTimeout is called for each swept context, outside the lock.
	onTimeout func(id, taskID string)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSweepInterval sets the Run ticker period.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.sweepInterval = d
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTimeoutHook registers a callback for swept contexts.
func WithTimeoutHook(fn func(id, taskID string)) Option {
	return func(t *Tracker) {
		t.onTimeout = fn
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries:       make(map[string]*entry),
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register creates the single pending future for id. It fails with a
// *DuplicateCorrelationError if id is already live.
func (t *Tracker) Register(id string, deadline time.Time) (*Future, error) {
	return t.RegisterTask(id, "", deadline)
}

// RegisterTask is Register with the target task recorded for diagnostics.
func (t *Tracker) RegisterTask(id, taskID string, deadline time.Time) (*Future, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return nil, &DuplicateCorrelationError{ID: id}
	}
	f := newFuture(id, taskID)
	t.entries[id] = &entry{
		id:        id,
		taskID:    taskID,
		createdAt: t.now(),
		deadline:  deadline,
		future:    f,
	}
	return f, nil
}

// take removes and returns the entry for id.
func (t *Tracker) take(id string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// Resolve completes the future for id with payload. It returns false when
// id is unknown, which is the expected outcome for a reply that lost the
// race against a timeout.
func (t *Tracker) Resolve(id string, payload []byte) bool {
	e, ok := t.take(id)
	if !ok {
		t.logger.Debug("dropping response for unknown correlation", "correlation_id", id)
		return false
	}
	return e.future.complete(Result{Payload: payload})
}

// Reject completes the future for id with err. Same semantics as Resolve.
func (t *Tracker) Reject(id string, err error) bool {
	e, ok := t.take(id)
	if !ok {
		t.logger.Debug("dropping rejection for unknown correlation", "correlation_id", id, "error", err)
		return false
	}
	return e.future.complete(Result{Err: err})
}

// Sweep completes every context past its deadline with a *TimeoutError and
// removes it. It returns the number of contexts swept.
func (t *Tracker) Sweep() int {
	now := t.now()

	t.mu.Lock()
	var expired []*entry
	for id, e := range t.entries {
		if now.After(e.deadline) {
			expired = append(expired, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		e.future.complete(Result{Err: &TimeoutError{ID: e.id, TaskID: e.taskID, Deadline: e.deadline}})
		t.logger.Debug("correlation timed out", "correlation_id", e.id, "task_id", e.taskID,
			"age", now.Sub(e.createdAt))
		if t.onTimeout != nil {
			t.onTimeout(e.id, e.taskID)
		}
	}
	return len(expired)
}

// Run sweeps on a ticker until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Pending returns the number of live contexts.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
