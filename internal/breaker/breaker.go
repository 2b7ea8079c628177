// Package breaker implements a per-backend circuit breaker.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state of one backend.
type State int

const (
	// Closed lets calls through and counts consecutive failures.
	Closed State = iota
	// Open rejects calls until the open duration elapses.
	Open
	// HalfOpen allows a single trial call.
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Defaults.
const (
	DefaultFailureThreshold = 3
	DefaultOpenDuration     = 60 * time.Second
)

// Status is a snapshot of one backend's breaker.
type Status struct {
	BackendID           string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// StateChangeFunc is called after a backend changes state.
// It runs outside the breaker lock.
type StateChangeFunc func(backendID string, from, to State)

type circuit struct {
	state    State
	failures int
	openedAt time.Time
	// trialInFlight is set while the single half-open trial is outstanding.
	trialInFlight bool
}

// Breaker tracks circuit state per backend identity. It is safe for
// concurrent use. State only changes in response to recorded outcomes
// and elapsed time.
type Breaker struct {
	mu               sync.Mutex
	circuits         map[string]*circuit
	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time
	onStateChange    StateChangeFunc
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithOpenDuration sets how long an open circuit rejects calls.
func WithOpenDuration(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openDuration = d
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithStateChange registers a hook for state transitions.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// New creates a breaker with the given options.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		circuits:         make(map[string]*circuit),
		failureThreshold: DefaultFailureThreshold,
		openDuration:     DefaultOpenDuration,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) circuitLocked(id string) *circuit {
	c, ok := b.circuits[id]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[id] = c
	}
	return c
}

// Allow reports whether a call to the backend may proceed. While open it
// returns false; once the open duration has elapsed the circuit moves to
// half-open and exactly one caller is allowed through until an outcome is
// recorded.
func (b *Breaker) Allow(id string) bool {
	b.mu.Lock()
	c := b.circuitLocked(id)
	var from State
	changed := false
	allowed := false

	switch c.state {
	case Closed:
		allowed = true
	case Open:
		if b.now().Sub(c.openedAt) >= b.openDuration {
			from, changed = c.state, true
			c.state = HalfOpen
			c.trialInFlight = true
			allowed = true
		}
	case HalfOpen:
		if !c.trialInFlight {
			c.trialInFlight = true
			allowed = true
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(id, from, HalfOpen)
	}
	return allowed
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(id string) {
	b.mu.Lock()
	c := b.circuitLocked(id)
	from := c.state
	c.failures = 0
	c.trialInFlight = false
	if c.state == HalfOpen {
		c.state = Closed
		c.openedAt = time.Time{}
	}
	to := c.state
	b.mu.Unlock()

	if from != to {
		b.notify(id, from, to)
	}
}

// RecordFailure counts a failure. A closed circuit opens once the threshold
// is reached; a half-open circuit reopens immediately.
func (b *Breaker) RecordFailure(id string) {
	b.mu.Lock()
	c := b.circuitLocked(id)
	from := c.state
	c.failures++
	c.trialInFlight = false
	switch c.state {
	case HalfOpen:
		c.state = Open
		c.openedAt = b.now()
	case Closed:
		if c.failures >= b.failureThreshold {
			c.state = Open
			c.openedAt = b.now()
		}
	}
	to := c.state
	b.mu.Unlock()

	if from != to {
		b.notify(id, from, to)
	}
}

// State returns the current state without advancing it.
func (b *Breaker) State(id string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[id]; ok {
		return c.state
	}
	return Closed
}

// Status returns a snapshot for the backend.
func (b *Breaker) Status(id string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{BackendID: id, State: Closed}
	if c, ok := b.circuits[id]; ok {
		st.State = c.state
		st.ConsecutiveFailures = c.failures
		st.OpenedAt = c.openedAt
	}
	return st
}

// Snapshot returns the status of every known backend.
func (b *Breaker) Snapshot() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Status, 0, len(b.circuits))
	for id, c := range b.circuits {
		out = append(out, Status{BackendID: id, State: c.state, ConsecutiveFailures: c.failures, OpenedAt: c.openedAt})
	}
	return out
}

func (b *Breaker) notify(id string, from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(id, from, to)
	}
}
