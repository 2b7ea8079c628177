package correlation

import (
	"context"
	"sync"
)

// Result is what a future completes with: a raw response payload or an error.
type Result struct {
	Payload []byte
	Err     error
}

// Future is a one-shot result slot. It completes exactly once; later
// completions are ignored.
type Future struct {
	id     string
	taskID string
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFuture(id, taskID string) *Future {
	return &Future{id: id, taskID: taskID, done: make(chan struct{})}
}

// ID returns the correlation id.
func (f *Future) ID() string { return f.id }

// TaskID returns the task the correlation was registered for.
func (f *Future) TaskID() string { return f.taskID }

// Done is closed once the future completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// complete sets the result. It returns false if the future was already done.
func (f *Future) complete(r Result) bool {
	completed := false
	f.once.Do(func() {
		f.result = r
		close(f.done)
		completed = true
	})
	return completed
}

// Result returns the result and whether the future has completed.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the future completes or ctx ends. A ctx error does not
// complete the future.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.result.Payload, f.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
