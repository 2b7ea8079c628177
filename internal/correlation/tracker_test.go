package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewTracker(WithClock(clock.Now)), clock
}

func TestRegisterDuplicate(t *testing.T) {
	tr, clock := newTestTracker(t)

	if _, err := tr.Register("c1", clock.Now().Add(time.Second)); err != nil {
		t.Fatalf("Register() unexpected error: %v", err)
	}
	_, err := tr.Register("c1", clock.Now().Add(time.Second))
	if !errors.Is(err, ErrDuplicateCorrelation) {
		t.Fatalf("Register() error = %v, want ErrDuplicateCorrelation", err)
	}
	var dup *DuplicateCorrelationError
	if !errors.As(err, &dup) || dup.ID != "c1" {
		t.Errorf("expected *DuplicateCorrelationError for c1, got %v", err)
	}
}

func TestResolveCompletesFuture(t *testing.T) {
	tr, clock := newTestTracker(t)
	f, err := tr.Register("c1", clock.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Register() unexpected error: %v", err)
	}

	if !tr.Resolve("c1", []byte(`{"status":"ok"}`)) {
		t.Fatal("Resolve() = false, want true")
	}

	payload, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
	if string(payload) != `{"status":"ok"}` {
		t.Errorf("payload = %q", payload)
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tr.Pending())
	}

	// Duplicate reply is dropped.
	if tr.Resolve("c1", []byte("again")) {
		t.Error("second Resolve() = true, want false")
	}
	payload, _ = f.Wait(context.Background())
	if string(payload) != `{"status":"ok"}` {
		t.Errorf("future changed after duplicate reply: %q", payload)
	}
}

func TestResolveUnknownIsNoop(t *testing.T) {
	tr, _ := newTestTracker(t)
	if tr.Resolve("nope", nil) {
		t.Error("Resolve() of unknown id = true, want false")
	}
	if tr.Reject("nope", errors.New("x")) {
		t.Error("Reject() of unknown id = true, want false")
	}
}

func TestResolveAfterSweepIsNoop(t *testing.T) {
	tr, clock := newTestTracker(t)
	f, _ := tr.RegisterTask("c1", "task-1", clock.Now().Add(100*time.Millisecond))

	clock.Advance(50 * time.Millisecond)
	if n := tr.Sweep(); n != 0 {
		t.Fatalf("Sweep() before deadline = %d, want 0", n)
	}

	clock.Advance(51 * time.Millisecond)
	if n := tr.Sweep(); n != 1 {
		t.Fatalf("Sweep() after deadline = %d, want 1", n)
	}

	if tr.Resolve("c1", []byte("late")) {
		t.Error("Resolve() after sweep = true, want false")
	}

	_, err := f.Wait(context.Background())
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Wait() error = %v, want *TimeoutError", err)
	}
	if te.TaskID != "task-1" {
		t.Errorf("TimeoutError.TaskID = %q, want %q", te.TaskID, "task-1")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is(err, ErrTimeout)")
	}
}

func TestRegisterAfterCompletionReusesID(t *testing.T) {
	tr, clock := newTestTracker(t)
	tr.Register("c1", clock.Now().Add(time.Second))
	tr.Resolve("c1", nil)

	if _, err := tr.Register("c1", clock.Now().Add(time.Second)); err != nil {
		t.Errorf("Register() after completion unexpected error: %v", err)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	tr, clock := newTestTracker(t)
	f, _ := tr.Register("c1", clock.Now().Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if _, done := f.Result(); done {
		t.Error("context cancellation must not complete the future")
	}
}

func TestTimeoutHook(t *testing.T) {
	var hits int32
	clock := &fakeClock{now: time.Unix(0, 0)}
	tr := NewTracker(WithClock(clock.Now), WithTimeoutHook(func(id, taskID string) {
		atomic.AddInt32(&hits, 1)
	}))
	tr.Register("a", clock.Now().Add(time.Millisecond))
	tr.Register("b", clock.Now().Add(time.Hour))

	clock.Advance(time.Second)
	tr.Sweep()

	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("timeout hook called %d times, want 1", hits)
	}
	if tr.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", tr.Pending())
	}
}

func TestConcurrentResolveAndSweep(t *testing.T) {
	tr, clock := newTestTracker(t)
	const n = 200

	futures := make([]*Future, n)
	for i := 0; i < n; i++ {
		f, err := tr.Register(fmt.Sprintf("c%d", i), clock.Now().Add(time.Millisecond))
		if err != nil {
			t.Fatalf("Register() unexpected error: %v", err)
		}
		futures[i] = f
	}
	clock.Advance(time.Second)

	var wg sync.WaitGroup
	var resolved int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if tr.Resolve(fmt.Sprintf("c%d", i), []byte("ok")) {
				atomic.AddInt32(&resolved, 1)
			}
		}(i)
	}
	swept := tr.Sweep()
	wg.Wait()

	if int(resolved)+swept != n {
		t.Errorf("resolved %d + swept %d != %d", resolved, swept, n)
	}
	for i, f := range futures {
		if _, done := f.Result(); !done {
			t.Errorf("future %d never completed", i)
		}
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	tr := NewTracker(WithSweepInterval(5 * time.Millisecond))
	f, _ := tr.Register("c1", time.Now().Add(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if _, err := f.Wait(waitCtx); !errors.Is(err, ErrTimeout) {
		t.Errorf("Wait() error = %v, want ErrTimeout", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
