package breaker

import (
	"sync"
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

func newTestBreaker(t *testing.T) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(WithFailureThreshold(3), WithOpenDuration(time.Minute), WithClock(clock.Now))
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 2; i++ {
		if !b.Allow("weather") {
			t.Fatalf("call %d should be allowed while closed", i+1)
		}
		b.RecordFailure("weather")
	}
	if b.State("weather") != Closed {
		t.Fatalf("State() = %s, want closed after 2 failures", b.State("weather"))
	}

	b.RecordFailure("weather")
	if b.State("weather") != Open {
		t.Fatalf("State() = %s, want open after 3 failures", b.State("weather"))
	}
	if b.Allow("weather") {
		t.Error("Allow() should be false while open")
	}
	if st := b.Status("weather"); st.ConsecutiveFailures != 3 || st.OpenedAt.IsZero() {
		t.Errorf("Status() = %+v, want 3 failures and openedAt set", st)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.RecordFailure("finance")
	b.RecordFailure("finance")
	b.RecordSuccess("finance")
	b.RecordFailure("finance")

	if st := b.Status("finance"); st.State != Closed || st.ConsecutiveFailures != 1 {
		t.Errorf("Status() = %+v, want closed with 1 failure", st)
	}
}

func TestBreaker_HalfOpenAllowsExactlyOneTrial(t *testing.T) {
	tests := []struct {
		name      string
		succeed   bool
		wantState State
		wantAllow bool
	}{
		{"trial success closes", true, Closed, true},
		{"trial failure reopens", false, Open, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock := newTestBreaker(t)
			for i := 0; i < 3; i++ {
				b.RecordFailure("weather")
			}

			clock.Advance(59 * time.Second)
			if b.Allow("weather") {
				t.Fatal("Allow() should be false before open duration elapses")
			}

			clock.Advance(time.Second)
			if !b.Allow("weather") {
				t.Fatal("first Allow() after open duration should be true")
			}
			if b.State("weather") != HalfOpen {
				t.Fatalf("State() = %s, want half_open", b.State("weather"))
			}
			if b.Allow("weather") {
				t.Fatal("second Allow() during trial should be false")
			}

			if tt.succeed {
				b.RecordSuccess("weather")
			} else {
				b.RecordFailure("weather")
			}

			if got := b.State("weather"); got != tt.wantState {
				t.Errorf("State() = %s, want %s", got, tt.wantState)
			}
			if got := b.Allow("weather"); got != tt.wantAllow {
				t.Errorf("Allow() = %v, want %v", got, tt.wantAllow)
			}
		})
	}
}

func TestBreaker_IndependentBackends(t *testing.T) {
	b, _ := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("weather")
	}
	if !b.Allow("finance") {
		t.Error("failures on weather must not affect finance")
	}
	if len(b.Snapshot()) != 2 {
		t.Errorf("Snapshot() len = %d, want 2", len(b.Snapshot()))
	}
}

func TestBreaker_StateChangeHook(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(
		WithFailureThreshold(1),
		WithOpenDuration(time.Second),
		WithClock(clock.Now),
		WithStateChange(func(id string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	b.RecordFailure("x")
	clock.Advance(time.Second)
	b.Allow("x")
	b.RecordSuccess("x")

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_ConcurrentHalfOpenTrial(t *testing.T) {
	b, clock := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("weather")
	}
	clock.Advance(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow("weather") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 1 {
		t.Errorf("allowed = %d, want exactly 1 trial", allowed)
	}
}
