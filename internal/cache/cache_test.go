package cache

import (
	"context"
	"errors"
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

// memStore is a Store used to exercise the durable path.
type memStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	gets    int32
	getErr  error
	release chan struct{}
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]Entry)}
}

func (s *memStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	atomic.AddInt32(&s.gets, 1)
	if s.release != nil {
		<-s.release
	}
	if s.getErr != nil {
		return Entry{}, false, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *memStore) Put(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Fingerprint] = e
	return nil
}

func (s *memStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }

func newTestCache(t *testing.T, size int, opts ...Option) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, err := New(size, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c, clock
}

func TestCache_RoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, 16)

	c.Put(ctx, "f1", []byte("sunny"), time.Hour)
	got, ok := c.Get(ctx, "f1")
	if !ok || string(got) != "sunny" {
		t.Fatalf("Get() = (%q, %v), want (%q, true)", got, ok, "sunny")
	}

	clock.Advance(time.Hour)
	if _, ok := c.Get(ctx, "f1"); !ok {
		t.Error("entry should still be valid exactly at ttl")
	}

	clock.Advance(time.Nanosecond)
	if _, ok := c.Get(ctx, "f1"); ok {
		t.Error("Get() after ttl should miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on read, Len() = %d", c.Len())
	}
}

func TestCache_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, 16, WithDefaultTTL(time.Minute))

	c.Put(ctx, "f1", []byte("v"), 0)
	clock.Advance(2 * time.Minute)
	if _, ok := c.Get(ctx, "f1"); ok {
		t.Error("entry with default ttl should have expired")
	}
}

func TestCache_PutCopiesValue(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 16)

	v := []byte("rain")
	c.Put(ctx, "f1", v, time.Hour)
	v[0] = 'p'

	got, _ := c.Get(ctx, "f1")
	if string(got) != "rain" {
		t.Errorf("Get() = %q, want %q", got, "rain")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 2)

	c.Put(ctx, "a", []byte("1"), time.Hour)
	c.Put(ctx, "b", []byte("2"), time.Hour)
	c.Get(ctx, "a")
	c.Put(ctx, "c", []byte("3"), time.Hour)

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("least recently used entry b should be evicted")
	}
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Error("recently used entry a should survive")
	}
}

func TestCache_DurableRepopulatesMemory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c, clock := newTestCache(t, 16, WithStore(store))

	store.entries["f1"] = Entry{Fingerprint: "f1", Value: []byte("cached"), CreatedAt: clock.Now(), TTL: time.Hour}

	got, ok := c.Get(ctx, "f1")
	if !ok || string(got) != "cached" {
		t.Fatalf("Get() = (%q, %v), want durable hit", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("memory tier not repopulated, Len() = %d", c.Len())
	}

	c.Get(ctx, "f1")
	if n := atomic.LoadInt32(&store.gets); n != 1 {
		t.Errorf("durable Get called %d times, want 1", n)
	}

	// The memory copy keeps the durable entry's original lifetime.
	clock.Advance(time.Hour + time.Second)
	if _, ok := c.Get(ctx, "f1"); ok {
		t.Error("repopulated entry should expire with the durable ttl")
	}
}

func TestCache_DurableErrorIsMiss(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	c, _ := newTestCache(t, 16, WithStore(store))

	if _, ok := c.Get(ctx, "f1"); ok {
		t.Error("durable error should read as a miss")
	}

	c.Put(ctx, "f1", []byte("v"), time.Hour)
	if got, ok := c.Get(ctx, "f1"); !ok || string(got) != "v" {
		t.Error("memory tier should keep working when durable tier fails")
	}
}

func TestCache_DurableMissCoalesced(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.release = make(chan struct{})
	c, clock := newTestCache(t, 16, WithStore(store))
	store.entries["f1"] = Entry{Fingerprint: "f1", Value: []byte("v"), CreatedAt: clock.Now(), TTL: time.Hour}

	var wg sync.WaitGroup
	var hits int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Get(ctx, "f1"); ok {
				atomic.AddInt32(&hits, 1)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	if hits != 10 {
		t.Errorf("hits = %d, want 10", hits)
	}
	if n := atomic.LoadInt32(&store.gets); n != 1 {
		t.Errorf("durable Get called %d times, want 1", n)
	}
}

// staleStore answers every Get with the entry it held when the read began,
// after blocking until released.
type staleStore struct {
	*memStore
	old     Entry
	entered chan struct{}
}

func (s *staleStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	close(s.entered)
	<-s.release
	return s.old, true, nil
}

func TestCache_PutWinsOverInFlightDurableRead(t *testing.T) {
	ctx := context.Background()
	base := newMemStore()
	base.release = make(chan struct{})
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := &staleStore{
		memStore: base,
		old:      Entry{Fingerprint: "k", Value: []byte("old"), CreatedAt: clock.Now().Add(-time.Minute), TTL: time.Hour},
		entered:  make(chan struct{}),
	}
	c, err := New(16, WithClock(clock.Now), WithStore(store))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Get(ctx, "k")
	}()
	<-store.entered

	c.Put(ctx, "k", []byte("new"), time.Hour)
	close(base.release)
	<-done

	if got, ok := c.Get(ctx, "k"); !ok || string(got) != "new" {
		t.Errorf("Get() after Put = (%q, %v), want \"new\"", got, ok)
	}
}

func TestCache_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c, clock := newTestCache(t, 16, WithStore(store))

	c.Put(ctx, "short", []byte("1"), time.Minute)
	c.Put(ctx, "long", []byte("2"), time.Hour)
	clock.Advance(2 * time.Minute)

	// One from memory, one from the durable tier.
	if n := c.Cleanup(ctx); n != 2 {
		t.Errorf("Cleanup() = %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if _, ok := store.entries["long"]; !ok {
		t.Error("unexpired durable entry removed")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Weather in  Paris?", map[string]string{"unit": "c", "lang": "en"})
	b := Fingerprint("weather in paris", map[string]string{"lang": "en", "unit": "c"})
	if a != b {
		t.Errorf("normalized queries should share a fingerprint: %s != %s", a, b)
	}
	if c := Fingerprint("weather in paris", map[string]string{"unit": "f"}); c == a {
		t.Error("different params must change the fingerprint")
	}
	if a[:3] != "v1:" {
		t.Errorf("fingerprint %q missing version prefix", a)
	}
	if TaskFingerprint("weather", "paris", nil) == TaskFingerprint("finance", "paris", nil) {
		t.Error("capability must be part of the task fingerprint")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Weather in PARIS!  ", "weather in paris"},
		{"stock\tprice,  please", "stock price please"},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
