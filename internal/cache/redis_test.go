package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), fmt.Sprintf("redis://%s", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Put(ctx, Entry{Fingerprint: "f1", Value: []byte("rain"), CreatedAt: created, TTL: time.Minute}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if !mr.Exists(DefaultRedisPrefix + "f1") {
		t.Fatal("expected prefixed key in redis")
	}

	e, ok, err := store.Get(ctx, "f1")
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v), want hit", ok, err)
	}
	if string(e.Value) != "rain" || e.TTL != time.Minute || !e.CreatedAt.Equal(created) {
		t.Errorf("Get() entry = %+v", e)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, err := store.Get(ctx, "f1"); ok || err != nil {
		t.Errorf("Get() after redis ttl = (%v, %v), want miss", ok, err)
	}
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisStore(context.Background(), fmt.Sprintf("redis://%s", addr)); err == nil {
		t.Error("expected connection error")
	}
}

func TestRedisStore_BackingCache(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	first, err := New(8, WithStore(store))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	first.Put(ctx, "f1", []byte("answer"), time.Hour)

	// A fresh process sees the entry through the durable tier.
	second, err := New(8, WithStore(store))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	got, ok := second.Get(ctx, "f1")
	if !ok || string(got) != "answer" {
		t.Errorf("Get() = (%q, %v), want durable hit", got, ok)
	}
}
