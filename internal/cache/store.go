package cache

import (
	"context"
	"time"
)

// Entry is a cached value with its lifetime.
type Entry struct {
	Fingerprint string        `json:"fingerprint"`
	Value       []byte        `json:"value"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
}

// ExpiresAt returns when the entry stops being valid.
func (e Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether now is past createdAt + ttl.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Remaining returns the lifetime left at now, never negative.
func (e Entry) Remaining(now time.Time) time.Duration {
	if d := e.ExpiresAt().Sub(now); d > 0 {
		return d
	}
	return 0
}

// Store is a durable cache tier. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the entry for key. A missing or expired key is (Entry{}, false, nil).
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put stores the entry, replacing any previous value.
	Put(ctx context.Context, entry Entry) error
	// Cleanup removes expired entries and returns how many were removed.
	Cleanup(ctx context.Context, now time.Time) (int, error)
	// Close releases the store's resources.
	Close() error
}
