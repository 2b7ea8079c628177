// Package cache implements the two-tier response cache: a bounded LRU
// memory tier with per-entry TTL, backed by an optional durable Store.
package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ShayCichocki/conductor/internal/metrics"
)

// Defaults.
const (
	DefaultTTL             = 24 * time.Hour
	DefaultMaxEntries      = 1024
	DefaultCleanupInterval = 5 * time.Minute
)

// Cache tier labels.
const (
	TierMemory  = "memory"
	TierDurable = "durable"
)

// Cache is safe for concurrent use. A Put is visible to every Get that
// starts after Put returns.
type Cache struct {
	mem     *lru.Cache[string, Entry]
	durable Store
	group   singleflight.Group
	// memMu orders memory writes from Put against durable repopulation.
	memMu sync.Mutex

	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore sets the durable tier.
func WithStore(s Store) Option {
	return func(c *Cache) { c.durable = s }
}

// WithDefaultTTL sets the TTL used when Put is given a non-positive ttl.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache holding at most maxEntries in memory.
func New(maxEntries int, opts ...Option) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	mem, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		mem:    mem,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the value stored under fingerprint. The memory tier is
// checked first; on a miss the durable tier is consulted once per key
// even under concurrent callers, and a hit repopulates memory with the
// remaining TTL. Durable errors are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	now := c.now()
	if e, ok := c.mem.Get(fingerprint); ok {
		if !e.Expired(now) {
			c.metrics.CacheLookup(TierMemory, "hit")
			return e.Value, true
		}
		c.mem.Remove(fingerprint)
	}
	c.metrics.CacheLookup(TierMemory, "miss")

	if c.durable == nil {
		return nil, false
	}

	v, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		e, ok, err := c.durable.Get(ctx, fingerprint)
		if err != nil {
			return nil, err
		}
		if !ok || e.Expired(c.now()) {
			return nil, nil
		}
		return c.repopulate(e), nil
	})
	if err != nil {
		c.metrics.CacheLookup(TierDurable, "error")
		c.logger.Warn("durable cache read failed", "fingerprint", fingerprint, "error", err)
		return nil, false
	}
	if v == nil {
		c.metrics.CacheLookup(TierDurable, "miss")
		return nil, false
	}
	c.metrics.CacheLookup(TierDurable, "hit")
	return v.(Entry).Value, true
}

// repopulate copies a durable entry into memory unless a Put stored a
// newer one while the durable read was in flight. It returns the entry
// that memory now holds.
func (c *Cache) repopulate(e Entry) Entry {
	c.memMu.Lock()
	defer c.memMu.Unlock()

	if cur, ok := c.mem.Peek(e.Fingerprint); ok && !cur.Expired(c.now()) && !cur.CreatedAt.Before(e.CreatedAt) {
		return cur
	}
	c.mem.Add(e.Fingerprint, e)
	return e
}

// Put stores value under fingerprint for ttl (the default TTL when ttl <= 0).
// The memory write happens before Put returns; a durable write failure is
// logged and leaves the memory entry in place.
func (c *Cache) Put(ctx context.Context, fingerprint string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := Entry{
		Fingerprint: fingerprint,
		Value:       append([]byte(nil), value...),
		CreatedAt:   c.now(),
		TTL:         ttl,
	}
	c.memMu.Lock()
	c.mem.Add(fingerprint, e)
	c.memMu.Unlock()

	if c.durable != nil {
		if err := c.durable.Put(ctx, e); err != nil {
			c.logger.Warn("durable cache write failed", "fingerprint", fingerprint, "error", err)
		}
	}
}

// Cleanup purges expired entries from both tiers and returns the number
// removed from memory plus the number the durable tier reported.
func (c *Cache) Cleanup(ctx context.Context) int {
	now := c.now()
	removed := 0
	for _, k := range c.mem.Keys() {
		if e, ok := c.mem.Peek(k); ok && e.Expired(now) {
			c.mem.Remove(k)
			removed++
		}
	}
	if c.durable != nil {
		n, err := c.durable.Cleanup(ctx, now)
		if err != nil {
			c.logger.Warn("durable cache cleanup failed", "error", err)
		}
		removed += n
	}
	return removed
}

// Run calls Cleanup every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Cleanup(ctx); n > 0 {
				c.logger.Debug("cache cleanup", "removed", n)
			}
		}
	}
}

// Len returns the number of entries in the memory tier, expired or not.
func (c *Cache) Len() int {
	return c.mem.Len()
}

// Close closes the durable tier, if any.
func (c *Cache) Close() error {
	if c.durable == nil {
		return nil
	}
	return c.durable.Close()
}
