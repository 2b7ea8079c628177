package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/internal/cache"
)

// CacheStore is a durable response cache tier kept in SQLite.
type CacheStore struct {
	db *DB
	// owned is set when the store opened the database itself.
	owned bool
}

// NewCacheStore wraps an already migrated database.
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

// OpenCacheStore opens and migrates the database at path.
func OpenCacheStore(path string) (*CacheStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &CacheStore{db: db, owned: true}, nil
}

// Get returns the entry for fingerprint. Expired rows are returned as-is;
// the cache checks expiry and Cleanup removes them.
func (s *CacheStore) Get(ctx context.Context, fingerprint string) (cache.Entry, bool, error) {
	var (
		value     []byte
		createdAt string
		ttlMs     int64
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT value, created_at, ttl_ms FROM cache_entries WHERE fingerprint = ?
	`, fingerprint)
	if err := row.Scan(&value, &createdAt, &ttlMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("parse created_at: %w", err)
	}
	return cache.Entry{
		Fingerprint: fingerprint,
		Value:       value,
		CreatedAt:   created,
		TTL:         time.Duration(ttlMs) * time.Millisecond,
	}, true, nil
}

// Put inserts or replaces the entry.
func (s *CacheStore) Put(ctx context.Context, e cache.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (fingerprint, value, created_at, ttl_ms, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			ttl_ms = excluded.ttl_ms,
			expires_at = excluded.expires_at
	`, e.Fingerprint, e.Value, formatTime(e.CreatedAt), e.TTL.Milliseconds(), e.ExpiresAt().UnixNano())
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Cleanup deletes entries that expired before now.
func (s *CacheStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(count), nil
}

// Close closes the database if the store opened it.
func (s *CacheStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
