package state

import (
	"io"

	"github.com/ShayCichocki/conductor/internal/cache"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Database is the raw SQLite handle the stores are built on.
type Database interface {
	io.Closer
	Migrator
	Path() string
}

// Compile-time verification of the implementations.
var (
	_ Database    = (*DB)(nil)
	_ cache.Store = (*CacheStore)(nil)
)
