// Package storage selects and constructs the SQL backend that holds the
// origin catalog, the mapping tables and the cached destination vocabulary.
//
// Backends live in sub-packages and register themselves from init(); import
// pimbridge/internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pimbridge/internal/catalog"
	"pimbridge/internal/mapping"
	"pimbridge/internal/similarity"
)

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// Repository is everything the service keeps in a database.
//
// Each backend implements the upserts in its own idiomatic way (SQLite and
// Postgres ON CONFLICT, SQL Server MERGE).
type Repository interface {
	catalog.Store
	catalog.Vocabulary
	mapping.Store

	// EnsureSchema creates missing tables. It is idempotent.
	EnsureSchema(ctx context.Context) error

	// PutRecords inserts or replaces records with all their value rows.
	PutRecords(ctx context.Context, recs []catalog.Record) error

	// PutOptions replaces the destination options of attributeCode.
	PutOptions(ctx context.Context, attributeCode string, opts []similarity.Option) error

	// Close releases connections. Call once.
	Close()
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
// Call it from an init() function in the backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Open is New followed by EnsureSchema. The repository is closed again when
// the schema cannot be created.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	repo, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("storage: ensure schema (%s): %w", cfg.Kind, err)
	}
	return repo, nil
}
