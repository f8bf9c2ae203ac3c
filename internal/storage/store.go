package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// When to use:
//   - Use Config when constructing a Store via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - Open returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string
}

// ConflictPolicy selects how UpsertBatch resolves a row whose conflict key
// already exists.
type ConflictPolicy string

const (
	// ConflictIgnore keeps the stored row untouched (insert or do nothing).
	ConflictIgnore ConflictPolicy = "ignore"
	// ConflictUpdate overwrites the update columns of the stored row.
	ConflictUpdate ConflictPolicy = "update"
)

// ParseConflictPolicy parses "ignore" or "update".
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case ConflictIgnore, ConflictUpdate:
		return ConflictPolicy(s), nil
	default:
		return "", fmt.Errorf("storage: unknown conflict policy %q (want ignore|update)", s)
	}
}

// Reference names a referenced key column, e.g. hashtags(id).
type Reference struct {
	Table  string
	Column string
}

func (r Reference) String() string { return r.Table + "(" + r.Column + ")" }

// UpsertRequest describes one atomic insert-or-resolve statement.
//
// Rows must be aligned with Columns. ConflictColumns must be covered by a unique
// constraint or primary key on Table. UpdateColumns is only used with
// ConflictUpdate; when empty, every non-conflict column is refreshed.
type UpsertRequest struct {
	Table           string
	Columns         []string
	Rows            [][]any
	ConflictColumns []string
	Policy          ConflictPolicy
	UpdateColumns   []string
}

// Store is the backend-agnostic handle the import pipeline depends on.
//
// The interface is narrow and focused on the operations the pipeline needs.
// Each backend implements these semantics in its own way (Postgres and SQLite
// ON CONFLICT, SQL Server NOT EXISTS and UPDATE, badger transactions).
//
// Every write method is transactional at the call boundary: it either commits
// all of its rows or none of them.
type Store interface {
	// Close releases any backend resources (connections, files, etc).
	//
	// Edge cases:
	//   - Callers should treat Close as "call once", typically via defer right
	//     after a successful Open.
	Close()

	// EnsureTables creates tables and constraints that do not exist yet.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// BulkInsert inserts all rows in one transaction. A failure rolls back the
	// whole call.
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) error

	// Insert inserts one row in its own transaction. A unique or primary key
	// violation is reported as an error wrapping ErrDuplicateKey.
	Insert(ctx context.Context, table string, columns []string, row []any) error

	// KeyExists reports whether a row with the given key values exists.
	KeyExists(ctx context.Context, table string, keyColumns []string, key []any) (bool, error)

	// ExistingKeys returns the set of all persisted keys over keyColumns.
	ExistingKeys(ctx context.Context, table string, keyColumns []string) (KeySet, error)

	// ValidForeignKeys returns one key set per reference, in the same order.
	ValidForeignKeys(ctx context.Context, refs []Reference) ([]KeySet, error)

	// UpsertBatch applies one insert-or-resolve statement and returns the number
	// of rows the backend reports as affected.
	UpsertBatch(ctx context.Context, req UpsertRequest) (int64, error)

	// Reset removes every row from table.
	Reset(ctx context.Context, table string) error
}

// ---- factories ----

// Factory opens a Store for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
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

// Open constructs a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in sorted order.
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
