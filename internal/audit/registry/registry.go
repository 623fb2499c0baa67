// Package registry maps tracked table names to the accessors the rollback
// engine uses to resolve, construct, and delete live records generically.
// Entity types are registered explicitly at startup; unknown table names fail
// fast instead of being discovered implicitly.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"transtrack/internal/audit/models"
	"transtrack/pkg/platform/sentinel"
)

// TrackedRecord is a live domain record addressable by (table, id). Every
// tracked entity implements Snapshot explicitly so serialization does not
// depend on reflection.
type TrackedRecord interface {
	TableName() string
	RecordID() int64
	Snapshot() map[string]any
}

// Accessor is the per-table capability the rollback engine needs. Postgres
// implementations join a caller transaction placed in context via
// pkg/platform/tx, which is how a rollback's mutation shares a unit of work
// with its ledger entry.
type Accessor interface {
	// Get resolves a live record by id. Returns sentinel.ErrNotFound when
	// the record does not exist.
	Get(ctx context.Context, id int64) (TrackedRecord, error)

	// Insert persists a record preserving the identity it already carries.
	// Used when a DELETE is rolled back.
	Insert(ctx context.Context, rec TrackedRecord) error

	// Update overwrites the given fields on the live record. Temporal
	// fields arrive as RFC 3339 strings and are coerced back by the
	// accessor, which knows its column types. Field names the table does
	// not have are ignored.
	Update(ctx context.Context, id int64, fields models.Snapshot) error

	// Delete removes the live record. Returns sentinel.ErrNotFound when it
	// does not exist.
	Delete(ctx context.Context, id int64) error

	// FromSnapshot constructs a record of this table's type from a stored
	// snapshot, including its original id, so a re-inserted record keeps
	// its identity.
	FromSnapshot(snap models.Snapshot) (TrackedRecord, error)
}

// Registry holds the table-name to accessor mapping.
type Registry struct {
	mu        sync.RWMutex
	accessors map[string]Accessor
}

func New() *Registry {
	return &Registry{accessors: make(map[string]Accessor)}
}

// Register binds an accessor to a table name. Registering the same table
// twice is a programming error and panics at startup rather than silently
// shadowing.
func (r *Registry) Register(tableName string, acc Accessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accessors[tableName]; exists {
		panic(fmt.Sprintf("registry: table %q registered twice", tableName))
	}
	r.accessors[tableName] = acc
}

// Lookup resolves the accessor for a table name. Returns
// sentinel.ErrNotFound wrapped with the table name when unregistered.
func (r *Registry) Lookup(tableName string) (Accessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accessors[tableName]
	if !ok {
		return nil, fmt.Errorf("table %q not registered: %w", tableName, sentinel.ErrNotFound)
	}
	return acc, nil
}

// Tables returns the registered table names, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]string, 0, len(r.accessors))
	for name := range r.accessors {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}
