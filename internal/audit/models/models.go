package models

import "time"

// Operation is the mutation kind an audit entry records.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether op is one of the three known mutation kinds.
func (op Operation) Valid() bool {
	switch op {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Snapshot is a flat field-name to value mapping representing a record's
// state at one instant. Values are JSON-safe: temporal values are stored as
// RFC 3339 strings, nested structures as plain maps/slices.
type Snapshot map[string]any

// Clone returns a shallow copy so callers can mutate filters without
// aliasing stored state.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ExtraKeyRollbackOf links a rollback-generated entry to the entry it
// reverses.
const ExtraKeyRollbackOf = "rollback_of_audit_id"

// AuditEntry is one row of the append-only ledger. Entries are never mutated
// after creation; created_at is the sole ordering key for history.
type AuditEntry struct {
	ID        int64
	TableName string
	RecordID  int64
	Operation Operation

	// OldValues is nil iff Operation is INSERT; NewValues is nil iff
	// Operation is DELETE. ChangedFields is populated only for UPDATE
	// entries created with both snapshots.
	OldValues     Snapshot
	NewValues     Snapshot
	ChangedFields []string

	// Request correlation context.
	RequestID string
	UserIP    string
	UserAgent string

	Reason    string
	ExtraData map[string]any

	// UserID is nil for system-initiated mutations.
	UserID    *int64
	CreatedAt time.Time
}

func (e *AuditEntry) IsInsert() bool { return e.Operation == OperationInsert }
func (e *AuditEntry) IsUpdate() bool { return e.Operation == OperationUpdate }
func (e *AuditEntry) IsDelete() bool { return e.Operation == OperationDelete }

// FieldChange pairs a field's value before and after an UPDATE.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// FieldChanges returns the before/after pairs for every changed field of an
// UPDATE entry. Empty for other operations or when no changed fields were
// recorded.
func (e *AuditEntry) FieldChanges() map[string]FieldChange {
	if !e.IsUpdate() || len(e.ChangedFields) == 0 {
		return map[string]FieldChange{}
	}
	changes := make(map[string]FieldChange, len(e.ChangedFields))
	for _, field := range e.ChangedFields {
		changes[field] = FieldChange{
			Before: e.OldValues[field],
			After:  e.NewValues[field],
		}
	}
	return changes
}

// RollbackOf returns the ID of the entry this one reverses, if this entry was
// produced by a rollback. Handles the float64 shape such IDs take after a
// JSON round trip through storage.
func (e *AuditEntry) RollbackOf() (int64, bool) {
	if e.ExtraData == nil {
		return 0, false
	}
	switch v := e.ExtraData[ExtraKeyRollbackOf].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}
