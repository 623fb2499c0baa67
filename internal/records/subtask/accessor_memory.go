package subtask

import (
	"context"
	"fmt"
	"sync"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/pkg/platform/sentinel"
)

// MemoryAccessor is the in-memory counterpart to PostgresAccessor.
type MemoryAccessor struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]*SubTask
}

func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{nextID: 1, rows: make(map[int64]*SubTask)}
}

func (a *MemoryAccessor) Get(_ context.Context, id int64) (registry.TrackedRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.rows[id]
	if !ok {
		return nil, fmt.Errorf("subtask %d: %w", id, sentinel.ErrNotFound)
	}
	clone := *t
	return &clone, nil
}

func (a *MemoryAccessor) Insert(_ context.Context, rec registry.TrackedRecord) error {
	t, ok := rec.(*SubTask)
	if !ok {
		return fmt.Errorf("unexpected record type %T for sub_tasks", rec)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if t.ID == 0 {
		t.ID = a.nextID
	}
	if _, exists := a.rows[t.ID]; exists {
		return fmt.Errorf("subtask %d already exists: %w", t.ID, sentinel.ErrConflict)
	}
	if t.ID >= a.nextID {
		a.nextID = t.ID + 1
	}
	clone := *t
	a.rows[t.ID] = &clone
	return nil
}

func (a *MemoryAccessor) Update(_ context.Context, id int64, fields models.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.rows[id]
	if !ok {
		return fmt.Errorf("subtask %d: %w", id, sentinel.ErrNotFound)
	}

	snap := t.Snapshot()
	for k, v := range fields {
		if k == "id" {
			continue
		}
		if _, known := snap[k]; known {
			snap[k] = v
		}
	}
	updated, err := FromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	updated.ID = id
	a.rows[id] = updated
	return nil
}

func (a *MemoryAccessor) Delete(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rows[id]; !ok {
		return fmt.Errorf("subtask %d: %w", id, sentinel.ErrNotFound)
	}
	delete(a.rows, id)
	return nil
}

func (a *MemoryAccessor) FromSnapshot(snap models.Snapshot) (registry.TrackedRecord, error) {
	return FromSnapshot(snap)
}
