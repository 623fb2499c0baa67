package application

import (
	"context"
	"fmt"
	"sync"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/pkg/platform/sentinel"
)

// MemoryAccessor is the in-memory counterpart to PostgresAccessor, used in
// tests and by services that have not wired a database.
type MemoryAccessor struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]*Application
}

func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{nextID: 1, rows: make(map[int64]*Application)}
}

func (a *MemoryAccessor) Get(_ context.Context, id int64) (registry.TrackedRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	app, ok := a.rows[id]
	if !ok {
		return nil, fmt.Errorf("application %d: %w", id, sentinel.ErrNotFound)
	}
	clone := *app
	return &clone, nil
}

func (a *MemoryAccessor) Insert(_ context.Context, rec registry.TrackedRecord) error {
	app, ok := rec.(*Application)
	if !ok {
		return fmt.Errorf("unexpected record type %T for applications", rec)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if app.ID == 0 {
		app.ID = a.nextID
	}
	if _, exists := a.rows[app.ID]; exists {
		return fmt.Errorf("application %d already exists: %w", app.ID, sentinel.ErrConflict)
	}
	if app.ID >= a.nextID {
		a.nextID = app.ID + 1
	}
	clone := *app
	a.rows[app.ID] = &clone
	return nil
}

func (a *MemoryAccessor) Update(_ context.Context, id int64, fields models.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	app, ok := a.rows[id]
	if !ok {
		return fmt.Errorf("application %d: %w", id, sentinel.ErrNotFound)
	}

	snap := app.Snapshot()
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
		return fmt.Errorf("update application: %w", err)
	}
	updated.ID = id
	a.rows[id] = updated
	return nil
}

func (a *MemoryAccessor) Delete(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rows[id]; !ok {
		return fmt.Errorf("application %d: %w", id, sentinel.ErrNotFound)
	}
	delete(a.rows, id)
	return nil
}

func (a *MemoryAccessor) FromSnapshot(snap models.Snapshot) (registry.TrackedRecord, error) {
	return FromSnapshot(snap)
}
