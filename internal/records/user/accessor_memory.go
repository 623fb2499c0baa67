package user

import (
	"context"
	"fmt"
	"sync"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/pkg/platform/sentinel"
)

// MemoryAccessor is the in-memory counterpart to PostgresAccessor, also
// usable as a UserResolver in tests.
type MemoryAccessor struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]*User
}

func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{nextID: 1, rows: make(map[int64]*User)}
}

func (a *MemoryAccessor) Get(_ context.Context, id int64) (registry.TrackedRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.rows[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, sentinel.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}

func (a *MemoryAccessor) DisplayName(_ context.Context, userID int64) (string, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.rows[userID]
	if !ok {
		return "", "", fmt.Errorf("user %d: %w", userID, sentinel.ErrNotFound)
	}
	return u.Username, u.FullName, nil
}

func (a *MemoryAccessor) Insert(_ context.Context, rec registry.TrackedRecord) error {
	u, ok := rec.(*User)
	if !ok {
		return fmt.Errorf("unexpected record type %T for users", rec)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if u.ID == 0 {
		u.ID = a.nextID
	}
	if _, exists := a.rows[u.ID]; exists {
		return fmt.Errorf("user %d already exists: %w", u.ID, sentinel.ErrConflict)
	}
	if u.ID >= a.nextID {
		a.nextID = u.ID + 1
	}
	clone := *u
	a.rows[u.ID] = &clone
	return nil
}

func (a *MemoryAccessor) Update(_ context.Context, id int64, fields models.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.rows[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, sentinel.ErrNotFound)
	}

	snap := u.Snapshot()
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
		return fmt.Errorf("update user: %w", err)
	}
	updated.ID = id
	a.rows[id] = updated
	return nil
}

func (a *MemoryAccessor) Delete(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rows[id]; !ok {
		return fmt.Errorf("user %d: %w", id, sentinel.ErrNotFound)
	}
	delete(a.rows, id)
	return nil
}

func (a *MemoryAccessor) FromSnapshot(snap models.Snapshot) (registry.TrackedRecord, error) {
	return FromSnapshot(snap)
}
