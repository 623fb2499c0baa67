// Package memory holds an in-memory ledger used by unit tests and
// single-process setups. Entries are copied on the way in and out so stored
// state can never be mutated through a returned pointer.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/store"
	"transtrack/pkg/platform/sentinel"
	"transtrack/pkg/requestcontext"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []*models.AuditEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = 1
	s.entries = nil
}

func (s *InMemoryStore) Insert(ctx context.Context, entry *models.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneEntry(entry)
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = requestcontext.Now(ctx)
	}
	s.entries = append(s.entries, stored)

	entry.ID = stored.ID
	entry.CreatedAt = stored.CreatedAt
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id int64) (*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return cloneEntry(e), nil
		}
	}
	return nil, fmt.Errorf("audit entry %d: %w", id, sentinel.ErrNotFound)
}

func (s *InMemoryStore) List(_ context.Context, f store.Filter) ([]*models.AuditEntry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filtered(f)
	sortNewestFirst(matched)
	total := int64(len(matched))

	if f.Skip > 0 {
		if f.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Skip:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]*models.AuditEntry, 0, len(matched))
	for _, e := range matched {
		out = append(out, cloneEntry(e))
	}
	return out, total, nil
}

func (s *InMemoryStore) ListByRecord(ctx context.Context, tableName string, recordID int64) ([]*models.AuditEntry, error) {
	items, _, err := s.List(ctx, store.Filter{TableName: tableName, RecordID: recordID})
	return items, err
}

func (s *InMemoryStore) ListByUser(ctx context.Context, userID int64, from, until *time.Time, limit int) ([]*models.AuditEntry, error) {
	items, _, err := s.List(ctx, store.Filter{UserID: userID, From: from, Until: until, Limit: limit})
	return items, err
}

func (s *InMemoryStore) ListForExport(_ context.Context, f store.Filter) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filtered(f)
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	out := make([]*models.AuditEntry, 0, len(matched))
	for _, e := range matched {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *InMemoryStore) CountInRange(_ context.Context, from, until *time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filtered(store.Filter{From: from, Until: until}))), nil
}

func (s *InMemoryStore) CountByOperation(_ context.Context, from, until *time.Time) (map[models.Operation]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.Operation]int64)
	for _, e := range s.filtered(store.Filter{From: from, Until: until}) {
		counts[e.Operation]++
	}
	return counts, nil
}

func (s *InMemoryStore) CountByTable(_ context.Context, from, until *time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, e := range s.filtered(store.Filter{From: from, Until: until}) {
		counts[e.TableName]++
	}
	return counts, nil
}

func (s *InMemoryStore) TopUsers(_ context.Context, from, until *time.Time, limit int) ([]store.UserCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int64]int64)
	for _, e := range s.filtered(store.Filter{From: from, Until: until}) {
		if e.UserID != nil {
			counts[*e.UserID]++
		}
	}

	top := make([]store.UserCount, 0, len(counts))
	for userID, count := range counts {
		top = append(top, store.UserCount{UserID: userID, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count == top[j].Count {
			return top[i].UserID < top[j].UserID
		}
		return top[i].Count > top[j].Count
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *InMemoryStore) ActivityByHour(_ context.Context, since time.Time) (map[int]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byHour := make(map[int]int64)
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		byHour[e.CreatedAt.Hour()]++
	}
	return byHour, nil
}

func (s *InMemoryStore) CountMissingUser(_ context.Context, from, until *time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, e := range s.filtered(store.Filter{From: from, Until: until}) {
		if e.UserID == nil {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) CountUpdatesMissingChangedFields(_ context.Context, from, until *time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, e := range s.filtered(store.Filter{From: from, Until: until}) {
		if e.Operation == models.OperationUpdate && e.NewValues != nil && e.ChangedFields == nil {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) BulkOperationGroups(_ context.Context, from, until time.Time, threshold, limit int) ([]store.BulkGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		userID int64
		minute time.Time
	}
	counts := make(map[key]int64)
	for _, e := range s.entries {
		if e.UserID == nil || e.CreatedAt.Before(from) || e.CreatedAt.After(until) {
			continue
		}
		counts[key{*e.UserID, e.CreatedAt.Truncate(time.Minute)}]++
	}

	groups := make([]store.BulkGroup, 0)
	for k, count := range counts {
		if count > int64(threshold) {
			groups = append(groups, store.BulkGroup{UserID: k.userID, Minute: k.minute, Count: count})
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count == groups[j].Count {
			return groups[i].Minute.Before(groups[j].Minute)
		}
		return groups[i].Count > groups[j].Count
	})
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func (s *InMemoryStore) Bounds(_ context.Context) (oldest, newest *time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		created := e.CreatedAt
		if oldest == nil || created.Before(*oldest) {
			t := created
			oldest = &t
		}
		if newest == nil || created.After(*newest) {
			t := created
			newest = &t
		}
	}
	return oldest, newest, nil
}

func (s *InMemoryStore) CountOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

// filtered returns the stored entries matching f, unsorted. Callers hold the
// read lock.
func (s *InMemoryStore) filtered(f store.Filter) []*models.AuditEntry {
	matched := make([]*models.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if matchesFilter(e, f) {
			matched = append(matched, e)
		}
	}
	return matched
}

func matchesFilter(e *models.AuditEntry, f store.Filter) bool {
	if f.TableName != "" && e.TableName != f.TableName {
		return false
	}
	if f.RecordID != 0 && e.RecordID != f.RecordID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.UserID != 0 && (e.UserID == nil || *e.UserID != f.UserID) {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.Reason), needle) &&
			!strings.Contains(strings.ToLower(e.UserAgent), needle) &&
			!strings.Contains(strings.ToLower(e.RequestID), needle) {
			return false
		}
	}
	return true
}

func sortNewestFirst(entries []*models.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

func cloneEntry(e *models.AuditEntry) *models.AuditEntry {
	out := *e
	out.OldValues = e.OldValues.Clone()
	out.NewValues = e.NewValues.Clone()
	if e.ChangedFields != nil {
		out.ChangedFields = append([]string(nil), e.ChangedFields...)
	}
	if e.ExtraData != nil {
		extra := make(map[string]any, len(e.ExtraData))
		for k, v := range e.ExtraData {
			extra[k] = v
		}
		out.ExtraData = extra
	}
	if e.UserID != nil {
		userID := *e.UserID
		out.UserID = &userID
	}
	return &out
}
