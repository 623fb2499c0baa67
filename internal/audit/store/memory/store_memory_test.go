package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/store"
	"transtrack/pkg/requestcontext"
)

// =============================================================================
// In-Memory Ledger Store Test Suite
// =============================================================================
// The memory store is the reference implementation the service tests run
// against, so its filtering and aggregation semantics are pinned here.

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	base  time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.base = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
}

func (s *MemoryStoreSuite) insert(entry *models.AuditEntry) *models.AuditEntry {
	ctx := context.Background()
	if !entry.CreatedAt.IsZero() {
		ctx = requestcontext.WithTime(ctx, entry.CreatedAt)
		entry.CreatedAt = time.Time{}
	}
	s.Require().NoError(s.store.Insert(ctx, entry))
	return entry
}

func userID(id int64) *int64 { return &id }

// =============================================================================
// Insert / GetByID Tests
// =============================================================================

func (s *MemoryStoreSuite) TestInsert() {
	s.Run("assigns sequential ids starting at one", func() {
		first := s.insert(&models.AuditEntry{TableName: "applications", RecordID: 1, Operation: models.OperationInsert})
		second := s.insert(&models.AuditEntry{TableName: "applications", RecordID: 2, Operation: models.OperationInsert})
		s.Equal(int64(1), first.ID)
		s.Equal(int64(2), second.ID)
	})

	s.Run("stamps created_at from the request clock", func() {
		at := s.base.Add(time.Hour)
		ctx := requestcontext.WithTime(context.Background(), at)
		entry := &models.AuditEntry{TableName: "applications", RecordID: 3, Operation: models.OperationInsert}
		s.Require().NoError(s.store.Insert(ctx, entry))
		s.Equal(at, entry.CreatedAt)
	})

	s.Run("stored entry is detached from the caller's pointer", func() {
		entry := s.insert(&models.AuditEntry{
			TableName: "applications", RecordID: 4,
			Operation: models.OperationUpdate,
			NewValues: models.Snapshot{"status": "live"},
		})
		entry.NewValues["status"] = "mutated"

		stored, err := s.store.GetByID(context.Background(), entry.ID)
		s.Require().NoError(err)
		s.Equal("live", stored.NewValues["status"])
	})
}

func (s *MemoryStoreSuite) TestGetByID() {
	s.Run("missing id returns not found", func() {
		_, err := s.store.GetByID(context.Background(), 99)
		s.Error(err)
		s.Contains(err.Error(), "not found")
	})
}

// =============================================================================
// List / Filter Tests
// =============================================================================

func (s *MemoryStoreSuite) seedHistory() {
	s.insert(&models.AuditEntry{
		TableName: "applications", RecordID: 1, Operation: models.OperationInsert,
		UserID: userID(1), Reason: "initial import", CreatedAt: s.base,
	})
	s.insert(&models.AuditEntry{
		TableName: "applications", RecordID: 1, Operation: models.OperationUpdate,
		OldValues: models.Snapshot{"status": "draft"}, NewValues: models.Snapshot{"status": "live"},
		ChangedFields: []string{"status"},
		UserID:        userID(1), RequestID: "req-42", CreatedAt: s.base.Add(time.Hour),
	})
	s.insert(&models.AuditEntry{
		TableName: "sub_tasks", RecordID: 9, Operation: models.OperationDelete,
		OldValues: models.Snapshot{"module_name": "gateway"},
		UserID:    userID(2), UserAgent: "Mozilla/5.0", CreatedAt: s.base.Add(2 * time.Hour),
	})
}

func (s *MemoryStoreSuite) TestList() {
	s.seedHistory()
	ctx := context.Background()

	s.Run("newest first with total", func() {
		entries, total, err := s.store.List(ctx, store.Filter{})
		s.Require().NoError(err)
		s.Equal(int64(3), total)
		s.Require().Len(entries, 3)
		s.Equal("sub_tasks", entries[0].TableName)
		s.Equal(models.OperationInsert, entries[2].Operation)
	})

	s.Run("filters by table and operation", func() {
		entries, total, err := s.store.List(ctx, store.Filter{
			TableName: "applications",
			Operation: models.OperationUpdate,
		})
		s.Require().NoError(err)
		s.Equal(int64(1), total)
		s.Require().Len(entries, 1)
		s.Equal([]string{"status"}, entries[0].ChangedFields)
	})

	s.Run("filters by user", func() {
		_, total, err := s.store.List(ctx, store.Filter{UserID: 2})
		s.Require().NoError(err)
		s.Equal(int64(1), total)
	})

	s.Run("date range is inclusive of bounds", func() {
		from := s.base.Add(time.Hour)
		until := s.base.Add(time.Hour)
		entries, total, err := s.store.List(ctx, store.Filter{From: &from, Until: &until})
		s.Require().NoError(err)
		s.Equal(int64(1), total)
		s.Equal(models.OperationUpdate, entries[0].Operation)
	})

	s.Run("search matches reason, user agent, and request id", func() {
		for query, wantTotal := range map[string]int64{
			"INITIAL": 1, // reason, case-insensitive
			"mozilla": 1, // user agent
			"req-42":  1, // request id
			"nothing": 0,
		} {
			_, total, err := s.store.List(ctx, store.Filter{Search: query})
			s.Require().NoError(err)
			s.Equal(wantTotal, total, "query %q", query)
		}
	})

	s.Run("pagination keeps total stable", func() {
		entries, total, err := s.store.List(ctx, store.Filter{Skip: 1, Limit: 1})
		s.Require().NoError(err)
		s.Equal(int64(3), total)
		s.Require().Len(entries, 1)
		s.Equal(models.OperationUpdate, entries[0].Operation)
	})

	s.Run("skip past the end returns empty page", func() {
		entries, total, err := s.store.List(ctx, store.Filter{Skip: 10, Limit: 5})
		s.Require().NoError(err)
		s.Equal(int64(3), total)
		s.Empty(entries)
	})
}

func (s *MemoryStoreSuite) TestListByRecord() {
	s.seedHistory()

	entries, err := s.store.ListByRecord(context.Background(), "applications", 1)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(models.OperationUpdate, entries[0].Operation)
	s.Equal(models.OperationInsert, entries[1].Operation)
}

func (s *MemoryStoreSuite) TestListForExport() {
	s.seedHistory()

	entries, err := s.store.ListForExport(context.Background(), store.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal(models.OperationInsert, entries[0].Operation, "export is oldest first")
}

// =============================================================================
// Aggregation Tests
// =============================================================================

func (s *MemoryStoreSuite) TestAggregates() {
	s.seedHistory()
	ctx := context.Background()

	s.Run("count by operation", func() {
		counts, err := s.store.CountByOperation(ctx, nil, nil)
		s.Require().NoError(err)
		s.Equal(int64(1), counts[models.OperationInsert])
		s.Equal(int64(1), counts[models.OperationUpdate])
		s.Equal(int64(1), counts[models.OperationDelete])
	})

	s.Run("count by table", func() {
		counts, err := s.store.CountByTable(ctx, nil, nil)
		s.Require().NoError(err)
		s.Equal(int64(2), counts["applications"])
		s.Equal(int64(1), counts["sub_tasks"])
	})

	s.Run("top users ranked by activity", func() {
		top, err := s.store.TopUsers(ctx, nil, nil, 10)
		s.Require().NoError(err)
		s.Require().Len(top, 2)
		s.Equal(int64(1), top[0].UserID)
		s.Equal(int64(2), top[0].Count)
	})

	s.Run("activity by hour since a cutoff", func() {
		hours, err := s.store.ActivityByHour(ctx, s.base.Add(30*time.Minute))
		s.Require().NoError(err)
		s.Equal(int64(1), hours[13])
		s.Equal(int64(1), hours[14])
		s.Zero(hours[12], "entry before the cutoff is excluded")
	})

	s.Run("bounds", func() {
		oldest, newest, err := s.store.Bounds(ctx)
		s.Require().NoError(err)
		s.Equal(s.base, *oldest)
		s.Equal(s.base.Add(2*time.Hour), *newest)
	})
}

func (s *MemoryStoreSuite) TestIntegrityCounts() {
	ctx := context.Background()
	s.insert(&models.AuditEntry{
		TableName: "applications", RecordID: 1, Operation: models.OperationInsert,
		CreatedAt: s.base, // no user
	})
	s.insert(&models.AuditEntry{
		TableName: "applications", RecordID: 1, Operation: models.OperationUpdate,
		NewValues: models.Snapshot{"status": "live"}, // new values but nil changed fields
		UserID:    userID(1), CreatedAt: s.base.Add(time.Minute),
	})

	missingUser, err := s.store.CountMissingUser(ctx, nil, nil)
	s.Require().NoError(err)
	s.Equal(int64(1), missingUser)

	missingFields, err := s.store.CountUpdatesMissingChangedFields(ctx, nil, nil)
	s.Require().NoError(err)
	s.Equal(int64(1), missingFields)
}

func (s *MemoryStoreSuite) TestBulkOperationGroups() {
	ctx := context.Background()
	minute := time.Date(2026, 5, 10, 12, 30, 0, 0, time.UTC)

	// 12 entries by user 1 inside one minute, 3 by user 2.
	for i := 0; i < 12; i++ {
		s.insert(&models.AuditEntry{
			TableName: "applications", RecordID: int64(i), Operation: models.OperationUpdate,
			UserID: userID(1), CreatedAt: minute.Add(time.Duration(i) * time.Second),
		})
	}
	for i := 0; i < 3; i++ {
		s.insert(&models.AuditEntry{
			TableName: "applications", RecordID: int64(100 + i), Operation: models.OperationUpdate,
			UserID: userID(2), CreatedAt: minute.Add(time.Duration(i) * time.Second),
		})
	}

	groups, err := s.store.BulkOperationGroups(ctx, minute.Add(-time.Hour), minute.Add(time.Hour), 10, 10)
	s.Require().NoError(err)
	s.Require().Len(groups, 1, "only the cluster above the threshold is flagged")
	s.Equal(int64(1), groups[0].UserID)
	s.Equal(minute, groups[0].Minute)
	s.Equal(int64(12), groups[0].Count)
}

// =============================================================================
// Retention Tests
// =============================================================================

func (s *MemoryStoreSuite) TestRetention() {
	ctx := context.Background()
	s.seedHistory()
	cutoff := s.base.Add(90 * time.Minute)

	count, err := s.store.CountOlderThan(ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(2), deleted)

	_, total, err := s.store.List(ctx, store.Filter{})
	s.Require().NoError(err)
	s.Equal(int64(1), total)

	s.Run("entry exactly at the cutoff survives", func() {
		deleted, err := s.store.DeleteOlderThan(ctx, s.base.Add(2*time.Hour))
		s.Require().NoError(err)
		s.Zero(deleted)
	})
}
