package tracked

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/internal/audit/service"
	"transtrack/internal/audit/store"
	"transtrack/internal/audit/store/memory"
	"transtrack/internal/records"
	"transtrack/internal/records/application"
	"transtrack/internal/records/subtask"
	dErrors "transtrack/pkg/domain-errors"
	txcontext "transtrack/pkg/platform/tx"
	"transtrack/pkg/requestcontext"
)

// =============================================================================
// Tracked Mutation Test Suite
// =============================================================================

type TrackedSuite struct {
	suite.Suite
	store   *memory.InMemoryStore
	tables  *registry.Registry
	service *Service
	now     time.Time
}

func TestTrackedSuite(t *testing.T) {
	suite.Run(t, new(TrackedSuite))
}

func (s *TrackedSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.tables = registry.New()
	records.RegisterMemory(s.tables)
	s.now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	audit, err := service.New(s.store)
	s.Require().NoError(err)
	s.service, err = New(s.tables, audit, txcontext.PassthroughRunner{})
	s.Require().NoError(err)
}

func (s *TrackedSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *TrackedSuite) lastEntry() *models.AuditEntry {
	entries, _, err := s.store.List(s.ctx(), store.Filter{Limit: 1})
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)
	return entries[0]
}

func (s *TrackedSuite) create() *application.Application {
	created, err := s.service.Create(s.ctx(), &application.Application{
		L2ID:               "L2-001",
		AppName:            "billing-core",
		SupervisionYear:    2026,
		OverallStatus:      "draft",
		ProgressPercentage: 10,
		CreatedBy:          1,
		UpdatedBy:          1,
		CreatedAt:          s.now,
		UpdatedAt:          s.now,
	}, "initial load")
	s.Require().NoError(err)
	return created.(*application.Application)
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *TrackedSuite) TestNew() {
	audit, err := service.New(s.store)
	s.Require().NoError(err)

	_, err = New(nil, audit, txcontext.PassthroughRunner{})
	s.Error(err)

	_, err = New(s.tables, nil, txcontext.PassthroughRunner{})
	s.Error(err)

	_, err = New(s.tables, audit, nil)
	s.Error(err)
}

// =============================================================================
// Create Tests
// =============================================================================

func (s *TrackedSuite) TestCreate() {
	created := s.create()

	s.Run("assigns an id and stores the record", func() {
		s.Equal(int64(1), created.ID)
		acc, err := s.tables.Lookup(application.TableName)
		s.Require().NoError(err)
		stored, err := acc.Get(s.ctx(), created.ID)
		s.Require().NoError(err)
		s.Equal("billing-core", stored.(*application.Application).AppName)
	})

	s.Run("logs an INSERT with the new state", func() {
		entry := s.lastEntry()
		s.Equal(models.OperationInsert, entry.Operation)
		s.Equal("applications", entry.TableName)
		s.Equal(created.ID, entry.RecordID)
		s.Equal("initial load", entry.Reason)
		s.Nil(entry.OldValues)
		s.Require().NotNil(entry.NewValues)
		s.Equal("billing-core", entry.NewValues["app_name"])
	})

	s.Run("snapshot timestamps are serialized as strings", func() {
		entry := s.lastEntry()
		s.Equal("2026-05-10T12:00:00Z", entry.NewValues["created_at"])
	})

	s.Run("unknown table is rejected", func() {
		_, err := s.service.Create(s.ctx(), unregisteredRecord{}, "no home")
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Update Tests
// =============================================================================

func (s *TrackedSuite) TestUpdate() {
	created := s.create()

	updated, err := s.service.Update(s.ctx(), application.TableName, created.ID, models.Snapshot{
		"overall_status":      "live",
		"progress_percentage": 80,
	}, "went live")
	s.Require().NoError(err)

	s.Run("patches only the given fields", func() {
		app := updated.(*application.Application)
		s.Equal("live", app.OverallStatus)
		s.Equal(80, app.ProgressPercentage)
		s.Equal("billing-core", app.AppName)
	})

	s.Run("logs an UPDATE with both states and derived changed fields", func() {
		entry := s.lastEntry()
		s.Equal(models.OperationUpdate, entry.Operation)
		s.Equal("draft", entry.OldValues["overall_status"])
		s.Equal("live", entry.NewValues["overall_status"])
		s.Equal([]string{"overall_status", "progress_percentage"}, entry.ChangedFields)
	})

	s.Run("missing record", func() {
		_, err := s.service.Update(s.ctx(), application.TableName, 404, models.Snapshot{
			"overall_status": "live",
		}, "no such record")
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("no-op update logs no changed fields", func() {
		_, err := s.service.Update(s.ctx(), application.TableName, created.ID, models.Snapshot{
			"overall_status": "live",
		}, "same value again")
		s.Require().NoError(err)
		entry := s.lastEntry()
		s.Equal(models.OperationUpdate, entry.Operation)
		s.Empty(entry.ChangedFields)
	})
}

// =============================================================================
// Delete Tests
// =============================================================================

func (s *TrackedSuite) TestDelete() {
	created := s.create()

	err := s.service.Delete(s.ctx(), application.TableName, created.ID, "decommissioned")
	s.Require().NoError(err)

	s.Run("record is gone", func() {
		acc, err := s.tables.Lookup(application.TableName)
		s.Require().NoError(err)
		_, err = acc.Get(s.ctx(), created.ID)
		s.Error(err)
	})

	s.Run("logs a DELETE carrying the final state", func() {
		entry := s.lastEntry()
		s.Equal(models.OperationDelete, entry.Operation)
		s.Equal("decommissioned", entry.Reason)
		s.Require().NotNil(entry.OldValues)
		s.Equal("billing-core", entry.OldValues["app_name"])
		s.Nil(entry.NewValues)
	})

	s.Run("missing record", func() {
		err := s.service.Delete(s.ctx(), application.TableName, 404, "no such record")
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Multi-Table Tests
// =============================================================================

func (s *TrackedSuite) TestTablesAreIndependent() {
	app := s.create()

	_, err := s.service.Create(s.ctx(), &subtask.SubTask{
		ApplicationID: app.ID,
		ModuleName:    "invoicing",
		SubTarget:     "AK",
		TaskStatus:    "in_progress",
		Priority:      2,
		CreatedBy:     1,
		UpdatedBy:     1,
		CreatedAt:     s.now,
		UpdatedAt:     s.now,
	}, "first module")
	s.Require().NoError(err)

	entry := s.lastEntry()
	s.Equal("sub_tasks", entry.TableName)
	s.Equal("invoicing", entry.NewValues["module_name"])
}

// unregisteredRecord claims a table nothing registered.
type unregisteredRecord struct{}

func (unregisteredRecord) TableName() string        { return "untracked_table" }
func (unregisteredRecord) RecordID() int64          { return 1 }
func (unregisteredRecord) Snapshot() map[string]any { return map[string]any{} }
