//go:build integration

package rollback_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/internal/audit/rollback"
	"transtrack/internal/audit/service"
	"transtrack/internal/audit/store"
	auditpg "transtrack/internal/audit/store/postgres"
	"transtrack/internal/records"
	"transtrack/internal/records/application"
	"transtrack/internal/records/tracked"
	"transtrack/internal/records/user"
	txcontext "transtrack/pkg/platform/tx"
	"transtrack/pkg/testutil/containers"
)

// =============================================================================
// Rollback End-to-End Integration Test Suite
// =============================================================================
// Drives the whole write path against real Postgres: tracked mutations, the
// ledger they produce, and rollbacks whose record change and ledger entry
// must commit in one transaction.

type RollbackIntegrationSuite struct {
	suite.Suite
	pg      *containers.PostgresContainer
	ledger  *auditpg.Store
	tables  *registry.Registry
	audit   *service.Service
	tracked *tracked.Service
	engine  *rollback.Engine
	ctx     context.Context
	now     time.Time
}

func TestRollbackIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RollbackIntegrationSuite))
}

func (s *RollbackIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
}

func (s *RollbackIntegrationSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx,
		"audit_logs", "sub_tasks", "applications", "users"))

	s.ledger = auditpg.New(s.pg.DB)
	s.tables = registry.New()
	users := records.RegisterPostgres(s.tables, s.pg.DB)

	var err error
	s.audit, err = service.New(s.ledger, service.WithUserResolver(users))
	s.Require().NoError(err)

	runner := txcontext.NewSQLRunner(s.pg.DB)
	s.tracked, err = tracked.New(s.tables, s.audit, runner)
	s.Require().NoError(err)
	s.engine, err = rollback.New(s.audit, s.tables, runner)
	s.Require().NoError(err)

	s.seedUser()
}

func (s *RollbackIntegrationSuite) seedUser() {
	acc, err := s.tables.Lookup(user.TableName)
	s.Require().NoError(err)
	s.Require().NoError(acc.Insert(s.ctx, &user.User{
		ID: 1, Username: "alice", FullName: "Alice Zhang",
		Email: "alice@example.com", Role: user.RoleEditor, IsActive: true,
		CreatedAt: s.now, UpdatedAt: s.now,
	}))
}

func (s *RollbackIntegrationSuite) createApplication() *application.Application {
	created, err := s.tracked.Create(s.ctx, &application.Application{
		L2ID:                 "L2-001",
		AppName:              "billing-core",
		SupervisionYear:      2026,
		TransformationTarget: "AK",
		OverallStatus:        "draft",
		ResponsibleTeam:      "platform",
		ProgressPercentage:   10,
		CreatedBy:            1,
		UpdatedBy:            1,
		CreatedAt:            s.now,
		UpdatedAt:            s.now,
	}, "initial load")
	s.Require().NoError(err)
	return created.(*application.Application)
}

func (s *RollbackIntegrationSuite) lastEntry() *models.AuditEntry {
	entries, _, err := s.ledger.List(s.ctx, store.Filter{Limit: 1})
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)
	return entries[0]
}

func (s *RollbackIntegrationSuite) getApplication(id int64) (*application.Application, error) {
	acc, err := s.tables.Lookup(application.TableName)
	s.Require().NoError(err)
	rec, err := acc.Get(s.ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.(*application.Application), nil
}

// =============================================================================
// End-to-End Rollback Tests
// =============================================================================

func (s *RollbackIntegrationSuite) TestRollbackUpdate() {
	app := s.createApplication()

	_, err := s.tracked.Update(s.ctx, application.TableName, app.ID, models.Snapshot{
		"overall_status":      "live",
		"progress_percentage": 80,
	}, "went live")
	s.Require().NoError(err)
	updateEntry := s.lastEntry()

	result, err := s.engine.Rollback(s.ctx, updateEntry.ID, "premature")
	s.Require().NoError(err)

	restored, err := s.getApplication(app.ID)
	s.Require().NoError(err)
	s.Equal("draft", restored.OverallStatus)
	s.Equal(10, restored.ProgressPercentage)
	s.Equal("billing-core", restored.AppName)

	logged, err := s.ledger.GetByID(s.ctx, result.RollbackAuditID)
	s.Require().NoError(err)
	s.Equal(models.OperationUpdate, logged.Operation)
	of, ok := logged.RollbackOf()
	s.True(ok)
	s.Equal(updateEntry.ID, of)
}

func (s *RollbackIntegrationSuite) TestRollbackDeletePreservesIdentity() {
	app := s.createApplication()
	s.Require().NoError(s.tracked.Delete(s.ctx, application.TableName, app.ID, "decommissioned"))
	deleteEntry := s.lastEntry()

	_, err := s.engine.Rollback(s.ctx, deleteEntry.ID, "still needed")
	s.Require().NoError(err)

	restored, err := s.getApplication(app.ID)
	s.Require().NoError(err)
	s.Equal(app.ID, restored.ID)
	s.Equal("L2-001", restored.L2ID)

	s.Run("sequence advances past the restored id", func() {
		next, err := s.tracked.Create(s.ctx, &application.Application{
			L2ID: "L2-002", AppName: "ledger-ui", SupervisionYear: 2026,
			TransformationTarget: "AK", OverallStatus: "draft",
			ResponsibleTeam: "platform", CreatedBy: 1, UpdatedBy: 1,
			CreatedAt: s.now, UpdatedAt: s.now,
		}, "after the restore")
		s.Require().NoError(err)
		s.Greater(next.(*application.Application).ID, app.ID)
	})
}

func (s *RollbackIntegrationSuite) TestRollbackInsertRemovesRecord() {
	app := s.createApplication()
	insertEntry := s.lastEntry()

	_, err := s.engine.Rollback(s.ctx, insertEntry.ID, "loaded by mistake")
	s.Require().NoError(err)

	_, err = s.getApplication(app.ID)
	s.Error(err)
}

// =============================================================================
// Atomicity Tests
// =============================================================================

func (s *RollbackIntegrationSuite) TestFailedRollbackLeavesNothingBehind() {
	app := s.createApplication()
	insertEntry := s.lastEntry()

	// First rollback deletes the record; the second finds it gone and must
	// abort without writing a ledger entry or touching live data.
	_, err := s.engine.Rollback(s.ctx, insertEntry.ID, "first")
	s.Require().NoError(err)
	_, countBefore, err := s.ledger.List(s.ctx, store.Filter{Limit: 1})
	s.Require().NoError(err)

	_, err = s.engine.Rollback(s.ctx, insertEntry.ID, "second")
	s.Error(err)

	_, countAfter, err := s.ledger.List(s.ctx, store.Filter{Limit: 1})
	s.Require().NoError(err)
	s.Equal(countBefore, countAfter)

	_, err = s.getApplication(app.ID)
	s.Error(err, "the record stays deleted")
}
