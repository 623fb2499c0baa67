package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/store/memory"
	dErrors "transtrack/pkg/domain-errors"
	"transtrack/pkg/requestcontext"
)

// =============================================================================
// Audit Service Test Suite
// =============================================================================
// Justification for unit tests: the service owns the write invariants
// (snapshot shape per operation, changed-field derivation, request context
// capture) that every other layer assumes hold for stored entries.

type ServiceSuite struct {
	suite.Suite
	store   *memory.InMemoryStore
	service *Service
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	var err error
	s.service, err = New(s.store)
	s.Require().NoError(err)
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

// fakeResolver resolves user ids to deterministic names.
type fakeResolver struct{}

func (fakeResolver) DisplayName(_ context.Context, userID int64) (string, string, error) {
	return fmt.Sprintf("user%d", userID), fmt.Sprintf("User %d", userID), nil
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "store is required")
	})

	s.Run("valid store returns configured service", func() {
		svc, err := New(s.store)
		s.NoError(err)
		s.NotNil(svc)
	})
}

// =============================================================================
// Log Tests
// =============================================================================

func (s *ServiceSuite) TestLog() {
	s.Run("assigns id and timestamp", func() {
		entry, err := s.service.Log(s.ctx(), LogParams{
			TableName: "applications",
			RecordID:  1,
			Operation: models.OperationInsert,
			NewValues: models.Snapshot{"app_name": "billing"},
		})
		s.Require().NoError(err)
		s.NotZero(entry.ID)
		s.Equal(s.now, entry.CreatedAt)
	})

	s.Run("rejects unknown operations", func() {
		_, err := s.service.Log(s.ctx(), LogParams{
			TableName: "applications",
			RecordID:  1,
			Operation: models.Operation("UPSERT"),
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("insert drops old values", func() {
		entry, err := s.service.Log(s.ctx(), LogParams{
			TableName: "applications",
			RecordID:  2,
			Operation: models.OperationInsert,
			OldValues: models.Snapshot{"should": "vanish"},
			NewValues: models.Snapshot{"app_name": "billing"},
		})
		s.Require().NoError(err)
		s.Nil(entry.OldValues)
		s.NotNil(entry.NewValues)
	})

	s.Run("delete drops new values", func() {
		entry, err := s.service.Log(s.ctx(), LogParams{
			TableName: "applications",
			RecordID:  3,
			Operation: models.OperationDelete,
			OldValues: models.Snapshot{"app_name": "billing"},
			NewValues: models.Snapshot{"should": "vanish"},
		})
		s.Require().NoError(err)
		s.Nil(entry.NewValues)
		s.NotNil(entry.OldValues)
	})

	s.Run("update derives changed fields from both snapshots", func() {
		entry, err := s.service.Log(s.ctx(), LogParams{
			TableName: "applications",
			RecordID:  4,
			Operation: models.OperationUpdate,
			OldValues: models.Snapshot{"status": "draft", "owner": "ana"},
			NewValues: models.Snapshot{"status": "live", "owner": "ana"},
		})
		s.Require().NoError(err)
		s.Equal([]string{"status"}, entry.ChangedFields)
	})

	s.Run("update without old values keeps changed fields null", func() {
		entry, err := s.service.Log(s.ctx(), LogParams{
			TableName: "applications",
			RecordID:  5,
			Operation: models.OperationUpdate,
			NewValues: models.Snapshot{"status": "live"},
		})
		s.Require().NoError(err)
		s.Nil(entry.ChangedFields)
	})

	s.Run("fills actor and client metadata from context", func() {
		ctx := requestcontext.WithUserID(s.ctx(), 7)
		ctx = requestcontext.WithRequestID(ctx, "req-123")
		ctx = requestcontext.WithClientMetadata(ctx, "10.1.2.3", "curl/8.0")

		entry, err := s.service.Log(ctx, LogParams{
			TableName: "applications",
			RecordID:  6,
			Operation: models.OperationInsert,
			NewValues: models.Snapshot{"app_name": "billing"},
		})
		s.Require().NoError(err)
		s.Require().NotNil(entry.UserID)
		s.Equal(int64(7), *entry.UserID)
		s.Equal("req-123", entry.RequestID)
		s.Equal("10.1.2.3", entry.UserIP)
		s.Equal("curl/8.0", entry.UserAgent)
	})

	s.Run("explicit params win over context", func() {
		ctx := requestcontext.WithUserID(s.ctx(), 7)
		explicit := int64(99)

		entry, err := s.service.Log(ctx, LogParams{
			TableName: "applications",
			RecordID:  7,
			Operation: models.OperationInsert,
			UserID:    &explicit,
			RequestID: "explicit-req",
		})
		s.Require().NoError(err)
		s.Equal(int64(99), *entry.UserID)
		s.Equal("explicit-req", entry.RequestID)
	})
}

// =============================================================================
// Stream Fan-Out Tests
// =============================================================================

func (s *ServiceSuite) TestLogStreamFanOut() {
	s.Run("appended entries land in the inbox", func() {
		inbox := make(chan *models.AuditEntry, 4)
		svc, err := New(s.store, WithStream(inbox))
		s.Require().NoError(err)

		entry, err := svc.Log(s.ctx(), LogParams{
			TableName: "applications",
			RecordID:  1,
			Operation: models.OperationInsert,
		})
		s.Require().NoError(err)

		select {
		case got := <-inbox:
			s.Equal(entry.ID, got.ID)
		default:
			s.Fail("expected entry in stream inbox")
		}
	})

	s.Run("full inbox drops instead of blocking", func() {
		inbox := make(chan *models.AuditEntry) // unbuffered, nobody reads
		svc, err := New(s.store, WithStream(inbox))
		s.Require().NoError(err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := svc.Log(s.ctx(), LogParams{
				TableName: "applications",
				RecordID:  2,
				Operation: models.OperationInsert,
			})
			s.NoError(err)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			s.Fail("Log blocked on a full stream inbox")
		}
	})
}
