package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mssola/useragent"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/store"
	dErrors "transtrack/pkg/domain-errors"
	"transtrack/pkg/platform/sentinel"
)

const defaultListLimit = 100

// ListParams filters a ledger listing. Date bounds are calendar-inclusive:
// EndDate extends through the end of its day.
type ListParams struct {
	TableName string
	RecordID  int64
	Operation models.Operation
	UserID    int64
	StartDate *time.Time
	EndDate   *time.Time

	// Search matches substrings of reason, user agent, or request id.
	Search string

	Skip  int
	Limit int
}

// ListResult is one page of entries plus the unpaginated total.
type ListResult struct {
	Items []*models.AuditEntry
	Total int64
}

// Get returns a single entry by id.
func (s *Service) Get(ctx context.Context, id int64) (*models.AuditEntry, error) {
	entry, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "audit entry %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get audit entry")
	}
	return entry, nil
}

// List returns entries newest first, filtered and paginated.
func (s *Service) List(ctx context.Context, p ListParams) (*ListResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	items, total, err := s.store.List(ctx, store.Filter{
		TableName: p.TableName,
		RecordID:  p.RecordID,
		Operation: p.Operation,
		UserID:    p.UserID,
		From:      p.StartDate,
		Until:     endOfDay(p.EndDate),
		Search:    p.Search,
		Skip:      p.Skip,
		Limit:     limit,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list audit entries")
	}
	return &ListResult{Items: items, Total: total}, nil
}

// RecordHistory is the complete trail of one record plus a lifecycle
// envelope derived from it.
type RecordHistory struct {
	TableName       string
	RecordID        int64
	Entries         []*models.AuditEntry
	TotalOperations int

	CreatedAt      *time.Time
	LastModifiedAt *time.Time
	CreatedBy      string
	LastModifiedBy string
}

// GetRecordHistory returns every entry for one record, newest first. An
// unknown record yields an empty history, not an error.
func (s *Service) GetRecordHistory(ctx context.Context, tableName string, recordID int64) (*RecordHistory, error) {
	entries, err := s.store.ListByRecord(ctx, tableName, recordID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get record history")
	}

	history := &RecordHistory{
		TableName:       tableName,
		RecordID:        recordID,
		Entries:         entries,
		TotalOperations: len(entries),
	}
	if len(entries) == 0 {
		return history, nil
	}

	latest := entries[0]
	history.LastModifiedAt = &latest.CreatedAt
	history.LastModifiedBy = s.resolveUsername(ctx, latest.UserID)

	// Oldest INSERT marks creation.
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsInsert() {
			history.CreatedAt = &entries[i].CreatedAt
			history.CreatedBy = s.resolveUsername(ctx, entries[i].UserID)
			break
		}
	}
	return history, nil
}

// ClientUsage counts activity per browser/OS family, parsed from the user
// agents stored alongside entries.
type ClientUsage struct {
	Browser string
	OS      string
	Count   int
}

// UserActivity is one actor's recent trail plus derived breakdowns.
type UserActivity struct {
	UserID              int64
	TotalOperations     int
	OperationsBreakdown map[models.Operation]int
	TablesAffected      []string
	Clients             []ClientUsage
	Recent              []*models.AuditEntry
}

// GetUserActivity returns entries attributed to one actor, newest first.
func (s *Service) GetUserActivity(ctx context.Context, userID int64, startDate, endDate *time.Time, limit int) (*UserActivity, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	entries, err := s.store.ListByUser(ctx, userID, startDate, endOfDay(endDate), limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get user activity")
	}

	activity := &UserActivity{
		UserID:              userID,
		TotalOperations:     len(entries),
		OperationsBreakdown: make(map[models.Operation]int),
		Recent:              entries,
	}

	tables := make(map[string]struct{})
	type clientKey struct{ browser, os string }
	clients := make(map[clientKey]int)

	for _, e := range entries {
		activity.OperationsBreakdown[e.Operation]++
		tables[e.TableName] = struct{}{}
		if e.UserAgent != "" {
			ua := useragent.New(e.UserAgent)
			browser, _ := ua.Browser()
			clients[clientKey{browser, ua.OS()}]++
		}
	}

	for table := range tables {
		activity.TablesAffected = append(activity.TablesAffected, table)
	}
	sort.Strings(activity.TablesAffected)

	for key, count := range clients {
		activity.Clients = append(activity.Clients, ClientUsage{Browser: key.browser, OS: key.os, Count: count})
	}
	sort.Slice(activity.Clients, func(i, j int) bool {
		if activity.Clients[i].Count == activity.Clients[j].Count {
			return activity.Clients[i].Browser < activity.Clients[j].Browser
		}
		return activity.Clients[i].Count > activity.Clients[j].Count
	})

	return activity, nil
}

// ExportParams filters an export run.
type ExportParams struct {
	TableName string
	RecordID  int64
	UserID    int64
	Operation models.Operation
	StartDate *time.Time
	EndDate   *time.Time
}

// ExportRecord is one flattened ledger row with actor names resolved, ready
// for an external formatter.
type ExportRecord struct {
	ID            int64                         `json:"id"`
	Timestamp     string                        `json:"timestamp"`
	TableName     string                        `json:"table_name"`
	RecordID      int64                         `json:"record_id"`
	Operation     string                        `json:"operation"`
	UserID        *int64                        `json:"user_id"`
	Username      string                        `json:"username,omitempty"`
	UserFullName  string                        `json:"user_full_name,omitempty"`
	ChangedFields []string                      `json:"changed_fields,omitempty"`
	FieldChanges  map[string]models.FieldChange `json:"field_changes,omitempty"`
	OldValues     models.Snapshot               `json:"old_values,omitempty"`
	NewValues     models.Snapshot               `json:"new_values,omitempty"`
	RequestID     string                        `json:"request_id,omitempty"`
	UserIP        string                        `json:"user_ip,omitempty"`
	UserAgent     string                        `json:"user_agent,omitempty"`
	Reason        string                        `json:"reason,omitempty"`
	ExtraData     map[string]any                `json:"extra_data,omitempty"`
}

// Export returns all matching entries oldest first, flattened for external
// export collaborators. Output formatting is their concern, not this one's.
func (s *Service) Export(ctx context.Context, p ExportParams) ([]ExportRecord, error) {
	entries, err := s.store.ListForExport(ctx, store.Filter{
		TableName: p.TableName,
		RecordID:  p.RecordID,
		UserID:    p.UserID,
		Operation: p.Operation,
		From:      p.StartDate,
		Until:     endOfDay(p.EndDate),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "export audit trail")
	}

	records := make([]ExportRecord, 0, len(entries))
	for _, e := range entries {
		username, fullName := "", ""
		if e.UserID != nil && s.users != nil {
			if name, full, err := s.users.DisplayName(ctx, *e.UserID); err == nil {
				username, fullName = name, full
			}
		}
		records = append(records, ExportRecord{
			ID:            e.ID,
			Timestamp:     e.CreatedAt.Format(time.RFC3339Nano),
			TableName:     e.TableName,
			RecordID:      e.RecordID,
			Operation:     string(e.Operation),
			UserID:        e.UserID,
			Username:      username,
			UserFullName:  fullName,
			ChangedFields: e.ChangedFields,
			FieldChanges:  e.FieldChanges(),
			OldValues:     e.OldValues,
			NewValues:     e.NewValues,
			RequestID:     e.RequestID,
			UserIP:        e.UserIP,
			UserAgent:     e.UserAgent,
			Reason:        e.Reason,
			ExtraData:     e.ExtraData,
		})
	}
	return records, nil
}

func (s *Service) resolveUsername(ctx context.Context, userID *int64) string {
	if userID == nil || s.users == nil {
		return ""
	}
	username, _, err := s.users.DisplayName(ctx, *userID)
	if err != nil {
		return ""
	}
	return username
}

// endOfDay extends an inclusive end date through the last instant of its
// day.
func endOfDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	end := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
	return &end
}
