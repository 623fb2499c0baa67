package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/store"
	dErrors "transtrack/pkg/domain-errors"
	"transtrack/pkg/requestcontext"
)

const (
	bulkOperationThreshold = 10
	bulkOperationLimit     = 10
	topUsersLimit          = 10
	mostChangedFieldsLimit = 5
	hourlyDefaultWindow    = 7 * 24 * time.Hour
)

// Statistics aggregates ledger activity over an optional window.
type Statistics struct {
	TotalLogs      int64                      `json:"total_logs"`
	ByOperation    map[models.Operation]int64 `json:"by_operation"`
	ByTable        map[string]int64           `json:"by_table"`
	TopUsers       []store.UserCount          `json:"top_users"`
	ActivityByHour map[int]int64              `json:"activity_by_hour"`
	PeriodStart    string                     `json:"period_start,omitempty"`
	PeriodEnd      string                     `json:"period_end,omitempty"`
}

// GetStatistics computes aggregate counts. The hourly histogram defaults to
// the trailing seven days when no start date is given. Results are cached
// when a cache is configured.
func (s *Service) GetStatistics(ctx context.Context, startDate, endDate *time.Time) (*Statistics, error) {
	cacheKey := fmt.Sprintf("stats:%s:%s", dateKey(startDate), dateKey(endDate))
	if cached, ok := s.cachedReport(ctx, cacheKey, &Statistics{}); ok {
		return cached.(*Statistics), nil
	}

	until := endOfDay(endDate)

	total, err := s.store.CountInRange(ctx, startDate, until)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count audit entries")
	}
	byOperation, err := s.store.CountByOperation(ctx, startDate, until)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count by operation")
	}
	byTable, err := s.store.CountByTable(ctx, startDate, until)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count by table")
	}
	topUsers, err := s.store.TopUsers(ctx, startDate, until, topUsersLimit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "rank top users")
	}

	hourlySince := startDate
	if hourlySince == nil {
		now := requestcontext.Now(ctx)
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		since := midnight.Add(-hourlyDefaultWindow)
		hourlySince = &since
	}
	byHour, err := s.store.ActivityByHour(ctx, *hourlySince)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compute hourly activity")
	}

	stats := &Statistics{
		TotalLogs:      total,
		ByOperation:    byOperation,
		ByTable:        byTable,
		TopUsers:       topUsers,
		ActivityByHour: byHour,
		PeriodStart:    dateKey(hourlySince),
		PeriodEnd:      dateKey(endDate),
	}
	s.storeReport(ctx, cacheKey, stats)
	return stats, nil
}

// FieldCount is one row of the most-changed-fields ranking.
type FieldCount struct {
	Field string `json:"field"`
	Count int    `json:"count"`
}

// ChangesSummary condenses a record's full history into lifecycle facts and
// per-field churn.
type ChangesSummary struct {
	TableName           string                   `json:"table_name"`
	RecordID            int64                    `json:"record_id"`
	TotalChanges        int                      `json:"total_changes"`
	TotalOperations     int                      `json:"total_operations"`
	CreatedAt           *time.Time               `json:"created_at"`
	LastModifiedAt      *time.Time               `json:"last_modified_at"`
	CreatedBy           *int64                   `json:"created_by"`
	LastModifiedBy      *int64                   `json:"last_modified_by"`
	OperationsBreakdown map[models.Operation]int `json:"operations_breakdown"`
	FieldChanges        map[string]int           `json:"field_changes"`
	MostChangedFields   []FieldCount             `json:"most_changed_fields"`
}

// GetDataChangesSummary derives a change summary purely from the record's
// history. An empty history yields zero counts and nil timestamps.
func (s *Service) GetDataChangesSummary(ctx context.Context, tableName string, recordID int64) (*ChangesSummary, error) {
	history, err := s.store.ListByRecord(ctx, tableName, recordID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get record history")
	}

	summary := &ChangesSummary{
		TableName:           tableName,
		RecordID:            recordID,
		TotalOperations:     len(history),
		OperationsBreakdown: make(map[models.Operation]int),
		FieldChanges:        make(map[string]int),
		MostChangedFields:   []FieldCount{},
	}
	if len(history) == 0 {
		return summary, nil
	}

	latest := history[0]
	summary.LastModifiedAt = &latest.CreatedAt
	summary.LastModifiedBy = latest.UserID

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsInsert() {
			summary.CreatedAt = &history[i].CreatedAt
			summary.CreatedBy = history[i].UserID
			break
		}
	}

	for _, e := range history {
		summary.OperationsBreakdown[e.Operation]++
		if e.IsUpdate() && len(e.ChangedFields) > 0 {
			summary.TotalChanges++
			for _, field := range e.ChangedFields {
				summary.FieldChanges[field]++
			}
		}
	}

	for field, count := range summary.FieldChanges {
		summary.MostChangedFields = append(summary.MostChangedFields, FieldCount{Field: field, Count: count})
	}
	sort.Slice(summary.MostChangedFields, func(i, j int) bool {
		if summary.MostChangedFields[i].Count == summary.MostChangedFields[j].Count {
			return summary.MostChangedFields[i].Field < summary.MostChangedFields[j].Field
		}
		return summary.MostChangedFields[i].Count > summary.MostChangedFields[j].Count
	})
	if len(summary.MostChangedFields) > mostChangedFieldsLimit {
		summary.MostChangedFields = summary.MostChangedFields[:mostChangedFieldsLimit]
	}

	return summary, nil
}

// IntegrityChecks are reportable consistency conditions, not errors.
type IntegrityChecks struct {
	LogsWithoutUser            int64 `json:"logs_without_user"`
	LogsWithChangesButNoFields int64 `json:"logs_with_changes_but_no_fields"`
	SuspiciousBulkOperations   int   `json:"suspicious_bulk_operations"`
}

// BulkOperation is a flagged cluster of entries from one actor within one
// minute.
type BulkOperation struct {
	UserID int64  `json:"user_id"`
	Minute string `json:"minute"`
	Count  int64  `json:"count"`
}

// Coverage summarizes which tables and actors had activity in range.
type Coverage struct {
	TablesWithAudit   int `json:"tables_with_audit"`
	UsersWithActivity int `json:"users_with_activity"`
}

// ComplianceReport packages statistics, integrity checks, and the bulk
// operation heuristic over a required window.
type ComplianceReport struct {
	ReportPeriod    map[string]string `json:"report_period"`
	Statistics      *Statistics       `json:"statistics"`
	IntegrityChecks IntegrityChecks   `json:"integrity_checks"`
	BulkOperations  []BulkOperation   `json:"bulk_operations"`
	Coverage        Coverage          `json:"coverage"`
	GeneratedAt     string            `json:"generated_at"`
}

// GetComplianceReport builds the audit-trail compliance report for a
// required date range.
func (s *Service) GetComplianceReport(ctx context.Context, startDate, endDate time.Time) (*ComplianceReport, error) {
	cacheKey := fmt.Sprintf("compliance:%s:%s", dateKey(&startDate), dateKey(&endDate))
	if cached, ok := s.cachedReport(ctx, cacheKey, &ComplianceReport{}); ok {
		return cached.(*ComplianceReport), nil
	}

	until := endOfDay(&endDate)

	stats, err := s.GetStatistics(ctx, &startDate, &endDate)
	if err != nil {
		return nil, err
	}

	withoutUser, err := s.store.CountMissingUser(ctx, &startDate, until)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count entries without user")
	}
	missingFields, err := s.store.CountUpdatesMissingChangedFields(ctx, &startDate, until)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count updates without changed fields")
	}
	groups, err := s.store.BulkOperationGroups(ctx, startDate, *until, bulkOperationThreshold, bulkOperationLimit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "detect bulk operations")
	}

	bulkOps := make([]BulkOperation, 0, len(groups))
	for _, g := range groups {
		bulkOps = append(bulkOps, BulkOperation{
			UserID: g.UserID,
			Minute: g.Minute.Format(time.RFC3339),
			Count:  g.Count,
		})
	}

	report := &ComplianceReport{
		ReportPeriod: map[string]string{
			"start_date": dateKey(&startDate),
			"end_date":   dateKey(&endDate),
		},
		Statistics: stats,
		IntegrityChecks: IntegrityChecks{
			LogsWithoutUser:            withoutUser,
			LogsWithChangesButNoFields: missingFields,
			SuspiciousBulkOperations:   len(bulkOps),
		},
		BulkOperations: bulkOps,
		Coverage: Coverage{
			TablesWithAudit:   len(stats.ByTable),
			UsersWithActivity: len(stats.TopUsers),
		},
		GeneratedAt: requestcontext.Now(ctx).UTC().Format(time.RFC3339),
	}
	s.storeReport(ctx, cacheKey, report)
	return report, nil
}

// HealthReport summarizes whether the audit pipeline looks alive.
type HealthReport struct {
	Status            string     `json:"status"`
	TotalLogs         int64      `json:"total_logs"`
	LogsLast24h       int64      `json:"logs_last_24h"`
	AverageLogsPerDay float64    `json:"average_logs_per_day"`
	OldestLog         *time.Time `json:"oldest_log"`
	NewestLog         *time.Time `json:"newest_log"`
	Issues            []string   `json:"issues"`
}

// Health reports basic liveness facts about the ledger: a silent audit
// trail usually means a broken caller, not a quiet system.
func (s *Service) Health(ctx context.Context) (*HealthReport, error) {
	total, err := s.store.CountInRange(ctx, nil, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count audit entries")
	}

	now := requestcontext.Now(ctx)
	yesterday := now.Add(-24 * time.Hour)
	last24h, err := s.store.CountInRange(ctx, &yesterday, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count recent audit entries")
	}

	oldest, newest, err := s.store.Bounds(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "query ledger bounds")
	}

	report := &HealthReport{
		TotalLogs:   total,
		LogsLast24h: last24h,
		OldestLog:   oldest,
		NewestLog:   newest,
		Issues:      []string{},
	}
	if oldest != nil && newest != nil {
		days := int64(newest.Sub(*oldest).Hours() / 24)
		if days == 0 {
			days = 1
		}
		report.AverageLogsPerDay = float64(total) / float64(days)
	}

	if total == 0 {
		report.Issues = append(report.Issues, "no audit entries found - audit logging may not be wired up")
	} else if last24h == 0 {
		report.Issues = append(report.Issues, "no audit entries in the last 24 hours")
	}

	switch len(report.Issues) {
	case 0:
		report.Status = "healthy"
	case 1:
		report.Status = "warning"
	default:
		report.Status = "unhealthy"
	}
	return report, nil
}

// cachedReport fetches and unmarshals a cached report into dest; the bool
// reports a usable hit.
func (s *Service) cachedReport(ctx context.Context, key string, dest any) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		s.metrics.ObserveCacheMiss()
		return nil, false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.metrics.ObserveCacheMiss()
		return nil, false
	}
	s.metrics.ObserveCacheHit()
	return dest, true
}

// storeReport caches a computed report, best-effort.
func (s *Service) storeReport(ctx context.Context, key string, report any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.logger.Warn("audit report cache write failed", "key", key, "error", err)
	}
}

func dateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
