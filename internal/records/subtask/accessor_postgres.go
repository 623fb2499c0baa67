package subtask

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/internal/records/field"
	"transtrack/pkg/platform/sentinel"
	txcontext "transtrack/pkg/platform/tx"
)

// PostgresAccessor implements registry.Accessor for the sub_tasks table.
type PostgresAccessor struct {
	db *sql.DB
}

func NewPostgresAccessor(db *sql.DB) *PostgresAccessor {
	return &PostgresAccessor{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (a *PostgresAccessor) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return a.db
}

const columns = `id, application_id, module_name, sub_target, version_name,
	task_status, progress_percentage, is_blocked, block_reason,
	planned_biz_online_date, actual_biz_online_date, priority,
	estimated_hours, assigned_to, reviewer, created_by, updated_by,
	created_at, updated_at`

func (a *PostgresAccessor) Get(ctx context.Context, id int64) (registry.TrackedRecord, error) {
	row := a.conn(ctx).QueryRowContext(ctx,
		`SELECT `+columns+` FROM sub_tasks WHERE id = $1`, id)

	var t SubTask
	var versionName, blockReason, assignedTo, reviewer sql.NullString
	var estimatedHours sql.NullInt64
	err := row.Scan(
		&t.ID, &t.ApplicationID, &t.ModuleName, &t.SubTarget, &versionName,
		&t.TaskStatus, &t.ProgressPercentage, &t.IsBlocked, &blockReason,
		&t.PlannedBizOnlineDate, &t.ActualBizOnlineDate, &t.Priority,
		&estimatedHours, &assignedTo, &reviewer, &t.CreatedBy, &t.UpdatedBy,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subtask %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subtask: %w", err)
	}
	t.VersionName = versionName.String
	t.BlockReason = blockReason.String
	t.AssignedTo = assignedTo.String
	t.Reviewer = reviewer.String
	if estimatedHours.Valid {
		t.EstimatedHours = &estimatedHours.Int64
	}
	return &t, nil
}

func (a *PostgresAccessor) Insert(ctx context.Context, rec registry.TrackedRecord) error {
	t, ok := rec.(*SubTask)
	if !ok {
		return fmt.Errorf("unexpected record type %T for sub_tasks", rec)
	}

	query := `
		INSERT INTO sub_tasks (
			id, application_id, module_name, sub_target, version_name,
			task_status, progress_percentage, is_blocked, block_reason,
			planned_biz_online_date, actual_biz_online_date, priority,
			estimated_hours, assigned_to, reviewer, created_by, updated_by,
			created_at, updated_at
		)
		VALUES (
			COALESCE(NULLIF($1::bigint, 0), nextval(pg_get_serial_sequence('sub_tasks', 'id'))),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		RETURNING id`
	err := a.conn(ctx).QueryRowContext(ctx, query,
		t.ID, t.ApplicationID, t.ModuleName, t.SubTarget,
		nullIfEmpty(t.VersionName), t.TaskStatus, t.ProgressPercentage,
		t.IsBlocked, nullIfEmpty(t.BlockReason), t.PlannedBizOnlineDate,
		t.ActualBizOnlineDate, t.Priority, t.EstimatedHours,
		nullIfEmpty(t.AssignedTo), nullIfEmpty(t.Reviewer),
		t.CreatedBy, t.UpdatedBy, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert subtask: %w", err)
	}

	_, err = a.conn(ctx).ExecContext(ctx, `
		SELECT setval(pg_get_serial_sequence('sub_tasks', 'id'),
			GREATEST((SELECT MAX(id) FROM sub_tasks), 1))`)
	if err != nil {
		return fmt.Errorf("advance sub_tasks id sequence: %w", err)
	}
	return nil
}

var updatableColumns = map[string]func(models.Snapshot, string) (any, error){
	"application_id":          int64Column,
	"module_name":             stringColumn,
	"sub_target":              stringColumn,
	"version_name":            stringColumn,
	"task_status":             stringColumn,
	"progress_percentage":     intColumn,
	"is_blocked":              boolColumn,
	"block_reason":            stringColumn,
	"planned_biz_online_date": timePtrColumn,
	"actual_biz_online_date":  timePtrColumn,
	"priority":                intColumn,
	"estimated_hours":         int64PtrColumn,
	"assigned_to":             stringColumn,
	"reviewer":                stringColumn,
	"created_by":              int64Column,
	"updated_by":              int64Column,
	"created_at":              timeColumn,
	"updated_at":              timeColumn,
}

func stringColumn(s models.Snapshot, k string) (any, error)   { return field.String(s, k) }
func intColumn(s models.Snapshot, k string) (any, error)      { return field.Int(s, k) }
func int64Column(s models.Snapshot, k string) (any, error)    { return field.Int64(s, k) }
func int64PtrColumn(s models.Snapshot, k string) (any, error) { return field.Int64Ptr(s, k) }
func boolColumn(s models.Snapshot, k string) (any, error)     { return field.Bool(s, k) }
func timeColumn(s models.Snapshot, k string) (any, error)     { return field.Time(s, k) }
func timePtrColumn(s models.Snapshot, k string) (any, error)  { return field.TimePtr(s, k) }

func (a *PostgresAccessor) Update(ctx context.Context, id int64, fields models.Snapshot) error {
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, col := range sortedKeys(fields) {
		coerce, ok := updatableColumns[col]
		if !ok {
			continue
		}
		value, err := coerce(fields, col)
		if err != nil {
			return fmt.Errorf("update subtask: %w", err)
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE sub_tasks SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), len(args))

	res, err := a.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subtask %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (a *PostgresAccessor) Delete(ctx context.Context, id int64) error {
	res, err := a.conn(ctx).ExecContext(ctx, `DELETE FROM sub_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subtask %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (a *PostgresAccessor) FromSnapshot(snap models.Snapshot) (registry.TrackedRecord, error) {
	return FromSnapshot(snap)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sortedKeys(snap models.Snapshot) []string {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
