package application

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

// PostgresAccessor implements registry.Accessor for the applications table.
// All statements join a caller transaction placed in context via
// pkg/platform/tx.
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

const columns = `id, l2_id, app_name, supervision_year, transformation_target,
	overall_status, responsible_team, responsible_person, progress_percentage,
	is_delayed, delay_days, planned_biz_online_date, actual_biz_online_date,
	notes, created_by, updated_by, created_at, updated_at`

func (a *PostgresAccessor) Get(ctx context.Context, id int64) (registry.TrackedRecord, error) {
	row := a.conn(ctx).QueryRowContext(ctx,
		`SELECT `+columns+` FROM applications WHERE id = $1`, id)

	var app Application
	var responsiblePerson, notes sql.NullString
	err := row.Scan(
		&app.ID, &app.L2ID, &app.AppName, &app.SupervisionYear,
		&app.TransformationTarget, &app.OverallStatus, &app.ResponsibleTeam,
		&responsiblePerson, &app.ProgressPercentage, &app.IsDelayed,
		&app.DelayDays, &app.PlannedBizOnlineDate, &app.ActualBizOnlineDate,
		&notes, &app.CreatedBy, &app.UpdatedBy, &app.CreatedAt, &app.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	app.ResponsiblePerson = responsiblePerson.String
	app.Notes = notes.String
	return &app, nil
}

// Insert persists an application. A record carrying an id keeps it, which is
// how a rolled-back deletion restores the original identity; the sequence is
// then bumped past it so future inserts cannot collide. A zero id takes the
// next sequence value.
func (a *PostgresAccessor) Insert(ctx context.Context, rec registry.TrackedRecord) error {
	app, ok := rec.(*Application)
	if !ok {
		return fmt.Errorf("unexpected record type %T for applications", rec)
	}

	query := `
		INSERT INTO applications (
			id, l2_id, app_name, supervision_year, transformation_target,
			overall_status, responsible_team, responsible_person,
			progress_percentage, is_delayed, delay_days,
			planned_biz_online_date, actual_biz_online_date, notes,
			created_by, updated_by, created_at, updated_at
		)
		VALUES (
			COALESCE(NULLIF($1::bigint, 0), nextval(pg_get_serial_sequence('applications', 'id'))),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
		RETURNING id`
	err := a.conn(ctx).QueryRowContext(ctx, query,
		app.ID, app.L2ID, app.AppName, app.SupervisionYear,
		app.TransformationTarget, app.OverallStatus, app.ResponsibleTeam,
		nullIfEmpty(app.ResponsiblePerson), app.ProgressPercentage,
		app.IsDelayed, app.DelayDays, app.PlannedBizOnlineDate,
		app.ActualBizOnlineDate, nullIfEmpty(app.Notes),
		app.CreatedBy, app.UpdatedBy, app.CreatedAt, app.UpdatedAt,
	).Scan(&app.ID)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}

	_, err = a.conn(ctx).ExecContext(ctx, `
		SELECT setval(pg_get_serial_sequence('applications', 'id'),
			GREATEST((SELECT MAX(id) FROM applications), 1))`)
	if err != nil {
		return fmt.Errorf("advance applications id sequence: %w", err)
	}
	return nil
}

// updatableColumns maps patchable columns to a coercion from snapshot
// values. Columns absent from the map, id included, are ignored.
var updatableColumns = map[string]func(models.Snapshot, string) (any, error){
	"l2_id":                   stringColumn,
	"app_name":                stringColumn,
	"supervision_year":        intColumn,
	"transformation_target":   stringColumn,
	"overall_status":          stringColumn,
	"responsible_team":        stringColumn,
	"responsible_person":      stringColumn,
	"progress_percentage":     intColumn,
	"is_delayed":              boolColumn,
	"delay_days":              intColumn,
	"planned_biz_online_date": timePtrColumn,
	"actual_biz_online_date":  timePtrColumn,
	"notes":                   stringColumn,
	"created_by":              int64Column,
	"updated_by":              int64Column,
	"created_at":              timeColumn,
	"updated_at":              timeColumn,
}

func stringColumn(s models.Snapshot, k string) (any, error)  { return field.String(s, k) }
func intColumn(s models.Snapshot, k string) (any, error)     { return field.Int(s, k) }
func int64Column(s models.Snapshot, k string) (any, error)   { return field.Int64(s, k) }
func boolColumn(s models.Snapshot, k string) (any, error)    { return field.Bool(s, k) }
func timeColumn(s models.Snapshot, k string) (any, error)    { return field.Time(s, k) }
func timePtrColumn(s models.Snapshot, k string) (any, error) { return field.TimePtr(s, k) }

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
			return fmt.Errorf("update application: %w", err)
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE applications SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), len(args))

	res, err := a.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("application %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (a *PostgresAccessor) Delete(ctx context.Context, id int64) error {
	res, err := a.conn(ctx).ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("application %d: %w", id, sentinel.ErrNotFound)
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
