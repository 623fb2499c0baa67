// Package postgres persists the audit ledger in PostgreSQL. The table is
// append-only: the only statements issued are INSERT, SELECT, and the bulk
// retention DELETE.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/store"
	"transtrack/pkg/platform/sentinel"
	txcontext "transtrack/pkg/platform/tx"
	"transtrack/pkg/requestcontext"
)

// Store implements store.Store on PostgreSQL. Writes join a caller
// transaction placed in context via pkg/platform/tx, which is how a
// rollback's ledger entry commits atomically with the record mutation.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const entryColumns = `id, table_name, record_id, operation, old_values, new_values,
	changed_fields, request_id, user_ip, user_agent, reason, extra_data, user_id, created_at`

func (s *Store) Insert(ctx context.Context, entry *models.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}

	oldValues, err := marshalSnapshot(entry.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newValues, err := marshalSnapshot(entry.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	extraData, err := marshalMap(entry.ExtraData)
	if err != nil {
		return fmt.Errorf("marshal extra data: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = requestcontext.Now(ctx)
	}

	query := `
		INSERT INTO audit_logs (
			table_name, record_id, operation, old_values, new_values,
			changed_fields, request_id, user_ip, user_agent, reason,
			extra_data, user_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	err = s.conn(ctx).QueryRowContext(ctx, query,
		entry.TableName,
		entry.RecordID,
		string(entry.Operation),
		oldValues,
		newValues,
		changedFieldsValue(entry.ChangedFields),
		nullString(entry.RequestID),
		nullString(entry.UserIP),
		nullString(entry.UserAgent),
		nullString(entry.Reason),
		extraData,
		nullInt64(entry.UserID),
		createdAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	entry.CreatedAt = createdAt
	return nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*models.AuditEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_logs WHERE id = $1`, entryColumns)
	entry, err := scanEntry(s.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("audit entry %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return entry, nil
}

func (s *Store) List(ctx context.Context, f store.Filter) ([]*models.AuditEntry, int64, error) {
	where, args := buildFilter(f)

	var total int64
	countQuery := `SELECT COUNT(*) FROM audit_logs` + where
	if err := s.conn(ctx).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY created_at DESC, id DESC`, entryColumns, where)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Skip > 0 {
		args = append(args, f.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) ListByRecord(ctx context.Context, tableName string, recordID int64) ([]*models.AuditEntry, error) {
	items, _, err := s.List(ctx, store.Filter{TableName: tableName, RecordID: recordID})
	return items, err
}

func (s *Store) ListByUser(ctx context.Context, userID int64, from, until *time.Time, limit int) ([]*models.AuditEntry, error) {
	items, _, err := s.List(ctx, store.Filter{UserID: userID, From: from, Until: until, Limit: limit})
	return items, err
}

func (s *Store) ListForExport(ctx context.Context, f store.Filter) ([]*models.AuditEntry, error) {
	where, args := buildFilter(f)
	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY created_at ASC, id ASC`, entryColumns, where)

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit export: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) CountInRange(ctx context.Context, from, until *time.Time) (int64, error) {
	where, args := buildFilter(store.Filter{From: from, Until: until})
	var count int64
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

func (s *Store) CountByOperation(ctx context.Context, from, until *time.Time) (map[models.Operation]int64, error) {
	where, args := buildFilter(store.Filter{From: from, Until: until})
	query := `SELECT operation, COUNT(*) FROM audit_logs` + where + ` GROUP BY operation`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by operation: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Operation]int64)
	for rows.Next() {
		var op string
		var count int64
		if err := rows.Scan(&op, &count); err != nil {
			return nil, fmt.Errorf("scan operation count: %w", err)
		}
		counts[models.Operation(op)] = count
	}
	return counts, rows.Err()
}

func (s *Store) CountByTable(ctx context.Context, from, until *time.Time) (map[string]int64, error) {
	where, args := buildFilter(store.Filter{From: from, Until: until})
	query := `SELECT table_name, COUNT(*) FROM audit_logs` + where + ` GROUP BY table_name`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by table: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var table string
		var count int64
		if err := rows.Scan(&table, &count); err != nil {
			return nil, fmt.Errorf("scan table count: %w", err)
		}
		counts[table] = count
	}
	return counts, rows.Err()
}

func (s *Store) TopUsers(ctx context.Context, from, until *time.Time, limit int) ([]store.UserCount, error) {
	where, args := buildFilter(store.Filter{From: from, Until: until})
	if where == "" {
		where = " WHERE user_id IS NOT NULL"
	} else {
		where += " AND user_id IS NOT NULL"
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT user_id, COUNT(*) AS count
		FROM audit_logs%s
		GROUP BY user_id
		ORDER BY count DESC, user_id ASC
		LIMIT $%d
	`, where, len(args))

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query top users: %w", err)
	}
	defer rows.Close()

	var top []store.UserCount
	for rows.Next() {
		var uc store.UserCount
		if err := rows.Scan(&uc.UserID, &uc.Count); err != nil {
			return nil, fmt.Errorf("scan user count: %w", err)
		}
		top = append(top, uc)
	}
	return top, rows.Err()
}

func (s *Store) ActivityByHour(ctx context.Context, since time.Time) (map[int]int64, error) {
	query := `
		SELECT EXTRACT(HOUR FROM created_at)::int AS hour, COUNT(*) AS count
		FROM audit_logs
		WHERE created_at >= $1
		GROUP BY hour
		ORDER BY hour
	`
	rows, err := s.conn(ctx).QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query hourly activity: %w", err)
	}
	defer rows.Close()

	byHour := make(map[int]int64)
	for rows.Next() {
		var hour int
		var count int64
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("scan hourly activity: %w", err)
		}
		byHour[hour] = count
	}
	return byHour, rows.Err()
}

func (s *Store) CountMissingUser(ctx context.Context, from, until *time.Time) (int64, error) {
	where, args := buildFilter(store.Filter{From: from, Until: until})
	if where == "" {
		where = " WHERE user_id IS NULL"
	} else {
		where += " AND user_id IS NULL"
	}
	var count int64
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entries without user: %w", err)
	}
	return count, nil
}

func (s *Store) CountUpdatesMissingChangedFields(ctx context.Context, from, until *time.Time) (int64, error) {
	where, args := buildFilter(store.Filter{From: from, Until: until, Operation: models.OperationUpdate})
	where += " AND new_values IS NOT NULL AND changed_fields IS NULL"
	var count int64
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count updates without changed fields: %w", err)
	}
	return count, nil
}

func (s *Store) BulkOperationGroups(ctx context.Context, from, until time.Time, threshold, limit int) ([]store.BulkGroup, error) {
	query := `
		SELECT user_id, DATE_TRUNC('minute', created_at) AS minute, COUNT(*) AS count
		FROM audit_logs
		WHERE created_at BETWEEN $1 AND $2
		  AND user_id IS NOT NULL
		GROUP BY user_id, DATE_TRUNC('minute', created_at)
		HAVING COUNT(*) > $3
		ORDER BY count DESC
		LIMIT $4
	`
	rows, err := s.conn(ctx).QueryContext(ctx, query, from, until, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query bulk operation groups: %w", err)
	}
	defer rows.Close()

	var groups []store.BulkGroup
	for rows.Next() {
		var g store.BulkGroup
		if err := rows.Scan(&g.UserID, &g.Minute, &g.Count); err != nil {
			return nil, fmt.Errorf("scan bulk group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) Bounds(ctx context.Context) (oldest, newest *time.Time, err error) {
	var minAt, maxAt sql.NullTime
	err = s.conn(ctx).QueryRowContext(ctx,
		`SELECT MIN(created_at), MAX(created_at) FROM audit_logs`,
	).Scan(&minAt, &maxAt)
	if err != nil {
		return nil, nil, fmt.Errorf("query ledger bounds: %w", err)
	}
	if minAt.Valid {
		oldest = &minAt.Time
	}
	if maxAt.Valid {
		newest = &maxAt.Time
	}
	return oldest, newest, nil
}

func (s *Store) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE created_at < $1`, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count expired audit entries: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM audit_logs WHERE created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted audit entries: %w", err)
	}
	return deleted, nil
}

// buildFilter renders the shared WHERE clause. The returned string is either
// empty or begins with " WHERE ...".
func buildFilter(f store.Filter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.TableName != "" {
		add("table_name = $%d", f.TableName)
	}
	if f.RecordID != 0 {
		add("record_id = $%d", f.RecordID)
	}
	if f.Operation != "" {
		add("operation = $%d", string(f.Operation))
	}
	if f.UserID != 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.Until != nil {
		add("created_at <= $%d", *f.Until)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(reason ILIKE $%d OR user_agent ILIKE $%d OR request_id ILIKE $%d)", n, n, n))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.AuditEntry, error) {
	var (
		entry         models.AuditEntry
		operation     string
		oldValues     []byte
		newValues     []byte
		extraData     []byte
		changedFields pq.StringArray
		requestID     sql.NullString
		userIP        sql.NullString
		userAgent     sql.NullString
		reason        sql.NullString
		userID        sql.NullInt64
	)

	err := row.Scan(
		&entry.ID,
		&entry.TableName,
		&entry.RecordID,
		&operation,
		&oldValues,
		&newValues,
		&changedFields,
		&requestID,
		&userIP,
		&userAgent,
		&reason,
		&extraData,
		&userID,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Operation = models.Operation(operation)
	entry.RequestID = requestID.String
	entry.UserIP = userIP.String
	entry.UserAgent = userAgent.String
	entry.Reason = reason.String
	if changedFields != nil {
		entry.ChangedFields = []string(changedFields)
	}
	if userID.Valid {
		entry.UserID = &userID.Int64
	}

	if oldValues != nil {
		if err := json.Unmarshal(oldValues, &entry.OldValues); err != nil {
			return nil, fmt.Errorf("unmarshal old values: %w", err)
		}
	}
	if newValues != nil {
		if err := json.Unmarshal(newValues, &entry.NewValues); err != nil {
			return nil, fmt.Errorf("unmarshal new values: %w", err)
		}
	}
	if extraData != nil {
		if err := json.Unmarshal(extraData, &entry.ExtraData); err != nil {
			return nil, fmt.Errorf("unmarshal extra data: %w", err)
		}
	}

	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]*models.AuditEntry, error) {
	var entries []*models.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func marshalSnapshot(snap models.Snapshot) (any, error) {
	if snap == nil {
		return nil, nil
	}
	return json.Marshal(map[string]any(snap))
}

func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func changedFieldsValue(fields []string) any {
	if fields == nil {
		return nil
	}
	return pq.Array(fields)
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullInt64(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}
