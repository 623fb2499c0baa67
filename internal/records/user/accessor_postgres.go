package user

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

// PostgresAccessor implements registry.Accessor for the users table and the
// audit service's username resolution.
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

const columns = `id, username, full_name, email, department, team, role,
	is_active, password_hash, last_login_at, created_at, updated_at`

func (a *PostgresAccessor) Get(ctx context.Context, id int64) (registry.TrackedRecord, error) {
	row := a.conn(ctx).QueryRowContext(ctx,
		`SELECT `+columns+` FROM users WHERE id = $1`, id)

	var u User
	var department, team sql.NullString
	err := row.Scan(
		&u.ID, &u.Username, &u.FullName, &u.Email, &department, &team,
		&u.Role, &u.IsActive, &u.PasswordHash, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Department = department.String
	u.Team = team.String
	return &u, nil
}

// DisplayName resolves a user id to (username, full name) for audit exports
// and record histories.
func (a *PostgresAccessor) DisplayName(ctx context.Context, userID int64) (string, string, error) {
	row := a.conn(ctx).QueryRowContext(ctx,
		`SELECT username, full_name FROM users WHERE id = $1`, userID)

	var username, fullName string
	err := row.Scan(&username, &fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("user %d: %w", userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("resolve user: %w", err)
	}
	return username, fullName, nil
}

func (a *PostgresAccessor) Insert(ctx context.Context, rec registry.TrackedRecord) error {
	u, ok := rec.(*User)
	if !ok {
		return fmt.Errorf("unexpected record type %T for users", rec)
	}

	query := `
		INSERT INTO users (
			id, username, full_name, email, department, team, role,
			is_active, password_hash, last_login_at, created_at, updated_at
		)
		VALUES (
			COALESCE(NULLIF($1::bigint, 0), nextval(pg_get_serial_sequence('users', 'id'))),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING id`
	err := a.conn(ctx).QueryRowContext(ctx, query,
		u.ID, u.Username, u.FullName, u.Email,
		nullIfEmpty(u.Department), nullIfEmpty(u.Team), u.Role,
		u.IsActive, u.PasswordHash, u.LastLoginAt, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	_, err = a.conn(ctx).ExecContext(ctx, `
		SELECT setval(pg_get_serial_sequence('users', 'id'),
			GREATEST((SELECT MAX(id) FROM users), 1))`)
	if err != nil {
		return fmt.Errorf("advance users id sequence: %w", err)
	}
	return nil
}

var updatableColumns = map[string]func(models.Snapshot, string) (any, error){
	"username":      stringColumn,
	"full_name":     stringColumn,
	"email":         stringColumn,
	"department":    stringColumn,
	"team":          stringColumn,
	"role":          stringColumn,
	"is_active":     boolColumn,
	"password_hash": stringColumn,
	"last_login_at": timePtrColumn,
	"created_at":    timeColumn,
	"updated_at":    timeColumn,
}

func stringColumn(s models.Snapshot, k string) (any, error)  { return field.String(s, k) }
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
			return fmt.Errorf("update user: %w", err)
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), len(args))

	res, err := a.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (a *PostgresAccessor) Delete(ctx context.Context, id int64) error {
	res, err := a.conn(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", id, sentinel.ErrNotFound)
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
