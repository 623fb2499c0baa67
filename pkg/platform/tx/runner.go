package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "transtrack/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// SQLRunner executes a function inside one database transaction carried via
// context, so every store and accessor invoked by fn joins the same unit of
// work.
type SQLRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

// WithTimeout sets the deadline applied when the caller's context has none.
func (r *SQLRunner) WithTimeout(d time.Duration) *SQLRunner {
	r.timeout = d
	return r
}

// RunInTx begins a transaction, places it in context, and runs fn. The
// transaction commits only when fn returns nil. When ctx already carries a
// transaction, fn joins it and commit stays with the outer caller.
func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// PassthroughRunner runs fn directly with no transaction, for stores that
// keep state in memory.
type PassthroughRunner struct{}

func (PassthroughRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
