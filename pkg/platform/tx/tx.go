package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
// The audit store and record accessors join this transaction transparently,
// which is how a rollback's record mutation and its ledger entry end up in
// one unit of work.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	if !ok || tx == nil {
		return nil, false
	}
	return tx, true
}

// Detach shadows any transaction in ctx so downstream writes commit
// independently. Used by the best-effort audit write policy: an advisory
// ledger append must survive a rollback of the caller's transaction.
func Detach(ctx context.Context) context.Context {
	if _, ok := From(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, txKey, (*sql.Tx)(nil))
}
