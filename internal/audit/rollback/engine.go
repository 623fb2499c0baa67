// Package rollback reverses a recorded mutation by replaying its inverse
// against the live table. The compensating write and the ledger entry that
// records it commit in one transaction, so a rollback is itself auditable
// and never half-applied.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"transtrack/internal/audit/metrics"
	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/internal/audit/service"
	"transtrack/internal/audit/snapshot"
	dErrors "transtrack/pkg/domain-errors"
	"transtrack/pkg/platform/sentinel"
	"transtrack/pkg/requestcontext"
)

// TxRunner executes fn inside one transaction; the transaction rides in the
// context fn receives, where stores and accessors pick it up.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxRunnerFunc adapts a function to TxRunner.
type TxRunnerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f TxRunnerFunc) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Result reports what a rollback did and the ledger entry it produced.
type Result struct {
	AuditID         int64            `json:"audit_id"`
	Operation       models.Operation `json:"operation"`
	TableName       string           `json:"table_name"`
	RecordID        int64            `json:"record_id"`
	RollbackAuditID int64            `json:"rollback_audit_id"`
	Message         string           `json:"message"`
}

// Engine dispatches rollbacks against registered tables.
type Engine struct {
	audit   *service.Service
	tables  *registry.Registry
	runner  TxRunner
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func New(audit *service.Service, tables *registry.Registry, runner TxRunner, opts ...Option) (*Engine, error) {
	if audit == nil {
		return nil, errors.New("rollback: audit service is required")
	}
	if tables == nil {
		return nil, errors.New("rollback: table registry is required")
	}
	if runner == nil {
		return nil, errors.New("rollback: transaction runner is required")
	}
	e := &Engine{
		audit:  audit,
		tables: tables,
		runner: runner,
		logger: slog.Default(),
		tracer: otel.Tracer("transtrack/rollback"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Rollback reverses the mutation recorded by auditID. The inverse applied
// depends on the recorded operation: an INSERT is undone by deleting the
// record, an UPDATE by restoring the old values, a DELETE by re-inserting
// the snapshot under its original id.
func (e *Engine) Rollback(ctx context.Context, auditID int64, reason string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "audit.rollback", trace.WithAttributes(
		attribute.Int64("audit.id", auditID),
	))
	defer span.End()

	entry, err := e.audit.Get(ctx, auditID)
	if err != nil {
		e.metrics.ObserveRollback("not_found")
		return nil, err
	}

	acc, err := e.tables.Lookup(entry.TableName)
	if err != nil {
		e.metrics.ObserveRollback("unregistered_table")
		return nil, dErrors.Wrap(err, dErrors.CodeValidation,
			fmt.Sprintf("table %q is not registered for rollback", entry.TableName))
	}

	// A rollback entry needs a correlation id even when no request is in
	// flight, e.g. when invoked from an operator tool.
	requestID := requestcontext.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var result *Result
	err = e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		result, txErr = e.apply(txCtx, entry, acc, requestID, reason)
		return txErr
	})
	if err != nil {
		e.metrics.ObserveRollback("failure")
		span.RecordError(err)
		e.logger.Error("rollback failed",
			"audit_id", auditID, "table", entry.TableName, "error", err)
		return nil, err
	}

	e.metrics.ObserveRollback("success")
	e.logger.Info("rollback applied",
		"audit_id", auditID,
		"table", entry.TableName,
		"record_id", entry.RecordID,
		"operation", entry.Operation,
		"rollback_audit_id", result.RollbackAuditID)
	return result, nil
}

// apply performs the inverse mutation and logs it, inside the caller's
// transaction.
func (e *Engine) apply(ctx context.Context, entry *models.AuditEntry, acc registry.Accessor, requestID, reason string) (*Result, error) {
	rollbackReason := fmt.Sprintf("Rollback of %s (audit_id=%d): %s", entry.Operation, entry.ID, reason)
	params := service.LogParams{
		TableName: entry.TableName,
		RecordID:  entry.RecordID,
		RequestID: requestID,
		Reason:    rollbackReason,
		ExtraData: map[string]any{models.ExtraKeyRollbackOf: entry.ID},
	}

	var message string
	switch entry.Operation {
	case models.OperationInsert:
		rec, err := acc.Get(ctx, entry.RecordID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Newf(dErrors.CodeNotFound,
					"record %s/%d no longer exists, nothing to roll back", entry.TableName, entry.RecordID)
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve record")
		}
		current := snapshot.Serialize(rec)
		if err := acc.Delete(ctx, entry.RecordID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "delete record")
		}
		params.Operation = models.OperationDelete
		params.OldValues = current
		message = fmt.Sprintf("deleted %s/%d to reverse its creation", entry.TableName, entry.RecordID)

	case models.OperationUpdate:
		if len(entry.OldValues) == 0 {
			return nil, dErrors.Newf(dErrors.CodeValidation,
				"audit entry %d has no previous values to restore", entry.ID)
		}
		rec, err := acc.Get(ctx, entry.RecordID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Newf(dErrors.CodeNotFound,
					"record %s/%d no longer exists, nothing to roll back", entry.TableName, entry.RecordID)
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve record")
		}
		current := snapshot.Serialize(rec)
		if err := acc.Update(ctx, entry.RecordID, entry.OldValues.Clone()); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "restore record")
		}
		restored, err := acc.Get(ctx, entry.RecordID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "re-read restored record")
		}
		params.Operation = models.OperationUpdate
		params.OldValues = current
		params.NewValues = snapshot.Serialize(restored)
		message = fmt.Sprintf("restored %s/%d to its previous state", entry.TableName, entry.RecordID)

	case models.OperationDelete:
		if len(entry.OldValues) == 0 {
			return nil, dErrors.Newf(dErrors.CodeValidation,
				"audit entry %d has no snapshot to re-create the record from", entry.ID)
		}
		rec, err := acc.FromSnapshot(entry.OldValues.Clone())
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "reconstruct record from snapshot")
		}
		if err := acc.Insert(ctx, rec); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "re-insert record")
		}
		params.Operation = models.OperationInsert
		params.NewValues = snapshot.Serialize(rec)
		message = fmt.Sprintf("re-created %s/%d from its last snapshot", entry.TableName, entry.RecordID)

	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown audit operation %q", entry.Operation)
	}

	logged, err := e.audit.LogInTx(ctx, params)
	if err != nil {
		return nil, err
	}

	return &Result{
		AuditID:         entry.ID,
		Operation:       entry.Operation,
		TableName:       entry.TableName,
		RecordID:        entry.RecordID,
		RollbackAuditID: logged.ID,
		Message:         message,
	}, nil
}
