// Package tracked performs audited mutations on registered tables. Every
// create, update, and delete goes through here so the record write and its
// ledger entry share one transaction.
package tracked

import (
	"context"
	"errors"

	"transtrack/internal/audit/models"
	"transtrack/internal/audit/registry"
	"transtrack/internal/audit/service"
	"transtrack/internal/audit/snapshot"
	dErrors "transtrack/pkg/domain-errors"
	"transtrack/pkg/platform/sentinel"
)

// Auditor is the slice of the audit service a tracked mutation needs.
type Auditor interface {
	Log(ctx context.Context, p service.LogParams) (*models.AuditEntry, error)
}

// TxRunner executes fn inside one transaction carried in fn's context.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service mutates tracked records with an audit trail.
type Service struct {
	tables *registry.Registry
	audit  Auditor
	runner TxRunner
}

func New(tables *registry.Registry, audit Auditor, runner TxRunner) (*Service, error) {
	if tables == nil {
		return nil, errors.New("tracked: table registry is required")
	}
	if audit == nil {
		return nil, errors.New("tracked: auditor is required")
	}
	if runner == nil {
		return nil, errors.New("tracked: transaction runner is required")
	}
	return &Service{tables: tables, audit: audit, runner: runner}, nil
}

// Create inserts rec into its table and records an INSERT entry carrying the
// new state.
func (s *Service) Create(ctx context.Context, rec registry.TrackedRecord, reason string) (registry.TrackedRecord, error) {
	acc, err := s.lookup(rec.TableName())
	if err != nil {
		return nil, err
	}

	var created registry.TrackedRecord
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := acc.Insert(txCtx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "insert record")
		}
		stored, err := acc.Get(txCtx, rec.RecordID())
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "re-read created record")
		}
		created = stored

		_, err = s.audit.Log(txCtx, service.LogParams{
			TableName: rec.TableName(),
			RecordID:  stored.RecordID(),
			Operation: models.OperationInsert,
			NewValues: snapshot.Serialize(stored),
			Reason:    reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update patches the given fields on the record and logs an UPDATE entry
// with both states; the changed-field list is derived from them.
func (s *Service) Update(ctx context.Context, tableName string, id int64, fields models.Snapshot, reason string) (registry.TrackedRecord, error) {
	acc, err := s.lookup(tableName)
	if err != nil {
		return nil, err
	}

	var updated registry.TrackedRecord
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		before, err := acc.Get(txCtx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "%s/%d not found", tableName, id)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "resolve record")
		}
		oldValues := snapshot.Serialize(before)

		if err := acc.Update(txCtx, id, fields); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update record")
		}
		after, err := acc.Get(txCtx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "re-read updated record")
		}
		updated = after

		_, err = s.audit.Log(txCtx, service.LogParams{
			TableName: tableName,
			RecordID:  id,
			Operation: models.OperationUpdate,
			OldValues: oldValues,
			NewValues: snapshot.Serialize(after),
			Reason:    reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the record and logs a DELETE entry carrying its final
// state, which is what a later rollback re-creates it from.
func (s *Service) Delete(ctx context.Context, tableName string, id int64, reason string) error {
	acc, err := s.lookup(tableName)
	if err != nil {
		return err
	}

	return s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		rec, err := acc.Get(txCtx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "%s/%d not found", tableName, id)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "resolve record")
		}
		oldValues := snapshot.Serialize(rec)

		if err := acc.Delete(txCtx, id); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "delete record")
		}

		_, err = s.audit.Log(txCtx, service.LogParams{
			TableName: tableName,
			RecordID:  id,
			Operation: models.OperationDelete,
			OldValues: oldValues,
			Reason:    reason,
		})
		return err
	})
}

func (s *Service) lookup(tableName string) (registry.Accessor, error) {
	acc, err := s.tables.Lookup(tableName)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "unknown table")
	}
	return acc, nil
}
