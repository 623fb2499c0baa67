// Package service implements the audit ledger's write path and read side:
// entry creation with diff computation, listing and history, aggregate
// statistics, the compliance report, and export.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"transtrack/internal/audit/metrics"
	"transtrack/internal/audit/models"
	"transtrack/internal/audit/snapshot"
	"transtrack/internal/audit/store"
	dErrors "transtrack/pkg/domain-errors"
	txcontext "transtrack/pkg/platform/tx"
	"transtrack/pkg/requestcontext"
)

// WritePolicy controls whether ledger appends join the caller's transaction.
type WritePolicy string

const (
	// WritePolicySameTx joins a transaction carried in context, so the
	// audit row commits or rolls back with the domain write it records.
	WritePolicySameTx WritePolicy = "same_tx"

	// WritePolicyBestEffort always commits the audit row independently.
	// Callers treat append failures as non-fatal to the primary write.
	WritePolicyBestEffort WritePolicy = "best_effort"
)

// UserResolver turns an actor id into display names for history envelopes
// and export rows. Optional; when absent names stay empty.
type UserResolver interface {
	DisplayName(ctx context.Context, userID int64) (username, fullName string, err error)
}

// Service is the audit engine's public surface for domain services and the
// rollback engine.
type Service struct {
	store    store.Store
	users    UserResolver
	cache    Cache
	cacheTTL time.Duration
	inbox    chan<- *models.AuditEntry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	policy   WritePolicy
	tracer   trace.Tracer
}

// Cache mirrors internal/audit/cache.Cache; declared here so the service
// does not depend on a concrete cache package.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Option configures optional collaborators.
type Option func(*Service)

func WithUserResolver(users UserResolver) Option {
	return func(s *Service) { s.users = users }
}

// WithCache enables TTL caching of statistics and compliance reports.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithStream fans appended entries out to the given inbox. Sends never
// block: when the inbox is full the entry is dropped and counted.
func WithStream(inbox chan<- *models.AuditEntry) Option {
	return func(s *Service) { s.inbox = inbox }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithWritePolicy(policy WritePolicy) Option {
	return func(s *Service) { s.policy = policy }
}

func New(st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	s := &Service{
		store:  st,
		logger: slog.Default(),
		policy: WritePolicySameTx,
		tracer: otel.Tracer("transtrack/audit"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// LogParams describes one recorded mutation. Request context fields left
// empty are filled from the context set by the host's middleware.
type LogParams struct {
	TableName string
	RecordID  int64
	Operation models.Operation

	OldValues models.Snapshot
	NewValues models.Snapshot

	UserID    *int64
	RequestID string
	UserIP    string
	UserAgent string
	Reason    string
	ExtraData map[string]any
}

// Log appends one entry to the ledger and returns it with its assigned id
// and timestamp. For UPDATE entries with both snapshots present the changed
// field set is computed here; in all other cases it stays null.
//
// Under WritePolicyBestEffort the append always commits on its own
// connection, even when the caller is mid-transaction.
func (s *Service) Log(ctx context.Context, p LogParams) (*models.AuditEntry, error) {
	return s.log(ctx, p, false)
}

// LogInTx behaves like Log but always joins a transaction carried in ctx,
// regardless of write policy. Rollbacks use it so the compensating write and
// the ledger entry recording it commit together.
func (s *Service) LogInTx(ctx context.Context, p LogParams) (*models.AuditEntry, error) {
	return s.log(ctx, p, true)
}

func (s *Service) log(ctx context.Context, p LogParams, forceSameTx bool) (*models.AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "audit.log", trace.WithAttributes(
		attribute.String("audit.table", p.TableName),
		attribute.String("audit.operation", string(p.Operation)),
	))
	defer span.End()

	if !p.Operation.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown audit operation %q", p.Operation)
	}

	entry := &models.AuditEntry{
		TableName: p.TableName,
		RecordID:  p.RecordID,
		Operation: p.Operation,
		OldValues: p.OldValues,
		NewValues: p.NewValues,
		RequestID: p.RequestID,
		UserIP:    p.UserIP,
		UserAgent: p.UserAgent,
		Reason:    p.Reason,
		ExtraData: p.ExtraData,
		UserID:    p.UserID,
	}

	// The snapshot invariants hold regardless of what the caller passed.
	switch p.Operation {
	case models.OperationInsert:
		entry.OldValues = nil
	case models.OperationDelete:
		entry.NewValues = nil
	case models.OperationUpdate:
		if entry.OldValues != nil && entry.NewValues != nil {
			entry.ChangedFields = snapshot.Diff(entry.OldValues, entry.NewValues)
		}
	}

	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.UserIP == "" {
		entry.UserIP = requestcontext.ClientIP(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = requestcontext.UserAgent(ctx)
	}
	if entry.UserID == nil {
		if userID, ok := requestcontext.UserID(ctx); ok {
			entry.UserID = &userID
		}
	}

	writeCtx := ctx
	if s.policy == WritePolicyBestEffort && !forceSameTx {
		writeCtx = txcontext.Detach(ctx)
	}
	if err := s.store.Insert(writeCtx, entry); err != nil {
		s.metrics.ObserveWriteFailure()
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append audit entry")
	}
	s.metrics.ObserveEntry(string(entry.Operation), entry.TableName)

	if s.inbox != nil {
		select {
		case s.inbox <- entry:
		default:
			s.metrics.ObserveStreamPublishFailure()
			s.logger.Warn("audit stream inbox full, entry dropped",
				"audit_id", entry.ID, "table", entry.TableName)
		}
	}

	return entry, nil
}
