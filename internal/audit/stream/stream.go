// Package stream fans newly appended audit entries out to downstream
// consumers (reporting, notification collaborators). Publishing is strictly
// best-effort relative to the ledger: the ledger row is the source of truth
// and a failed publish never fails the write it mirrors.
package stream

import (
	"context"
	"log/slog"

	"transtrack/internal/audit/metrics"
	"transtrack/internal/audit/models"
)

// Sink receives every entry appended to the ledger.
type Sink interface {
	Publish(ctx context.Context, entry *models.AuditEntry) error
}

// Relay consumes entries from a channel and forwards them to a sink. It
// decouples the append path from slow downstream brokers; the service drops
// entries rather than block when the inbox is full, and the relay drops
// entries the sink rejects rather than stop.
type Relay struct {
	sink    Sink
	inbox   <-chan *models.AuditEntry
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func NewRelay(sink Sink, inbox <-chan *models.AuditEntry, opts ...RelayOption) *Relay {
	r := &Relay{sink: sink, inbox: inbox, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run forwards entries until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-r.inbox:
			if err := r.sink.Publish(ctx, entry); err != nil {
				r.metrics.ObserveStreamPublishFailure()
				r.logger.Warn("audit stream publish failed",
					"audit_id", entry.ID, "table", entry.TableName, "error", err)
			}
		}
	}
}
