// Package retention ages the ledger out. Deletion by retention policy is the
// single sanctioned exception to the ledger's append-only rule.
package retention

import (
	"context"
	"log/slog"
	"time"

	"transtrack/internal/audit/metrics"
	"transtrack/internal/audit/store"
	dErrors "transtrack/pkg/domain-errors"
	"transtrack/pkg/requestcontext"
)

// MinRetentionDays guards against a misconfigured policy wiping recent
// history.
const MinRetentionDays = 1

// Result describes one cleanup pass.
type Result struct {
	Cutoff     time.Time     `json:"cutoff"`
	Identified int64         `json:"identified"`
	Deleted    int64         `json:"deleted"`
	DryRun     bool          `json:"dry_run"`
	Took       time.Duration `json:"took"`
}

// Cleaner deletes audit entries older than a retention window.
type Cleaner struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Cleaner.
type Option func(*Cleaner)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cleaner) { c.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cleaner) { c.logger = logger }
}

func NewCleaner(st store.Store, opts ...Option) *Cleaner {
	c := &Cleaner{store: st, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Cleanup removes entries created before midnight of (today - retentionDays).
// With dryRun it only counts what a real pass would delete. The cutoff is
// date-truncated so repeated runs within one day are idempotent.
func (c *Cleaner) Cleanup(ctx context.Context, retentionDays int, dryRun bool) (*Result, error) {
	if retentionDays < MinRetentionDays {
		return nil, dErrors.Newf(dErrors.CodeValidation,
			"retention must be at least %d day(s), got %d", MinRetentionDays, retentionDays)
	}

	now := requestcontext.Now(ctx)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	cutoff := midnight.AddDate(0, 0, -retentionDays)
	started := time.Now()

	identified, err := c.store.CountOlderThan(ctx, cutoff)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count expired entries")
	}

	result := &Result{Cutoff: cutoff, Identified: identified, DryRun: dryRun}
	if dryRun || identified == 0 {
		result.Took = time.Since(started)
		c.logger.Info("retention pass complete",
			"cutoff", cutoff, "identified", identified, "deleted", 0, "dry_run", dryRun)
		return result, nil
	}

	deleted, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "delete expired entries")
	}
	result.Deleted = deleted
	result.Took = time.Since(started)

	c.metrics.ObserveRetentionDeleted(deleted)
	c.logger.Info("retention pass complete",
		"cutoff", cutoff, "identified", identified, "deleted", deleted, "dry_run", false)
	return result, nil
}

// Runner invokes the cleaner on a fixed interval until the context ends.
type Runner struct {
	cleaner       *Cleaner
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

func NewRunner(cleaner *Cleaner, retentionDays int, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cleaner: cleaner, retentionDays: retentionDays, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled. Errors from individual passes are logged
// and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.cleaner.Cleanup(ctx, r.retentionDays, false); err != nil {
				r.logger.Error("retention pass failed", "error", err)
			}
		}
	}
}
