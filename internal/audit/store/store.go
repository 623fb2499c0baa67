// Package store defines the append-only ledger contract. Implementations
// live in store/postgres (production) and store/memory (tests and
// single-process use).
package store

import (
	"context"
	"time"

	"transtrack/internal/audit/models"
)

// Filter narrows List and ListForExport results. Zero values mean "no
// constraint"; Until is expected to already be inclusive (the service layer
// extends an end date through end of day before it reaches the store).
type Filter struct {
	TableName string
	RecordID  int64
	Operation models.Operation
	UserID    int64
	From      *time.Time
	Until     *time.Time

	// Search matches substrings of reason, user agent, or request id,
	// case-insensitively (logical OR).
	Search string

	Skip  int
	Limit int
}

// UserCount is one row of the top-users breakdown.
type UserCount struct {
	UserID int64
	Count  int64
}

// BulkGroup is a cluster of entries from one actor within one
// minute-truncated timestamp.
type BulkGroup struct {
	UserID int64
	Minute time.Time
	Count  int64
}

// Store is the append-only ledger. Insert assigns ID and CreatedAt; nothing
// ever mutates an entry after that. Reads order by created_at descending
// unless stated otherwise.
type Store interface {
	Insert(ctx context.Context, entry *models.AuditEntry) error
	GetByID(ctx context.Context, id int64) (*models.AuditEntry, error)

	// List returns a page of entries plus the total count matching the
	// filter, newest first.
	List(ctx context.Context, f Filter) ([]*models.AuditEntry, int64, error)

	// ListByRecord returns the full history for one record, newest first.
	ListByRecord(ctx context.Context, tableName string, recordID int64) ([]*models.AuditEntry, error)

	// ListByUser returns entries attributed to one actor, newest first.
	ListByUser(ctx context.Context, userID int64, from, until *time.Time, limit int) ([]*models.AuditEntry, error)

	// ListForExport returns all matching entries oldest first, unpaginated.
	ListForExport(ctx context.Context, f Filter) ([]*models.AuditEntry, error)

	// Aggregates over an optional window.
	CountInRange(ctx context.Context, from, until *time.Time) (int64, error)
	CountByOperation(ctx context.Context, from, until *time.Time) (map[models.Operation]int64, error)
	CountByTable(ctx context.Context, from, until *time.Time) (map[string]int64, error)
	TopUsers(ctx context.Context, from, until *time.Time, limit int) ([]UserCount, error)
	ActivityByHour(ctx context.Context, since time.Time) (map[int]int64, error)

	// Compliance integrity scans.
	CountMissingUser(ctx context.Context, from, until *time.Time) (int64, error)
	CountUpdatesMissingChangedFields(ctx context.Context, from, until *time.Time) (int64, error)
	BulkOperationGroups(ctx context.Context, from, until time.Time, threshold, limit int) ([]BulkGroup, error)

	// Bounds returns the oldest and newest entry timestamps, or nils when
	// the ledger is empty.
	Bounds(ctx context.Context) (oldest, newest *time.Time, err error)

	// Retention.
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
