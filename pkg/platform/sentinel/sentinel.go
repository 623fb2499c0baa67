package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and record accessors return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: audit entry or live record does not exist in the store
// - ErrConflict: write conflicts with existing state
// - ErrUnavailable: backing store temporarily unavailable
//
// For validation errors (unknown table, missing snapshot data), use
// pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
