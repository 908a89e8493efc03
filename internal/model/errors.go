package model

import "errors"

// Sentinel errors shared by all components. Stores and services wrap them
// with context; callers test with errors.Is.
//
// NoMatch, NoEnrollment and AlreadyMarked are not errors: they are ordinary
// results returned by the matcher and the ledger.
var (
	// ErrDimensionMismatch: an embedding's length differs from the store's
	// fixed dimensionality. The write is rejected.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidEmbedding: an embedding contains NaN or infinite components.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrInvalidTolerance: a negative match tolerance.
	ErrInvalidTolerance = errors.New("invalid tolerance")

	// ErrInvalidRecord: a record is malformed (empty natural key, bad
	// timestamp).
	ErrInvalidRecord = errors.New("invalid record")

	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrReindexFailure: the reindex transaction aborted; no renumbering is
	// visible. Safe to retry.
	ErrReindexFailure = errors.New("reindex failed")

	// ErrSyncBatchFailure: a batch was rejected or not acknowledged; no
	// record changed state. Retry the whole batch later.
	ErrSyncBatchFailure = errors.New("sync batch failed")

	// ErrStoreUnavailable: the store stayed locked past the retry budget.
	ErrStoreUnavailable = errors.New("store unavailable")
)
