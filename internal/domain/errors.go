package domain

import "errors"

var (
	// ErrNotFound is returned by lookups that address a missing entity by id.
	// An identity miss during reconciliation is not an error.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidObservation is returned when an observation fails validation
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrResolutionUnbounded is returned when a name resolution chain does not
	// terminate within the configured bounds. The partial result stays usable.
	ErrResolutionUnbounded = errors.New("resolution chain unbounded")

	// ErrRepositoryUnavailable is returned when the storage layer fails. The
	// current transaction is aborted and may be retried.
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
