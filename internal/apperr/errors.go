// Package apperr holds sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyResolved is returned when a link group already points at a different page.
	ErrAlreadyResolved = errors.New("link group already resolved")
	// ErrSyncFailed wraps a rolled-back link sync. The sync may be retried.
	ErrSyncFailed      = errors.New("link sync failed")
	ErrInvalidDocument = errors.New("invalid document")
)
