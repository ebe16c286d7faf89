package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotConfigured is returned when no active global bridge config
	// exists. It is surfaced to the operator and never retried.
	ErrNotConfigured = errors.New("bridge gateway not configured")

	// ErrDuplicate is returned on a unique-constraint violation. Callers
	// doing find-or-create treat it as "another writer got there first"
	// and re-read instead of failing.
	ErrDuplicate = errors.New("duplicate row")
)
