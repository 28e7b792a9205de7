package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks caller-fixable input errors.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks missing or foreign-owned records.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks state-machine violations, e.g. retrying a live job.
	ErrConflict = errors.New("conflict")
)

// DuplicateError is returned when a submission collides on
// (customerId, idempotencyKey). It carries the existing job id so the
// caller can decide whether to poll it.
type DuplicateError struct {
	ExistingJobID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate request: job %s already exists for idempotency key", e.ExistingJobID)
}
