/*
errors.go - Error categories of the ledger core

PURPOSE:
  Callers classify with errors.Is / errors.As; the HTTP layer maps the
  categories to status codes.

ERROR CATEGORIES:
  1. Validation - Intent is structurally invalid. Raised before any write.
  2. Not found  - Referenced account/transaction/book/schedule is missing.
  3. Persistence - The atomic store write failed. No partial state exists,
     so the caller may retry the whole operation.
  4. Schedule consistency - A recurring occurrence could not be materialized
     and advanced as one step. Fails closed.

SEE ALSO:
  - ledger.go: Wraps store failures as PersistenceError
  - recurring.go: Raises ScheduleConsistencyError
*/
package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the category of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the category of every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrPersistence is returned when the atomic backend write fails.
	ErrPersistence = errors.New("persistence failed")

	// ErrScheduleConsistency is returned when materialize+advance could not
	// complete atomically.
	ErrScheduleConsistency = errors.New("schedule consistency")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists in the book.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrLastBook is returned when deleting the only book of a user.
	ErrLastBook = errors.New("cannot delete the only book")
)

// ValidationError describes why an intent was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "account", "transaction", "book", "recurring", "category"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError. Store implementations use it so the
// service layer can classify missing rows.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// PersistenceError wraps a failed atomic write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// ScheduleConsistencyError reports an occurrence that was neither
// materialized nor advanced.
type ScheduleConsistencyError struct {
	RecurringID RecurringID
	Occurrence  string // YYYY-MM-DD
	Err         error
}

func (e *ScheduleConsistencyError) Error() string {
	return fmt.Sprintf("recurring %s occurrence %s not materialized: %v", e.RecurringID, e.Occurrence, e.Err)
}

func (e *ScheduleConsistencyError) Unwrap() []error {
	return []error{ErrScheduleConsistency, e.Err}
}

// IsClientError reports whether the request itself was at fault. The same
// request will fail again.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrLastBook)
}

// IsNotFound reports a missing book, account, transaction, category or
// schedule.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports a failed atomic write. Nothing was applied, so the
// caller may resubmit the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) && !IsClientError(err) && !IsNotFound(err)
}

// persistence wraps store failures, leaving classified errors untouched.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
