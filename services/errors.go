package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no donation matches the given identifiers.
var ErrNotFound = errors.New("donation not found")

// ErrAuthentication is returned for webhook requests whose signature does
// not verify. The payload is never parsed in that case.
var ErrAuthentication = errors.New("invalid signature")

// ValidationError covers malformed or missing donor/amount input. Surfaced
// as 4xx, never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// OrphanedOrderError marks the one structurally unavoidable inconsistency:
// the gateway order was created but the local donation write failed. The
// order is never silently discarded and never re-created (duplicate-charge
// risk); operations reconcile it manually from the log.
type OrphanedOrderError struct {
	OrderID string
	Err     error
}

func (e *OrphanedOrderError) Error() string {
	return fmt.Sprintf("payment order %s was created but the donation record could not be saved: %v", e.OrderID, e.Err)
}

func (e *OrphanedOrderError) Unwrap() error { return e.Err }
