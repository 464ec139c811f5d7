package domain

import (
	"errors"
	"fmt"
)

// TransportError wraps connection-level failures (lost connection,
// timeout). Retried with backoff; never fatal below the coordinator.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is a credential or token failure. Fatal: the process must
// not silently retry bad credentials forever.
type AuthError struct {
	Stage  string // "application" or "account"
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed at %s: %s", e.Stage, e.Reason)
}

// NotFoundError means a decision referenced a master position absent
// from the ledger. Logged, decision skipped, reconciliation triggered.
type NotFoundError struct {
	MasterPositionID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("position %d not in ledger", e.MasterPositionID)
}

// DuplicateKeyError means an OPEN arrived for a master position the
// ledger already tracks. Indicates a classifier bug or duplicate event.
type DuplicateKeyError struct {
	MasterPositionID int64
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("position %d already in ledger", e.MasterPositionID)
}

// RejectedOrderError is a business rejection from the venue (invalid
// volume, unknown symbol, insufficient margin). Never retried.
type RejectedOrderError struct {
	Code   string
	Reason string
}

func (e *RejectedOrderError) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", e.Code, e.Reason)
}

// IsTransient reports whether the dispatcher may retry after err.
// Only transport-level failures qualify; business rejections and
// ledger errors are final.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
