// Package services defines the business logic for idempotent newsletter
// publishing and asynchronous delivery. This file centralizes the error
// taxonomy shared by the service layer.
//
// Service methods return *Error values tagged with a Kind. Translation into
// HTTP status codes happens at the handler layer via KindOf.
package services

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: malformed client input; rejected before persistence.
	KindValidation
	// KindLockWait: waiting on a concurrent request with the same key failed
	// or timed out. Safe for the client to retry.
	KindLockWait
	// KindPersistence: a transaction, statement or commit failed, or no pool
	// connection was available in time.
	KindPersistence
	// KindTransientDelivery: the transport may accept a later attempt.
	KindTransientDelivery
	// KindPermanentDelivery: the delivery can never succeed.
	KindPermanentDelivery
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindLockWait:
		return "lock_wait"
	case KindPersistence:
		return "persistence"
	case KindTransientDelivery:
		return "transient_delivery"
	case KindPermanentDelivery:
		return "permanent_delivery"
	default:
		return "unknown"
	}
}

// Error is a tagged service error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ErrIssueNotFound indicates that the requested newsletter issue does not exist.
var ErrIssueNotFound = errors.New("newsletter issue not found")
