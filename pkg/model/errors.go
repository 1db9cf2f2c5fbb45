package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInactiveRace rejects ledger mutations while the race is not running.
	ErrInactiveRace = errors.New("race is not started")
	// ErrOrderViolation rejects operations that break the fixed segment order.
	ErrOrderViolation = errors.New("segment order violation")
	// ErrDuplicateAssignment rejects rebinding an already completed segment.
	ErrDuplicateAssignment = errors.New("segment already assigned")
	// ErrPrecondition rejects illegal race lifecycle transitions.
	ErrPrecondition = errors.New("race lifecycle precondition failed")
	// ErrUnsupportedFormat rejects unknown export formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// TransportError wraps a collaborator failure. The cause is opaque to the
// core; callers only ever decide retry-vs-surface.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransport wraps cause as a transport failure, nil stays nil.
func NewTransport(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &TransportError{Op: op, Cause: cause}
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
