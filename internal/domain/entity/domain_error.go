package entity

import (
	"errors"
	"fmt"

	"docpipeline/internal/domain/valueobject"
)

// Kinds of domain errors. Match them with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DomainError is a rule violation raised by an entity.
type DomainError struct {
	kind    error
	message string
}

func (e *DomainError) Error() string { return e.message }

func (e *DomainError) Unwrap() error { return e.kind }

// InvalidArgument reports a rejected input value.
func InvalidArgument(format string, args ...any) error {
	return &DomainError{kind: ErrInvalidArgument, message: fmt.Sprintf(format, args...)}
}

func invalidTransition(action string, from valueobject.JobStatus) error {
	return &DomainError{
		kind:    ErrInvalidTransition,
		message: fmt.Sprintf("cannot %s job in status %s", action, from),
	}
}

// IsInvalidTransition reports whether err is a rejected status transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
