package shared

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every domain package. Domain errors wrap one of these
// so transports can classify them with errors.Is.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input; nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStateTransition indicates the entity is not in a state that allows the operation.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrConflict indicates a uniqueness clash with existing data.
	ErrConflict = errors.New("conflict")
	// ErrConsistencyViolation indicates the ledger identity or journal replay does not hold.
	ErrConsistencyViolation = errors.New("ledger consistency violation")
	// ErrExternalDependency indicates a collaborator outside the store failed.
	ErrExternalDependency = errors.New("external dependency failed")
	// ErrUnauthorized indicates a mutation without an actor.
	ErrUnauthorized = errors.New("actor required")
)

// Validationf builds an ErrValidation carrying a specific reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transitionf builds an ErrInvalidStateTransition carrying a specific reason.
func Transitionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidStateTransition, fmt.Sprintf(format, args...))
}
