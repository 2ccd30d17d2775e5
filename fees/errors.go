/*
errors.go - Centralized error types for the fee accounting core

ERROR CATEGORIES:
  1. Validation errors - malformed or missing input, never retried
  2. Not-found errors - unresolvable student, school, structure or payment
  3. Conflict errors - duplicate payment reference or fee structure key
  4. Authorization errors - cross-school access attempts

USAGE:
  Callers branch with the helpers:

    if fees.IsConflict(err) {
        // duplicate reference: safe to acknowledge and drop
    }

Store implementations translate unique-constraint violations into
ErrReferenceExists / ErrStructureExists so callers never see driver errors.
*/
package fees

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrReferenceExists is returned when a ledger entry with the same
	// payment reference already exists. This is the idempotency gate for
	// redelivered gateway notifications: expected behavior for retries.
	ErrReferenceExists = errors.New("payment reference already exists")

	// ErrStructureExists is returned when a fee structure for the same
	// (school, grade, academic year) already exists.
	ErrStructureExists = errors.New("fee structure already exists")

	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrStructureNotFound is returned when no fee structure matches.
	ErrStructureNotFound = errors.New("fee structure not found")

	// ErrStudentNotFound is returned when a student cannot be resolved
	// within the school.
	ErrStudentNotFound = errors.New("student not found")

	// ErrSchoolNotFound is returned when a school cannot be resolved.
	ErrSchoolNotFound = errors.New("school not found")

	// ErrEnrollmentNotFound is returned when a student has no enrollment
	// record at all, for any year.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrActorNotFound is returned when a recording actor cannot be resolved.
	ErrActorNotFound = errors.New("actor not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// FieldError points at a specific invalid input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports malformed or missing input. It is always
// surfaced to the caller and never retried.
type ValidationError struct {
	Msg    string
	Fields []FieldError
}

func NewValidationError(msg string, flds ...FieldError) error {
	return &ValidationError{Msg: msg, Fields: flds}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s: %s", e.Msg, e.Fields[0].Field, e.Fields[0].Error)
}

// AuthorizationError reports a cross-school or role violation. It is
// always surfaced, never silently dropped.
type AuthorizationError struct {
	ActorID  string
	Action   Action
	Resource string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s is not allowed to %s %s", e.ActorID, e.Action, e.Resource)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrStructureNotFound) ||
		errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrSchoolNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrActorNotFound)
}

// IsConflict reports whether err is a duplicate-key conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrReferenceExists) ||
		errors.Is(err, ErrStructureExists)
}

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}
