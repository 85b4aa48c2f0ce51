/*
errors.go - Centralized error types for the reimbursement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The engine itself degrades gracefully (missing reference data becomes zero
  or "unclassified"); the errors here are for the few conditions that must
  reach the caller and for the repository layer.

ERROR CATEGORIES:
  1. Input errors - Non-finite numbers, forbidden overrides, bad payloads
  2. Repository errors - Missing records, optimistic lock conflicts

USAGE:
  if errors.Is(err, generic.ErrOverrideNotAllowed) {
      // 400 Bad Request
  }

SEE ALSO:
  - grd/service.go: Wraps these errors with episode context
  - api/handlers.go: Maps them to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEpisodeNotFound is returned when a referenced episode doesn't exist.
	ErrEpisodeNotFound = errors.New("episode not found")

	// ErrGrdRuleNotFound is returned when a referenced GRD code doesn't exist.
	ErrGrdRuleNotFound = errors.New("grd rule not found")

	// ErrPatientNotFound is returned when a referenced patient doesn't exist.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrConcurrentModification is returned when the optimistic version check
	// on an episode write detects that another writer got there first.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidNumber is returned when a structurally required number is NaN
	// or infinite.
	ErrInvalidNumber = errors.New("invalid number")

	// ErrOverrideNotAllowed is returned when a manual group value or final
	// amount is written to an episode that is not flagged outside the normal
	// group classification.
	ErrOverrideNotAllowed = errors.New("override not allowed for episode inside normal group")

	// ErrInvalidInput is returned for malformed input other than numbers.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateCode is returned when creating a record whose natural key exists.
	ErrDuplicateCode = errors.New("duplicate code")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NonFiniteError names the field that carried NaN or ±Inf.
type NonFiniteError struct {
	Field string
	Value float64
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("%s: non-finite value %v", e.Field, e.Value)
}

func (e *NonFiniteError) Unwrap() error {
	return ErrInvalidNumber
}

// OverrideError names the override fields rejected on a write.
type OverrideError struct {
	EpisodeID EpisodeID
	Fields    []string
}

func (e *OverrideError) Error() string {
	return fmt.Sprintf("episode %s: overrides %v require outside_normal_group", e.EpisodeID, e.Fields)
}

func (e *OverrideError) Unwrap() error {
	return ErrOverrideNotAllowed
}

// FieldError describes a validation failure on a single input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidInput
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidNumber) ||
		errors.Is(err, ErrOverrideNotAllowed) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicateCode)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEpisodeNotFound) ||
		errors.Is(err, ErrGrdRuleNotFound) ||
		errors.Is(err, ErrPatientNotFound)
}
