// Package errs holds the error taxonomy shared by the usage and consumable engine.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for ids that do not exist or are outside the caller's branch scope.
	ErrNotFound = errors.New("not found")
	// ErrLocked is matched by every LockedError.
	ErrLocked = errors.New("period is locked")
	// ErrForbidden is returned when the actor's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrIncomplete is returned when a non-admin submits a month that is not fully captured.
	ErrIncomplete = errors.New("readings incomplete")
	// ErrConfig is returned for definitions the calculators cannot work with.
	ErrConfig = errors.New("configuration error")
	// ErrConflict is returned when the store's uniqueness enforcement rejects a write.
	ErrConflict = errors.New("conflict")
	// ErrInvalid is matched by every ValidationError.
	ErrInvalid = errors.New("validation failed")
)

// FieldError describes one invalid field. Exactly one of MachineID, OrderID or Row is
// usually set so a batch caller can find the offending input.
type FieldError struct {
	MachineID int64  `json:"machineId,omitempty"`
	OrderID   int64  `json:"orderId,omitempty"`
	Row       int    `json:"row,omitempty"`
	Field     string `json:"field"`
	Message   string `json:"message"`
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// ValidationError carries every field-scoped failure found for an input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Invalid returns nil when fields is empty, so callers can `return errs.Invalid(fields)`.
func Invalid(fields ...FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// Fields extracts the field list from err, or nil if err is not a validation error.
func Fields(err error) []FieldError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// LockedError names the month that blocked a write.
type LockedError struct {
	Year   int
	Month  int
	Branch string
}

func (e *LockedError) Error() string {
	scope := "all branches"
	if e.Branch != "" {
		scope = "branch " + e.Branch
	}
	return fmt.Sprintf("%04d-%02d is locked for %s; an administrator must unlock it before readings can change", e.Year, e.Month, scope)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// NotFound wraps ErrNotFound with the kind and id that was looked up.
func NotFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}
