package domain

import (
	"errors"
	"strings"
)

var (
	// ErrHabitNotFound is returned when a habit id does not reference a stored habit.
	ErrHabitNotFound = errors.New("habit not found")
	// ErrForbidden is returned when a user acts on a habit owned by someone else.
	ErrForbidden = errors.New("habit belongs to another user")
	// ErrConflict is returned by repositories when a unique key already exists.
	ErrConflict = errors.New("unique constraint conflict")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects input problems found at the request boundary.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns e when it holds at least one field error.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid builds a single-field ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}
