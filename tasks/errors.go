package tasks

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when no row matches both id and owner. A row
	// owned by someone else is reported the same way.
	ErrNotFound = errors.New("task not found")

	// ErrConflict is returned when a conditional write kept losing races.
	ErrConflict = errors.New("task changed concurrently")

	// ErrStoreRejected is returned when the store refuses a write, e.g. a
	// constraint or privilege violation.
	ErrStoreRejected = errors.New("store rejected the operation")

	// ErrUnavailable is returned when the store did not answer in time or
	// could not be reached. Retrying is safe.
	ErrUnavailable = errors.New("store unavailable")

	// ErrUnscopedQuery is returned when a query would not be restricted to an
	// owner. It indicates a programming error.
	ErrUnscopedQuery = errors.New("query is not scoped to an owner")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports invalid input, keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
