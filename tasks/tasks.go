// Package tasks implements per-user task operations. Every operation takes
// the caller's resolved identity and reaches the store only through filters
// built by a Guard, so rows are always scoped to their owner.
package tasks

import (
	"time"
)

// Task is a persisted task. UserID is never serialized to clients.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Completed   bool      `json:"completed"`
	UserID      string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateInput is the body of a create request.
type CreateInput struct {
	Title       string  `json:"title" validate:"notblank,max=500"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Completed   *bool   `json:"completed"`
}

// UpdateInput carries only the fields a client supplied.
type UpdateInput struct {
	Title       Optional[string] `json:"title"`
	Description Optional[string] `json:"description"`
	Completed   Optional[bool]   `json:"completed"`
}

// Empty reports whether no field was supplied.
func (in UpdateInput) Empty() bool {
	return !in.Title.Set && !in.Description.Set && !in.Completed.Set
}

// UpdateResult is the outcome of Service.Update. NoChanges is set when the
// input was empty; the store was not touched and Tasks is nil.
type UpdateResult struct {
	NoChanges bool
	Tasks     []Task
}

// Sort fields accepted by List. Results are always ordered descending.
const (
	SortCreatedAt = "created_at"
	SortTitle     = "title"
	SortCompleted = "completed"
)

// ListOptions narrows and orders List results.
type ListOptions struct {
	Completed *bool
	Sort      string
}
