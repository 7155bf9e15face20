package tasks

import "context"

// Store is the narrow query interface to the external table holding tasks.
// Implementations must reject filters that fail Filter.Check.
type Store interface {
	// Insert persists t and returns the stored row.
	Insert(ctx context.Context, t Task) (Task, error)

	// Find returns matching rows ordered by o.
	Find(ctx context.Context, f Filter, o Order) ([]Task, error)

	// Update applies p to matching rows and returns them as updated. Zero
	// matched rows is not an error.
	Update(ctx context.Context, f Filter, p Patch) ([]Task, error)

	// Delete removes matching rows and returns what was removed.
	Delete(ctx context.Context, f Filter) ([]Task, error)
}

// Order is a descending sort on Field, ties broken by id.
type Order struct {
	Field string
}

// Patch holds the column updates of a write. Nil pointers leave columns
// untouched; Description may also be set to null.
type Patch struct {
	Title       *string
	Description Optional[string]
	Completed   *bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && !p.Description.Set && p.Completed == nil
}

// Apply returns t with p applied.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description.Set {
		t.Description = p.Description.Ptr()
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	return t
}
