package tasks

import (
	"github.com/ggoodman/taskd/auth"
	"github.com/google/uuid"
)

// Guard scopes store access to a single owner. The owner comes from a
// resolved identity only; request bodies never supply it.
type Guard struct {
	owner string
}

// NewGuard builds a Guard for the caller.
func NewGuard(ui auth.UserInfo) (Guard, error) {
	if ui == nil || ui.UserID() == "" {
		return Guard{}, ErrUnscopedQuery
	}
	return Guard{owner: ui.UserID()}, nil
}

// Owner returns the user id every filter is scoped to.
func (g Guard) Owner() string { return g.owner }

// All matches every task of the owner, optionally narrowed by completion state.
func (g Guard) All(completed *bool) Filter {
	return Filter{Owner: g.owner, Completed: completed}
}

// One matches a single task by id and owner.
func (g Guard) One(id string) Filter {
	return Filter{Owner: g.owner, ID: id}
}

// Filter selects rows. Owner is mandatory; stores refuse a filter without it.
type Filter struct {
	Owner     string
	ID        string
	Completed *bool
}

// Check returns ErrUnscopedQuery for filters without an owner.
func (f Filter) Check() error {
	if f.Owner == "" {
		return ErrUnscopedQuery
	}
	return nil
}

// Matches reports whether t is selected by f.
func (f Filter) Matches(t Task) bool {
	if t.UserID != f.Owner {
		return false
	}
	if f.ID != "" && t.ID != f.ID {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	return true
}

// validID reports whether id can name a task. Other strings cannot match any
// row and are treated as missing.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
