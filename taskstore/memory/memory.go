// Package memory provides an in-process tasks.Store. It is meant for tests
// and single-node development; data does not survive a restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ggoodman/taskd/tasks"
)

// Store implements tasks.Store with a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	rows map[string]tasks.Task
}

var _ tasks.Store = (*Store)(nil)

func New() *Store {
	return &Store{rows: map[string]tasks.Task{}}
}

func (s *Store) Insert(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	if err := ctx.Err(); err != nil {
		return tasks.Task{}, err
	}
	if t.UserID == "" {
		return tasks.Task{}, tasks.ErrUnscopedQuery
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.rows[t.ID]; dup {
		return tasks.Task{}, tasks.ErrStoreRejected
	}
	s.rows[t.ID] = clone(t)
	return clone(t), nil
}

func (s *Store) Find(ctx context.Context, f tasks.Filter, o tasks.Order) ([]tasks.Task, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := s.match(f)
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b tasks.Task) int {
		var c int
		switch o.Field {
		case tasks.SortTitle:
			c = strings.Compare(a.Title, b.Title)
		case tasks.SortCompleted:
			c = cmpBool(a.Completed, b.Completed)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		return -c
	})
	return out, nil
}

func (s *Store) Update(ctx context.Context, f tasks.Filter, p tasks.Patch) ([]tasks.Task, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.match(f)
	for i, t := range out {
		t = p.Apply(t)
		s.rows[t.ID] = clone(t)
		out[i] = clone(t)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, f tasks.Filter) ([]tasks.Task, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.match(f)
	for _, t := range out {
		delete(s.rows, t.ID)
	}
	return out, nil
}

// match must be called with the lock held.
func (s *Store) match(f tasks.Filter) []tasks.Task {
	if f.ID != "" {
		t, ok := s.rows[f.ID]
		if !ok || !f.Matches(t) {
			return []tasks.Task{}
		}
		return []tasks.Task{clone(t)}
	}
	out := []tasks.Task{}
	for _, t := range s.rows {
		if f.Matches(t) {
			out = append(out, clone(t))
		}
	}
	return out
}

func clone(t tasks.Task) tasks.Task {
	if t.Description != nil {
		d := *t.Description
		t.Description = &d
	}
	return t
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}
