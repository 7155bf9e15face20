// Package storetest is a conformance suite for tasks.Store implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/taskd/tasks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns an empty store for a single subtest.
type StoreFactory func(t *testing.T) tasks.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, factory) })
	t.Run("FindScopedToOwner", func(t *testing.T) { testFindScopedToOwner(t, factory) })
	t.Run("FindFiltersCompleted", func(t *testing.T) { testFindFiltersCompleted(t, factory) })
	t.Run("FindOrdersDescending", func(t *testing.T) { testFindOrdersDescending(t, factory) })
	t.Run("UpdatePatchesSuppliedFields", func(t *testing.T) { testUpdatePatch(t, factory) })
	t.Run("UpdateClearsDescription", func(t *testing.T) { testUpdateClearsDescription(t, factory) })
	t.Run("UpdateConditionalOnCompleted", func(t *testing.T) { testUpdateConditional(t, factory) })
	t.Run("UpdateOtherOwnerMatchesNothing", func(t *testing.T) { testUpdateOtherOwner(t, factory) })
	t.Run("DeleteReturnsRemovedRows", func(t *testing.T) { testDelete(t, factory) })
	t.Run("RejectsUnscopedFilters", func(t *testing.T) { testRejectsUnscoped(t, factory) })
}

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTask(owner, title string, completed bool, age time.Duration) tasks.Task {
	return tasks.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Completed: completed,
		UserID:    owner,
		CreatedAt: base.Add(-age),
	}
}

func seed(t *testing.T, s tasks.Store, rows ...tasks.Task) {
	t.Helper()
	for _, r := range rows {
		_, err := s.Insert(context.Background(), r)
		require.NoError(t, err)
	}
}

func ids(rows []tasks.Task) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func owner(id string) tasks.Filter { return tasks.Filter{Owner: id} }

func testInsertAndFind(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	in := newTask("u1", "buy milk", false, 0)
	in.Description = ptr("2 litres")
	got, err := s.Insert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)

	rows, err := s.Find(ctx, tasks.Filter{Owner: "u1", ID: in.ID}, tasks.Order{Field: tasks.SortCreatedAt})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "buy milk", rows[0].Title)
	require.NotNil(t, rows[0].Description)
	assert.Equal(t, "2 litres", *rows[0].Description)
	assert.False(t, rows[0].Completed)
	assert.Equal(t, "u1", rows[0].UserID)
	assert.True(t, in.CreatedAt.Equal(rows[0].CreatedAt))
}

func testFindScopedToOwner(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	mine := newTask("u1", "mine", false, 0)
	theirs := newTask("u2", "theirs", false, 0)
	seed(t, s, mine, theirs)

	rows, err := s.Find(ctx, owner("u1"), tasks.Order{})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, ids(rows))

	rows, err = s.Find(ctx, tasks.Filter{Owner: "u1", ID: theirs.ID}, tasks.Order{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testFindFiltersCompleted(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	open := newTask("u1", "open", false, time.Minute)
	done := newTask("u1", "done", true, 0)
	seed(t, s, open, done)

	rows, err := s.Find(ctx, tasks.Filter{Owner: "u1", Completed: ptr(true)}, tasks.Order{})
	require.NoError(t, err)
	assert.Equal(t, []string{done.ID}, ids(rows))

	rows, err = s.Find(ctx, tasks.Filter{Owner: "u1", Completed: ptr(false)}, tasks.Order{})
	require.NoError(t, err)
	assert.Equal(t, []string{open.ID}, ids(rows))
}

func testFindOrdersDescending(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	a := newTask("u1", "alpha", true, 2*time.Hour)
	b := newTask("u1", "charlie", false, time.Hour)
	c := newTask("u1", "bravo", false, 0)
	seed(t, s, a, b, c)

	rows, err := s.Find(ctx, owner("u1"), tasks.Order{Field: tasks.SortCreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(rows))

	rows, err = s.Find(ctx, owner("u1"), tasks.Order{Field: tasks.SortTitle})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, ids(rows))

	rows, err = s.Find(ctx, owner("u1"), tasks.Order{Field: tasks.SortCompleted})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, a.ID, rows[0].ID)
}

func testUpdatePatch(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	orig := newTask("u1", "old", false, 0)
	orig.Description = ptr("keep me")
	seed(t, s, orig)

	rows, err := s.Update(ctx, tasks.Filter{Owner: "u1", ID: orig.ID}, tasks.Patch{Title: ptr("new")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].Title)
	require.NotNil(t, rows[0].Description)
	assert.Equal(t, "keep me", *rows[0].Description)
	assert.False(t, rows[0].Completed)
}

func testUpdateClearsDescription(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	orig := newTask("u1", "t", false, 0)
	orig.Description = ptr("drop me")
	seed(t, s, orig)

	rows, err := s.Update(ctx, tasks.Filter{Owner: "u1", ID: orig.ID}, tasks.Patch{Description: tasks.Null[string]()})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Description)
}

func testUpdateConditional(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	orig := newTask("u1", "t", false, 0)
	seed(t, s, orig)

	// Condition on a stale value: nothing matches.
	rows, err := s.Update(ctx, tasks.Filter{Owner: "u1", ID: orig.ID, Completed: ptr(true)}, tasks.Patch{Completed: ptr(false)})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.Update(ctx, tasks.Filter{Owner: "u1", ID: orig.ID, Completed: ptr(false)}, tasks.Patch{Completed: ptr(true)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Completed)
}

func testUpdateOtherOwner(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	orig := newTask("u1", "t", false, 0)
	seed(t, s, orig)

	rows, err := s.Update(ctx, tasks.Filter{Owner: "u2", ID: orig.ID}, tasks.Patch{Title: ptr("hijacked")})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.Find(ctx, tasks.Filter{Owner: "u1", ID: orig.ID}, tasks.Order{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t", rows[0].Title)
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	orig := newTask("u1", "t", false, 0)
	seed(t, s, orig)

	rows, err := s.Delete(ctx, tasks.Filter{Owner: "u2", ID: orig.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.Delete(ctx, tasks.Filter{Owner: "u1", ID: orig.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{orig.ID}, ids(rows))

	rows, err = s.Delete(ctx, tasks.Filter{Owner: "u1", ID: orig.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testRejectsUnscoped(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	seed(t, s, newTask("u1", "t", false, 0))

	_, err := s.Find(ctx, tasks.Filter{}, tasks.Order{})
	require.ErrorIs(t, err, tasks.ErrUnscopedQuery)
	_, err = s.Update(ctx, tasks.Filter{}, tasks.Patch{Title: ptr("x")})
	require.ErrorIs(t, err, tasks.ErrUnscopedQuery)
	_, err = s.Delete(ctx, tasks.Filter{})
	require.ErrorIs(t, err, tasks.ErrUnscopedQuery)
}
