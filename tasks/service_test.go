package tasks_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/taskd/auth/authtest"
	"github.com/ggoodman/taskd/taskstore/memory"
	"github.com/ggoodman/taskd/tasks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	u1 = authtest.User{ID: "u1"}
	u2 = authtest.User{ID: "u2"}
)

func ptr[T any](v T) *T { return &v }

func newService(t *testing.T) (*tasks.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return tasks.NewService(store, tasks.Options{Timeout: time.Second}), store
}

func TestCreateAndGet_RoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "buy milk"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.UserID)
	assert.False(t, created.Completed)
	assert.Nil(t, created.Description)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := svc.Get(ctx, u1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	withAll, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "file taxes", Description: ptr("before april"), Completed: ptr(true)})
	require.NoError(t, err)
	got, err = svc.Get(ctx, u1, withAll.ID)
	require.NoError(t, err)
	assert.Equal(t, "file taxes", got.Title)
	require.NotNil(t, got.Description)
	assert.Equal(t, "before april", *got.Description)
	assert.True(t, got.Completed)
}

func TestCreate_Validation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	for name, in := range map[string]tasks.CreateInput{
		"empty title":      {Title: ""},
		"blank title":      {Title: "   \t"},
		"long title":       {Title: strings.Repeat("x", 501)},
		"long description": {Title: "ok", Description: ptr(strings.Repeat("x", 5001))},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, u1, in)
			require.ErrorIs(t, err, tasks.ErrValidation)
			var verr *tasks.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Fields)
		})
	}

	rows, err := store.Find(ctx, tasks.Filter{Owner: "u1"}, tasks.Order{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreate_RequiresIdentity(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), authtest.User{}, tasks.CreateInput{Title: "x"})
	require.ErrorIs(t, err, tasks.ErrUnscopedQuery)
	_, err = svc.List(context.Background(), nil, tasks.ListOptions{})
	require.ErrorIs(t, err, tasks.ErrUnscopedQuery)
}

func TestOwnership_OtherUserSeesNotFound(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "private"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, u2, task.ID)
	require.ErrorIs(t, err, tasks.ErrNotFound)

	_, err = svc.Update(ctx, u2, task.ID, tasks.UpdateInput{Title: tasks.Optional[string]{Set: true, Value: "hijacked"}})
	require.ErrorIs(t, err, tasks.ErrNotFound)

	_, err = svc.Toggle(ctx, u2, task.ID)
	require.ErrorIs(t, err, tasks.ErrNotFound)

	deleted, err := svc.Delete(ctx, u2, task.ID)
	require.NoError(t, err)
	assert.Empty(t, deleted)

	list, err := svc.List(ctx, u2, tasks.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)

	got, err := svc.Get(ctx, u1, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "private", got.Title)
	assert.False(t, got.Completed)
}

func TestGet_MissingAndMalformedIDs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, u1, uuid.NewString())
	require.ErrorIs(t, err, tasks.ErrNotFound)
	_, err = svc.Get(ctx, u1, "not-a-uuid")
	require.ErrorIs(t, err, tasks.ErrNotFound)
}

func TestList_FilterAndSort(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var created []tasks.Task
	for _, in := range []tasks.CreateInput{
		{Title: "bravo"},
		{Title: "alpha", Completed: ptr(true)},
		{Title: "charlie"},
	} {
		task, err := svc.Create(ctx, u1, in)
		require.NoError(t, err)
		created = append(created, task)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := svc.Create(ctx, u2, tasks.CreateInput{Title: "someone else"})
	require.NoError(t, err)

	all, err := svc.List(ctx, u1, tasks.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, created[2].ID, all[0].ID, "newest first")
	assert.Equal(t, created[0].ID, all[2].ID)

	byTitle, err := svc.List(ctx, u1, tasks.ListOptions{Sort: tasks.SortTitle})
	require.NoError(t, err)
	assert.Equal(t, []string{"charlie", "bravo", "alpha"}, titles(byTitle))

	open, err := svc.List(ctx, u1, tasks.ListOptions{Completed: ptr(false)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bravo", "charlie"}, titles(open))

	_, err = svc.List(ctx, u1, tasks.ListOptions{Sort: "user_id"})
	require.ErrorIs(t, err, tasks.ErrValidation)

	empty, err := svc.List(ctx, authtest.User{ID: "nobody"}, tasks.ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func titles(ts []tasks.Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

func TestUpdate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "old", Description: ptr("desc")})
	require.NoError(t, err)

	res, err := svc.Update(ctx, u1, task.ID, tasks.UpdateInput{Title: tasks.Optional[string]{Set: true, Value: "new"}})
	require.NoError(t, err)
	require.False(t, res.NoChanges)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "new", res.Tasks[0].Title)
	require.NotNil(t, res.Tasks[0].Description)
	assert.Equal(t, "desc", *res.Tasks[0].Description, "unsupplied fields untouched")

	res, err = svc.Update(ctx, u1, task.ID, tasks.UpdateInput{Description: tasks.Null[string](), Completed: tasks.Optional[bool]{Set: true, Value: true}})
	require.NoError(t, err)
	assert.Nil(t, res.Tasks[0].Description)
	assert.True(t, res.Tasks[0].Completed)
	assert.Equal(t, "new", res.Tasks[0].Title)
}

func TestUpdate_EmptyIsNoOp(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	svc := tasks.NewService(store, tasks.Options{})

	res, err := svc.Update(context.Background(), u1, uuid.NewString(), tasks.UpdateInput{})
	require.NoError(t, err)
	assert.True(t, res.NoChanges)
	assert.Nil(t, res.Tasks)
	assert.Zero(t, store.calls())
}

func TestUpdate_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "t"})
	require.NoError(t, err)

	for name, in := range map[string]tasks.UpdateInput{
		"null title":       {Title: tasks.Null[string]()},
		"blank title":      {Title: tasks.Optional[string]{Set: true, Value: "  "}},
		"null completed":   {Completed: tasks.Null[bool]()},
		"long description": {Description: tasks.Optional[string]{Set: true, Value: strings.Repeat("d", 5001)}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Update(ctx, u1, task.ID, in)
			require.ErrorIs(t, err, tasks.ErrValidation)
		})
	}
}

func TestUpdate_DecodesPresence(t *testing.T) {
	var in tasks.UpdateInput
	require.NoError(t, json.Unmarshal([]byte(`{"description":null,"completed":true}`), &in))
	assert.False(t, in.Title.Set)
	assert.True(t, in.Description.Set)
	assert.True(t, in.Description.Null)
	assert.True(t, in.Completed.Set)
	assert.True(t, in.Completed.Value)

	var empty tasks.UpdateInput
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	assert.True(t, empty.Empty())
}

func TestToggle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "t"})
	require.NoError(t, err)

	once, err := svc.Toggle(ctx, u1, task.ID)
	require.NoError(t, err)
	assert.True(t, once.Completed)

	twice, err := svc.Toggle(ctx, u1, task.ID)
	require.NoError(t, err)
	assert.False(t, twice.Completed)

	_, err = svc.Toggle(ctx, u1, uuid.NewString())
	require.ErrorIs(t, err, tasks.ErrNotFound)
}

func TestToggle_ConcurrentFlipsAreNotLost(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "t"})
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Toggle(ctx, u1, task.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, tasks.ErrConflict)
			}
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, u1, task.ID)
	require.NoError(t, err)
	assert.Equal(t, succeeded%2 == 1, got.Completed, "every successful toggle applied exactly once")
}

func TestToggle_GivesUpAfterRepeatedConflicts(t *testing.T) {
	store := &racingStore{Store: memory.New()}
	svc := tasks.NewService(store, tasks.Options{})
	ctx := context.Background()

	task, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "t"})
	require.NoError(t, err)

	_, err = svc.Toggle(ctx, u1, task.ID)
	require.ErrorIs(t, err, tasks.ErrConflict)
}

func TestDelete_Idempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, u1, tasks.CreateInput{Title: "t"})
	require.NoError(t, err)

	first, err := svc.Delete(ctx, u1, task.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, task.ID, first[0].ID)

	second, err := svc.Delete(ctx, u1, task.ID)
	require.NoError(t, err)
	assert.NotNil(t, second)
	assert.Empty(t, second)

	malformed, err := svc.Delete(ctx, u1, "nope")
	require.NoError(t, err)
	assert.Empty(t, malformed)
}

func TestStoreTimeoutIsUnavailable(t *testing.T) {
	svc := tasks.NewService(blockingStore{}, tasks.Options{Timeout: 20 * time.Millisecond})
	_, err := svc.List(context.Background(), u1, tasks.ListOptions{})
	require.ErrorIs(t, err, tasks.ErrUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// countingStore records how many store calls were made.
type countingStore struct {
	tasks.Store
	mu sync.Mutex
	n  int
}

func (c *countingStore) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingStore) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *countingStore) Insert(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	c.inc()
	return c.Store.Insert(ctx, t)
}

func (c *countingStore) Find(ctx context.Context, f tasks.Filter, o tasks.Order) ([]tasks.Task, error) {
	c.inc()
	return c.Store.Find(ctx, f, o)
}

func (c *countingStore) Update(ctx context.Context, f tasks.Filter, p tasks.Patch) ([]tasks.Task, error) {
	c.inc()
	return c.Store.Update(ctx, f, p)
}

func (c *countingStore) Delete(ctx context.Context, f tasks.Filter) ([]tasks.Task, error) {
	c.inc()
	return c.Store.Delete(ctx, f)
}

// racingStore flips completed behind the caller's back before every
// conditional write, so the write never matches.
type racingStore struct {
	tasks.Store
}

func (r *racingStore) Update(ctx context.Context, f tasks.Filter, p tasks.Patch) ([]tasks.Task, error) {
	if f.Completed != nil {
		flipped := !*f.Completed
		if _, err := r.Store.Update(ctx, tasks.Filter{Owner: f.Owner, ID: f.ID}, tasks.Patch{Completed: &flipped}); err != nil {
			return nil, err
		}
	}
	return r.Store.Update(ctx, f, p)
}

// blockingStore never answers before the context ends.
type blockingStore struct{}

func (blockingStore) Insert(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	<-ctx.Done()
	return tasks.Task{}, ctx.Err()
}

func (blockingStore) Find(ctx context.Context, f tasks.Filter, o tasks.Order) ([]tasks.Task, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) Update(ctx context.Context, f tasks.Filter, p tasks.Patch) ([]tasks.Task, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) Delete(ctx context.Context, f tasks.Filter) ([]tasks.Task, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
