package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/taskd/auth"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// toggleAttempts bounds the conditional-write retries of Toggle.
const toggleAttempts = 3

// Options configures a Service.
type Options struct {
	// Timeout bounds every store call. Default 5s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Service implements the task operations on top of a Store.
type Service struct {
	store    Store
	timeout  time.Duration
	log      *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer

	now   func() time.Time
	newID func() string
}

func NewService(store Store, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:    store,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		validate: newValidator(),
		tracer:   otel.Tracer("github.com/ggoodman/taskd/tasks"),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:    uuid.NewString,
	}
}

// Create persists a new task owned by the caller.
func (s *Service) Create(ctx context.Context, user auth.UserInfo, in CreateInput) (Task, error) {
	g, err := NewGuard(user)
	if err != nil {
		return Task{}, err
	}
	if err := s.validateCreate(in); err != nil {
		return Task{}, err
	}

	t := Task{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		UserID:      g.Owner(),
		CreatedAt:   s.now(),
	}
	if in.Completed != nil {
		t.Completed = *in.Completed
	}

	var out Task
	err = s.call(ctx, "insert", func(ctx context.Context) error {
		var err error
		out, err = s.store.Insert(ctx, t)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return out, nil
}

// List returns the caller's tasks ordered descending by opts.Sort.
func (s *Service) List(ctx context.Context, user auth.UserInfo, opts ListOptions) ([]Task, error) {
	g, err := NewGuard(user)
	if err != nil {
		return nil, err
	}
	order, err := orderFrom(opts.Sort)
	if err != nil {
		return nil, err
	}

	var out []Task
	err = s.call(ctx, "find", func(ctx context.Context) error {
		var err error
		out, err = s.store.Find(ctx, g.All(opts.Completed), order)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Task{}
	}
	return out, nil
}

// Get returns one of the caller's tasks.
func (s *Service) Get(ctx context.Context, user auth.UserInfo, id string) (Task, error) {
	g, err := NewGuard(user)
	if err != nil {
		return Task{}, err
	}
	return s.getOne(ctx, g, id)
}

func (s *Service) getOne(ctx context.Context, g Guard, id string) (Task, error) {
	if !validID(id) {
		return Task{}, ErrNotFound
	}
	var rows []Task
	err := s.call(ctx, "find", func(ctx context.Context) error {
		var err error
		rows, err = s.store.Find(ctx, g.One(id), Order{Field: SortCreatedAt})
		return err
	})
	if err != nil {
		return Task{}, err
	}
	if len(rows) == 0 {
		return Task{}, ErrNotFound
	}
	return rows[0], nil
}

// Update applies the supplied fields. An empty input is reported through
// UpdateResult.NoChanges without reaching the store.
func (s *Service) Update(ctx context.Context, user auth.UserInfo, id string, in UpdateInput) (UpdateResult, error) {
	g, err := NewGuard(user)
	if err != nil {
		return UpdateResult{}, err
	}
	if in.Empty() {
		return UpdateResult{NoChanges: true}, nil
	}
	p, err := s.patchFrom(in)
	if err != nil {
		return UpdateResult{}, err
	}
	if !validID(id) {
		return UpdateResult{}, ErrNotFound
	}

	var rows []Task
	err = s.call(ctx, "update", func(ctx context.Context) error {
		var err error
		rows, err = s.store.Update(ctx, g.One(id), p)
		return err
	})
	if err != nil {
		return UpdateResult{}, err
	}
	if len(rows) == 0 {
		return UpdateResult{}, ErrNotFound
	}
	return UpdateResult{Tasks: rows}, nil
}

// Toggle flips completed with a write conditioned on the value read, so two
// concurrent toggles cannot both apply the same flip.
func (s *Service) Toggle(ctx context.Context, user auth.UserInfo, id string) (Task, error) {
	g, err := NewGuard(user)
	if err != nil {
		return Task{}, err
	}

	for attempt := 1; attempt <= toggleAttempts; attempt++ {
		cur, err := s.getOne(ctx, g, id)
		if err != nil {
			return Task{}, err
		}

		prior := cur.Completed
		next := !prior
		f := g.One(id)
		f.Completed = &prior

		var rows []Task
		err = s.call(ctx, "update", func(ctx context.Context) error {
			var err error
			rows, err = s.store.Update(ctx, f, Patch{Completed: &next})
			return err
		})
		if err != nil {
			return Task{}, err
		}
		if len(rows) > 0 {
			return rows[0], nil
		}
		s.log.InfoContext(ctx, "tasks.toggle.retry", slog.String("task_id", id), slog.Int("attempt", attempt))
	}
	return Task{}, ErrConflict
}

// Delete removes the task if the caller owns it. Deleting a missing task
// succeeds with no rows.
func (s *Service) Delete(ctx context.Context, user auth.UserInfo, id string) ([]Task, error) {
	g, err := NewGuard(user)
	if err != nil {
		return nil, err
	}
	if !validID(id) {
		return []Task{}, nil
	}

	var rows []Task
	err = s.call(ctx, "delete", func(ctx context.Context) error {
		var err error
		rows, err = s.store.Delete(ctx, g.One(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Task{}
	}
	return rows, nil
}

// call runs one store operation under the store timeout and a span. Deadline
// and cancellation errors become ErrUnavailable.
func (s *Service) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "tasks.store."+op, trace.WithAttributes(attribute.String("db.operation", op)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	span.SetStatus(codes.Error, err.Error())
	s.log.WarnContext(ctx, "tasks.store.fail", slog.String("op", op), slog.String("err", err.Error()))
	return err
}
