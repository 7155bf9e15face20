// Package postgres implements tasks.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggoodman/taskd/tasks"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements tasks.Store.
type Store struct {
	db DB
}

var _ tasks.Store = (*Store)(nil)

func New(db DB) *Store { return &Store{db: db} }

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", tasks.ErrUnavailable, err)
	}
	return pool, nil
}

// Migrate creates the tasks table and its indexes if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", mapError(err))
	}
	return nil
}

const columns = "id::text, user_id, title, description, completed, created_at"

// sortColumns maps sort fields onto columns. User input never reaches the SQL text.
var sortColumns = map[string]string{
	tasks.SortCreatedAt: "created_at",
	tasks.SortTitle:     "title",
	tasks.SortCompleted: "completed",
}

func (s *Store) Insert(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	if t.UserID == "" {
		return tasks.Task{}, tasks.ErrUnscopedQuery
	}
	rows, err := s.db.Query(ctx,
		"INSERT INTO tasks (id, user_id, title, description, completed, created_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+columns,
		t.ID, t.UserID, t.Title, t.Description, t.Completed, t.CreatedAt)
	if err != nil {
		return tasks.Task{}, mapError(err)
	}
	out, err := collect(rows)
	if err != nil {
		return tasks.Task{}, err
	}
	if len(out) != 1 {
		return tasks.Task{}, fmt.Errorf("insert returned %d rows", len(out))
	}
	return out[0], nil
}

func (s *Store) Find(ctx context.Context, f tasks.Filter, o tasks.Order) ([]tasks.Task, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	col, ok := sortColumns[o.Field]
	if !ok {
		col = sortColumns[tasks.SortCreatedAt]
	}

	var q query
	where := q.where(f)
	rows, err := s.db.Query(ctx, "SELECT "+columns+" FROM tasks WHERE "+where+" ORDER BY "+col+" DESC, id DESC", q.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows)
}

func (s *Store) Update(ctx context.Context, f tasks.Filter, p tasks.Patch) ([]tasks.Task, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, errors.New("postgres: empty patch")
	}

	var q query
	var sets []string
	if p.Title != nil {
		sets = append(sets, "title = "+q.arg(*p.Title))
	}
	if p.Description.Set {
		sets = append(sets, "description = "+q.arg(p.Description.Ptr()))
	}
	if p.Completed != nil {
		sets = append(sets, "completed = "+q.arg(*p.Completed))
	}
	where := q.where(f)

	rows, err := s.db.Query(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE "+where+" RETURNING "+columns, q.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows)
}

func (s *Store) Delete(ctx context.Context, f tasks.Filter) ([]tasks.Task, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	var q query
	where := q.where(f)
	rows, err := s.db.Query(ctx, "DELETE FROM tasks WHERE "+where+" RETURNING "+columns, q.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows)
}

// query accumulates positional arguments.
type query struct {
	args []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// where always starts with the owner predicate.
func (q *query) where(f tasks.Filter) string {
	conds := []string{"user_id = " + q.arg(f.Owner)}
	if f.ID != "" {
		conds = append(conds, "id = "+q.arg(f.ID))
	}
	if f.Completed != nil {
		conds = append(conds, "completed = "+q.arg(*f.Completed))
	}
	return strings.Join(conds, " AND ")
}

func collect(rows pgx.Rows) ([]tasks.Task, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tasks.Task, error) {
		var t tasks.Task
		err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.CreatedAt)
		t.CreatedAt = t.CreatedAt.UTC()
		return t, err
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// mapError translates driver errors into the tasks error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23 is integrity constraint violation; 42501 insufficient privilege
		// (row-level security).
		if strings.HasPrefix(pgErr.Code, "23") || pgErr.Code == "42501" {
			return fmt.Errorf("%w: %s: %s", tasks.ErrStoreRejected, pgErr.Code, pgErr.Message)
		}
		// 57014 query_canceled is what a statement timeout reports.
		if pgErr.Code == "57014" {
			return fmt.Errorf("%w: %w", tasks.ErrUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", tasks.ErrUnavailable, err)
	}
	return err
}
