// Package postgres stores run records in PostgreSQL: one row per graph with
// the full record as JSONB and the filterable columns beside it.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/store"
)

// Store implements store.Store using PostgreSQL via pgx.
type Store struct {
	db *pgxpool.Pool
}

// New creates a Store backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := New(pool)
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// Ping implements store.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, r *run.Record) error {
	if r == nil {
		return fmt.Errorf("postgres: record is nil")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres: marshal record %s: %w", r.GraphID, err)
	}

	var finished *time.Time
	if !r.FinishedAt.IsZero() {
		finished = &r.FinishedAt
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO graph_runs (graph_id, owner, status, created_at, updated_at, finished_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (graph_id) DO UPDATE SET
			owner       = EXCLUDED.owner,
			status      = EXCLUDED.status,
			updated_at  = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at,
			record      = EXCLUDED.record`,
		r.GraphID, r.Owner, string(r.Status), r.CreatedAt, r.UpdatedAt, finished, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: save record %s: %w", r.GraphID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, graphID string) (*run.Record, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT record FROM graph_runs WHERE graph_id = $1`, graphID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, graphID)
		}
		return nil, fmt.Errorf("postgres: load record %s: %w", graphID, err)
	}
	return decode(graphID, data)
}

func (s *Store) List(ctx context.Context, filter run.Filter) ([]*run.Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Owner != "" {
		where = append(where, "owner = "+arg(filter.Owner))
	}
	if filter.ActiveOnly {
		where = append(where, "status = "+arg(string(run.StatusRunning)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if !filter.FinishedBefore.IsZero() {
		where = append(where, "finished_at IS NOT NULL AND finished_at < "+arg(filter.FinishedBefore))
	}

	query := `SELECT graph_id, record FROM graph_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, graph_id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	defer rows.Close()

	var out []*run.Record
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		r, err := decode(id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, graphID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM graph_runs WHERE graph_id = $1`, graphID)
	if err != nil {
		return fmt.Errorf("postgres: delete record %s: %w", graphID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, graphID)
	}
	return nil
}

func decode(graphID string, data []byte) (*run.Record, error) {
	var r run.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("postgres: decode record %s: %w", graphID, err)
	}
	return &r, nil
}
