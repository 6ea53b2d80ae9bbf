package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS graph_runs (
    graph_id    TEXT PRIMARY KEY,
    owner       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    finished_at TIMESTAMPTZ,
    record      JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_runs_owner    ON graph_runs(owner);
CREATE INDEX IF NOT EXISTS idx_graph_runs_status   ON graph_runs(status);
CREATE INDEX IF NOT EXISTS idx_graph_runs_finished ON graph_runs(finished_at);
`

// CreateSchema creates the graph_runs table if it doesn't exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the graph_runs table.
func (s *Store) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS graph_runs CASCADE;`)
	return err
}
