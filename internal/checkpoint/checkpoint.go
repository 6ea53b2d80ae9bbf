// Package checkpoint is the file-backed record store: one JSON document per
// graph under a directory, replaced atomically on every save so a crash
// leaves either the previous or the new checkpoint, never a torn one.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/store"
)

const fileExt = ".json"

// Store persists run records as files in a directory.
type Store struct {
	dir string
	// mu serializes writers of the same directory within this process.
	mu sync.Mutex
}

// NewStore creates a store rooted at dir. The directory is created on the
// first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(graphID string) string {
	return filepath.Join(s.dir, graphID+fileExt)
}

func validID(graphID string) error {
	if graphID == "" || strings.ContainsAny(graphID, `/\`) || graphID == "." || graphID == ".." {
		return fmt.Errorf("invalid graph id %q", graphID)
	}
	return nil
}

// Save writes the record to <dir>/<graph_id>.json via a temp file and rename.
func (s *Store) Save(_ context.Context, record *run.Record) error {
	if record == nil {
		return fmt.Errorf("checkpoint record is nil")
	}
	if err := validID(record.GraphID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, record.GraphID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(record.GraphID)); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// Load reads the record for graphID.
func (s *Store) Load(_ context.Context, graphID string) (*run.Record, error) {
	if err := validID(graphID); err != nil {
		return nil, err
	}
	return s.read(s.path(graphID), graphID)
}

func (s *Store) read(path, graphID string) (*run.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, graphID)
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var record run.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", graphID, err)
	}
	return &record, nil
}

// Exists checks if a checkpoint exists for graphID.
func (s *Store) Exists(graphID string) bool {
	if validID(graphID) != nil {
		return false
	}
	_, err := os.Stat(s.path(graphID))
	return err == nil
}

// Delete removes the checkpoint for graphID.
func (s *Store) Delete(_ context.Context, graphID string) error {
	if err := validID(graphID); err != nil {
		return err
	}
	if err := os.Remove(s.path(graphID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", store.ErrNotFound, graphID)
		}
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// IDs returns the graph ids that have a checkpoint.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == fileExt {
			ids = append(ids, strings.TrimSuffix(entry.Name(), fileExt))
		}
	}
	return ids, nil
}

// List loads every checkpoint that passes filter. Unreadable files are
// skipped so one corrupt checkpoint does not hide the rest.
func (s *Store) List(ctx context.Context, filter run.Filter) ([]*run.Record, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}

	var out []*run.Record
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := s.read(s.path(id), id)
		if err != nil {
			continue
		}
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	store.SortRecords(out)
	return out, nil
}

// Ping checks that the directory can be created and written.
func (s *Store) Ping(context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint directory unavailable: %w", err)
	}
	f, err := os.CreateTemp(s.dir, ".ping-*")
	if err != nil {
		return fmt.Errorf("checkpoint directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
