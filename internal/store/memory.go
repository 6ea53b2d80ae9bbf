package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/taskgraph/internal/run"
)

// Memory keeps records in process memory. Runs do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*run.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*run.Record)}
}

func (m *Memory) Save(_ context.Context, record *run.Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.GraphID] = record.Clone()
	return nil
}

func (m *Memory) Load(_ context.Context, graphID string) (*run.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[graphID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, graphID)
	}
	return r.Clone(), nil
}

func (m *Memory) List(_ context.Context, filter run.Filter) ([]*run.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*run.Record
	for _, r := range m.records {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	SortRecords(out)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, graphID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[graphID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, graphID)
	}
	delete(m.records, graphID)
	return nil
}

// Ping implements Pinger.
func (m *Memory) Ping(context.Context) error {
	return nil
}
