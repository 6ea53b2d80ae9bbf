// Package store persists Graph Run Records. The engine writes through the
// Store interface after every scheduler transition; which backend sits
// behind it decides whether runs survive a process restart.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/felixgeelhaar/taskgraph/internal/run"
)

// ErrNotFound is returned by Load and Delete for unknown graph ids.
var ErrNotFound = errors.New("graph record not found")

// Store saves and loads run records. Implementations must be safe for
// concurrent use and must not retain the records passed to Save.
type Store interface {
	Save(ctx context.Context, record *run.Record) error
	Load(ctx context.Context, graphID string) (*run.Record, error)
	List(ctx context.Context, filter run.Filter) ([]*run.Record, error)
	Delete(ctx context.Context, graphID string) error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SortRecords orders records oldest first, breaking ties by id.
func SortRecords(records []*run.Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].GraphID < records[j].GraphID
	})
}
