// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/store"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// NewRecord builds a two-node record owned by owner.
func NewRecord(id, owner string, created time.Time) *run.Record {
	r := run.NewRecord(id, "objective "+id)
	r.Owner = owner
	r.CreatedAt = created.UTC().Truncate(time.Millisecond)
	r.UpdatedAt = r.CreatedAt
	r.Fingerprint = "fp-" + id

	a := task.NewNode(task.Spec{ID: "a", ToolName: "echo", Arguments: map[string]any{"x": "1"}}, 3)
	a.State = task.StateSucceeded
	a.AttemptCount = 1
	a.Result = json.RawMessage(`{"x":"1"}`)
	b := task.NewNode(task.Spec{ID: "b", ToolName: "echo", DependsOn: []string{"a"}}, 3)
	r.AddNode(a)
	r.AddNode(b)
	return r
}

// Run exercises s. The store must start empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	t.Run("load missing", func(t *testing.T) {
		_, err := s.Load(ctx, "missing")
		assert.True(t, errors.Is(err, store.ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("save and load", func(t *testing.T) {
		r := NewRecord("g-save", "alice", base)
		require.NoError(t, s.Save(ctx, r))

		loaded, err := s.Load(ctx, "g-save")
		require.NoError(t, err)
		assert.Equal(t, "alice", loaded.Owner)
		assert.Equal(t, []string{"a", "b"}, loaded.Order)
		assert.Equal(t, task.StateSucceeded, loaded.Nodes["a"].State)
		assert.JSONEq(t, `{"x":"1"}`, string(loaded.Nodes["a"].Result))
		assert.Equal(t, []string{"a"}, loaded.Nodes["b"].DependsOn)
		assert.True(t, r.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("save does not retain caller record", func(t *testing.T) {
		r := NewRecord("g-alias", "alice", base)
		require.NoError(t, s.Save(ctx, r))
		r.Nodes["b"].State = task.StateFailed

		loaded, err := s.Load(ctx, "g-alias")
		require.NoError(t, err)
		assert.Equal(t, task.StatePending, loaded.Nodes["b"].State)
	})

	t.Run("save overwrites", func(t *testing.T) {
		r := NewRecord("g-over", "bob", base)
		require.NoError(t, s.Save(ctx, r))

		r.Nodes["b"].State = task.StateSucceeded
		r.Finish(run.StatusSucceeded, base.Add(time.Minute).UTC().Truncate(time.Millisecond))
		require.NoError(t, s.Save(ctx, r))

		loaded, err := s.Load(ctx, "g-over")
		require.NoError(t, err)
		assert.Equal(t, run.StatusSucceeded, loaded.Status)
		assert.Equal(t, task.StateSucceeded, loaded.Nodes["b"].State)
	})

	t.Run("list filters", func(t *testing.T) {
		all, err := s.List(ctx, run.Filter{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(all), 3)
		for i := 1; i < len(all); i++ {
			assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt), "records must be oldest first")
		}

		bobs, err := s.List(ctx, run.Filter{Owner: "bob"})
		require.NoError(t, err)
		require.Len(t, bobs, 1)
		assert.Equal(t, "g-over", bobs[0].GraphID)

		active, err := s.List(ctx, run.Filter{ActiveOnly: true})
		require.NoError(t, err)
		for _, r := range active {
			assert.False(t, r.IsTerminal())
		}

		done, err := s.List(ctx, run.Filter{Statuses: []run.Status{run.StatusSucceeded}})
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, "g-over", done[0].GraphID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, NewRecord("g-del", "carol", base)))
		require.NoError(t, s.Delete(ctx, "g-del"))

		_, err := s.Load(ctx, "g-del")
		assert.True(t, errors.Is(err, store.ErrNotFound))
		assert.True(t, errors.Is(s.Delete(ctx, "g-del"), store.ErrNotFound))
	})

	t.Run("concurrent saves", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r := NewRecord("g-conc", "dave", base)
				r.SetMetadata("writer", string(rune('0'+i)))
				assert.NoError(t, s.Save(ctx, r))
			}(i)
		}
		wg.Wait()

		loaded, err := s.Load(ctx, "g-conc")
		require.NoError(t, err)
		_, ok := loaded.GetMetadata("writer")
		assert.True(t, ok)
	})
}
