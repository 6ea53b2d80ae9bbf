// Package planner turns an objective into a list of task specs. The engine
// consumes planners through the Planner interface and never inspects how a
// plan was produced.
package planner

import (
	"context"

	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// Planner decomposes an objective into task specs. A returned error aborts
// the submission before anything runs.
type Planner interface {
	Plan(ctx context.Context, objective string) ([]task.Spec, error)
}

// Func adapts a function to Planner.
type Func func(ctx context.Context, objective string) ([]task.Spec, error)

func (f Func) Plan(ctx context.Context, objective string) ([]task.Spec, error) {
	return f(ctx, objective)
}

// Static returns the same specs for every objective.
type Static []task.Spec

func (s Static) Plan(_ context.Context, _ string) ([]task.Spec, error) {
	out := make([]task.Spec, len(s))
	copy(out, s)
	return out, nil
}
