package engine

import (
	"errors"
	"fmt"

	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/graph"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// Causes attached to a run context when it is cancelled.
var (
	errCancelled = errors.New("graph cancelled")
	errShutdown  = errors.New("engine shutting down")
	errFinished  = errors.New("graph finished")
)

// ErrStopped is returned by operations on an engine after Shutdown.
var ErrStopped = tgerrors.New(tgerrors.ErrCodeEngineStopped, "engine is shut down").
	WithSuggestion("Create a new engine or restart the server")

// buildError translates a graph build failure into a coded error.
func buildError(err error) error {
	var be *graph.BuildError
	if !errors.As(err, &be) {
		return tgerrors.Wrap(tgerrors.ErrCodeBuildInvalid, "task graph could not be built", err)
	}
	switch be.Kind {
	case graph.KindCycleDetected:
		return tgerrors.NewBuildCycleError(err)
	case graph.KindDanglingDependency:
		return tgerrors.NewBuildDanglingError(err)
	case graph.KindDuplicateID:
		return tgerrors.NewBuildDuplicateError(err)
	default:
		return tgerrors.Wrap(tgerrors.ErrCodeBuildInvalid, "task spec is incomplete", err).
			WithSuggestion("Every task needs an id and a tool_name")
	}
}

func fingerprintMismatch(graphID, want, got string) error {
	return tgerrors.New(tgerrors.ErrCodeBuildMismatched,
		fmt.Sprintf("stored graph %s does not match its rebuilt topology (fingerprint %.12s, rebuilt %.12s)", graphID, want, got)).
		WithSuggestion("The record was modified outside taskgraph; submit the objective again")
}

// errorCode returns the structured code of err, or "unknown".
func errorCode(err error) string {
	if code, ok := tgerrors.CodeOf(err); ok {
		return string(code)
	}
	return "unknown"
}

// Validate builds the graph for specs without running it. Build failures
// carry the same codes Submit returns.
func Validate(specs []task.Spec) (*graph.Graph, error) {
	g, err := graph.Build(specs)
	if err != nil {
		return nil, buildError(err)
	}
	return g, nil
}
