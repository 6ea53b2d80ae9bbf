package exitcode

import (
	"context"
	"errors"
	"os"
	"strings"

	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/run"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates the command (and any graph it waited for) succeeded
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// BuildError indicates the plan could not be produced or turned into a graph
	BuildError = 3

	// GraphFailed indicates no task of the graph succeeded
	GraphFailed = 4

	// GraphPartiallyFailed indicates some but not all tasks succeeded
	GraphPartiallyFailed = 5

	// GraphCancelled indicates the graph was cancelled
	GraphCancelled = 6

	// Interrupted indicates the process received SIGINT
	Interrupted = 130
)

// OutcomeError carries a finished graph's status through cobra so main can
// pick the matching exit code.
type OutcomeError struct {
	GraphID string
	Status  run.Status
}

func (e *OutcomeError) Error() string {
	return "graph " + e.GraphID + " finished " + e.Status.String()
}

// FromRecord returns nil for a succeeded record and an *OutcomeError
// otherwise.
func FromRecord(r *run.Record) error {
	if r == nil || r.Status == run.StatusSucceeded {
		return nil
	}
	return &OutcomeError{GraphID: r.GraphID, Status: r.Status}
}

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// ForStatus maps a graph status to its exit code.
func ForStatus(s run.Status) int {
	switch s {
	case run.StatusSucceeded:
		return Success
	case run.StatusFailed:
		return GraphFailed
	case run.StatusPartiallyFailed:
		return GraphPartiallyFailed
	case run.StatusCancelled:
		return GraphCancelled
	default:
		return GeneralError
	}
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var outcome *OutcomeError
	if errors.As(err, &outcome) {
		return ForStatus(outcome.Status)
	}

	if errors.Is(err, context.Canceled) {
		return Interrupted
	}

	if code, ok := tgerrors.CodeOf(err); ok {
		switch code {
		case tgerrors.ErrCodeGraphCancelled:
			return GraphCancelled
		case tgerrors.ErrCodeGraphFailed:
			return GraphFailed
		case tgerrors.ErrCodeGraphPartial:
			return GraphPartiallyFailed
		}
		if cat := category(code); cat == "BUILD" || cat == "PLAN" {
			return BuildError
		}
		return GeneralError
	}

	// cobra reports flag and argument problems as plain errors
	errMsg := strings.ToLower(err.Error())
	for _, usage := range []string{"unknown flag", "unknown shorthand flag", "unknown command", "invalid argument",
		"required flag", "missing argument", "accepts ", "flag needs an argument"} {
		if strings.Contains(errMsg, usage) {
			return UsageError
		}
	}

	return GeneralError
}

func category(code tgerrors.ErrorCode) string {
	s := string(code)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case BuildError:
		return "Plan or graph build error"
	case GraphFailed:
		return "Graph failed"
	case GraphPartiallyFailed:
		return "Graph partially failed"
	case GraphCancelled:
		return "Graph cancelled"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
