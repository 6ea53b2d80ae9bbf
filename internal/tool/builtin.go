package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// RegisterBuiltins adds the built-in tools to r:
//
//	echo   returns its arguments
//	sleep  waits for "duration" (default 1s), honoring cancellation
//	fail   always fails with "message"; "kind" may select invalid_arguments
//	flaky  fails the first "failures" calls per "key", then echoes
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		name        string
		tool        Tool
		description string
	}{
		{"echo", Func(Echo), "Return the arguments unchanged"},
		{"sleep", Func(Sleep), "Wait for the given duration"},
		{"fail", Func(Fail), "Always fail"},
		{"flaky", NewFlaky(), "Fail a fixed number of times, then succeed"},
	}
	for _, b := range builtins {
		if err := r.Register(b.name, b.tool, WithDescription(b.description)); err != nil {
			return err
		}
	}
	return nil
}

// Echo returns args.
func Echo(_ context.Context, args map[string]any) (any, error) {
	return args, nil
}

// Sleep waits for args["duration"].
func Sleep(ctx context.Context, args map[string]any) (any, error) {
	d, err := durationArg(args, "duration", time.Second)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("sleep interrupted after less than %s: %w", d, ctx.Err())
	}
}

// Fail returns an error built from args["message"].
func Fail(_ context.Context, args map[string]any) (any, error) {
	msg, _ := args["message"].(string)
	if msg == "" {
		msg = "requested failure"
	}
	if kind, _ := args["kind"].(string); kind == string(task.KindInvalidArguments) {
		return nil, task.InvalidArguments("%s", msg)
	}
	return nil, fmt.Errorf("%s", msg)
}

// Flaky fails a configurable number of times per key before succeeding.
// Counts persist for the lifetime of the value.
type Flaky struct {
	mu    sync.Mutex
	calls map[string]int
}

// NewFlaky creates a Flaky with no recorded calls.
func NewFlaky() *Flaky {
	return &Flaky{calls: make(map[string]int)}
}

// Call implements Tool.
func (f *Flaky) Call(_ context.Context, args map[string]any) (any, error) {
	failures, err := intArg(args, "failures", 1)
	if err != nil {
		return nil, err
	}
	key, _ := args["key"].(string)

	f.mu.Lock()
	f.calls[key]++
	n := f.calls[key]
	f.mu.Unlock()

	if n <= failures {
		return nil, fmt.Errorf("flaky failure %d of %d", n, failures)
	}
	return map[string]any{"calls": n}, nil
}

// Calls returns how often key was invoked.
func (f *Flaky) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func durationArg(args map[string]any, name string, fallback time.Duration) (time.Duration, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, task.InvalidArguments("%s: %v", name, err)
		}
		return d, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	default:
		return 0, task.InvalidArguments("%s must be a duration string or seconds, got %T", name, raw)
	}
}

func intArg(args map[string]any, name string, fallback int) (int, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, task.InvalidArguments("%s: %v", name, err)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, task.InvalidArguments("%s: %v", name, err)
		}
		return n, nil
	default:
		return 0, task.InvalidArguments("%s must be an integer, got %T", name, raw)
	}
}
