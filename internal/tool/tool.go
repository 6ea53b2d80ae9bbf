// Package tool is the tool-execution capability: named pieces of business
// logic that a task node invokes with a JSON object of arguments.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/retry"
)

// Invoker runs the tool named by a task node. Implementations must be safe
// for concurrent use: the worker pool calls Invoke for many nodes at once.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, name string, args map[string]any) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	return f(ctx, name, args)
}

// Tool is one named capability.
type Tool interface {
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a function to Tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

func (f Func) Call(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Settings are per-tool overrides of the engine's execution defaults. Zero
// fields keep the engine value.
type Settings struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     retry.Policy
}

// SettingsProvider is implemented by invokers that carry per-tool settings.
// The engine consults it when it schedules a node.
type SettingsProvider interface {
	ToolSettings(name string) (Settings, bool)
}

// normalize converts arguments to the shapes encoding/json produces, so
// values decoded from YAML or built in Go validate the same way.
func normalize(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("arguments are not JSON-serializable: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
