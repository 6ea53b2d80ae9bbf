package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/felixgeelhaar/taskgraph/internal/proc"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// Exec delegates planning to an external command, typically one that asks a
// language model. It receives {"objective": "..."} on stdin and prints the
// task list as JSON on stdout (a markdown fence around it is tolerated).
type Exec struct {
	path string
	args []string
}

// NewExec creates a command planner.
func NewExec(command string, args ...string) (*Exec, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("planner executable not found: %s: %w", command, err)
	}
	return &Exec{path: path, args: args}, nil
}

// Plan implements Planner.
func (e *Exec) Plan(ctx context.Context, objective string) ([]task.Spec, error) {
	input, err := json.Marshal(map[string]string{"objective": objective})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal planner request: %w", err)
	}

	cmd := proc.Command(ctx, e.path, e.args...)
	cmd.Stdin = bytes.NewReader(input)

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("planner aborted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("planner failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("failed to execute planner: %w", err)
	}

	return ParseTasks(output)
}
