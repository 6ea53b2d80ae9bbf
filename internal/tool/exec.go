package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/felixgeelhaar/taskgraph/internal/proc"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// ExitUsage is the exit status an executable tool uses to reject its
// arguments (sysexits EX_USAGE). It maps to an InvalidArguments failure.
const ExitUsage = 64

// Exec wraps any executable that speaks JSON over stdin/stdout. The node's
// arguments are written to stdin as one JSON object; stdout is the result,
// decoded as JSON when it parses and returned as a string otherwise.
type Exec struct {
	path string
	args []string
	env  []string
	dir  string
}

// ExecOption configures an Exec tool.
type ExecOption func(*Exec)

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) ExecOption {
	return func(e *Exec) { e.env = append(e.env, env...) }
}

// WithDir sets the working directory.
func WithDir(dir string) ExecOption {
	return func(e *Exec) { e.dir = dir }
}

// NewExec creates an executable tool. The command must be on PATH or an
// explicit path.
func NewExec(command string, args []string, opts ...ExecOption) (*Exec, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("executable not found: %s: %w", command, err)
	}
	e := &Exec{path: path, args: args}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Call implements Tool.
func (e *Exec) Call(ctx context.Context, args map[string]any) (any, error) {
	input, err := json.Marshal(args)
	if err != nil {
		return nil, task.InvalidArguments("failed to marshal arguments: %v", err)
	}

	cmd := proc.Command(ctx, e.path, e.args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Dir = e.dir
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("tool %s aborted: %w", e.path, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg == "" {
				msg = exitErr.Error()
			}
			if exitErr.ExitCode() == ExitUsage {
				return nil, task.InvalidArguments("%s", msg)
			}
			return nil, fmt.Errorf("tool failed: %s", msg)
		}
		return nil, fmt.Errorf("failed to execute tool: %w", err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(out, &result); err != nil {
		return string(out), nil
	}
	return result, nil
}
