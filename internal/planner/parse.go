package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// wireTask is the loose task shape planners emit. Several spellings are
// accepted for the tool and dependency fields because generated plans are
// not consistent about them.
type wireTask struct {
	ID          string         `json:"id" yaml:"id"`
	Title       string         `json:"title,omitempty" yaml:"title,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Tool        string         `json:"tool,omitempty" yaml:"tool,omitempty"`
	ToolName    string         `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	Agent       string         `json:"agent,omitempty" yaml:"agent,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`

	DependencyIDs []string `json:"dependency_ids,omitempty" yaml:"dependency_ids,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	MaxAttempts int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Timeout     task.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type wirePlan struct {
	Tasks []wireTask `json:"tasks" yaml:"tasks"`
}

func (w wireTask) spec() task.Spec {
	s := task.Spec{
		ID:          w.ID,
		Description: w.Description,
		ToolName:    firstNonEmpty(w.ToolName, w.Tool, w.Agent),
		Arguments:   w.Arguments,
		MaxAttempts: w.MaxAttempts,
		Timeout:     w.Timeout,
	}
	if s.Description == "" {
		s.Description = w.Title
	}
	for _, deps := range [][]string{w.DependencyIDs, w.Dependencies, w.DependsOn} {
		s.DependsOn = append(s.DependsOn, deps...)
	}
	return s
}

func toSpecs(tasks []wireTask) []task.Spec {
	specs := make([]task.Spec, 0, len(tasks))
	for _, w := range tasks {
		specs = append(specs, w.spec())
	}
	return specs
}

// ParseTasks decodes a JSON task list. It accepts a bare array or an object
// with a "tasks" array, optionally wrapped in a markdown code fence.
func ParseTasks(data []byte) ([]task.Spec, error) {
	cleaned := StripCodeFence(data)
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("plan output is empty")
	}

	if cleaned[0] == '[' {
		var tasks []wireTask
		if err := json.Unmarshal(cleaned, &tasks); err != nil {
			return nil, fmt.Errorf("failed to parse task list: %w", err)
		}
		return toSpecs(tasks), nil
	}

	var plan wirePlan
	if err := json.Unmarshal(cleaned, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return toSpecs(plan.Tasks), nil
}

// StripCodeFence removes a surrounding ``` or ```json fence and whitespace.
func StripCodeFence(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the info string, e.g. "json".
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return bytes.TrimSpace([]byte(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
