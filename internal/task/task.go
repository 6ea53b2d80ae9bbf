// Package task defines task nodes: the immutable description a planner
// produces plus the runtime state the scheduler advances.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Spec is the immutable description of one unit of work.
type Spec struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	ToolName    string         `json:"tool_name" yaml:"tool_name"`
	Arguments   map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	DependsOn   []string       `json:"dependency_ids,omitempty" yaml:"dependency_ids,omitempty"`

	// MaxAttempts overrides the engine default when positive.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	// Timeout overrides the engine's per-node timeout when positive.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Attempt records one invocation of a node's tool.
type Attempt struct {
	Number     int        `json:"number"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	Error      *NodeError `json:"error,omitempty"`
}

// Node is a point-in-time view of a task: its spec plus runtime state.
type Node struct {
	Spec

	State        State           `json:"state"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"effective_max_attempts"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *NodeError      `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at,omitempty"`
	FinishedAt   time.Time       `json:"finished_at,omitempty"`
	Attempts     []Attempt       `json:"attempts,omitempty"`
}

// NewNode creates a pending node for spec with the given attempt budget.
func NewNode(spec Spec, maxAttempts int) *Node {
	if spec.MaxAttempts > 0 {
		maxAttempts = spec.MaxAttempts
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Node{
		Spec:        spec,
		State:       StatePending,
		MaxAttempts: maxAttempts,
	}
}

// Transition moves the node to the given state if the state machine allows it.
func (n *Node) Transition(to State) error {
	if !CanTransition(n.State, to) {
		return &TransitionError{NodeID: n.ID, From: n.State, To: to}
	}
	n.State = to
	return nil
}

// AttemptsLeft reports whether another invocation is within budget.
func (n *Node) AttemptsLeft() bool {
	return n.AttemptCount < n.MaxAttempts
}

// Clone returns a deep copy of the runtime state. The Spec is shared because
// it never changes after build.
func (n *Node) Clone() *Node {
	c := *n
	c.Error = n.Error.Clone()
	if n.Attempts != nil {
		c.Attempts = make([]Attempt, len(n.Attempts))
		for i, a := range n.Attempts {
			a.Error = a.Error.Clone()
			c.Attempts[i] = a
		}
	}
	if n.Result != nil {
		c.Result = append(json.RawMessage(nil), n.Result...)
	}
	return &c
}

// Duration is a time.Duration that reads and writes as "1m30s" in JSON and
// YAML. Plain JSON numbers are taken as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := durationOf(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	parsed, err := durationOf(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// durationOf reads a decoded scalar: a number is seconds, a string is a
// Go duration, null is zero.
func durationOf(v any) (Duration, error) {
	switch value := v.(type) {
	case int:
		return Duration(time.Duration(value) * time.Second), nil
	case int64:
		return Duration(time.Duration(value) * time.Second), nil
	case float64:
		return Duration(time.Duration(value * float64(time.Second))), nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", value, err)
		}
		return Duration(parsed), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid duration %v", value)
	}
}
