// Package run holds the Graph Run Record: the aggregate, persistable state
// of one submitted objective.
package run

import (
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// RecordVersion is written into every record so stores can migrate older
// layouts.
const RecordVersion = "1.0"

// Status is the graph-level outcome.
type Status string

const (
	StatusRunning         Status = "running"
	StatusSucceeded       Status = "succeeded"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusRunning,
	StatusSucceeded,
	StatusPartiallyFailed,
	StatusFailed,
	StatusCancelled,
}

// IsTerminal reports whether a record with this status is frozen.
func (s Status) IsTerminal() bool {
	return s != StatusRunning && s != ""
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// DiagnosticKind classifies a graph-level error.
type DiagnosticKind string

const (
	DiagnosticDeadlock  DiagnosticKind = "deadlock"
	DiagnosticCancelled DiagnosticKind = "cancelled"
	DiagnosticFailFast  DiagnosticKind = "fail_fast"
)

// Diagnostic explains why a graph ended the way it did when node states
// alone do not.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`
	NodeID  string         `json:"node_id,omitempty"`
}

// Record is the persisted state of one graph run. It carries every node
// spec, so a run can be resumed without calling the planner again.
type Record struct {
	Version     string                `json:"version"`
	GraphID     string                `json:"graph_id"`
	Objective   string                `json:"objective"`
	Owner       string                `json:"owner,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	FinishedAt  time.Time             `json:"finished_at,omitempty"`
	Status      Status                `json:"status"`
	FailFast    bool                  `json:"fail_fast,omitempty"`
	Fingerprint string                `json:"fingerprint"`
	Order       []string              `json:"order"`
	Nodes       map[string]*task.Node `json:"nodes"`
	Diagnostic  *Diagnostic           `json:"diagnostic,omitempty"`
	Metadata    map[string]string     `json:"metadata,omitempty"`
}

// NewRecord creates a running record with no nodes.
func NewRecord(graphID, objective string) *Record {
	now := time.Now().UTC()
	return &Record{
		Version:   RecordVersion,
		GraphID:   graphID,
		Objective: objective,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusRunning,
		Nodes:     make(map[string]*task.Node),
	}
}

// AddNode appends a node, keeping declaration order.
func (r *Record) AddNode(n *task.Node) {
	if _, exists := r.Nodes[n.ID]; !exists {
		r.Order = append(r.Order, n.ID)
	}
	r.Nodes[n.ID] = n
}

// Node returns the node with the given id.
func (r *Record) Node(id string) (*task.Node, bool) {
	n, ok := r.Nodes[id]
	return n, ok
}

// OrderedNodes returns nodes in declaration order.
func (r *Record) OrderedNodes() []*task.Node {
	out := make([]*task.Node, 0, len(r.Order))
	for _, id := range r.Order {
		if n, ok := r.Nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Specs returns the node specs in declaration order.
func (r *Record) Specs() []task.Spec {
	out := make([]task.Spec, 0, len(r.Order))
	for _, n := range r.OrderedNodes() {
		out = append(out, n.Spec)
	}
	return out
}

// States maps each node id to its current state.
func (r *Record) States() map[string]task.State {
	states := make(map[string]task.State, len(r.Nodes))
	for id, n := range r.Nodes {
		states[id] = n.State
	}
	return states
}

// NodesIn returns, in declaration order, the ids of nodes in any of the
// given states.
func (r *Record) NodesIn(states ...task.State) []string {
	var ids []string
	for _, n := range r.OrderedNodes() {
		for _, s := range states {
			if n.State == s {
				ids = append(ids, n.ID)
				break
			}
		}
	}
	return ids
}

// IsTerminal reports whether the run has finished.
func (r *Record) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Outcome derives the natural terminal status from node states: Succeeded
// when every node succeeded, PartiallyFailed when some did, Failed when none
// did. An empty graph succeeds.
func (r *Record) Outcome() Status {
	succeeded := 0
	for _, n := range r.Nodes {
		if n.State == task.StateSucceeded {
			succeeded++
		}
	}
	switch {
	case succeeded == len(r.Nodes):
		return StatusSucceeded
	case succeeded > 0:
		return StatusPartiallyFailed
	default:
		return StatusFailed
	}
}

// Finish freezes the record with the given status.
func (r *Record) Finish(status Status, at time.Time) {
	r.Status = status
	r.FinishedAt = at
	r.UpdatedAt = at
}

// Touch updates the modification time.
func (r *Record) Touch(at time.Time) {
	r.UpdatedAt = at
}

// Progress returns the fraction of nodes that reached a terminal state,
// from 0.0 to 1.0. An empty graph is complete once its run is.
func (r *Record) Progress() float64 {
	if len(r.Nodes) == 0 {
		if r.IsTerminal() {
			return 1.0
		}
		return 0.0
	}

	done := 0
	for _, n := range r.Nodes {
		if n.State.IsTerminal() {
			done++
		}
	}
	return float64(done) / float64(len(r.Nodes))
}

// SetMetadata sets a metadata key-value pair.
func (r *Record) SetMetadata(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// GetMetadata retrieves a metadata value.
func (r *Record) GetMetadata(key string) (string, bool) {
	if r.Metadata == nil {
		return "", false
	}
	value, ok := r.Metadata[key]
	return value, ok
}

// Clone returns a deep copy that shares nothing mutable with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Order = append([]string(nil), r.Order...)
	c.Nodes = make(map[string]*task.Node, len(r.Nodes))
	for id, n := range r.Nodes {
		c.Nodes[id] = n.Clone()
	}
	if r.Diagnostic != nil {
		d := *r.Diagnostic
		c.Diagnostic = &d
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
