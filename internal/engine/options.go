package engine

import (
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/metrics"
	"github.com/felixgeelhaar/taskgraph/internal/notify"
	"github.com/felixgeelhaar/taskgraph/internal/planner"
	"github.com/felixgeelhaar/taskgraph/internal/store"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the execution defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithPlanner sets the planner Submit consults when no tasks are given.
func WithPlanner(p planner.Planner) Option {
	return func(e *Engine) {
		e.planner = p
	}
}

// WithStore sets where run records are persisted. The default is an
// in-memory store.
func WithStore(s store.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics the engine records into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

type submitOptions struct {
	owner       string
	failFast    *bool
	maxAttempts int
	tasks       []task.Spec
	hasTasks    bool
	metadata    map[string]string
}

// SubmitOption configures one submission.
type SubmitOption func(*submitOptions)

// WithOwner records the submitting principal, used by List filters.
func WithOwner(owner string) SubmitOption {
	return func(o *submitOptions) {
		o.owner = owner
	}
}

// WithFailFast overrides the engine's fail-fast policy for this graph.
func WithFailFast(enabled bool) SubmitOption {
	return func(o *submitOptions) {
		o.failFast = &enabled
	}
}

// WithMaxAttempts sets the attempt budget for nodes whose spec sets none.
func WithMaxAttempts(n int) SubmitOption {
	return func(o *submitOptions) {
		o.maxAttempts = n
	}
}

// WithTasks skips the planner and runs the given specs.
func WithTasks(specs []task.Spec) SubmitOption {
	return func(o *submitOptions) {
		o.tasks = specs
		o.hasTasks = true
	}
}

// WithMetadata attaches a key-value pair to the run record.
func WithMetadata(key, value string) SubmitOption {
	return func(o *submitOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]string)
		}
		o.metadata[key] = value
	}
}
