// Package health reports whether a taskgraph server can accept work.
//
// A Manager runs named Checkers in parallel, each under its own timeout, and
// folds their results into one Status. ProbeManager layers the liveness,
// readiness and startup probes of an orchestrator on top of it:
//
//	probes := health.NewProbeManager(version.Version)
//	probes.AddChecker(health.NewStoreChecker(records))
//	probes.AddChecker(health.NewEngineChecker(eng))
//	probes.MarkInitialized()
package health

import (
	"context"
	"time"
)

// Checker verifies one dependency.
type Checker interface {
	// Name identifies the check in probe output, e.g. "store".
	Name() string

	// Check must honor ctx and return a non-nil result.
	Check(ctx context.Context) *Result
}

// CheckFunc adapts a function to Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) *Result
}

func (f CheckFunc) Name() string                      { return f.CheckName }
func (f CheckFunc) Check(ctx context.Context) *Result { return f.Fn(ctx) }

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy Status = "healthy"
	// StatusDegraded means the component works with reduced capacity.
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) String() string {
	return string(s)
}

// Result is what a check found.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency_ns,omitempty"`
}

// NewResult creates a result with an empty detail map.
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithDetail sets one detail and returns r for chaining.
func (r *Result) WithDetail(key string, value any) *Result {
	r.Details[key] = value
	return r
}

// WithLatency records how long the check took.
func (r *Result) WithLatency(latency time.Duration) *Result {
	r.Latency = latency
	return r
}

func Healthy(message string) *Result   { return NewResult(StatusHealthy, message) }
func Degraded(message string) *Result  { return NewResult(StatusDegraded, message) }
func Unhealthy(message string) *Result { return NewResult(StatusUnhealthy, message) }
