package graph

import (
	"errors"
	"fmt"
	"strings"
)

// BuildErrorKind classifies why a graph could not be built.
type BuildErrorKind string

const (
	KindCycleDetected      BuildErrorKind = "cycle_detected"
	KindDanglingDependency BuildErrorKind = "dangling_dependency"
	KindDuplicateID        BuildErrorKind = "duplicate_id"
	KindInvalidSpec        BuildErrorKind = "invalid_spec"
)

var (
	ErrCycleDetected      = errors.New("cycle detected")
	ErrDanglingDependency = errors.New("dangling dependency")
	ErrDuplicateID        = errors.New("duplicate id")
	ErrInvalidSpec        = errors.New("invalid task spec")
)

// BuildError is returned by Build. Nodes names the implicated ids; for a
// cycle it is the chain in traversal order, ending where it started.
type BuildError struct {
	Kind   BuildErrorKind
	Nodes  []string
	Detail string
}

func (e *BuildError) Error() string {
	switch e.Kind {
	case KindCycleDetected:
		return fmt.Sprintf("cycle detected: %s", strings.Join(e.Nodes, " -> "))
	default:
		return fmt.Sprintf("%s: %s", e.sentinel(), e.Detail)
	}
}

func (e *BuildError) Unwrap() error {
	return e.sentinel()
}

func (e *BuildError) sentinel() error {
	switch e.Kind {
	case KindCycleDetected:
		return ErrCycleDetected
	case KindDanglingDependency:
		return ErrDanglingDependency
	case KindDuplicateID:
		return ErrDuplicateID
	default:
		return ErrInvalidSpec
	}
}

func cycleError(chain []string) error {
	return &BuildError{Kind: KindCycleDetected, Nodes: chain}
}
