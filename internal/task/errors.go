package task

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a node failure.
type ErrorKind string

const (
	KindToolFailure      ErrorKind = "tool_failure"
	KindTimeout          ErrorKind = "timeout"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	// KindInterrupted marks an attempt whose outcome was lost because the
	// process stopped while it was running.
	KindInterrupted ErrorKind = "interrupted"
)

// Sentinels matched by errors.Is against a *NodeError of the same kind.
var (
	ErrToolFailure      = errors.New("tool failure")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrInterrupted      = errors.New("interrupted")
)

// NodeError is the failure payload recorded on a node. It survives
// serialization, so it carries text rather than the original error value.
type NodeError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *NodeError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *NodeError) Unwrap() error {
	switch e.Kind {
	case KindTimeout:
		return ErrTimeout
	case KindInvalidArguments:
		return ErrInvalidArguments
	case KindInterrupted:
		return ErrInterrupted
	default:
		return ErrToolFailure
	}
}

// Errorf builds a NodeError of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *NodeError {
	return &NodeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ToolFailure wraps err as a tool failure.
func ToolFailure(err error) *NodeError {
	return &NodeError{Kind: KindToolFailure, Message: err.Error()}
}

// InvalidArguments builds an invalid-arguments failure.
func InvalidArguments(format string, args ...any) *NodeError {
	return Errorf(KindInvalidArguments, format, args...)
}

// Classify turns any invocation error into a NodeError. A NodeError anywhere
// in the chain wins; deadline errors become timeouts; the rest are tool
// failures.
func Classify(err error) *NodeError {
	if err == nil {
		return nil
	}
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NodeError{Kind: KindTimeout, Message: err.Error()}
	}
	return ToolFailure(err)
}

// Clone returns a copy, or nil for a nil receiver.
func (e *NodeError) Clone() *NodeError {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
