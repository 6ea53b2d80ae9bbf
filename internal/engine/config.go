package engine

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/retry"
)

const (
	// DefaultWorkers is the shared pool size when none is configured.
	DefaultWorkers = 4
	// DefaultMaxAttempts is the per-node invocation budget.
	DefaultMaxAttempts = 3
	// DefaultRetention is how long Cleanup keeps finished records.
	DefaultRetention = 24 * time.Hour
	// DefaultStoreTimeout bounds one record write.
	DefaultStoreTimeout = 5 * time.Second
)

// Config holds the execution defaults shared by every graph of one Engine.
type Config struct {
	// Workers bounds how many tool invocations run at once, across graphs.
	Workers int
	// MaxAttempts is used for nodes whose spec and tool set none.
	MaxAttempts int
	// NodeTimeout bounds one attempt; zero means no limit.
	NodeTimeout time.Duration
	// FailFast cancels the rest of a graph on the first permanent failure.
	FailFast bool
	// Backoff is the delay policy before a failed node is offered again.
	Backoff retry.Policy
	// StoreTimeout bounds one record write.
	StoreTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      DefaultWorkers,
		MaxAttempts:  DefaultMaxAttempts,
		Backoff:      retry.DefaultPolicy(),
		StoreTimeout: DefaultStoreTimeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.NodeTimeout < 0 {
		return fmt.Errorf("node_timeout must not be negative, got %s", c.NodeTimeout)
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("store_timeout must not be negative, got %s", c.StoreTimeout)
	}
	if err := c.Backoff.Validate(); err != nil {
		return err
	}
	return nil
}
