// Package retry describes how long a failed node waits before it is
// offered to the worker pool again.
//
// A Policy is plain configuration; NewBackOff turns it into a stateful
// backoff.BackOff that the scheduler keeps per node, so consecutive
// failures of the same node grow the delay while other nodes start fresh.
package retry

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Strategy selects the delay curve.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyConstant    Strategy = "constant"
	StrategyNone        Strategy = "none"
)

// Policy configures retry delays.
type Policy struct {
	Strategy        Strategy      `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	InitialInterval time.Duration `yaml:"initial_interval,omitempty" json:"initial_interval,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty" json:"max_interval,omitempty"`
	Multiplier      float64       `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	// Jitter randomizes each delay by +/- this fraction. Range [0, 1).
	Jitter float64 `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// DefaultPolicy is exponential: 100ms, doubling, capped at 5s, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:        StrategyExponential,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
	}
}

// Validate checks that the policy can produce delays.
func (p Policy) Validate() error {
	switch p.Strategy {
	case StrategyExponential, StrategyConstant, StrategyNone, "":
	default:
		return fmt.Errorf("unknown backoff strategy %q (expected exponential, constant or none)", p.Strategy)
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		return fmt.Errorf("backoff intervals must not be negative")
	}
	if p.MaxInterval > 0 && p.InitialInterval > p.MaxInterval {
		return fmt.Errorf("backoff initial_interval %s exceeds max_interval %s", p.InitialInterval, p.MaxInterval)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %g", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("backoff jitter must be in [0, 1), got %g", p.Jitter)
	}
	return nil
}

// Merge returns p with every non-zero field of override applied.
func (p Policy) Merge(override Policy) Policy {
	if override.Strategy != "" {
		p.Strategy = override.Strategy
	}
	if override.InitialInterval > 0 {
		p.InitialInterval = override.InitialInterval
	}
	if override.MaxInterval > 0 {
		p.MaxInterval = override.MaxInterval
	}
	if override.Multiplier > 0 {
		p.Multiplier = override.Multiplier
	}
	if override.Jitter > 0 {
		p.Jitter = override.Jitter
	}
	return p
}

// IsZero reports whether no field is set.
func (p Policy) IsZero() bool {
	return p == Policy{}
}

// NewBackOff returns a fresh delay generator for one node.
func (p Policy) NewBackOff() backoff.BackOff {
	defaults := DefaultPolicy()

	switch p.Strategy {
	case StrategyNone:
		return &backoff.ZeroBackOff{}
	case StrategyConstant:
		interval := p.InitialInterval
		if interval <= 0 {
			interval = defaults.InitialInterval
		}
		return backoff.NewConstantBackOff(interval)
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = pick(p.InitialInterval, defaults.InitialInterval)
		b.MaxInterval = pick(p.MaxInterval, defaults.MaxInterval)
		b.Multiplier = defaults.Multiplier
		if p.Multiplier > 0 {
			b.Multiplier = p.Multiplier
		}
		b.RandomizationFactor = p.Jitter
		b.Reset()
		return b
	}
}

// Next asks b for the next delay. A generator that gives up yields zero,
// because the attempt budget, not the backoff, decides when to stop.
func Next(b backoff.BackOff) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop || d < 0 {
		return 0
	}
	return d
}

func pick(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
