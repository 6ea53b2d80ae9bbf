package health

import (
	"context"
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/engine"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/store"
)

// StoreChecker verifies the record store answers. Stores implementing
// store.Pinger are pinged; others must complete an active-record listing.
type StoreChecker struct {
	store store.Store
}

func NewStoreChecker(s store.Store) *StoreChecker {
	return &StoreChecker{store: s}
}

func (c *StoreChecker) Name() string { return "store" }

func (c *StoreChecker) Check(ctx context.Context) *Result {
	start := time.Now()

	var err error
	if p, ok := c.store.(store.Pinger); ok {
		err = p.Ping(ctx)
	} else {
		_, err = c.store.List(ctx, run.Filter{ActiveOnly: true})
	}
	if err != nil {
		return Unhealthy("record store unreachable").
			WithDetail("error", err.Error()).
			WithLatency(time.Since(start))
	}
	return Healthy("record store reachable").WithLatency(time.Since(start))
}

// StatsSource is the part of the engine the engine checker needs.
type StatsSource interface {
	Stats() engine.Stats
}

// EngineChecker reports the engine unhealthy once it stops accepting
// graphs, and degraded when more graphs are active than HighWater.
type EngineChecker struct {
	engine StatsSource
	// HighWater is the active graph count above which the engine is
	// reported degraded. Zero disables the check.
	HighWater int
}

func NewEngineChecker(e StatsSource) *EngineChecker {
	return &EngineChecker{engine: e}
}

func (c *EngineChecker) Name() string { return "engine" }

func (c *EngineChecker) Check(context.Context) *Result {
	s := c.engine.Stats()

	var r *Result
	switch {
	case s.Stopped:
		r = Unhealthy("engine is shutting down")
	case c.HighWater > 0 && s.Active > c.HighWater:
		r = Degraded("engine is saturated")
	default:
		r = Healthy("engine accepting graphs")
	}
	return r.WithDetail("active_graphs", s.Active).WithDetail("workers", s.Workers)
}
