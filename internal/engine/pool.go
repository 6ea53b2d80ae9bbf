package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/metrics"
	"github.com/felixgeelhaar/taskgraph/internal/task"
	"github.com/felixgeelhaar/taskgraph/internal/telemetry"
	"github.com/felixgeelhaar/taskgraph/internal/tool"
)

// assignment is one attempt of one node, handed from a scheduler to a
// worker. The node is already Running when a worker receives it.
type assignment struct {
	ctx     context.Context
	graphID string
	nodeID  string
	tool    string
	args    map[string]any
	attempt int
	timeout time.Duration
	logger  *log.Logger
	events  chan<- event
}

// overrunGrace is how long a tool may take to return after its deadline
// before the overrun is logged.
const overrunGrace = 100 * time.Millisecond

// pool is the fixed set of workers shared by every graph of an engine.
type pool struct {
	work    chan *assignment
	invoker tool.Invoker
	metrics *metrics.Metrics

	group  *errgroup.Group
	cancel context.CancelFunc
}

func newPool(size int, invoker tool.Invoker, m *metrics.Metrics) *pool {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	p := &pool{
		work:    make(chan *assignment),
		invoker: invoker,
		metrics: m,
		group:   g,
		cancel:  cancel,
	}
	for i := 0; i < size; i++ {
		g.Go(func() error {
			p.worker(ctx)
			return nil
		})
	}
	m.WorkerPoolSize.Set(float64(size))
	return p
}

// stop ends idle workers and waits for busy ones. Schedulers must have
// exited first, or their last outcomes have nowhere to go.
func (p *pool) stop() {
	p.cancel()
	_ = p.group.Wait()
}

func (p *pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-p.work:
			a.events <- p.execute(a)
		}
	}
}

// execute runs one attempt and reports its outcome. It never panics.
func (p *pool) execute(a *assignment) event {
	if a.ctx.Err() != nil {
		return event{kind: eventOutcome, nodeID: a.nodeID, attempt: a.attempt, notStarted: true, err: context.Cause(a.ctx)}
	}

	p.metrics.WorkersBusy.Inc()
	defer p.metrics.WorkersBusy.Dec()

	ctx := a.ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	ctx, span := telemetry.StartNodeSpan(ctx, a.graphID, a.nodeID, a.tool, a.attempt)
	defer span.End()
	ctx = log.IntoContext(ctx, a.logger)

	started := time.Now()
	result, err := p.invoke(ctx, a)
	finished := time.Now()

	// The run context ending means cancellation or shutdown, which the
	// scheduler handles; only the attempt's own deadline is a timeout.
	if a.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = task.Errorf(task.KindTimeout, "attempt exceeded %s", a.timeout)
		result = nil
		if overrun := finished.Sub(started) - a.timeout; overrun > overrunGrace {
			// The worker stayed busy for the whole overrun.
			a.logger.Warn("tool ignored its deadline",
				"attempt", a.attempt,
				"timeout", a.timeout,
				"overrun", overrun.Round(time.Millisecond))
		}
	}

	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	p.metrics.ObserveAttempt(a.tool, outcome, finished.Sub(started))

	return event{
		kind:     eventOutcome,
		nodeID:   a.nodeID,
		attempt:  a.attempt,
		result:   result,
		err:      err,
		started:  started,
		finished: finished,
	}
}

func (p *pool) invoke(ctx context.Context, a *assignment) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = task.Errorf(task.KindToolFailure, "tool %s panicked: %v", a.tool, r)
		}
	}()
	result, err = p.invoker.Invoke(ctx, a.tool, a.args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.tool, err)
	}
	return result, nil
}
