// Package engine runs task graphs. An Engine owns a shared worker pool and
// one scheduler loop per submitted graph; every state change is persisted
// through a store.Store so a graph can be resumed by another process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/graph"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/metrics"
	"github.com/felixgeelhaar/taskgraph/internal/notify"
	"github.com/felixgeelhaar/taskgraph/internal/planner"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/store"
	"github.com/felixgeelhaar/taskgraph/internal/task"
	"github.com/felixgeelhaar/taskgraph/internal/telemetry"
	"github.com/felixgeelhaar/taskgraph/internal/tool"
)

// Engine executes task graphs with bounded parallelism.
type Engine struct {
	cfg       Config
	invoker   tool.Invoker
	settings  tool.SettingsProvider
	planner   planner.Planner
	store     store.Store
	publisher notify.Publisher
	logger    *log.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	pool     *pool
	baseCtx  context.Context
	stopBase context.CancelCauseFunc

	mu     sync.RWMutex
	runs   map[string]*scheduler
	closed bool
}

// New creates an engine that runs nodes through invoker and starts its
// worker pool. Call Shutdown to stop it.
func New(invoker tool.Invoker, opts ...Option) (*Engine, error) {
	if invoker == nil {
		return nil, tgerrors.NewConfigInvalidError("engine needs a tool invoker")
	}

	e := &Engine{
		cfg:     DefaultConfig(),
		invoker: invoker,
		runs:    make(map[string]*scheduler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.cfg.Validate(); err != nil {
		return nil, tgerrors.NewConfigInvalidError(err.Error())
	}
	if e.store == nil {
		e.store = store.NewMemory()
	}
	if e.publisher == nil {
		e.publisher = notify.Nop{}
	}
	if e.logger == nil {
		e.logger = log.DefaultLogger()
	}
	if e.metrics == nil {
		e.metrics = metrics.Discard()
	}
	if sp, ok := invoker.(tool.SettingsProvider); ok {
		e.settings = sp
	}

	e.baseCtx, e.stopBase = context.WithCancelCause(context.Background())
	e.pool = newPool(e.cfg.Workers, invoker, e.metrics)
	return e, nil
}

// Config returns the engine's execution defaults.
func (e *Engine) Config() Config {
	return e.cfg
}

// Store returns the record store the engine writes to.
func (e *Engine) Store() store.Store {
	return e.store
}

// Submit plans the objective, builds and validates the graph, persists its
// record and starts it. It returns as soon as the graph is running. Planner
// and build failures are returned here and leave no record behind.
func (e *Engine) Submit(ctx context.Context, objective string, opts ...SubmitOption) (string, error) {
	if e.isClosed() {
		return "", ErrStopped
	}

	o := submitOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	specs := o.tasks
	if !o.hasTasks {
		planned, err := e.plan(ctx, objective)
		if err != nil {
			e.metrics.GraphsSubmitted.WithLabelValues("plan_failed").Inc()
			return "", err
		}
		specs = planned
	}

	g, err := graph.Build(specs)
	if err != nil {
		err = buildError(err)
		e.metrics.GraphsSubmitted.WithLabelValues("build_failed").Inc()
		e.metrics.PlanErrors.WithLabelValues(errorCode(err)).Inc()
		e.logger.WithError(err).Warn("graph rejected", "objective", objective)
		return "", err
	}

	rec := run.NewRecord(uuid.NewString(), objective)
	rec.Owner = o.owner
	rec.FailFast = e.cfg.FailFast
	if o.failFast != nil {
		rec.FailFast = *o.failFast
	}
	rec.Fingerprint = g.Fingerprint()
	for k, v := range o.metadata {
		rec.SetMetadata(k, v)
	}
	for _, spec := range g.Specs() {
		rec.AddNode(task.NewNode(spec, e.maxAttemptsFor(spec, o.maxAttempts)))
	}

	s := e.newScheduler(g, rec)
	s.seed()
	err = e.start(s, func() {
		e.publisher.Publish(notify.NewEvent(notify.EventGraphSubmitted, rec.GraphID, map[string]any{
			"objective": objective,
			"owner":     rec.Owner,
			"nodes":     g.Len(),
		}))
	})
	if err != nil {
		return "", err
	}

	e.metrics.GraphsSubmitted.WithLabelValues("accepted").Inc()
	e.metrics.GraphNodes.Observe(float64(g.Len()))
	e.logger.Info("graph submitted",
		"graph_id", rec.GraphID,
		"nodes", g.Len(),
		"roots", len(g.Roots()),
		"owner", rec.Owner,
		"fail_fast", rec.FailFast,
	)
	return rec.GraphID, nil
}

func (e *Engine) plan(ctx context.Context, objective string) ([]task.Spec, error) {
	if e.planner == nil {
		return nil, tgerrors.New(tgerrors.ErrCodePlanUnsupported, "no planner configured").
			WithSuggestion("Pass the tasks explicitly or set 'planner.command'")
	}

	ctx, span := telemetry.StartPlannerSpan(ctx, objective)
	defer span.End()

	start := time.Now()
	specs, err := e.planner.Plan(ctx, objective)
	e.metrics.PlanDuration.WithLabelValues(strconv.FormatBool(err == nil)).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.RecordError(span, err)
		if _, coded := tgerrors.CodeOf(err); !coded {
			err = tgerrors.NewPlanFailedError(objective, err)
		}
		e.metrics.PlanErrors.WithLabelValues(errorCode(err)).Inc()
		e.logger.WithError(err).Warn("planning failed", "objective", objective)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return specs, nil
}

// start registers the scheduler, persists the initial record, runs
// announce and launches the loop.
func (e *Engine) start(s *scheduler, announce func()) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		s.cancel(errShutdown)
		s.span.End()
		return ErrStopped
	}
	if _, exists := e.runs[s.record.GraphID]; exists {
		e.mu.Unlock()
		s.cancel(errShutdown)
		s.span.End()
		return tgerrors.NewGraphActiveError(s.record.GraphID)
	}
	e.runs[s.record.GraphID] = s
	e.mu.Unlock()

	s.dirty = true
	s.flush()
	if announce != nil {
		announce()
	}
	go s.run()
	return nil
}

// Status returns a point-in-time copy of the graph's record.
func (e *Engine) Status(ctx context.Context, graphID string) (*run.Record, error) {
	if s := e.lookup(graphID); s != nil {
		return s.status(), nil
	}
	return e.load(ctx, graphID)
}

// Wait blocks until the graph has finished and its workers have drained,
// then returns the final record. For a graph not running in this engine it
// returns the stored record as is.
func (e *Engine) Wait(ctx context.Context, graphID string) (*run.Record, error) {
	s := e.lookup(graphID)
	if s == nil {
		return e.load(ctx, graphID)
	}
	select {
	case <-s.done:
		return s.status(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops admission for the graph, cancels in-flight invocations and
// marks every unfinished node Cancelled. It returns once the record is
// final; workers may still be draining.
func (e *Engine) Cancel(ctx context.Context, graphID string) error {
	s := e.lookup(graphID)
	if s == nil {
		return e.cancelStored(ctx, graphID)
	}
	if rec := s.status(); rec.IsTerminal() {
		return tgerrors.NewGraphTerminalError(graphID, string(rec.Status))
	}

	s.cancel(errCancelled)
	select {
	case <-s.finalized:
	case <-ctx.Done():
		return ctx.Err()
	}

	rec := s.status()
	if rec.Status == run.StatusRunning {
		// suspended by a concurrent Shutdown
		return ErrStopped
	}
	if rec.Status != run.StatusCancelled {
		// It finished on its own before the request was seen.
		return tgerrors.NewGraphTerminalError(graphID, string(rec.Status))
	}
	return nil
}

// cancelStored finalizes a running record that no scheduler owns, such as
// one left behind by a stopped process.
func (e *Engine) cancelStored(ctx context.Context, graphID string) error {
	rec, err := e.load(ctx, graphID)
	if err != nil {
		return err
	}
	if rec.IsTerminal() {
		return tgerrors.NewGraphTerminalError(graphID, string(rec.Status))
	}

	now := e.now().UTC()
	for _, n := range rec.OrderedNodes() {
		if !n.State.IsTerminal() {
			n.State = task.StateCancelled
			n.FinishedAt = now
		}
	}
	rec.Diagnostic = &run.Diagnostic{Kind: run.DiagnosticCancelled, Message: "cancelled while suspended"}
	rec.Finish(run.StatusCancelled, now)
	if err := e.save(ctx, rec); err != nil {
		return tgerrors.Wrap(tgerrors.ErrCodeStoreWrite, "failed to persist cancelled graph", err)
	}
	e.publisher.Publish(notify.NewEvent(notify.EventGraphFinished, graphID, map[string]any{
		"status": string(run.StatusCancelled),
	}))
	return nil
}

// List returns records matching filter, oldest first. Graphs running in
// this engine are reported from their live snapshot.
func (e *Engine) List(ctx context.Context, filter run.Filter) ([]*run.Record, error) {
	stored, err := e.store.List(ctx, run.Filter{Owner: filter.Owner})
	if err != nil {
		return nil, tgerrors.Wrap(tgerrors.ErrCodeStoreRead, "failed to list graph records", err)
	}

	byID := make(map[string]*run.Record, len(stored))
	for _, rec := range stored {
		byID[rec.GraphID] = rec
	}
	e.mu.RLock()
	for id, s := range e.runs {
		byID[id] = s.status()
	}
	e.mu.RUnlock()

	out := make([]*run.Record, 0, len(byID))
	for _, rec := range byID {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	store.SortRecords(out)
	return out, nil
}

// Archive deletes the record of a finished graph.
func (e *Engine) Archive(ctx context.Context, graphID string) error {
	if s := e.lookup(graphID); s != nil {
		select {
		case <-s.done:
		default:
			return tgerrors.NewGraphActiveError(graphID)
		}
	} else {
		rec, err := e.load(ctx, graphID)
		if err != nil {
			return err
		}
		if !rec.IsTerminal() {
			return tgerrors.NewGraphActiveError(graphID)
		}
	}

	if err := e.store.Delete(ctx, graphID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return tgerrors.Wrap(tgerrors.ErrCodeStoreWrite, "failed to delete graph record", err)
	}
	e.forget(graphID)
	e.logger.Info("graph archived", "graph_id", graphID)
	return nil
}

// Cleanup deletes finished records older than maxAge (DefaultRetention
// when zero) and returns how many were removed.
func (e *Engine) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	cutoff := e.now().UTC().Add(-maxAge)

	old, err := e.List(ctx, run.Filter{FinishedBefore: cutoff})
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, rec := range old {
		if s := e.lookup(rec.GraphID); s != nil {
			select {
			case <-s.done:
			default:
				continue
			}
		}
		if err := e.store.Delete(ctx, rec.GraphID); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", rec.GraphID, err))
			continue
		}
		e.forget(rec.GraphID)
		removed++
	}
	if removed > 0 {
		e.logger.Info("cleaned up finished graphs", "removed", removed, "max_age", maxAge)
	}
	return removed, errors.Join(errs...)
}

// Resume restarts a stored graph that did not finish, without calling the
// planner. The topology is rebuilt from the record and must match its
// fingerprint.
func (e *Engine) Resume(ctx context.Context, graphID string) error {
	if e.isClosed() {
		return ErrStopped
	}
	if e.lookup(graphID) != nil {
		return tgerrors.NewGraphActiveError(graphID)
	}

	rec, err := e.load(ctx, graphID)
	if err != nil {
		return err
	}
	if rec.IsTerminal() {
		return tgerrors.NewGraphTerminalError(graphID, string(rec.Status))
	}

	g, err := graph.Build(rec.Specs())
	if err != nil {
		return buildError(err)
	}
	if fp := g.Fingerprint(); rec.Fingerprint != "" && fp != rec.Fingerprint {
		return fingerprintMismatch(graphID, rec.Fingerprint, fp)
	}

	count := 1
	if v, ok := rec.GetMetadata("resumes"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			count = n + 1
		}
	}
	rec.SetMetadata("resumes", strconv.Itoa(count))

	s := e.newScheduler(g, rec)
	s.recover()
	if err := e.start(s, nil); err != nil {
		return err
	}
	e.metrics.GraphsResumed.Inc()
	e.logger.Info("graph resumed", "graph_id", graphID, "resumes", count, "progress", rec.Progress())
	return nil
}

// ResumeAll resumes every stored graph that is still marked running and
// returns how many were restarted.
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	pending, err := e.store.List(ctx, run.Filter{ActiveOnly: true})
	if err != nil {
		return 0, tgerrors.Wrap(tgerrors.ErrCodeStoreRead, "failed to list graph records", err)
	}

	resumed := 0
	var errs []error
	for _, rec := range pending {
		if e.lookup(rec.GraphID) != nil {
			continue
		}
		if err := e.Resume(ctx, rec.GraphID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rec.GraphID, err))
			continue
		}
		resumed++
	}
	return resumed, errors.Join(errs...)
}

// Shutdown suspends every running graph, leaving its record Running so a
// later Resume picks it up, then stops the worker pool. In-flight
// invocations are cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	active := make([]*scheduler, 0, len(e.runs))
	for _, s := range e.runs {
		active = append(active, s)
	}
	e.mu.Unlock()

	e.stopBase(errShutdown)
	for _, s := range active {
		s.cancel(errShutdown)
	}
	for _, s := range active {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.pool.stop()
	e.logger.Info("engine stopped", "graphs", len(active))
	return nil
}

// Stats is a point-in-time view of engine load.
type Stats struct {
	Active  int  `json:"active"`
	Workers int  `json:"workers"`
	Stopped bool `json:"stopped"`
}

// Stats reports how many graphs are in flight and whether Shutdown began.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Active: len(e.runs), Workers: e.cfg.Workers, Stopped: e.closed}
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) lookup(graphID string) *scheduler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runs[graphID]
}

func (e *Engine) forget(graphID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, graphID)
}

// release drops a finished scheduler once its final record is stored.
// Later reads are served by the store.
func (e *Engine) release(s *scheduler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs[s.record.GraphID] == s {
		delete(e.runs, s.record.GraphID)
	}
}

func (e *Engine) load(ctx context.Context, graphID string) (*run.Record, error) {
	start := time.Now()
	rec, err := e.store.Load(ctx, graphID)
	e.metrics.ObserveStore("load", time.Since(start), err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, tgerrors.NewGraphNotFoundError(graphID)
	}
	if err != nil {
		return nil, tgerrors.Wrap(tgerrors.ErrCodeStoreRead, "failed to load graph record", err)
	}
	return rec, nil
}

// save writes a record. It ignores cancellation of ctx, because the final
// write of a cancelled graph must still happen, but it is bounded by the
// configured store timeout.
func (e *Engine) save(ctx context.Context, rec *run.Record) error {
	ctx = context.WithoutCancel(ctx)
	if e.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StoreTimeout)
		defer cancel()
	}

	start := time.Now()
	err := e.store.Save(ctx, rec)
	e.metrics.ObserveStore("save", time.Since(start), err)
	if err != nil {
		e.metrics.Errors.WithLabelValues(string(tgerrors.ErrCodeStoreWrite), "engine").Inc()
	}
	return err
}

func (e *Engine) toolSettings(name string) tool.Settings {
	if e.settings == nil {
		return tool.Settings{}
	}
	s, _ := e.settings.ToolSettings(name)
	return s
}

// maxAttemptsFor resolves the attempt budget from the task, the submission,
// the tool and the engine default, in that order. task.NewNode applies the
// per-task value.
func (e *Engine) maxAttemptsFor(spec task.Spec, override int) int {
	if override > 0 {
		return override
	}
	if s := e.toolSettings(spec.ToolName); s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return e.cfg.MaxAttempts
}

// planFor resolves the timeout and backoff policy of one node.
func (e *Engine) planFor(spec task.Spec) *nodePlan {
	settings := e.toolSettings(spec.ToolName)

	timeout := e.cfg.NodeTimeout
	if settings.Timeout > 0 {
		timeout = settings.Timeout
	}
	if spec.Timeout > 0 {
		timeout = spec.Timeout.Std()
	}
	return &nodePlan{
		timeout: timeout,
		policy:  e.cfg.Backoff.Merge(settings.Backoff),
	}
}
