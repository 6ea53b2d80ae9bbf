package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/taskgraph/internal/graph"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/notify"
	"github.com/felixgeelhaar/taskgraph/internal/retry"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/task"
	"github.com/felixgeelhaar/taskgraph/internal/telemetry"
)

type eventKind int

const (
	// eventOutcome is a worker reporting one finished attempt.
	eventOutcome eventKind = iota
	// eventRetry is a backoff timer releasing a node to the queue.
	eventRetry
)

type event struct {
	kind    eventKind
	nodeID  string
	attempt int
	result  any
	err     error
	// notStarted marks an assignment whose run context had already ended
	// when the worker picked it up; the tool was never called.
	notStarted bool
	started    time.Time
	finished   time.Time
}

// nodePlan holds what the scheduler resolved for one node at build time.
type nodePlan struct {
	timeout time.Duration
	policy  retry.Policy
	backoff backoff.BackOff
}

func (p *nodePlan) nextDelay() time.Duration {
	if p.backoff == nil {
		p.backoff = p.policy.NewBackOff()
	}
	return retry.Next(p.backoff)
}

// scheduler is the control loop of one graph. It is the only writer of
// the graph's record; everyone else reads the published snapshot.
type scheduler struct {
	engine *Engine
	graph  *graph.Graph
	record *run.Record
	plans  map[string]*nodePlan
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	span   trace.Span

	events  chan event
	queue   []string
	running int
	timers  map[string]*time.Timer

	finished bool
	stopping bool
	dirty    bool
	unsaved  bool // last write to the store failed

	snapshot      atomic.Pointer[run.Record]
	finalized     chan struct{}
	finalizedOnce sync.Once
	done          chan struct{}
}

func (e *Engine) newScheduler(g *graph.Graph, rec *run.Record) *scheduler {
	ctx, span := telemetry.StartGraphSpan(e.baseCtx, rec.GraphID, rec.Objective)
	ctx, cancel := context.WithCancelCause(ctx)

	s := &scheduler{
		engine:    e,
		graph:     g,
		record:    rec,
		plans:     make(map[string]*nodePlan, g.Len()),
		logger:    e.logger.With("graph_id", rec.GraphID),
		ctx:       ctx,
		cancel:    cancel,
		span:      span,
		events:    make(chan event, e.cfg.Workers+1),
		timers:    make(map[string]*time.Timer),
		finalized: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, spec := range g.Specs() {
		s.plans[spec.ID] = e.planFor(spec)
	}
	s.snapshot.Store(rec.Clone())
	return s
}

// seed marks every dependency-free node ready.
func (s *scheduler) seed() {
	for _, id := range s.graph.Roots() {
		s.markReady(id)
	}
}

// recover prepares a record loaded from the store for another run. Attempts
// that were in flight when the previous process stopped are lost: the node
// goes back to Pending, or fails as Interrupted when it has no attempts left.
func (s *scheduler) recover() {
	now := s.engine.now().UTC()
	var failed []string

	for _, n := range s.record.OrderedNodes() {
		switch n.State {
		case task.StateRunning, task.StateReady:
			interrupted := task.Errorf(task.KindInterrupted, "attempt %d was interrupted by a restart", n.AttemptCount)
			if n.State == task.StateRunning {
				s.closeOpenAttempt(n, now, interrupted)
			}
			// Recovery is the one move outside the transition table.
			if n.AttemptsLeft() {
				n.State = task.StatePending
				continue
			}
			n.State = task.StateFailed
			n.Error = interrupted
			n.FinishedAt = now
			failed = append(failed, n.ID)
			s.engine.metrics.NodesTerminal.WithLabelValues(string(task.StateFailed)).Inc()
			s.publishNode(notify.EventNodeFailed, n.ID, map[string]any{
				"attempts":   n.AttemptCount,
				"error":      n.Error.Error(),
				"error_kind": string(n.Error.Kind),
			})
		case task.StateFailed, task.StateCancelled:
			failed = append(failed, n.ID)
		}
	}
	s.record.Diagnostic = nil
	s.dirty = true

	if s.record.FailFast && len(failed) > 0 {
		s.failFast(failed[0])
		return
	}
	for _, id := range failed {
		s.skipDescendants(id)
	}

	states := s.record.States()
	for _, id := range s.graph.TopologicalOrder() {
		if states[id] == task.StatePending && s.graph.IsSatisfied(id, states) {
			s.markReady(id)
			states[id] = task.StateReady
		}
	}
}

func (s *scheduler) run() {
	defer s.exit()

	s.engine.metrics.GraphsActive.Inc()
	s.checkTermination()
	s.flush()

	for s.active() || s.running > 0 {
		if s.checkInterrupt() {
			s.flush()
			continue
		}

		var work chan<- *assignment
		var next *assignment
		if s.active() && len(s.queue) > 0 {
			next = s.assignment(s.queue[0])
			work = s.engine.pool.work
		}

		interrupted := s.ctx.Done()
		if !s.active() {
			interrupted = nil
		}

		select {
		case work <- next:
			s.dispatched(next)
		case ev := <-s.events:
			// An attempt aborted by cancel or shutdown can arrive before
			// the loop sees ctx.Done; the interrupt must be applied first.
			s.checkInterrupt()
			switch ev.kind {
			case eventOutcome:
				s.onOutcome(ev)
			case eventRetry:
				s.onRetry(ev.nodeID)
			}
		case <-interrupted:
			s.checkInterrupt()
		}

		s.checkTermination()
		s.flush()
	}
}

// checkInterrupt applies a pending cancel or shutdown and reports whether
// it did.
func (s *scheduler) checkInterrupt() bool {
	if !s.active() || s.ctx.Err() == nil {
		return false
	}
	s.interrupt(context.Cause(s.ctx))
	return true
}

// active reports whether the loop may still admit work.
func (s *scheduler) active() bool {
	return !s.finished && !s.stopping
}

func (s *scheduler) exit() {
	s.stopTimers()
	s.engine.metrics.NodesReady.Sub(float64(len(s.queue)))
	s.queue = nil

	if s.stopping {
		s.logger.Info("graph suspended", "running", s.running, "progress", s.record.Progress())
		s.dirty = true
	}
	s.flush()

	s.engine.metrics.GraphsActive.Dec()
	s.span.End()
	s.cancel(errFinished)
	if !s.unsaved {
		s.engine.release(s)
	}
	s.closeFinalized()
	close(s.done)
}

func (s *scheduler) closeFinalized() {
	s.finalizedOnce.Do(func() { close(s.finalized) })
}

func (s *scheduler) assignment(id string) *assignment {
	n := s.record.Nodes[id]
	return &assignment{
		ctx:     s.ctx,
		graphID: s.record.GraphID,
		nodeID:  id,
		tool:    n.ToolName,
		args:    n.Arguments,
		attempt: n.AttemptCount + 1,
		timeout: s.plans[id].timeout,
		logger:  s.logger.With("node_id", id, "tool", n.ToolName),
		events:  s.events,
	}
}

// dispatched records the hand-off of the queue head to a worker.
func (s *scheduler) dispatched(a *assignment) {
	s.queue = s.queue[1:]
	s.engine.metrics.NodesReady.Dec()

	n := s.record.Nodes[a.nodeID]
	s.mustTransition(n, task.StateRunning)
	now := s.engine.now().UTC()
	n.AttemptCount = a.attempt
	if n.StartedAt.IsZero() {
		n.StartedAt = now
	}
	n.Attempts = append(n.Attempts, task.Attempt{Number: a.attempt, StartedAt: now})

	s.running++
	s.engine.metrics.NodesRunning.Inc()
	s.dirty = true

	s.logger.Debug("node started", "node_id", n.ID, "tool", n.ToolName, "attempt", a.attempt)
	s.publishNode(notify.EventNodeStarted, n.ID, map[string]any{
		"tool":    n.ToolName,
		"attempt": a.attempt,
	})
}

func (s *scheduler) onOutcome(ev event) {
	s.running--
	s.engine.metrics.NodesRunning.Dec()

	n, ok := s.record.Nodes[ev.nodeID]
	if !ok || n.State != task.StateRunning || n.AttemptCount != ev.attempt {
		// cancelled while in flight
		return
	}
	if ev.notStarted {
		s.rollbackAttempt(n)
		return
	}

	var raw json.RawMessage
	err := ev.err
	if err == nil {
		data, marshalErr := json.Marshal(ev.result)
		if marshalErr != nil {
			err = task.Errorf(task.KindToolFailure, "result is not JSON-serializable: %v", marshalErr)
		} else {
			raw = data
		}
	}

	if err != nil && s.stopping {
		// Shutdown aborted the attempt. The node stays Running so the next
		// process treats it as interrupted.
		return
	}

	at := ev.finished.UTC()
	if err == nil {
		s.closeOpenAttempt(n, at, nil)
		s.onSuccess(n, raw, at)
		return
	}
	nodeErr := task.Classify(err)
	s.closeOpenAttempt(n, at, nodeErr)
	s.onFailure(n, nodeErr, at)
}

func (s *scheduler) onSuccess(n *task.Node, result json.RawMessage, at time.Time) {
	s.mustTransition(n, task.StateSucceeded)
	n.Result = result
	n.Error = nil
	n.FinishedAt = at
	s.dirty = true

	s.engine.metrics.NodesTerminal.WithLabelValues(string(task.StateSucceeded)).Inc()
	s.logger.Debug("node succeeded", "node_id", n.ID, "attempts", n.AttemptCount)
	s.publishNode(notify.EventNodeSucceeded, n.ID, map[string]any{
		"attempts": n.AttemptCount,
	})

	// Dependents are admitted only once this success is durable.
	s.flush()

	if s.stopping {
		return
	}
	states := s.record.States()
	for _, id := range s.graph.Dependents(n.ID) {
		if states[id] == task.StatePending && s.graph.IsSatisfied(id, states) {
			s.markReady(id)
			states[id] = task.StateReady
		}
	}
}

func (s *scheduler) onFailure(n *task.Node, nodeErr *task.NodeError, at time.Time) {
	n.Error = nodeErr
	s.dirty = true

	if n.AttemptsLeft() {
		s.mustTransition(n, task.StateReady)
		delay := s.plans[n.ID].nextDelay()

		s.engine.metrics.NodeRetries.WithLabelValues(n.ToolName, string(nodeErr.Kind)).Inc()
		s.engine.metrics.BackoffDuration.Observe(delay.Seconds())
		s.logger.Info("node retrying",
			"node_id", n.ID,
			"attempt", n.AttemptCount,
			"max_attempts", n.MaxAttempts,
			"delay", delay,
			"error", nodeErr.Error(),
		)
		s.publishNode(notify.EventNodeRetrying, n.ID, map[string]any{
			"attempt":    n.AttemptCount,
			"error":      nodeErr.Error(),
			"error_kind": string(nodeErr.Kind),
			"delay_ms":   delay.Milliseconds(),
		})

		if delay <= 0 {
			s.enqueue(n.ID)
			return
		}
		s.startTimer(n.ID, delay)
		return
	}

	s.mustTransition(n, task.StateFailed)
	n.FinishedAt = at
	s.engine.metrics.NodesTerminal.WithLabelValues(string(task.StateFailed)).Inc()
	s.logger.Warn("node failed",
		"node_id", n.ID,
		"attempts", n.AttemptCount,
		"error_kind", string(nodeErr.Kind),
		"error", nodeErr.Message,
	)
	s.publishNode(notify.EventNodeFailed, n.ID, map[string]any{
		"attempts":   n.AttemptCount,
		"error":      nodeErr.Error(),
		"error_kind": string(nodeErr.Kind),
	})

	if s.record.FailFast {
		s.failFast(n.ID)
		return
	}
	s.skipDescendants(n.ID)
}

// rollbackAttempt undoes the hand-off of an attempt that never ran, so a
// suspended graph keeps its full attempt budget for the next process.
func (s *scheduler) rollbackAttempt(n *task.Node) {
	n.AttemptCount--
	if len(n.Attempts) > 0 {
		n.Attempts = n.Attempts[:len(n.Attempts)-1]
	}
	if n.AttemptCount == 0 {
		n.StartedAt = time.Time{}
	}
	s.mustTransition(n, task.StateReady)
	s.dirty = true
}

func (s *scheduler) onRetry(id string) {
	if _, pending := s.timers[id]; !pending {
		return
	}
	delete(s.timers, id)
	if n, ok := s.record.Nodes[id]; ok && n.State == task.StateReady && s.active() {
		s.enqueue(id)
	}
}

// skipDescendants marks every not-yet-started node downstream of id Skipped.
func (s *scheduler) skipDescendants(id string) {
	now := s.engine.now().UTC()
	for _, d := range s.graph.Descendants(id) {
		n := s.record.Nodes[d]
		if n.State != task.StatePending && n.State != task.StateReady {
			continue
		}
		if n.State == task.StateReady {
			s.dequeue(d)
			s.stopTimer(d)
		}
		s.mustTransition(n, task.StateSkipped)
		n.FinishedAt = now
		s.dirty = true

		s.engine.metrics.NodesTerminal.WithLabelValues(string(task.StateSkipped)).Inc()
		s.publishNode(notify.EventNodeSkipped, d, map[string]any{"cause": id})
	}
}

// failFast ends the graph after a permanent failure, cancelling everything
// that has not finished.
func (s *scheduler) failFast(id string) {
	s.cancelRemaining()
	s.finish(s.record.Outcome(), &run.Diagnostic{
		Kind:    run.DiagnosticFailFast,
		Message: fmt.Sprintf("node %s failed; remaining nodes were cancelled", id),
		NodeID:  id,
	})
	s.cancel(errFinished)
}

// interrupt reacts to the run context ending: a caller cancel finalizes the
// graph, an engine shutdown suspends it.
func (s *scheduler) interrupt(cause error) {
	if errors.Is(cause, errShutdown) {
		s.stopping = true
		s.stopTimers()
		s.engine.metrics.NodesReady.Sub(float64(len(s.queue)))
		s.queue = nil
		s.dirty = true
		return
	}

	s.cancelRemaining()
	s.finish(run.StatusCancelled, &run.Diagnostic{
		Kind:    run.DiagnosticCancelled,
		Message: "cancelled before completion",
	})
}

func (s *scheduler) cancelRemaining() {
	s.stopTimers()
	s.engine.metrics.NodesReady.Sub(float64(len(s.queue)))
	s.queue = nil

	now := s.engine.now().UTC()
	for _, n := range s.record.OrderedNodes() {
		if n.State.IsTerminal() {
			continue
		}
		s.mustTransition(n, task.StateCancelled)
		n.FinishedAt = now
		s.closeOpenAttempt(n, now, nil)
		s.dirty = true

		s.engine.metrics.NodesTerminal.WithLabelValues(string(task.StateCancelled)).Inc()
		s.publishNode(notify.EventNodeCancelled, n.ID, nil)
	}
}

func (s *scheduler) checkTermination() {
	if !s.active() {
		return
	}

	allTerminal := true
	for _, n := range s.record.Nodes {
		if !n.State.IsTerminal() {
			allTerminal = false
			break
		}
	}
	if allTerminal {
		s.finish(s.record.Outcome(), nil)
		return
	}

	if s.running == 0 && len(s.queue) == 0 && len(s.timers) == 0 {
		waiting := s.record.NodesIn(task.StatePending, task.StateReady)
		s.logger.Error("graph deadlocked", "waiting", waiting)
		s.finish(run.StatusFailed, &run.Diagnostic{
			Kind:    run.DiagnosticDeadlock,
			Message: "no node can make progress; waiting: " + strings.Join(waiting, ", "),
		})
	}
}

// finish freezes the record, persists it and announces the outcome.
func (s *scheduler) finish(status run.Status, diag *run.Diagnostic) {
	now := s.engine.now().UTC()
	s.record.Diagnostic = diag
	s.record.Finish(status, now)
	s.finished = true
	s.dirty = true
	s.flush()

	summary := s.record.Summarize()
	s.engine.metrics.ObserveGraphFinished(string(status), now.Sub(s.record.CreatedAt))

	s.span.SetAttributes(
		attribute.String("graph.status", string(status)),
		attribute.Int("graph.nodes", summary.Total),
		attribute.Int("graph.succeeded", summary.Succeeded),
	)
	if status == run.StatusSucceeded {
		telemetry.RecordSuccess(s.span)
	} else {
		telemetry.RecordError(s.span, fmt.Errorf("graph %s", status))
	}

	logger := s.logger.With("status", string(status), "summary", summary.String())
	if diag != nil {
		logger = logger.With("diagnostic", string(diag.Kind))
	}
	logger.Info("graph finished")

	data := map[string]any{
		"status":    string(status),
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"cancelled": summary.Cancelled,
	}
	if diag != nil {
		data["diagnostic"] = string(diag.Kind)
	}
	s.engine.publisher.Publish(notify.NewEvent(notify.EventGraphFinished, s.record.GraphID, data))

	s.closeFinalized()
}

func (s *scheduler) markReady(id string) {
	s.mustTransition(s.record.Nodes[id], task.StateReady)
	s.enqueue(id)
	s.dirty = true
}

func (s *scheduler) enqueue(id string) {
	s.queue = append(s.queue, id)
	s.engine.metrics.NodesReady.Inc()
}

func (s *scheduler) dequeue(id string) {
	for i, q := range s.queue {
		if q == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.engine.metrics.NodesReady.Dec()
			return
		}
	}
}

func (s *scheduler) startTimer(id string, delay time.Duration) {
	s.timers[id] = time.AfterFunc(delay, func() {
		select {
		case s.events <- event{kind: eventRetry, nodeID: id}:
		case <-s.done:
		}
	})
}

func (s *scheduler) stopTimer(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *scheduler) stopTimers() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *scheduler) closeOpenAttempt(n *task.Node, at time.Time, nodeErr *task.NodeError) {
	if len(n.Attempts) == 0 {
		return
	}
	last := &n.Attempts[len(n.Attempts)-1]
	if !last.FinishedAt.IsZero() {
		return
	}
	last.FinishedAt = at
	last.Error = nodeErr.Clone()
}

// mustTransition applies a state change the loop has already checked. A
// refusal leaves the node untouched and is logged as an engine fault.
func (s *scheduler) mustTransition(n *task.Node, to task.State) {
	if err := n.Transition(to); err != nil {
		s.logger.WithError(err).Error("refused node transition", "node_id", n.ID)
		s.engine.metrics.Errors.WithLabelValues("transition", "scheduler").Inc()
	}
}

// flush publishes the current record and writes it to the store when it
// changed. Write failures are logged and counted; execution continues.
func (s *scheduler) flush() {
	if !s.dirty {
		return
	}
	s.dirty = false
	s.record.Touch(s.engine.now().UTC())

	snapshot := s.record.Clone()
	s.snapshot.Store(snapshot)

	err := s.engine.save(s.ctx, snapshot)
	s.unsaved = err != nil
	if err != nil {
		s.logger.WithError(err).Error("failed to persist graph record")
	}
}

func (s *scheduler) publishNode(t notify.EventType, nodeID string, data map[string]any) {
	s.engine.publisher.Publish(notify.NewNodeEvent(t, s.record.GraphID, nodeID, data))
}

// status returns a copy of the latest published record.
func (s *scheduler) status() *run.Record {
	return s.snapshot.Load().Clone()
}
