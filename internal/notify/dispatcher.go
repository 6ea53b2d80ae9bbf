package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/log"
)

// Publisher accepts events. The engine depends on this, not on Dispatcher.
type Publisher interface {
	Publish(event *Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(*Event) {}

const (
	// DefaultQueueSize bounds the events waiting for delivery.
	DefaultQueueSize = 1024
	// DefaultTimeout bounds one sink delivery.
	DefaultTimeout = 10 * time.Second
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithTimeout sets the per-sink delivery timeout.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets where delivery failures are reported.
func WithLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithDropHandler is called, from the publishing goroutine, for every event
// dropped because the queue was full.
func WithDropHandler(fn func(EventType)) DispatcherOption {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// Dispatcher fans events out to sinks from a single delivery goroutine, so
// every sink sees events in publish order.
type Dispatcher struct {
	sinks     []Sink
	queueSize int
	timeout   time.Duration
	logger    *log.Logger
	onDrop    func(EventType)

	queue     chan *Event
	dropped   atomic.Int64
	failures  atomic.Int64
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewDispatcher starts a dispatcher delivering to sinks.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:     sinks,
		queueSize: DefaultQueueSize,
		timeout:   DefaultTimeout,
		logger:    log.Discard(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan *Event, d.queueSize)

	go d.loop()
	return d
}

// Publish enqueues event without blocking.
func (d *Dispatcher) Publish(event *Event) {
	if event == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event)
		return
	}

	select {
	case d.queue <- event:
	default:
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event *Event) {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop(event.Type)
	}
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Failures returns how many sink deliveries failed.
func (d *Dispatcher) Failures() int64 {
	return d.failures.Load()
}

// Close stops accepting events and waits until queued ones are delivered
// or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for event := range d.queue {
		for _, sink := range d.sinks {
			if !Accepts(sink, event.Type) {
				continue
			}
			d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	if err := sink.Notify(ctx, event); err != nil {
		d.failures.Add(1)
		d.logger.WithError(err).Warn("notification delivery failed",
			"sink", sink.Name(),
			"event", string(event.Type),
			"graph_id", event.GraphID,
			"duration", time.Since(start).String(),
		)
	}
}
