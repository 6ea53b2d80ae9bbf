package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for taskgraph
type Metrics struct {
	// Graph lifecycle metrics
	GraphsSubmitted *prometheus.CounterVec
	GraphsFinished  *prometheus.CounterVec
	GraphDuration   *prometheus.HistogramVec
	GraphsActive    prometheus.Gauge
	GraphNodes      prometheus.Histogram
	GraphsResumed   prometheus.Counter

	// Planner metrics
	PlanDuration *prometheus.HistogramVec
	PlanErrors   *prometheus.CounterVec

	// Node execution metrics
	NodeAttempts    *prometheus.CounterVec
	NodeDuration    *prometheus.HistogramVec
	NodeRetries     *prometheus.CounterVec
	NodesTerminal   *prometheus.CounterVec
	NodesReady      prometheus.Gauge
	NodesRunning    prometheus.Gauge
	WorkerPoolSize  prometheus.Gauge
	WorkersBusy     prometheus.Gauge
	BackoffDuration prometheus.Histogram

	// Persistence metrics
	StoreWrites   *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsDropped *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Graph metrics
		GraphsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_graphs_submitted_total",
				Help: "Total number of submitted graphs",
			},
			[]string{"outcome"},
		),
		GraphsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_graphs_finished_total",
				Help: "Total number of graphs that reached a terminal status",
			},
			[]string{"status"},
		),
		GraphDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskgraph_graph_duration_seconds",
				Help:    "Wall time from submission to terminal status",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 900.0, 3600.0},
			},
			[]string{"status"},
		),
		GraphsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskgraph_graphs_active",
				Help: "Number of graphs currently running",
			},
		),
		GraphNodes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskgraph_graph_nodes",
				Help:    "Number of nodes per submitted graph",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500},
			},
		),
		GraphsResumed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskgraph_graphs_resumed_total",
				Help: "Total number of graphs resumed from a stored record",
			},
		),

		// Planner metrics
		PlanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskgraph_plan_duration_seconds",
				Help:    "Planner call duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"success"},
		),
		PlanErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_plan_errors_total",
				Help: "Total number of planning and graph build failures",
			},
			[]string{"error_code"},
		),

		// Node metrics
		NodeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_node_attempts_total",
				Help: "Total number of tool invocations by outcome",
			},
			[]string{"tool", "outcome"},
		),
		NodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskgraph_node_attempt_duration_seconds",
				Help:    "Tool invocation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		NodeRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_node_retries_total",
				Help: "Total number of failed attempts that were scheduled for retry",
			},
			[]string{"tool", "error_kind"},
		),
		NodesTerminal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_nodes_terminal_total",
				Help: "Total number of nodes reaching a terminal state",
			},
			[]string{"state"},
		),
		NodesReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskgraph_nodes_ready",
				Help: "Nodes queued for a worker across all graphs",
			},
		),
		NodesRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskgraph_nodes_running",
				Help: "Nodes currently executing across all graphs",
			},
		),
		WorkerPoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskgraph_worker_pool_size",
				Help: "Configured number of workers",
			},
		),
		WorkersBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskgraph_workers_busy",
				Help: "Workers currently invoking a tool",
			},
		),
		BackoffDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskgraph_retry_backoff_seconds",
				Help:    "Delay before a failed node is offered again",
				Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		// Store metrics
		StoreWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_store_writes_total",
				Help: "Total number of record writes by outcome",
			},
			[]string{"success"},
		),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskgraph_store_operation_duration_seconds",
				Help:    "Record store operation duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),

		// Notification metrics
		NotificationsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_notifications_dropped_total",
				Help: "Total number of lifecycle events dropped because the queue was full",
			},
			[]string{"event"},
		),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskgraph_http_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		// Error metrics (by structured error code)
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgraph_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}
