package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a new Prometheus registry with taskgraph metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	return reg, m
}

// NewProcessRegistry is NewRegistry plus the Go runtime and process
// collectors, for the long-running server.
func NewProcessRegistry() (*prometheus.Registry, *Metrics) {
	reg, m := NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, m
}

// Discard returns metrics registered nowhere, for callers that do not
// export them.
func Discard() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// HandlerFor returns an HTTP handler for a specific registry
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveAttempt records one tool invocation.
func (m *Metrics) ObserveAttempt(tool, outcome string, d time.Duration) {
	m.NodeAttempts.WithLabelValues(tool, outcome).Inc()
	m.NodeDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveGraphFinished records a graph reaching a terminal status.
func (m *Metrics) ObserveGraphFinished(status string, d time.Duration) {
	m.GraphsFinished.WithLabelValues(status).Inc()
	m.GraphDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveStore records one store call.
func (m *Metrics) ObserveStore(operation string, d time.Duration, err error) {
	m.StoreDuration.WithLabelValues(operation).Observe(d.Seconds())
	if operation == "save" {
		m.StoreWrites.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	}
}
