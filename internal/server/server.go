// Package server exposes an engine over HTTP.
//
// Routes:
//
//	POST   /v1/graphs             submit an objective or an explicit task list
//	GET    /v1/graphs             list graphs (?owner=, ?status=, ?active=true)
//	GET    /v1/graphs/:id         full run record
//	POST   /v1/graphs/:id/cancel  cancel a running graph
//	DELETE /v1/graphs/:id         archive a finished graph
//	GET    /v1/tools              registered tools
//	GET    /health/{live,ready,startup}
//	GET    /metrics
//
// Readiness fails as soon as Shutdown begins so load balancers stop routing
// new graphs here while in-flight requests drain.
package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/taskgraph/internal/engine"
	"github.com/felixgeelhaar/taskgraph/internal/health"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/metrics"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/tool"
)

// Engine is the part of *engine.Engine the API drives.
type Engine interface {
	Submit(ctx context.Context, objective string, opts ...engine.SubmitOption) (string, error)
	Status(ctx context.Context, graphID string) (*run.Record, error)
	List(ctx context.Context, filter run.Filter) ([]*run.Record, error)
	Cancel(ctx context.Context, graphID string) error
	Archive(ctx context.Context, graphID string) error
}

// ToolLister reports the tools nodes may name.
type ToolLister interface {
	List() []tool.Info
}

// Config holds listener settings. Zero durations take the defaults.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// BodyLimit caps request bodies in bytes.
	BodyLimit int
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.BodyLimit == 0 {
		c.BodyLimit = 4 << 20
	}
	return c
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records request metrics into m and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithTools enables GET /v1/tools.
func WithTools(tools ToolLister) Option {
	return func(s *Server) { s.tools = tools }
}

// Server is the HTTP front end of an engine.
type Server struct {
	app      *fiber.App
	cfg      Config
	engine   Engine
	probes   *health.ProbeManager
	tools    ToolLister
	logger   *log.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	inShutdown atomic.Bool
}

// New builds the server and its routes. It does not listen until Start.
func New(eng Engine, probes *health.ProbeManager, cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg.withDefaults(),
		engine: eng,
		probes: probes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.DefaultLogger()
	}
	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "taskgraph",
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BodyLimit:    s.cfg.BodyLimit,
		ErrorHandler: s.handleError,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recoverer.New())
	s.app.Use(s.observe)

	v1 := s.app.Group("/v1")
	v1.Post("/graphs", s.handleSubmit)
	v1.Get("/graphs", s.handleList)
	v1.Get("/graphs/:id", s.handleStatus)
	v1.Post("/graphs/:id/cancel", s.handleCancel)
	v1.Delete("/graphs/:id", s.handleArchive)
	v1.Get("/tools", s.handleTools)

	s.app.Get("/health/live", s.handleLiveness)
	s.app.Get("/health/ready", s.handleReadiness)
	s.app.Get("/health/startup", s.handleStartup)
	s.app.Get("/healthz", s.handleReadiness)

	if s.gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metrics.HandlerFor(s.gatherer)))
	}
}

// App returns the underlying fiber application, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("api listening", "address", s.cfg.Address)
	return s.app.Listen(s.cfg.Address, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown fails readiness, then waits up to the shutdown timeout for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.probes.MarkShutdown()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

// IsShuttingDown reports whether Shutdown was called.
func (s *Server) IsShuttingDown() bool {
	return s.inShutdown.Load()
}

// observe logs and measures every request by its route template, so graph
// ids do not explode metric cardinality.
func (s *Server) observe(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		// Render now so the recorded status is the one the client sees.
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}

	route := c.Route().Path
	status := c.Response().StatusCode()
	elapsed := time.Since(start)

	s.metrics.HTTPRequests.WithLabelValues(c.Method(), route, statusClass(status)).Inc()
	s.metrics.HTTPDuration.WithLabelValues(c.Method(), route).Observe(elapsed.Seconds())

	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"route", route,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
