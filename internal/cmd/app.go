package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/taskgraph/internal/checkpoint"
	"github.com/felixgeelhaar/taskgraph/internal/config"
	"github.com/felixgeelhaar/taskgraph/internal/engine"
	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/metrics"
	"github.com/felixgeelhaar/taskgraph/internal/notify"
	"github.com/felixgeelhaar/taskgraph/internal/planner"
	"github.com/felixgeelhaar/taskgraph/internal/store"
	"github.com/felixgeelhaar/taskgraph/internal/store/postgres"
	"github.com/felixgeelhaar/taskgraph/internal/telemetry"
	"github.com/felixgeelhaar/taskgraph/internal/tool"
	"github.com/felixgeelhaar/taskgraph/internal/version"
)

// app is one engine with everything it needs, built from the config file.
type app struct {
	cfg        *config.Config
	logger     *log.Logger
	tools      *tool.Registry
	store      store.Store
	dispatcher *notify.Dispatcher
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	engine     *engine.Engine

	closers []func(context.Context) error
}

type appOptions struct {
	// planner replaces the configured one when set. run --plan uses it.
	planner planner.Planner
	// process adds Go runtime and process collectors to the registry.
	process bool
	// tracing initializes the OpenTelemetry provider from the config.
	tracing bool
}

func newApp(ctx context.Context, c *config.Config, lg *log.Logger, opts appOptions) (a *app, err error) {
	a = &app{cfg: c, logger: lg}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	if opts.process {
		a.registry, a.metrics = metrics.NewProcessRegistry()
	} else {
		a.registry, a.metrics = metrics.NewRegistry()
	}

	if opts.tracing {
		tc := c.Telemetry
		tc.ServiceVersion = version.Version
		shutdown, err := telemetry.InitProvider(ctx, tc)
		if err != nil {
			return a, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	if a.tools, err = buildTools(c.Tools); err != nil {
		return a, err
	}

	var closeStore func()
	if a.store, closeStore, err = buildStore(ctx, c.Store); err != nil {
		return a, err
	}
	a.closers = append(a.closers, func(context.Context) error { closeStore(); return nil })

	p := opts.planner
	if p == nil {
		if p, err = buildPlanner(c.Planner); err != nil {
			return a, err
		}
	}

	engineOpts := []engine.Option{
		engine.WithConfig(c.EngineConfig()),
		engine.WithStore(a.store),
		engine.WithLogger(lg),
		engine.WithMetrics(a.metrics),
	}
	if p != nil {
		engineOpts = append(engineOpts, engine.WithPlanner(p))
	}
	if a.dispatcher, err = buildDispatcher(c.Notify, lg, a.metrics); err != nil {
		return a, err
	}
	if a.dispatcher != nil {
		engineOpts = append(engineOpts, engine.WithPublisher(a.dispatcher))
	}

	if a.engine, err = engine.New(a.tools, engineOpts...); err != nil {
		return a, err
	}
	return a, nil
}

// close shuts the engine down first so its last records and events get out,
// then releases everything else in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		if err := a.engine.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// buildStore opens the configured record store. The returned func releases
// it.
func buildStore(ctx context.Context, sc config.StoreConfig) (store.Store, func(), error) {
	switch sc.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	case config.DriverFile, "":
		return checkpoint.NewStore(sc.Dir), func() {}, nil
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, sc.DSN)
		if err != nil {
			return nil, nil, tgerrors.NewStoreUnavailableError(sc.Driver, err)
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, tgerrors.New(tgerrors.ErrCodeStoreDriver, fmt.Sprintf("unknown store driver %q", sc.Driver))
	}
}

// buildTools registers the built-in tools plus every exec tool from the
// config file.
func buildTools(tools []config.ToolConfig) (*tool.Registry, error) {
	reg := tool.NewRegistry()
	if err := tool.RegisterBuiltins(reg); err != nil {
		return nil, err
	}

	for _, tc := range tools {
		var execOpts []tool.ExecOption
		if tc.Dir != "" {
			execOpts = append(execOpts, tool.WithDir(tc.Dir))
		}
		if len(tc.Env) > 0 {
			execOpts = append(execOpts, tool.WithEnv(tc.Env...))
		}
		t, err := tool.NewExec(tc.Command, tc.Args, execOpts...)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tc.Name, err)
		}

		opts := []tool.Option{
			tool.WithDescription(tc.Description),
			tool.WithSettings(tool.Settings{
				Timeout:     tc.Timeout,
				MaxAttempts: tc.MaxAttempts,
				Backoff:     tc.Backoff,
			}),
		}
		if len(tc.Schema) > 0 {
			schema, err := tool.SchemaFromMap(tc.Schema)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", tc.Name, err)
			}
			opts = append(opts, tool.WithSchema(schema))
		}
		if err := reg.Register(tc.Name, t, opts...); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// buildPlanner returns nil when no planner command is configured.
func buildPlanner(pc config.PlannerConfig) (planner.Planner, error) {
	if pc.Command == "" {
		return nil, nil
	}
	return planner.NewExec(pc.Command, pc.Args...)
}

// buildDispatcher returns nil when no sinks are configured.
func buildDispatcher(nc config.NotifyConfig, lg *log.Logger, m *metrics.Metrics) (*notify.Dispatcher, error) {
	if len(nc.Sinks) == 0 {
		return nil, nil
	}
	sinks := make([]notify.Sink, 0, len(nc.Sinks))
	for _, sc := range nc.Sinks {
		s, err := notify.NewSink(sc, lg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	opts := []notify.DispatcherOption{
		notify.WithLogger(lg),
		notify.WithDropHandler(func(t notify.EventType) {
			m.NotificationsDropped.WithLabelValues(string(t)).Inc()
		}),
	}
	if nc.QueueSize > 0 {
		opts = append(opts, notify.WithQueueSize(nc.QueueSize))
	}
	if nc.Timeout > 0 {
		opts = append(opts, notify.WithTimeout(nc.Timeout))
	}
	return notify.NewDispatcher(sinks, opts...), nil
}

// shutdownContext bounds teardown after the command context is gone.
func shutdownContext(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}
