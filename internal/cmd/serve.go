package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/engine"
	"github.com/felixgeelhaar/taskgraph/internal/health"
	"github.com/felixgeelhaar/taskgraph/internal/server"
	"github.com/felixgeelhaar/taskgraph/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine behind the HTTP API",
	Long: `Start an engine and serve it over HTTP.

On startup every stored graph still marked running is resumed. Finished
records older than 'engine.retention' are cleaned up periodically.

Endpoints:
  POST   /v1/graphs             submit an objective or a task list
  GET    /v1/graphs             list graphs (owner, status, active)
  GET    /v1/graphs/:id         graph record
  POST   /v1/graphs/:id/cancel  cancel a running graph
  DELETE /v1/graphs/:id         archive a finished graph
  GET    /v1/tools              registered tools
  /health/live, /health/ready, /health/startup, /healthz, /metrics

On SIGTERM or SIGINT the server stops accepting requests, suspends the
running graphs so the next start resumes them, and exits.

Example:
  # Serve on the configured address
  taskgraph serve

  # Serve on a custom address with a Postgres store
  TASKGRAPH_DATABASE_URL=postgres://localhost/taskgraph taskgraph serve --address :9090`,
	RunE: runServe,
}

var (
	serveAddress   string
	serveHighWater int
	serveNoResume  bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "address to listen on (overrides server.address)")
	serveCmd.Flags().IntVar(&serveHighWater, "high-water", 0, "active graph count above which readiness reports degraded")
	serveCmd.Flags().BoolVar(&serveNoResume, "no-resume", false, "do not resume interrupted graphs on startup")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	info := version.GetInfo()
	lg := logger.With("version", info.Version)

	a, err := newApp(ctx, cfg, lg, appOptions{process: true, tracing: true})
	if err != nil {
		return err
	}

	pm := health.NewProbeManager(info.Version)
	pm.AddChecker(health.NewStoreChecker(a.store))
	ec := health.NewEngineChecker(a.engine)
	ec.HighWater = serveHighWater
	pm.AddChecker(ec)

	address := cfg.Server.Address
	if serveAddress != "" {
		address = serveAddress
	}
	srv := server.New(a.engine, pm, server.Config{
		Address:         address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.WithLogger(lg), server.WithMetrics(a.metrics, a.registry), server.WithTools(a.tools))

	if !serveNoResume {
		resumed, err := a.engine.ResumeAll(ctx)
		if err != nil {
			lg.Warn("some graphs could not be resumed", "error", err)
		}
		if resumed > 0 {
			lg.Info("resumed interrupted graphs", "count", resumed)
		}
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go cleanupLoop(cleanupCtx, a.engine, cfg.Engine.Retention)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()
	pm.MarkInitialized()
	lg.Info("taskgraph server listening", "address", address, "store", cfg.Store.Driver, "workers", cfg.Engine.Workers)

	var runErr error
	select {
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		lg.Info("shutting down")
	}
	stopCleanup()

	shutdownCtx, cancel := shutdownContext(cfg.Server.ShutdownTimeout + 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := a.close(shutdownCtx); err != nil {
		lg.Warn("engine shutdown incomplete", "error", err)
	}
	lg.Info("server stopped")
	return runErr
}

// cleanupLoop removes finished records older than retention until ctx ends.
func cleanupLoop(ctx context.Context, eng *engine.Engine, retention time.Duration) {
	if retention <= 0 {
		retention = engine.DefaultRetention
	}
	interval := min(max(retention/4, time.Minute), time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := eng.Cleanup(ctx, retention); err != nil && ctx.Err() == nil {
				logger.Warn("cleanup failed", "error", err)
			}
		}
	}
}
