package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/config"
	"github.com/felixgeelhaar/taskgraph/internal/exitcode"
	"github.com/felixgeelhaar/taskgraph/internal/run"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [graph-id]",
	Short: "Continue interrupted graphs in this process",
	Long: `Load graphs that were still running when their process stopped and run
them to completion here, without calling the planner again. Tasks that
had succeeded keep their results; tasks that were in flight are retried
if their attempt budget allows.

The graphs are read from the configured store, which must be the file or
postgres driver.

Example:
  taskgraph resume 3f2c9a8e-...
  taskgraph resume --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

var (
	resumeAll  bool
	resumeJSON bool
)

func init() {
	resumeCmd.Flags().BoolVar(&resumeAll, "all", false, "resume every interrupted graph")
	resumeCmd.Flags().BoolVar(&resumeJSON, "json", false, "print the final records as JSON")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if (len(args) == 1) == resumeAll {
		return errors.New("missing argument: pass a graph id or --all")
	}
	if cfg.Store.Driver == config.DriverMemory {
		return fmt.Errorf("invalid argument: the memory store keeps nothing to resume; set store.driver to file or postgres")
	}

	a, err := newApp(ctx, cfg, logger, appOptions{tracing: true})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := shutdownContext(cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(sctx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	ids := args
	if resumeAll {
		pending, err := a.store.List(ctx, run.Filter{ActiveOnly: true})
		if err != nil {
			return err
		}
		ids = nil
		for _, rec := range pending {
			ids = append(ids, rec.GraphID)
		}
		if len(ids) == 0 {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "No interrupted graphs.")
			return err
		}
	}

	var errs []error
	var started []string
	for _, id := range ids {
		if err := a.engine.Resume(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		started = append(started, id)
	}

	var outcome error
	for _, id := range started {
		rec, err := a.engine.Wait(ctx, id)
		if err != nil {
			return err
		}
		if err := printRecord(cmd, rec, resumeJSON, false); err != nil {
			return err
		}
		if outcome == nil {
			outcome = exitcode.FromRecord(rec)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	return outcome
}
