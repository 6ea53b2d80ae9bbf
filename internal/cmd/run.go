package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/engine"
	"github.com/felixgeelhaar/taskgraph/internal/exitcode"
	"github.com/felixgeelhaar/taskgraph/internal/planner"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [objective]",
	Short: "Plan and run a graph in this process",
	Long: `Plan an objective, build its task graph and run it to completion in this
process, then print a report. The exit code reflects the outcome.

Tasks come from --plan (a JSON, YAML or HCL plan file) or, without it, from
the planner command configured under 'planner.command'.

Records go to the configured store, so a run interrupted with Ctrl+C can be
continued with 'taskgraph resume <graph-id>'.

Example:
  # Run a plan file
  taskgraph run --plan build.yaml

  # Let the configured planner decompose an objective
  taskgraph run "publish the release notes"

  # Watch progress live and stop at the first permanent failure
  taskgraph run --plan build.hcl --tui --fail-fast`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runPlanFile    string
	runOwner       string
	runFailFast    bool
	runMaxAttempts int
	runWorkers     int
	runJSON        bool
	runTUI         bool
	runVerbose     bool
)

func init() {
	runCmd.Flags().StringVarP(&runPlanFile, "plan", "p", "", "plan file to run instead of calling the planner")
	runCmd.Flags().StringVar(&runOwner, "owner", "", "owner recorded on the graph")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "cancel the remaining tasks on the first permanent failure")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "attempt budget for tasks that set none")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "maximum concurrent tool invocations")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final record as JSON")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show a live view while the graph runs")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "include task results in the report")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	objective := ""
	if len(args) == 1 {
		objective = strings.TrimSpace(args[0])
	}
	if objective == "" && runPlanFile != "" {
		objective = strings.TrimSuffix(filepath.Base(runPlanFile), filepath.Ext(runPlanFile))
	}
	if objective == "" {
		return errors.New("missing argument: an objective or --plan is required")
	}

	c := *cfg
	if runWorkers > 0 {
		c.Engine.Workers = runWorkers
	}

	opts := appOptions{tracing: true}
	if runPlanFile != "" {
		opts.planner = planner.File{Path: runPlanFile}
	}
	a, err := newApp(ctx, &c, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := shutdownContext(c.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(sctx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	submitOpts := []engine.SubmitOption{engine.WithMetadata("source", "cli")}
	if runOwner != "" {
		submitOpts = append(submitOpts, engine.WithOwner(runOwner))
	}
	if cmd.Flags().Changed("fail-fast") {
		submitOpts = append(submitOpts, engine.WithFailFast(runFailFast))
	}
	if runMaxAttempts > 0 {
		submitOpts = append(submitOpts, engine.WithMaxAttempts(runMaxAttempts))
	}

	graphID, err := a.engine.Submit(ctx, objective, submitOpts...)
	if err != nil {
		return err
	}
	logger.Debug("graph started", "graph_id", graphID)

	rec, err := waitForGraph(ctx, a.engine, graphID, runTUI)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nGraph %s suspended. Continue it with: taskgraph resume %s\n", graphID, graphID)
		}
		return err
	}
	// the live view leaves its final report on screen
	if !runTUI || runJSON {
		if err := printRecord(cmd, rec, runJSON, runVerbose); err != nil {
			return err
		}
	}
	return exitcode.FromRecord(rec)
}

// waitForGraph blocks until the local graph finishes, optionally drawing
// the live view.
func waitForGraph(ctx context.Context, eng *engine.Engine, graphID string, live bool) (*run.Record, error) {
	if !live {
		return eng.Wait(ctx, graphID)
	}
	if _, err := tui.Watch(ctx, graphID, func(ctx context.Context) (*run.Record, error) {
		return eng.Status(ctx, graphID)
	}, 0); err != nil {
		return nil, err
	}
	// the view may quit a moment before the workers drain
	return eng.Wait(ctx, graphID)
}

func printRecord(cmd *cobra.Command, rec *run.Record, asJSON, verbose bool) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), rec)
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), tui.RenderReport(rec, verbose))
	return err
}
