package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/api"
	"github.com/felixgeelhaar/taskgraph/internal/exitcode"
	"github.com/felixgeelhaar/taskgraph/internal/planner"
)

var submitCmd = &cobra.Command{
	Use:   "submit [objective]",
	Short: "Submit a graph to a running server",
	Long: `Submit an objective to the server at --server (or 'client.url'). With --plan
the tasks are read from a local plan file; otherwise the server's planner
decomposes the objective.

The graph id is printed on success. With --wait the command follows the
graph until it finishes and exits with its outcome.

Example:
  taskgraph submit --plan build.yaml --owner ci
  taskgraph submit "tidy the docs" --wait`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var (
	submitPlanFile    string
	submitOwner       string
	submitFailFast    bool
	submitMaxAttempts int
	submitMetadata    []string
	submitWait        bool
	submitJSON        bool
)

func init() {
	submitCmd.Flags().StringVarP(&submitPlanFile, "plan", "p", "", "plan file whose tasks are submitted")
	submitCmd.Flags().StringVar(&submitOwner, "owner", "", "owner recorded on the graph")
	submitCmd.Flags().BoolVar(&submitFailFast, "fail-fast", false, "cancel the remaining tasks on the first permanent failure")
	submitCmd.Flags().IntVar(&submitMaxAttempts, "max-attempts", 0, "attempt budget for tasks that set none")
	submitCmd.Flags().StringArrayVar(&submitMetadata, "meta", nil, "metadata key=value recorded on the graph (repeatable)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "watch the graph until it finishes")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "print JSON")

	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	req := api.SubmitRequest{Owner: submitOwner, MaxAttempts: submitMaxAttempts}
	if len(args) == 1 {
		req.Objective = strings.TrimSpace(args[0])
	}
	if submitPlanFile != "" {
		specs, err := planner.LoadFile(submitPlanFile, req.Objective)
		if err != nil {
			return err
		}
		req.Tasks = specs
		if req.Objective == "" {
			req.Objective = submitPlanFile
		}
	}
	if req.Objective == "" {
		return errors.New("missing argument: an objective or --plan is required")
	}
	if cmd.Flags().Changed("fail-fast") {
		req.FailFast = &submitFailFast
	}
	for _, kv := range submitMetadata {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid argument %q for --meta: expected key=value", kv)
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]string)
		}
		req.Metadata[key] = value
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	graphID, err := c.Submit(ctx, req)
	if err != nil {
		return err
	}

	if !submitWait {
		if submitJSON {
			return printJSON(cmd.OutOrStdout(), api.SubmitResponse{GraphID: graphID, Status: "running"})
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), graphID)
		return err
	}

	// the live view leaves its final report on screen
	rec, err := watchRemote(ctx, c, graphID, !submitJSON)
	if err != nil {
		return err
	}
	if submitJSON {
		if err := printJSON(cmd.OutOrStdout(), rec); err != nil {
			return err
		}
	}
	if !rec.IsTerminal() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Stopped watching %s; it is still %s.\n", rec.GraphID, rec.Status)
		return nil
	}
	return exitcode.FromRecord(rec)
}
