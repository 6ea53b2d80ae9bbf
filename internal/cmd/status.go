package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/client"
	"github.com/felixgeelhaar/taskgraph/internal/exitcode"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status <graph-id>",
	Short: "Show a graph's record",
	Long: `Show the current state of a graph on the server: every task with its state,
attempts and last error, plus the graph-level outcome.

Exits 0 while the graph is running or after it succeeded, and with the
outcome code once it finished otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch <graph-id>",
	Short: "Follow a graph until it finishes",
	Long: `Poll a graph on the server and draw a live view until it finishes. Press q
to stop watching; the graph keeps running.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	statusJSON    bool
	statusVerbose bool
	watchInterval time.Duration
	watchPlain    bool
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the record as JSON")
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "include task results")

	watchCmd.Flags().DurationVar(&watchInterval, "interval", tui.DefaultInterval, "poll interval")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "poll without the live view and print the final report")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	rec, err := c.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := printRecord(cmd, rec, statusJSON, statusVerbose); err != nil {
		return err
	}
	if !rec.IsTerminal() {
		return nil
	}
	return exitcode.FromRecord(rec)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	rec, err := watchRemote(cmd.Context(), c, args[0], !watchPlain)
	if err != nil {
		return err
	}
	if !rec.IsTerminal() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Stopped watching %s; it is still %s.\n", rec.GraphID, rec.Status)
		return nil
	}
	if watchPlain {
		if err := printRecord(cmd, rec, false, false); err != nil {
			return err
		}
	}
	return exitcode.FromRecord(rec)
}

// watchRemote follows a graph on the server until it is terminal. With live
// set it draws the TUI, which also prints the final report.
func watchRemote(ctx context.Context, c *client.Client, graphID string, live bool) (*run.Record, error) {
	fetch := func(ctx context.Context) (*run.Record, error) {
		return c.Status(ctx, graphID)
	}
	if live {
		rec, err := tui.Watch(ctx, graphID, fetch, watchInterval)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return fetch(ctx)
		}
		return rec, nil
	}

	interval := watchInterval
	if interval <= 0 {
		interval = tui.DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rec, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if rec.IsTerminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
