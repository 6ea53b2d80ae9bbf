package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/api"
	"github.com/felixgeelhaar/taskgraph/internal/run"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List graphs on the server",
	Long: `List graphs known to the server, newest first.

Example:
  taskgraph list --active
  taskgraph list --owner ci --status failed,partially_failed`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listOwner    string
	listStatuses []string
	listActive   bool
	listJSON     bool
)

func init() {
	listCmd.Flags().StringVar(&listOwner, "owner", "", "only graphs submitted by this owner")
	listCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "only graphs in these statuses (comma separated)")
	listCmd.Flags().BoolVar(&listActive, "active", false, "only running graphs")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	rootCmd.AddCommand(listCmd)
}

func parseStatuses(values []string) ([]run.Status, error) {
	var out []run.Status
	for _, v := range values {
		s := run.Status(strings.ToLower(strings.TrimSpace(v)))
		if s == "" {
			continue
		}
		if !s.Valid() {
			return nil, fmt.Errorf("invalid argument %q for --status: expected one of %v", v, run.Statuses)
		}
		out = append(out, s)
	}
	return out, nil
}

func runList(cmd *cobra.Command, _ []string) error {
	statuses, err := parseStatuses(listStatuses)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	graphs, err := c.List(cmd.Context(), run.Filter{Owner: listOwner, Statuses: statuses, ActiveOnly: listActive})
	if err != nil {
		return err
	}
	if listJSON {
		return printJSON(cmd.OutOrStdout(), api.ListResponse{Graphs: graphs, Count: len(graphs)})
	}
	return printSummaries(cmd.OutOrStdout(), graphs)
}
