package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/api"
	"github.com/felixgeelhaar/taskgraph/internal/client"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printSummaries(w io.Writer, graphs []api.GraphSummary) error {
	if len(graphs) == 0 {
		_, err := fmt.Fprintln(w, "No graphs found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "GRAPH\tSTATUS\tPROGRESS\tOWNER\tCREATED\tOBJECTIVE") //nolint:errcheck
	for _, g := range graphs {
		objective := g.Objective
		if len(objective) > 48 {
			objective = objective[:45] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%s\t%s\t%s\n", //nolint:errcheck
			g.GraphID, g.Status, g.Progress*100, dash(g.Owner), g.CreatedAt.Local().Format(time.DateTime), objective)
	}
	return tw.Flush()
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if cfg.Client.Timeout > 0 {
		opts = append(opts, client.WithTimeout(cfg.Client.Timeout))
	}
	return client.New(cfg.Client.URL, opts...)
}
