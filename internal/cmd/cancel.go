package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <graph-id>",
	Short: "Cancel a running graph",
	Long: `Cancel a graph on the server. Running tool invocations are interrupted and
every unfinished task is marked cancelled; finished tasks keep their results.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

var archiveCmd = &cobra.Command{
	Use:   "archive <graph-id>",
	Short: "Delete a finished graph's record",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

var cancelJSON bool

func init() {
	cancelCmd.Flags().BoolVar(&cancelJSON, "json", false, "print the final record as JSON")

	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(archiveCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	rec, err := c.Cancel(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printRecord(cmd, rec, cancelJSON, false)
}

func runArchive(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.Archive(cmd.Context(), args[0]); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", args[0])
	return err
}
