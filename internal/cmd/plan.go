package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/engine"
	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work with plan files",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a plan file without running it",
	Long: `Decode a JSON, YAML or HCL plan file, build its task graph and report the
execution levels. Fails on cycles, unknown dependencies, duplicate ids and
tools that are neither built in nor declared under 'tools'.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanValidate,
}

var (
	planObjective string
	planJSON      bool
)

type planReport struct {
	File        string     `json:"file"`
	Tasks       int        `json:"tasks"`
	Fingerprint string     `json:"fingerprint"`
	Levels      [][]string `json:"levels"`
}

func init() {
	planValidateCmd.Flags().StringVar(&planObjective, "objective", "", "objective exposed to HCL expressions as var.objective")
	planValidateCmd.Flags().BoolVar(&planJSON, "json", false, "print the report as JSON")

	planCmd.AddCommand(planValidateCmd)
	rootCmd.AddCommand(planCmd)
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	specs, err := planner.LoadFile(path, planObjective)
	if err != nil {
		return err
	}
	g, err := engine.Validate(specs)
	if err != nil {
		return err
	}

	tools, err := buildTools(cfg.Tools)
	if err != nil {
		return err
	}
	var unknown []string
	for _, s := range g.Specs() {
		if !tools.Has(s.ToolName) {
			unknown = append(unknown, fmt.Sprintf("%s (task %s)", s.ToolName, s.ID))
		}
	}
	if len(unknown) > 0 {
		return tgerrors.Wrap(tgerrors.ErrCodeBuildInvalid, "plan uses unregistered tools",
			fmt.Errorf("%s", strings.Join(unknown, ", "))).
			WithSuggestion("Declare the tools under 'tools' in the configuration file")
	}

	report := planReport{File: path, Tasks: g.Len(), Fingerprint: g.Fingerprint(), Levels: g.Levels()}
	if planJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s: %d tasks in %d levels\n", path, report.Tasks, len(report.Levels))
	for i, level := range report.Levels {
		fmt.Fprintf(out, "  level %d: %s\n", i, strings.Join(level, ", "))
	}
	fmt.Fprintf(out, "  fingerprint: %.12s\n", report.Fingerprint)
	return nil
}
