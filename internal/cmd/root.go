package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/config"
	"github.com/felixgeelhaar/taskgraph/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "taskgraph",
	Short: "Parallel task execution engine",
	Long: `taskgraph turns an objective into a dependency graph of tool invocations and
runs every task whose prerequisites have succeeded in parallel, retrying
failures and persisting progress so an interrupted run can be resumed.

Run a plan locally with 'taskgraph run', or start the API with
'taskgraph serve' and drive it with submit, status, list, watch and cancel.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

var (
	configPath string
	logLevel   string
	logFormat  string
	serverURL  string

	// cfg and logger are set by loadConfig before any command runs.
	cfg    *config.Config
	logger *log.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.taskgraph/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "taskgraph server URL for client commands")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands use for
// cancellation on SIGINT and SIGTERM.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
	if serverURL != "" {
		c.Client.URL = serverURL
	}

	lc := c.LogConfig()
	lc.Output = cmd.ErrOrStderr()
	cfg = c
	logger = log.New(lc)
	log.SetDefaultLogger(logger)
	return nil
}
