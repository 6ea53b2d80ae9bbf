package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskgraph/internal/config"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/tui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create the configuration file",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and TASKGRAPH_*
environment overrides have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigView,
}

var configPathCmd = &cobra.Command{
	Use:               "path",
	Short:             "Print the configuration file location",
	Args:              cobra.NoArgs,
	PersistentPreRunE: withoutConfig,
	RunE:              runConfigPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	Long: `Write a configuration file with the defaults. With --interactive, a
form asks for the store, worker and server settings first.`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: withoutConfig,
	RunE:              runConfigInit,
}

var (
	configForce       bool
	configInteractive bool
)

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")
	configInitCmd.Flags().BoolVarP(&configInteractive, "interactive", "i", false, "ask for the main settings")

	configCmd.AddCommand(configViewCmd, configPathCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// withoutConfig replaces loadConfig for commands that must work while the
// config file is missing or broken.
func withoutConfig(cmd *cobra.Command, _ []string) error {
	cfg = config.Default()
	lc := cfg.LogConfig()
	lc.Output = cmd.ErrOrStderr()
	logger = log.New(lc)
	return nil
}

func effectiveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

func runConfigView(cmd *cobra.Command, _ []string) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	path, err := effectiveConfigPath()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
	return err
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path, err := effectiveConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists; pass --force to overwrite it", path)
	}
	c := config.Default()
	if configInteractive {
		if err := tui.PromptConfig(c); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if err := c.Save(path); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
	return err
}
