// Package commands implements the charade CLI commands using cobra.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/charade/pkg/charade/config"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "charade",
		Short: "Charade - multi-persona chat bot router",
		Long: `Charade runs configurable bot personas over a shared Discord account,
replying through per-channel webhooks so each persona keeps its own name
and avatar.

Examples:
  charade serve
  charade setup
  charade chat oracle
  charade config set-key openai_api_key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")

	return rootCmd
}

// loadConfig resolves the --config flag (or the standard locations) and
// loads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindFile()
	}
	if path == "" {
		return nil, fmt.Errorf("no config file found (looked for config.yaml, charade.yaml); pass one with --config")
	}
	return config.Load(path)
}
