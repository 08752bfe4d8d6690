package main

import (
	"fmt"
	"os"

	"example.com/treefleet/internal/agent"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "treefleet-agent",
	Short: "Runs behavior tree instances on a fleet host",
	Long: `treefleet-agent loads behavior tree definitions from a directory, ticks
the configured instances and takes spawn, despawn and global updates from
the controller over MQTT.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "agent config file (default $AGENT_CONFIG_PATH or "+agent.DefaultConfigPath+")")
}

func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	if p := os.Getenv("AGENT_CONFIG_PATH"); p != "" {
		return p
	}
	return agent.DefaultConfigPath
}
