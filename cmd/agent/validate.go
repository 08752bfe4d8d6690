package main

import (
	"fmt"

	"example.com/treefleet/internal/agent"
	"example.com/treefleet/internal/behavior"
	"example.com/treefleet/internal/definition"
	"example.com/treefleet/internal/leaf"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check that every definition in a directory builds",
	Long: `Parses and builds every *.yaml and *.yml file in dir, or in the
configured definitions_dir when no dir is given. Globals declared in the
config are available to conditions.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		names, err := validateDefinitions(configPath(cmd), dir)
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "ok  %s\n", name)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validateDefinitions builds every definition in dir. The config file is
// optional when dir is given.
func validateDefinitions(cfgPath, dir string) ([]string, error) {
	globals := behavior.NewGlobalTable()
	cfg, cfgErr := agent.LoadConfig(cfgPath)
	if cfgErr == nil {
		g, err := cfg.GlobalTable()
		if err != nil {
			return nil, err
		}
		globals = g
		if dir == "" {
			dir = cfg.DefinitionsDir
		}
	}
	if dir == "" {
		return nil, fmt.Errorf("no definitions directory: %w", cfgErr)
	}

	lib := definition.NewLibrary(dir, leaf.NewRegistry(leaf.Deps{}), zerolog.Nop(),
		behavior.WithGlobals(globals),
	)
	err := lib.Load()
	return lib.Names(), err
}
