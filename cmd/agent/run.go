package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"example.com/treefleet/internal/agent"
	"example.com/treefleet/internal/logging"
	"example.com/treefleet/internal/metrics"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent and tick trees until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runAgent(cmd.Context(), configPath(cmd))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(ctx context.Context, path string) error {
	cfg, err := agent.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	engine, err := agent.NewEngine(cfg, agent.Deps{
		Logger:  logger,
		Metrics: metrics.New(),
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("agent", cfg.AgentID).Str("config", path).Msg("agent starting")
	if err := engine.Start(ctx); err != nil {
		return err
	}
	logger.Info().Msg("agent stopped")
	return nil
}
