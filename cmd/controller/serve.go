package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"example.com/treefleet/internal/controller"
	"example.com/treefleet/internal/db"
	httpserver "example.com/treefleet/internal/http"
	"example.com/treefleet/internal/logging"
	"example.com/treefleet/internal/metrics"
	mqttc "example.com/treefleet/internal/mqtt"
	sshc "example.com/treefleet/internal/ssh"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	dbPath    string
	addr      string
	broker    string
	logLevel  string
	logFormat string
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and follow agent heartbeats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), serveOpts)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.dbPath, "db", envOr("DB_PATH", "controller.db"), "SQLite database path")
	f.StringVar(&serveOpts.addr, "addr", envOr("HTTP_ADDR", httpserver.DefaultAddr), "HTTP listen address")
	f.StringVar(&serveOpts.broker, "broker", envOr("MQTT_BROKER", mqttc.DefaultBroker), "MQTT broker URL")
	f.StringVar(&serveOpts.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level")
	f.StringVar(&serveOpts.logFormat, "log-format", envOr("LOG_FORMAT", "json"), "log format (json or console)")
	rootCmd.AddCommand(serveCmd)
}

// subscriber adapts a raw paho client for use inside its on-connect hook.
type subscriber struct{ c mqtt.Client }

func (s subscriber) Subscribe(topic string, h mqtt.MessageHandler) error {
	token := s.c.Subscribe(topic, 1, h)
	token.Wait()
	return token.Error()
}

func serve(ctx context.Context, o serveOptions) error {
	logger, err := logging.New(logging.Config{Level: o.logLevel, Format: o.logFormat})
	if err != nil {
		return err
	}

	store, err := db.Open(o.dbPath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	ctrl := controller.New(store, nil, sshc.NewDeployer(logger), logger)
	ctrl.Metrics = m
	srv := httpserver.NewServer(ctrl, m, logger)

	client := mqttc.NewClient(mqttc.Options{
		ClientID: "controller",
		Broker:   o.broker,
		OnConnect: func(c mqtt.Client) {
			if err := srv.SubscribeStatus(subscriber{c}); err != nil {
				logger.Error().Err(err).Msg("subscribe to agent status")
			}
		},
		Logger: logger,
	})
	defer client.Client.Disconnect(250)
	ctrl.MQTT = client

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx, o.addr)
}
