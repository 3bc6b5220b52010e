package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/switchwatch/internal/simulator"
	"procodus.dev/switchwatch/pkg/metrics"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run the telemetry simulator",
	Long: `Run one switch machine simulator per configured asset that:
- Produces phase current, controller and transition telemetry every tick
- Injects faults and accumulates wear
- Publishes every row to RabbitMQ for the backend to store`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	simulatorCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	simulatorCmd.Flags().String("queue-name", "switchwatch-telemetry", "RabbitMQ queue for telemetry")
	simulatorCmd.Flags().Int64("seed", 0, "simulator seed (0 is random)")

	_ = viper.BindPFlag("simulator.rabbitmq.url", simulatorCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("simulator.rabbitmq.queue_name", simulatorCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("simulator.seed", simulatorCmd.Flags().Lookup("seed"))
}

func runSimulator(_ *cobra.Command, _ []string) error {
	logger, closer, err := GetLogger()
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("starting simulator service")

	fleet, err := LoadFleet()
	if err != nil {
		logger.Error("failed to load fleet", "error", err)
		return err
	}

	cfg := &simulator.ServerConfig{
		Logger:      logger,
		Fleet:       fleet,
		RabbitMQURL: viper.GetString("simulator.rabbitmq.url"),
		QueueName:   viper.GetString("simulator.rabbitmq.queue_name"),
		Seed:        viper.GetInt64("simulator.seed"),
	}
	if viper.GetBool("metrics.enabled") {
		cfg.Metrics = metrics.NewSimulatorMetrics(namespace)
		cfg.MQMetrics = metrics.NewMQMetrics(namespace)
	}

	server, err := simulator.NewServer(cfg)
	if err != nil {
		logger.Error("failed to create simulator server", "error", err)
		return err
	}

	logger.Info("simulator server configuration",
		"assets", fleet.AssetIDs(),
		"rabbitmq_url", cfg.RabbitMQURL,
		"queue", cfg.QueueName,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator server error", "error", err)
		return err
	}

	logger.Info("simulator server stopped")
	return nil
}
