// Package main provides the switchwatch CLI: the backend monitoring service
// and the standalone telemetry simulator.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "switchwatch",
		Short: "Railway switch machine condition monitoring",
		Long: `Condition monitoring for railway switch machines:
- simulator: simulates switch machine telemetry and publishes it to RabbitMQ
- backend: stores telemetry, detects anomalies and serves asset health`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/switchwatch/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to an hourly rotated file at this path")
	rootCmd.PersistentFlags().String("fleet", "", "fleet definition YAML (default is the built-in two-asset fleet)")
	rootCmd.PersistentFlags().Bool("metrics", true, "collect Prometheus metrics")

	for key, flag := range map[string]string{
		"log.level":       "log-level",
		"log.file":        "log-file",
		"fleet":           "fleet",
		"metrics.enabled": "metrics",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			log.Fatalf("failed to bind %s flag: %v", flag, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := InitConfig(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}
