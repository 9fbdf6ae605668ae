// Package main provides the CLI entry point for the airguard gateway and the
// device simulator.
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
		Use:   "airguard",
		Short: "Telemetry ingestion and fan-out gateway",
		Long: `Airguard receives telemetry batches from capture devices and:
- serve: ingests batches over HTTP and the message bus, stores them once and
  streams new batches to real-time subscribers
- simulate: runs a simulated capture device that publishes gated batches`,
		Version: "1.0.0",
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

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/airguard/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")

	// Bus settings are shared by the gateway and the simulator.
	flags.String("bus", "mqtt", "message bus driver (mqtt, amqp)")
	flags.Duration("bus-ready-timeout", defaultReadyTimeout, "how long to wait for the first bus connection")
	flags.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	flags.String("mqtt-username", "", "MQTT username")
	flags.String("mqtt-password", "", "MQTT password")
	flags.String("mqtt-topic", "espnow/samples", "MQTT topic carrying telemetry batches")
	flags.Int("mqtt-qos", 1, "MQTT quality of service (0, 1, 2)")
	flags.String("amqp-url", "amqp://localhost:5672", "RabbitMQ URL")
	flags.String("amqp-queue", "samples", "RabbitMQ queue carrying telemetry batches")

	bindings := map[string]string{
		"log.level":         "log-level",
		"log.format":        "log-format",
		"bus.driver":        "bus",
		"bus.ready_timeout": "bus-ready-timeout",
		"mqtt.broker":       "mqtt-broker",
		"mqtt.username":     "mqtt-username",
		"mqtt.password":     "mqtt-password",
		"mqtt.topic":        "mqtt-topic",
		"mqtt.qos":          "mqtt-qos",
		"amqp.url":          "amqp-url",
		"amqp.queue":        "amqp-queue",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
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
