package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"airguard.dev/gateway/internal/gateway"
	"airguard.dev/gateway/internal/simulator"
	"airguard.dev/gateway/pkg/metrics"
	"airguard.dev/gateway/pkg/mq"
	"airguard.dev/gateway/pkg/mqtt"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated capture device",
	Long: `Run a simulated capture device that:
- Reports link, sensor and position health with injected faults
- Performs hold-and-capture cycles gated by the transmit policy
- Publishes allowed batches to the MQTT topic or RabbitMQ queue
- Occasionally republishes a batch to exercise deduplication`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	flags := simulateCmd.Flags()
	flags.Duration("health-interval", 500*time.Millisecond, "interval between health reports")
	flags.Duration("capture-interval", 15*time.Second, "interval between capture holds")
	flags.Duration("hold-duration", 0, "how long each hold lasts (default: hold threshold + 500ms)")
	flags.Float64("fault-probability", 0.02, "chance that a single health report is lost")
	flags.Float64("redelivery-probability", 0.1, "chance that a batch is published twice")
	flags.Int("samples", 200, "samples per batch")
	flags.Uint64("seed", 0, "random seed (0 picks one)")
	flags.String("mqtt-client-id", "airguard-simulator", "MQTT client id")
	flags.String("metrics-addr", ":9101", "address serving simulator metrics (empty disables it)")
	flags.Duration("hold-threshold", 0, "override gate.hold_threshold")

	bindings := map[string]string{
		"simulator.health_interval":        "health-interval",
		"simulator.capture_interval":       "capture-interval",
		"simulator.hold_duration":          "hold-duration",
		"simulator.fault_probability":      "fault-probability",
		"simulator.redelivery_probability": "redelivery-probability",
		"simulator.samples":                "samples",
		"simulator.seed":                   "seed",
		"simulator.mqtt_client_id":         "mqtt-client-id",
		"simulator.metrics_addr":           "metrics-addr",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	logger := GetLogger("airguard-simulator")
	logger.Info("starting simulator service")

	policy := GatePolicy()
	if threshold, _ := cmd.Flags().GetDuration("hold-threshold"); threshold > 0 {
		policy.HoldThreshold = threshold
	}

	bus, err := newPublisherBus(logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("failed to close message bus", "error", err)
		}
	}()

	readyCtx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("bus.ready_timeout"))
	err = bus.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}

	sim, err := simulator.New(&simulator.Config{
		Logger:                logger,
		Publisher:             bus,
		Metrics:               metrics.NewSimulatorMetrics(nil),
		Policy:                policy,
		HealthInterval:        viper.GetDuration("simulator.health_interval"),
		CaptureInterval:       viper.GetDuration("simulator.capture_interval"),
		HoldDuration:          viper.GetDuration("simulator.hold_duration"),
		FaultProbability:      viper.GetFloat64("simulator.fault_probability"),
		RedeliveryProbability: viper.GetFloat64("simulator.redelivery_probability"),
		SamplesPerBatch:       viper.GetInt("simulator.samples"),
		Seed:                  viper.GetUint64("simulator.seed"),
	})
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	logger.Info("simulator configuration",
		"bus", viper.GetString("bus.driver"),
		"hold_threshold", policy.HoldThreshold,
		"link_timeout", policy.LinkTimeout,
		"sensor_timeout", policy.SensorTimeout,
		"position_timeout", policy.PositionTimeout,
	)

	if addr := viper.GetString("simulator.metrics_addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	if err := sim.Run(cmd.Context()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}

// newPublisherBus connects to the configured bus for publishing.
func newPublisherBus(logger *slog.Logger) (mq.Bus, error) {
	mqMetrics := metrics.NewMQMetrics(nil)

	switch driver := viper.GetString("bus.driver"); driver {
	case gateway.BusMQTT:
		clientID := viper.GetString("simulator.mqtt_client_id")
		if clientID == "" {
			hostname, _ := os.Hostname()
			clientID = "airguard-simulator-" + hostname
		}
		cfg, err := MQTTConfig(clientID)
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
		cfg.Metrics = mqMetrics
		client, err := mqtt.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mqtt client: %w", err)
		}
		return client, nil

	case gateway.BusAMQP:
		client := mq.New(viper.GetString("amqp.queue"), viper.GetString("amqp.url"), logger.With("component", "mq-client"))
		client.SetMetrics(mqMetrics)
		return client, nil

	default:
		return nil, fmt.Errorf("unknown bus driver %q", driver)
	}
}
