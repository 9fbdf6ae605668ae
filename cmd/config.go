package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"airguard.dev/gateway/internal/gate"
	"airguard.dev/gateway/pkg/logger"
	"airguard.dev/gateway/pkg/mqtt"
)

const defaultReadyTimeout = 30 * time.Second

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment variables.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/airguard/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// AIRGUARD_DB_HOST overrides db.host, and so on.
	viper.SetEnvPrefix("AIRGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("gate.hold_threshold", gate.DefaultPolicy().HoldThreshold)
	viper.SetDefault("gate.link_timeout", gate.DefaultPolicy().LinkTimeout)
	viper.SetDefault("gate.sensor_timeout", gate.DefaultPolicy().SensorTimeout)
	viper.SetDefault("gate.position_timeout", gate.DefaultPolicy().PositionTimeout)

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger(service string) *slog.Logger {
	return logger.New(&logger.Config{
		Output:  os.Stdout,
		Level:   logger.ParseLevel(viper.GetString("log.level")),
		Format:  viper.GetString("log.format"),
		Service: service,
	})
}

// GatePolicy reads the gate thresholds.
func GatePolicy() gate.Policy {
	return gate.Policy{
		HoldThreshold:   viper.GetDuration("gate.hold_threshold"),
		LinkTimeout:     viper.GetDuration("gate.link_timeout"),
		SensorTimeout:   viper.GetDuration("gate.sensor_timeout"),
		PositionTimeout: viper.GetDuration("gate.position_timeout"),
	}
}

// MQTTConfig reads the broker settings for the given client id.
func MQTTConfig(clientID string) (*mqtt.Config, error) {
	qos := viper.GetInt("mqtt.qos")
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", qos)
	}

	return &mqtt.Config{
		Broker:   viper.GetString("mqtt.broker"),
		ClientID: clientID,
		Username: viper.GetString("mqtt.username"),
		Password: viper.GetString("mqtt.password"),
		Topic:    viper.GetString("mqtt.topic"),
		QoS:      byte(qos),
	}, nil
}
