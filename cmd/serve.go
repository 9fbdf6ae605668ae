package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"airguard.dev/gateway/internal/gateway"
	"airguard.dev/gateway/internal/mirror"
	"airguard.dev/gateway/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the telemetry gateway",
	Long: `Run the gateway that:
- Accepts telemetry batches on POST /api/v1/samples
- Relays batches from the MQTT topic or RabbitMQ queue
- Persists each batch id once in PostgreSQL
- Streams new batches to websocket subscribers on /ws
- Optionally mirrors new batches to a Redis stream and a cloud endpoint
- Serves health, metrics and the gRPC health service`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("store", gateway.StorePostgres, "sample store (postgres, memory)")
	flags.String("db-host", "localhost", "PostgreSQL host")
	flags.Int("db-port", 5432, "PostgreSQL port")
	flags.String("db-user", "postgres", "PostgreSQL user")
	flags.String("db-password", "", "PostgreSQL password")
	flags.String("db-name", "airguard", "PostgreSQL database name")
	flags.String("db-sslmode", "disable", "PostgreSQL SSL mode")
	flags.String("mqtt-client-id", "airguard-gateway", "MQTT client id")
	flags.String("http-addr", ":8080", "HTTP listen address")
	flags.String("grpc-addr", ":9090", "gRPC listen address")
	flags.String("shared-secret", "", "static secret required on the sample and websocket endpoints")
	flags.String("redis-addr", "", "Redis address for the stream mirror (empty disables it)")
	flags.String("redis-stream", mirror.DefaultStream, "Redis stream name")
	flags.Int64("redis-max-len", 100000, "approximate Redis stream length")
	flags.String("cloud-url", "", "URL new batches are forwarded to (empty disables it)")
	flags.String("cloud-token", "", "bearer token for the cloud endpoint")
	flags.Duration("cloud-timeout", mirror.DefaultCloudTimeout, "cloud request timeout")
	flags.Int("cloud-retries", 3, "cloud request retries")

	bindings := map[string]string{
		"store.driver":      "store",
		"db.host":           "db-host",
		"db.port":           "db-port",
		"db.user":           "db-user",
		"db.password":       "db-password",
		"db.name":           "db-name",
		"db.sslmode":        "db-sslmode",
		"mqtt.client_id":    "mqtt-client-id",
		"http.addr":         "http-addr",
		"grpc.addr":         "grpc-addr",
		"api.shared_secret": "shared-secret",
		"redis.addr":        "redis-addr",
		"redis.stream":      "redis-stream",
		"redis.max_len":     "redis-max-len",
		"cloud.post_url":    "cloud-url",
		"cloud.token":       "cloud-token",
		"cloud.timeout":     "cloud-timeout",
		"cloud.retries":     "cloud-retries",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := GetLogger("airguard-gateway")
	logger.Info("starting gateway service")

	mqttCfg, err := MQTTConfig(viper.GetString("mqtt.client_id"))
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	if mqttCfg.ClientID == "" {
		mqttCfg.ClientID = fmt.Sprintf("airguard-gateway-%s", hostname)
	}

	config := &gateway.ServerConfig{
		Logger:      logger,
		StoreDriver: viper.GetString("store.driver"),
		DB: &store.DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetInt("db.port"),
			User:     viper.GetString("db.user"),
			Password: viper.GetString("db.password"),
			DBName:   viper.GetString("db.name"),
			SSLMode:  viper.GetString("db.sslmode"),
		},
		BusDriver:   viper.GetString("bus.driver"),
		MQTT:        mqttCfg,
		AMQPURL:     viper.GetString("amqp.url"),
		QueueName:   viper.GetString("amqp.queue"),
		RedisAddr:   viper.GetString("redis.addr"),
		RedisStream: viper.GetString("redis.stream"),
		RedisMaxLen: viper.GetInt64("redis.max_len"),
		Cloud: &mirror.CloudConfig{
			URL:        viper.GetString("cloud.post_url"),
			Token:      viper.GetString("cloud.token"),
			Timeout:    viper.GetDuration("cloud.timeout"),
			RetryCount: viper.GetInt("cloud.retries"),
		},
		HTTPAddr:     viper.GetString("http.addr"),
		GRPCAddr:     viper.GetString("grpc.addr"),
		SharedSecret: viper.GetString("api.shared_secret"),
		ReadyTimeout: viper.GetDuration("bus.ready_timeout"),
	}

	server, err := gateway.NewServer(config)
	if err != nil {
		logger.Error("failed to create gateway server", "error", err)
		return err
	}

	logger.Info("gateway configuration",
		"store", config.StoreDriver,
		"db_host", config.DB.Host,
		"db_port", config.DB.Port,
		"db_name", config.DB.DBName,
		"bus", config.BusDriver,
		"mqtt_broker", config.MQTT.Broker,
		"mqtt_topic", config.MQTT.Topic,
		"amqp_queue", config.QueueName,
		"http_addr", config.HTTPAddr,
		"grpc_addr", config.GRPCAddr,
		"auth", config.SharedSecret != "",
		"redis_mirror", config.RedisAddr != "",
		"cloud_mirror", config.Cloud.URL != "",
	)

	if err := server.Run(cmd.Context()); err != nil {
		logger.Error("gateway server error", "error", err)
		return err
	}

	logger.Info("gateway server stopped")
	return nil
}
