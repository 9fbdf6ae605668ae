// Package mqtt implements the gateway's bus contract over an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"airguard.dev/gateway/pkg/metrics"
	"airguard.dev/gateway/pkg/mq"
)

// busLabel is the "bus" metric label for this client.
const busLabel = "mqtt"

// Default topic and quality of service for telemetry samples.
const (
	DefaultTopic = "espnow/samples"
	DefaultQoS   = 1
)

// Config holds the configuration for the MQTT client.
type Config struct {
	Logger   *slog.Logger
	Metrics  *metrics.MQMetrics // Optional
	Broker   string             // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte

	// CleanSession discards queued messages on reconnect. Leave false for
	// at-least-once delivery across gateway restarts.
	CleanSession bool
}

// Client is an MQTT client bound to one topic.
type Client struct {
	logger  *slog.Logger
	metrics *metrics.MQMetrics
	topic   string
	qos     byte

	client  paho.Client
	connect paho.Token

	mu      sync.Mutex
	handler mq.Handler
	ctx     context.Context

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client and starts connecting in the background. The broker
// connection is retried until it succeeds or Close is called; use WaitReady
// to block on it.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Broker == "" {
		return nil, errors.New("broker URL cannot be empty")
	}

	if cfg.ClientID == "" {
		return nil, errors.New("client id cannot be empty")
	}

	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid qos %d", cfg.QoS)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	c := &Client{
		logger:  cfg.Logger.With("component", "mqtt", "topic", topic),
		metrics: cfg.Metrics,
		topic:   topic,
		qos:     cfg.QoS,
		done:    make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoAckDisabled(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		c.logger.Info("reconnecting to broker")
		if c.metrics != nil {
			c.metrics.ReconnectAttempts.WithLabelValues(busLabel).Inc()
		}
	})

	c.client = paho.NewClient(opts)
	c.logger.Info("connecting to broker", "broker", cfg.Broker, "client_id", cfg.ClientID)
	c.connect = c.client.Connect()

	return c, nil
}

// onConnect runs on every (re)connect and restores the subscription.
func (c *Client) onConnect(paho.Client) {
	c.logger.Info("connected to broker")
	c.setConnectionStatus(1)

	c.mu.Lock()
	handler, ctx := c.handler, c.ctx
	c.mu.Unlock()

	if handler != nil {
		if err := c.subscribe(ctx, handler); err != nil {
			c.logger.Error("failed to restore subscription", "error", err)
		}
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("connection to broker lost", "error", err)
	c.setConnectionStatus(0)
}

func (c *Client) setConnectionStatus(v float64) {
	if c.metrics != nil {
		c.metrics.ConnectionStatus.WithLabelValues(busLabel).Set(v)
	}
}

// WaitReady blocks until the first broker connection is established.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.done:
		return mq.ErrShutdown
	default:
	}

	select {
	case <-c.connect.Done():
		if err := c.connect.Error(); err != nil {
			return fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
		return nil
	case <-c.done:
		return mq.ErrShutdown
	case <-ctx.Done():
		return fmt.Errorf("waiting for mqtt broker: %w", ctx.Err())
	}
}

// Subscribe delivers every message on the topic to handler until ctx is
// cancelled or the client is closed. Messages are acknowledged after handler
// returns nil; failed messages are logged, counted and left for redelivery.
func (c *Client) Subscribe(ctx context.Context, handler mq.Handler) error {
	if err := c.WaitReady(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, mq.ErrShutdown) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	c.handler, c.ctx = handler, ctx
	c.mu.Unlock()

	if err := c.subscribe(ctx, handler); err != nil {
		return err
	}
	c.logger.Info("subscribed", "qos", c.qos)

	select {
	case <-ctx.Done():
	case <-c.done:
		return nil
	}

	c.mu.Lock()
	c.handler, c.ctx = nil, nil
	c.mu.Unlock()

	token := c.client.Unsubscribe(c.topic)
	if !token.WaitTimeout(2 * time.Second) {
		c.logger.Warn("unsubscribe timed out")
	} else if err := token.Error(); err != nil {
		c.logger.Warn("failed to unsubscribe", "error", err)
	}
	return nil
}

func (c *Client) subscribe(ctx context.Context, handler mq.Handler) error {
	token := c.client.Subscribe(c.topic, c.qos, func(_ paho.Client, msg paho.Message) {
		c.handleMessage(ctx, handler, msg)
	})
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}
	return nil
}

// handleMessage acknowledges msg only when handler succeeds. An unacknowledged
// QoS 1 message stays in the broker's session and is redelivered after the
// next reconnect.
func (c *Client) handleMessage(ctx context.Context, handler mq.Handler, msg paho.Message) {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.ConsumeDuration.WithLabelValues(busLabel, c.topic))
		defer timer.ObserveDuration()
		c.metrics.MessagesConsumed.WithLabelValues(busLabel, c.topic).Inc()
	}

	if err := handler(ctx, msg.Payload()); err != nil {
		if c.metrics != nil {
			c.metrics.ConsumptionFailures.WithLabelValues(busLabel, c.topic).Inc()
		}
		c.logger.Error("failed to handle message, leaving it unacknowledged",
			"message_id", msg.MessageID(),
			"duplicate", msg.Duplicate(),
			"error", err,
		)
		return
	}

	msg.Ack()
}

// Publish sends payload to the topic and waits for the broker to accept it.
func (c *Client) Publish(ctx context.Context, payload []byte) error {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.PublishDuration.WithLabelValues(busLabel, c.topic))
		defer timer.ObserveDuration()
	}

	token := c.client.Publish(c.topic, c.qos, false, payload)
	if err := wait(ctx, token); err != nil {
		if c.metrics != nil {
			c.metrics.PublishFailures.WithLabelValues(busLabel, c.topic, "publish_error").Inc()
		}
		return fmt.Errorf("failed to publish to topic %s: %w", c.topic, err)
	}

	if c.metrics != nil {
		c.metrics.MessagesPublished.WithLabelValues(busLabel, c.topic).Inc()
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker. Pending work gets 250ms to finish.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.client.Disconnect(250)
		c.setConnectionStatus(0)
		c.logger.Info("disconnected from broker")
	})
	return nil
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure Client implements mq.Bus.
var _ mq.Bus = (*Client)(nil)
