// Package mq defines the message bus contract used by the gateway and
// provides a RabbitMQ implementation with automatic reconnection.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"airguard.dev/gateway/pkg/metrics"
)

// busLabel is the "bus" metric label for this client.
const busLabel = "amqp"

// Client is a RabbitMQ client bound to one durable queue. It handles
// connection management and automatic reconnection.
type Client struct {
	m               *sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	closeOnce       sync.Once
	ready           chan struct{} // closed while isReady is true
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	isReady         bool
	metrics         *metrics.MQMetrics // Optional metrics
}

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Initial backoff delay for Push retries.
	initialBackoff = 100 * time.Millisecond

	// Maximum backoff delay for Push retries.
	maxBackoff = 10 * time.Second

	// Backoff multiplier for exponential backoff.
	backoffMultiplier = 2

	// Maximum number of retry attempts before giving up.
	maxRetryAttempts = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	errNacked             = errors.New("publish not acknowledged by broker")
)

// New creates a client for queueName and starts connecting to addr in the
// background.
func New(queueName, addr string, l *slog.Logger) *Client {
	client := Client{
		m:         &sync.Mutex{},
		logger:    l.With("component", "amqp", "queue", queueName),
		queueName: queueName,
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
	}
	go client.handleReconnect(addr)
	return &client
}

// SetMetrics sets the metrics collector for this client.
// This should be called before the client starts processing messages.
func (client *Client) SetMetrics(m *metrics.MQMetrics) {
	client.metrics = m
}

// handleReconnect will wait for a connection error on
// notifyConnClose, and then continuously attempt to reconnect.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)

		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.WithLabelValues(busLabel).Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect. Retrying...", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			break
		}
	}
}

// connect will create a new AMQP connection.
func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		client.setConnectionStatus(0)
		return nil, err
	}

	client.changeConnection(conn)
	client.logger.Info("connected")
	client.setConnectionStatus(1)

	return conn, nil
}

// handleReInit will wait for a channel error
// and then continuously attempt to re-initialize both channels.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		err := client.init(conn)
		if err != nil {
			client.logger.Error("failed to initialize channel, retrying...", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting...")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting...")
			client.setConnectionStatus(0)
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init...")
		}
	}
}

// init will initialize channel & declare the durable queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	err = ch.Confirm(false)
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(
		client.queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		return err
	}

	// At most one unacknowledged message per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	client.changeChannel(ch)
	client.setReady(true)
	client.logger.Info("client init done")

	return nil
}

// changeConnection takes a new connection to the queue,
// and updates the close listener to reflect this.
func (client *Client) changeConnection(connection *amqp.Connection) {
	client.m.Lock()
	defer client.m.Unlock()
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

// changeChannel takes a new channel to the queue,
// and updates the channel listeners to reflect this.
func (client *Client) changeChannel(channel *amqp.Channel) {
	client.m.Lock()
	defer client.m.Unlock()
	client.channel = channel
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
}

// setReady flips the ready flag and the matching broadcast channel.
func (client *Client) setReady(ready bool) {
	client.m.Lock()
	defer client.m.Unlock()

	if ready == client.isReady {
		return
	}
	client.isReady = ready
	if ready {
		close(client.ready)
	} else {
		client.ready = make(chan struct{})
	}
}

func (client *Client) setConnectionStatus(v float64) {
	if client.metrics != nil {
		client.metrics.ConnectionStatus.WithLabelValues(busLabel).Set(v)
	}
}

// WaitReady blocks until the client has a usable channel.
func (client *Client) WaitReady(ctx context.Context) error {
	client.m.Lock()
	ready := client.ready
	client.m.Unlock()

	select {
	case <-ready:
		return nil
	case <-client.done:
		return ErrShutdown
	case <-ctx.Done():
		return fmt.Errorf("waiting for rabbitmq: %w", ctx.Err())
	}
}

// IsConnected reports whether the client has a usable channel.
func (client *Client) IsConnected() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

// Publish implements Publisher with Push semantics.
func (client *Client) Publish(ctx context.Context, payload []byte) error {
	return client.Push(ctx, payload)
}

// Push will push data onto the queue, and wait for a confirmation.
// Uses exponential backoff retry when the client is not connected,
// allowing time for automatic reconnection to succeed.
// After maxRetryAttempts failed attempts, returns an error.
func (client *Client) Push(ctx context.Context, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(busLabel, client.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff

	for retryCount := 0; ; retryCount++ {
		if retryCount >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded",
				"retry_count", retryCount,
				"max_attempts", maxRetryAttempts)
			client.publishFailed("max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		if retryCount > 0 {
			select {
			case <-ctx.Done():
				client.publishFailed("context_canceled")
				return ctx.Err()
			case <-client.done:
				return ErrShutdown
			case <-time.After(backoff):
				backoff = min(backoff*backoffMultiplier, maxBackoff)
			}
		}

		err := client.pushOnce(ctx, data)
		if err == nil {
			if client.metrics != nil {
				client.metrics.MessagesPublished.WithLabelValues(busLabel, client.queueName).Inc()
			}
			client.logger.Debug("push confirmed", "retry_count", retryCount)
			return nil
		}

		if ctx.Err() != nil {
			client.publishFailed("context_canceled")
			return ctx.Err()
		}

		client.logger.Warn("push failed, retrying with backoff",
			"error", err,
			"backoff", backoff,
			"retry_count", retryCount)
	}
}

// pushOnce publishes and waits for the broker confirmation.
func (client *Client) pushOnce(ctx context.Context, data []byte) error {
	client.m.Lock()
	confirms := client.notifyConfirm
	client.m.Unlock()

	if err := client.UnsafePush(ctx, data); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.done:
		return ErrShutdown
	case confirm, ok := <-confirms:
		if !ok || !confirm.Ack {
			return errNacked
		}
		return nil
	}
}

// UnsafePush will push to the queue without checking for
// confirmation. It returns an error if it fails to connect.
func (client *Client) UnsafePush(ctx context.Context, data []byte) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	return ch.PublishWithContext(
		ctx,
		"",               // Exchange
		client.queueName, // Routing key
		false,            // Mandatory
		false,            // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         data,
		},
	)
}

// Consume will continuously put queue items on the channel.
// It is required to call delivery.Ack when it has been
// successfully processed, or delivery.Nack when it fails.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return nil, errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	return ch.Consume(
		client.queueName,
		"",    // Consumer
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
}

// Subscribe consumes the queue until ctx is cancelled or the client closes,
// resuming after reconnects. Messages are acked when handler returns nil and
// nacked with requeue otherwise.
func (client *Client) Subscribe(ctx context.Context, handler Handler) error {
	for {
		if err := client.WaitReady(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrShutdown) {
				return nil
			}
			return err
		}

		deliveries, err := client.Consume()
		if err != nil {
			client.logger.Warn("failed to start consuming, retrying", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-client.done:
				return nil
			case <-time.After(reInitDelay):
			}
			continue
		}

		client.logger.Info("consuming")
		if stop := client.drain(ctx, deliveries, handler); stop {
			return nil
		}
		client.logger.Warn("deliveries channel closed, resubscribing")
	}
}

// drain processes deliveries until the channel closes (false) or the
// subscription should end (true).
func (client *Client) drain(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-client.done:
			return true
		case delivery, ok := <-deliveries:
			if !ok {
				return false
			}
			client.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (client *Client) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	var timer *prometheus.Timer
	if client.metrics != nil {
		timer = prometheus.NewTimer(client.metrics.ConsumeDuration.WithLabelValues(busLabel, client.queueName))
		defer timer.ObserveDuration()
		client.metrics.MessagesConsumed.WithLabelValues(busLabel, client.queueName).Inc()
	}

	if err := handler(ctx, delivery.Body); err != nil {
		if client.metrics != nil {
			client.metrics.ConsumptionFailures.WithLabelValues(busLabel, client.queueName).Inc()
		}
		// Nack the message so it can be reprocessed
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			client.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		client.logger.Error("failed to ack message", "error", err)
	}
}

func (client *Client) publishFailed(reason string) {
	if client.metrics != nil {
		client.metrics.PublishFailures.WithLabelValues(busLabel, client.queueName, reason).Inc()
	}
}

// Close will cleanly shut down the channel and connection and stop
// reconnecting. It returns errAlreadyClosed if there was no live connection.
func (client *Client) Close() error {
	stopped := false
	client.closeOnce.Do(func() {
		close(client.done)
		stopped = true
	})

	client.m.Lock()
	defer client.m.Unlock()

	if !stopped || !client.isReady {
		return errAlreadyClosed
	}
	client.isReady = false
	client.ready = make(chan struct{})

	if err := client.channel.Close(); err != nil {
		return err
	}
	if err := client.connection.Close(); err != nil {
		return err
	}

	if client.metrics != nil {
		client.metrics.ConnectionStatus.WithLabelValues(busLabel).Set(0)
	}

	return nil
}
