// Package mq provides a RabbitMQ client with automatic reconnection and
// publisher confirms, used to carry telemetry envelopes between the simulator
// and the backend.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/switchwatch/pkg/metrics"
)

// Client is a RabbitMQ client that handles connection management,
// automatic reconnection, and provides methods for publishing and consuming messages.
type Client struct {
	m               *sync.Mutex
	infolog         *slog.Logger
	errlog          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan bool
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	opts            Options
	isReady         bool
	metrics         *metrics.MQMetrics // Optional metrics
}

// Options tunes queue declaration, consumption and published messages.
type Options struct {
	// Durable declares a queue that survives broker restarts.
	Durable bool
	// Prefetch bounds unacknowledged deliveries per consumer.
	Prefetch int
	// ContentType is set on every published message.
	ContentType string
}

// DefaultOptions returns the options used by New.
func DefaultOptions() Options {
	return Options{
		Durable:     true,
		Prefetch:    16,
		ContentType: "application/x-protobuf",
	}
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
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// New creates a client with the default options and starts connecting to the
// server in the background.
func New(queueName, addr string, l *slog.Logger) *Client {
	return NewWithOptions(queueName, addr, l, DefaultOptions())
}

// NewWithOptions creates a client with explicit options and starts connecting
// to the server in the background.
func NewWithOptions(queueName, addr string, l *slog.Logger, opts Options) *Client {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	l = l.With("queue", queueName)
	client := Client{
		m:         &sync.Mutex{},
		infolog:   l,
		errlog:    l,
		queueName: queueName,
		opts:      opts,
		done:      make(chan bool),
	}
	go client.handleReconnect(addr)
	return &client
}

// QueueName returns the queue this client publishes to and consumes from.
func (client *Client) QueueName() string {
	return client.queueName
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
		client.m.Lock()
		client.isReady = false
		client.m.Unlock()

		client.infolog.Info("attempting to connect")

		// Track reconnection attempt
		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.errlog.Error("failed to connect. Retrying...", "error", err)

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
		// Update connection status metric
		if client.metrics != nil {
			client.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	client.changeConnection(conn)
	client.infolog.Info("connected")

	// Update connection status metric
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(1)
	}

	return conn, nil
}

// handleReInit will wait for a channel error
// and then continuously attempt to re-initialize both channels.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.m.Lock()
		client.isReady = false
		client.m.Unlock()

		err := client.init(conn)
		if err != nil {
			client.errlog.Error("failed to initialize channel, retrying...", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.infolog.Info("connection closed, reconnecting...")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.infolog.Info("connection closed, reconnecting...")
			return false
		case <-client.notifyChanClose:
			client.infolog.Info("channel closed, re-running init...")
		}
	}
}

// init will initialize channel & declare queue.
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
		client.opts.Durable,
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		return err
	}

	client.changeChannel(ch)
	client.m.Lock()
	client.isReady = true
	client.m.Unlock()
	client.infolog.Info("client init done")

	return nil
}

// changeConnection takes a new connection to the queue,
// and updates the close listener to reflect this.
func (client *Client) changeConnection(connection *amqp.Connection) {
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

// changeChannel takes a new channel to the queue,
// and updates the channel listeners to reflect this.
func (client *Client) changeChannel(channel *amqp.Channel) {
	client.channel = channel
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
}

// Push publishes data and waits for the broker to confirm it. While the
// client is disconnected, or when a publish fails or is nacked, it retries
// with exponential backoff and gives up after maxRetryAttempts.
func (client *Client) Push(ctx context.Context, data []byte) error {
	var timer *prometheus.Timer
	if client.metrics != nil {
		timer = prometheus.NewTimer(client.metrics.PushDuration.WithLabelValues(client.queueName))
		defer timer.ObserveDuration()
	}

	r := retrier{backoff: initialBackoff}
	for {
		if r.attempts >= maxRetryAttempts {
			client.errlog.Error("maximum retry attempts exceeded", "max_attempts", maxRetryAttempts)
			client.pushFailed("max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		client.m.Lock()
		isReady := client.isReady
		client.m.Unlock()

		if !isReady {
			client.infolog.Debug("not connected, waiting for reconnection",
				"backoff", r.backoff,
				"retry_count", r.attempts)
			if err := client.wait(ctx, &r); err != nil {
				return err
			}
			continue
		}

		if err := client.UnsafePush(ctx, data); err != nil {
			client.errlog.Warn("push failed, retrying with backoff",
				"error", err,
				"backoff", r.backoff,
				"retry_count", r.attempts)
			if err := client.wait(ctx, &r); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			client.pushFailed("context_canceled")
			return ctx.Err()
		case confirm := <-client.notifyConfirm:
			if confirm.Ack {
				if client.metrics != nil {
					client.metrics.MessagesPushed.WithLabelValues(client.queueName).Inc()
				}
				client.infolog.Debug("push confirmed",
					"delivery_tag", confirm.DeliveryTag,
					"retry_count", r.attempts)
				return nil
			}
			client.errlog.Warn("push not acknowledged, retrying",
				"delivery_tag", confirm.DeliveryTag,
				"backoff", r.backoff)
			client.pushFailed("nack")
			if err := client.wait(ctx, &r); err != nil {
				return err
			}
		}
	}
}

// retrier tracks the exponential backoff of one Push.
type retrier struct {
	backoff  time.Duration
	attempts int
}

// wait sleeps for the current backoff and grows it, returning early when ctx
// is done or the client shuts down.
func (client *Client) wait(ctx context.Context, r *retrier) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.done:
		return errShutdown
	case <-time.After(r.backoff):
	}
	r.backoff *= backoffMultiplier
	if r.backoff > maxBackoff {
		r.backoff = maxBackoff
	}
	r.attempts++
	return nil
}

func (client *Client) pushFailed(reason string) {
	if client.metrics != nil {
		client.metrics.PushFailures.WithLabelValues(client.queueName, reason).Inc()
	}
}

// UnsafePush will push to the queue without checking for
// confirmation. It returns an error if it fails to connect.
// No guarantees are provided for whether the server will
// receive the message. The context is used for cancellation and timeout.
func (client *Client) UnsafePush(ctx context.Context, data []byte) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	client.m.Unlock()

	return client.channel.PublishWithContext(
		ctx,
		"",               // Exchange
		client.queueName, // Routing key
		false,            // Mandatory
		false,            // Immediate
		amqp.Publishing{
			ContentType:  client.opts.ContentType,
			DeliveryMode: client.deliveryMode(),
			Timestamp:    time.Now().UTC(),
			Body:         data,
		},
	)
}

func (client *Client) deliveryMode() uint8 {
	if client.opts.Durable {
		return amqp.Persistent
	}
	return amqp.Transient
}

// Consume will continuously put queue items on the channel.
// It is required to call delivery.Ack when it has been
// successfully processed, or delivery.Nack when it fails.
// Ignoring this will cause data to build up on the server.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return nil, errNotConnected
	}
	client.m.Unlock()

	if err := client.channel.Qos(
		client.opts.Prefetch,
		0,     // prefetchSize
		false, // global
	); err != nil {
		client.consumeSession("qos_error")
		return nil, err
	}

	deliveries, err := client.channel.Consume(
		client.queueName,
		"",    // Consumer
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
	if err != nil {
		client.consumeSession("error")
		return nil, err
	}
	client.consumeSession("started")
	return deliveries, nil
}

func (client *Client) consumeSession(status string) {
	if client.metrics != nil {
		client.metrics.ConsumeSessions.WithLabelValues(client.queueName, status).Inc()
	}
}

// Close will cleanly shut down the channel and connection.
func (client *Client) Close() error {
	client.m.Lock()
	// we read and write isReady in two locations, so we grab the lock and hold onto
	// it until we are finished
	defer client.m.Unlock()

	if !client.isReady {
		return errAlreadyClosed
	}
	close(client.done)
	err := client.channel.Close()
	if err != nil {
		return err
	}
	err = client.connection.Close()
	if err != nil {
		return err
	}

	client.isReady = false

	// Update connection status metric
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}

	return nil
}
