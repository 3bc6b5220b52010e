package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/metrics"
	"procodus.dev/switchwatch/pkg/mq"
	"procodus.dev/switchwatch/pkg/telemetry"
)

const defaultConsumeRetry = 500 * time.Millisecond

// Consumer reads telemetry envelopes published by remote simulators and
// appends them to the store.
type Consumer struct {
	logger        *slog.Logger
	store         store.Store
	client        mq.ClientInterface
	metrics       *metrics.BackendMetrics
	queue         string
	retryInterval time.Duration

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger  *slog.Logger
	Store   store.Store
	Client  mq.ClientInterface
	Metrics *metrics.BackendMetrics // Optional metrics
	// QueueName labels logs and metrics.
	QueueName string
	// RetryInterval is the delay between Consume attempts while the client
	// is still connecting.
	RetryInterval time.Duration
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultConsumeRetry
	}

	return &Consumer{
		logger:        cfg.Logger.With("component", "consumer", "queue", cfg.QueueName),
		store:         cfg.Store,
		client:        cfg.Client,
		metrics:       cfg.Metrics,
		queue:         cfg.QueueName,
		retryInterval: retry,
		done:          make(chan struct{}),
	}, nil
}

// Start waits until the client can consume, then processes deliveries in a
// goroutine until ctx is done or the delivery channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	deliveries, err := c.consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveConsumers.Inc()
	}

	c.logger.Info("consumer started, waiting for telemetry")

	go c.processMessages(ctx, deliveries)

	return nil
}

// consume polls Consume until the client is connected.
func (c *Consumer) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	for {
		deliveries, err := c.client.Consume()
		if err == nil {
			return deliveries, nil
		}
		c.logger.Debug("consumer not ready, retrying", "error", err, "retry_in", c.retryInterval)

		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), err)
		case <-time.After(c.retryInterval):
		}
	}
}

// processMessages processes incoming messages from the deliveries channel.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer func() {
		if c.metrics != nil {
			c.metrics.ActiveConsumers.Dec()
		}
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery decodes one envelope and stores its row. Undecodable
// messages are acked and dropped; storage failures are requeued.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.ProcessingDuration.WithLabelValues(c.queue))
		defer timer.ObserveDuration()
	}

	row, err := telemetry.Decode(delivery.Body)
	if err != nil {
		c.logger.Error("failed to decode telemetry", "error", err, "delivery_tag", delivery.DeliveryTag)
		c.count("dropped", "decode")
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	if err := c.save(ctx, row); err != nil {
		kind, _ := telemetry.KindOf(row)
		c.logger.Error("failed to store telemetry",
			"kind", kind,
			"error", err,
		)
		c.count("error", "store")
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		c.count("error", "ack")
		return
	}

	c.count("success", "")
}

func (c *Consumer) save(ctx context.Context, row any) error {
	switch r := row.(type) {
	case *store.PhaseCurrentSample:
		return c.store.AppendPhaseCurrent(ctx, r)
	case *store.ControllerSample:
		return c.store.AppendControllerSample(ctx, r)
	case *store.TransitionEvent:
		return c.store.AppendTransition(ctx, r)
	case *store.Alert:
		return c.store.AppendAlert(ctx, r)
	case *store.MaintenanceRecord:
		return c.store.AppendMaintenanceRecord(ctx, r)
	default:
		return fmt.Errorf("%w: %T", telemetry.ErrUnknownKind, row)
	}
}

func (c *Consumer) count(status, errorType string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ConsumerMessagesTotal.WithLabelValues(c.queue, status).Inc()
	if errorType != "" {
		c.metrics.ConsumerErrors.WithLabelValues(c.queue, errorType).Inc()
	}
}

// Done is closed once message processing has stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Stop closes the MQ client and waits for message processing to finish.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}

	c.logger.Info("consumer stopped")
	return nil
}
