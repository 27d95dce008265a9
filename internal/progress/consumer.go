package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource starts a manual-ack consumer
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// EventRenderer presents one job event
type EventRenderer interface {
	Render(ev domain.Event) error
}

// Config holds consumer configuration
type Config struct {
	Logger      *slog.Logger
	Source      DeliverySource
	Renderer    EventRenderer
	ConsumerTag string
}

// Consumer reads job events from the broker in delivery order and renders
// them
type Consumer struct {
	logger      *slog.Logger
	source      DeliverySource
	renderer    EventRenderer
	consumerTag string
}

// NewConsumer creates a new Consumer. The tag gets a random suffix so
// several progress services can share a queue.
func NewConsumer(cfg *Config) *Consumer {
	tag := cfg.ConsumerTag
	if tag == "" {
		tag = "progress-service"
	}
	return &Consumer{
		logger:      cfg.Logger,
		source:      cfg.Source,
		renderer:    cfg.Renderer,
		consumerTag: fmt.Sprintf("%s-%s", tag, uuid.NewString()[:8]),
	}
}

// Tag returns the broker consumer tag
func (c *Consumer) Tag() string {
	return c.consumerTag
}

// Run consumes until ctx is done or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Progress consumer started",
		slog.String("consumer_tag", c.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Progress consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			c.handle(delivery)
		}
	}
}

func (c *Consumer) handle(delivery amqp.Delivery) {
	ev, err := decodeEvent(delivery.Body)
	if err != nil {
		c.logger.Error("Dropping malformed job event",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// no requeue: a malformed message never becomes valid
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if err := c.renderer.Render(ev); err != nil {
		c.logger.Error("Failed to render job event",
			slog.String("job_id", ev.JobID),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to NACK message",
				slog.String("job_id", ev.JobID),
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("Failed to ACK message",
			slog.String("job_id", ev.JobID),
			slog.String("error", ackErr.Error()),
		)
	}
}

func decodeEvent(body []byte) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("failed to parse message JSON: %w", err)
	}
	if _, err := uuid.Parse(ev.JobID); err != nil {
		return ev, fmt.Errorf("invalid job_id %q: %w", ev.JobID, err)
	}
	if ev.Type == "" {
		return ev, fmt.Errorf("event for job %s has no type", ev.JobID)
	}
	return ev, nil
}
