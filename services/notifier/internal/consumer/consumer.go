package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

const (
	RepliesQueue = "voice.replies"
	EventsQueue  = "assistant.events"
)

// Reply matches the format published by the assistant service
type Reply struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Success bool   `json:"success"`
	Title   string `json:"title"`
}

// Event is an operational notice from the assistant, such as "reauth_required"
type Event struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Handlers are called for each message received
type Handlers struct {
	Reply func(ctx context.Context, msg *Reply) error
	Event func(ctx context.Context, msg *Event) error
}

// Consumer consumes replies and events from RabbitMQ
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logging.Logger
}

// New creates a new RabbitMQ consumer
func New(rabbitMQURL string, logger *logging.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(rabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare the queues (idempotent)
	for _, q := range []string{RepliesQueue, EventsQueue} {
		_, err = ch.QueueDeclare(
			q,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}

	// Set prefetch count
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: ch,
		logger:  logger,
	}, nil
}

// Start consumes both queues until ctx is cancelled
func (c *Consumer) Start(ctx context.Context, handlers Handlers) error {
	replies, err := c.consume(RepliesQueue)
	if err != nil {
		return err
	}
	events, err := c.consume(EventsQueue)
	if err != nil {
		return err
	}

	c.logger.Info("Waiting for messages on queues: %s, %s", RepliesQueue, EventsQueue)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer shutting down")
			return ctx.Err()

		case delivery, ok := <-replies:
			if !ok {
				return fmt.Errorf("channel closed")
			}
			settle(delivery, c.handleReply(ctx, delivery.Body, handlers.Reply))

		case delivery, ok := <-events:
			if !ok {
				return fmt.Errorf("channel closed")
			}
			settle(delivery, c.handleEvent(ctx, delivery.Body, handlers.Event))
		}
	}
}

type outcome int

const (
	ack outcome = iota
	requeue
	drop
)

func settle(d amqp.Delivery, o outcome) {
	switch o {
	case ack:
		d.Ack(false)
	case requeue:
		d.Nack(false, true)
	case drop:
		d.Nack(false, false)
	}
}

func (c *Consumer) handleReply(ctx context.Context, body []byte, handle func(context.Context, *Reply) error) outcome {
	var msg Reply
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("Failed to parse reply: %v", err)
		return drop
	}
	if msg.UserID == "" || msg.Message == "" {
		c.logger.Error("Reply without recipient or text: %s", string(body))
		return drop
	}

	c.logger.Info("Sending reply to %s (success=%t)", msg.UserID, msg.Success)

	if err := handle(ctx, &msg); err != nil {
		c.logger.Error("Failed to send reply: %v", err)
		// Requeue for retry
		return requeue
	}
	return ack
}

func (c *Consumer) handleEvent(ctx context.Context, body []byte, handle func(context.Context, *Event) error) outcome {
	var msg Event
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("Failed to parse event: %v", err)
		return drop
	}

	if err := handle(ctx, &msg); err != nil {
		c.logger.Error("Failed to handle %s event: %v", msg.Type, err)
		return drop
	}
	return ack
}

func (c *Consumer) consume(queue string) (<-chan amqp.Delivery, error) {
	msgs, err := c.channel.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", queue, err)
	}
	return msgs, nil
}

// Close cleanly shuts down the consumer
func (c *Consumer) Close() error {
	if err := c.channel.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}
