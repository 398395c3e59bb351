package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sli-cka/vikunja-voice-assistant/shared/idempotency"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

const (
	IntentsQueue = "voice.intents"

	// Redeliveries of the same utterance within this window are acknowledged and skipped
	duplicateWindow = 10 * time.Minute
)

// IntentMessage matches the format published by the ingress service
type IntentMessage struct {
	UserID         string `json:"user_id"`
	Utterance      string `json:"utterance"`
	MessageSid     string `json:"message_sid"`
	IdempotencyKey string `json:"idempotency_key"`
	Language       string `json:"language,omitempty"`
}

// Handler is called for each message received
type Handler func(ctx context.Context, msg *IntentMessage) error

type outcome int

const (
	ack outcome = iota
	reject
)

// Consumer consumes utterances from RabbitMQ
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logging.Logger
	tracker *idempotency.Tracker
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

	_, err = ch.QueueDeclare(
		IntentsQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// One utterance at a time
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: ch,
		logger:  logger,
		tracker: idempotency.NewTracker(duplicateWindow),
	}, nil
}

// Start begins consuming messages and calls the handler for each one
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.Consume(
		IntentsQueue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (we'll manually ack after processing)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Waiting for messages on queue: %s", IntentsQueue)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer shutting down")
			return ctx.Err()

		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("channel closed")
			}

			switch c.process(ctx, delivery.Body, handler) {
			case ack:
				delivery.Ack(false)
			case reject:
				// Creating a task is not idempotent on the Vikunja side, so failures are never requeued
				delivery.Nack(false, false)
			}
		}
	}
}

// process decodes one delivery and runs the handler unless it is a duplicate
func (c *Consumer) process(ctx context.Context, body []byte, handler Handler) outcome {
	var msg IntentMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("Failed to parse message: %v", err)
		return reject
	}
	msg.Utterance = strings.TrimSpace(msg.Utterance)
	if msg.Utterance == "" {
		c.logger.Error("Empty utterance from %s (sid: %s)", msg.UserID, msg.MessageSid)
		return reject
	}

	if c.tracker.Seen(msg.IdempotencyKey) {
		c.logger.Warn("Skipping duplicate message %s", msg.IdempotencyKey)
		return ack
	}
	c.tracker.Mark(msg.IdempotencyKey)

	c.logger.Info("Received utterance from %s: %s", msg.UserID, msg.Utterance)

	if err := handler(ctx, &msg); err != nil {
		c.logger.Error("Failed to process message: %v", err)
		return reject
	}
	return ack
}

// Close cleanly shuts down the consumer
func (c *Consumer) Close() error {
	if err := c.channel.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}
