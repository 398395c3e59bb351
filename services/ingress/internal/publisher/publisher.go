package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// IntentsQueue is consumed by the assistant service
const IntentsQueue = "voice.intents"

// IntentMessage carries one utterance to the assistant
type IntentMessage struct {
	UserID         string `json:"user_id"`
	Utterance      string `json:"utterance"`
	MessageSid     string `json:"message_sid"`
	IdempotencyKey string `json:"idempotency_key"`
	Language       string `json:"language,omitempty"`
}

// Publisher handles RabbitMQ message publishing
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New creates a new RabbitMQ publisher
func New(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := &Publisher{
		conn:    conn,
		channel: ch,
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
		p.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", IntentsQueue, err)
	}

	return p, nil
}

// PublishIntent queues an utterance for the assistant
func (p *Publisher) PublishIntent(ctx context.Context, msg *IntentMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		"",           // exchange (default)
		IntentsQueue, // routing key (queue name)
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.IdempotencyKey,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", IntentsQueue, err)
	}

	return nil
}

// Close gracefully shuts down the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
