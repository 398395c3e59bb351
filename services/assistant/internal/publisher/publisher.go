package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RepliesQueue = "voice.replies"
	EventsQueue  = "assistant.events"

	EventReauthRequired = "reauth_required"

	publishTimeout = 5 * time.Second
)

// Reply is the spoken answer to one utterance
type Reply struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Success bool   `json:"success"`
	Title   string `json:"title"`
}

// Event tells the host something needs its attention
type Event struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher handles RabbitMQ message publishing
type Publisher struct {
	conn    *amqp.Connection
	channel channel
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
			p.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}

	return p, nil
}

// PublishReply publishes the reply for one utterance
func (p *Publisher) PublishReply(ctx context.Context, reply Reply) error {
	if err := p.publish(ctx, RepliesQueue, reply); err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}
	return nil
}

// RequestReauth asks the host to refresh the Vikunja credentials
func (p *Publisher) RequestReauth(ctx context.Context, reason string) error {
	if err := p.publish(ctx, EventsQueue, Event{Type: EventReauthRequired, Reason: reason}); err != nil {
		return fmt.Errorf("failed to publish reauth event: %w", err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.channel.PublishWithContext(
		ctx,
		"",    // exchange (default)
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
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
