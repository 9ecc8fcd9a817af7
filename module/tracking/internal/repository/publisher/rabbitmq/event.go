package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/publisher"
)

var _ publisher.EventPublisher = (*EventPublisher)(nil)

const (
	ExchangeName = "fleet.events"
	AlertQueue   = "accident_alerts"
	ZoneQueue    = "zone_changes"
)

// Bindings route alert.* and zone.* events to their durable queues.
var Bindings = map[string]string{
	AlertQueue: "alert.*",
	ZoneQueue:  "zone.*",
}

// EventPublisher publishes domain events to a topic exchange, using the event
// kind as routing key.
type EventPublisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewEventPublisher(conn *amqp.Connection) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := Declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &EventPublisher{ch: ch}, nil
}

// Declare sets up the exchange and its queues. It is idempotent.
func Declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	for queue, key := range Bindings {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, key, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

// Publish is safe for concurrent use; amqp channels are not.
func (p *EventPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.PublishWithContext(ctx, ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	return p.ch.Close()
}
