package config

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const rabbitHeartbeat = 10 * time.Second

// NewRabbitMQ dials the broker with a named connection so the management UI
// can tell service instances apart.
func NewRabbitMQ(cfg *Config) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("hazard-watch")
	conn, err := amqp.DialConfig(cfg.RabbitMQURL, amqp.Config{
		Heartbeat:  rabbitHeartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}
