package publisher

import (
	"context"
)

// EventPublisher forwards encoded domain events to external consumers. The
// routing key is the event kind, e.g. alert.raised.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}
