package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/internal/metrics"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/queue"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/repository/publisher"
)

type relayItem struct {
	key  string
	body []byte
}

// EventRelay forwards alert and zone events to the message broker from its
// own goroutine so broker latency never reaches the evaluation path.
type EventRelay struct {
	pub     publisher.EventPublisher
	ring    *queue.Ring[relayItem]
	timeout time.Duration
	logger  *slog.Logger
}

func NewEventRelay(pub publisher.EventPublisher, capacity int, timeout time.Duration, logger *slog.Logger) *EventRelay {
	return &EventRelay{
		pub:     pub,
		ring:    queue.NewRing[relayItem](capacity),
		timeout: timeout,
		logger:  logger.With("component", "event_relay"),
	}
}

// Enqueue marshals v and queues it under the given routing key. A nil relay
// or one without a publisher discards events.
func (r *EventRelay) Enqueue(key string, v any) {
	if r == nil || r.pub == nil {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("marshal event", "key", key, "error", err)
		return
	}
	if r.ring.Push(relayItem{key: key, body: body}) {
		metrics.RelayFailed.Inc()
	}
}

// Run publishes queued events until ctx is cancelled. Events still queued
// at that point are left for Flush.
func (r *EventRelay) Run(ctx context.Context) {
	if r == nil || r.pub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ring.Ready():
			r.flush(ctx)
		}
	}
}

// Flush publishes whatever is queued, giving up when ctx expires. Events not
// attempted by then are discarded and counted as relay failures.
func (r *EventRelay) Flush(ctx context.Context) error {
	if r == nil || r.pub == nil {
		return nil
	}
	err := r.flush(ctx)
	if err != nil {
		if left := len(r.ring.PopN(0)); left > 0 {
			metrics.RelayFailed.Add(float64(left))
			r.logger.Error("relay flush abandoned", "pending", left, "error", err)
		}
	}
	return err
}

// flush publishes one event at a time so that cancellation leaves the rest
// queued.
func (r *EventRelay) flush(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, ok := r.ring.Pop()
		if !ok {
			return nil
		}
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.pub.Publish(pctx, item.key, item.body)
		cancel()
		if err != nil {
			metrics.RelayFailed.Inc()
			r.logger.Warn("relay publish failed", "key", item.key, "error", err)
		}
	}
}
