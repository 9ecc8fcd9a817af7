// Package hub fans frames out to connections subscribed by topic. Delivery
// is best effort: each connection has a bounded outbox that drops its
// oldest frame when full.
package hub

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/metrics"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/queue"
)

const DefaultShards = 32

// Client is one connection's end of the hub.
type Client struct {
	ID     string
	outbox *queue.Ring[[]byte]

	mu     sync.Mutex
	topics map[domain.Topic]*Subscription
}

func NewClient(id string, queueCap int) *Client {
	return &Client{
		ID:     id,
		outbox: queue.NewRing[[]byte](queueCap),
		topics: make(map[domain.Topic]*Subscription),
	}
}

// Outbox is drained by the connection's writer.
func (c *Client) Outbox() *queue.Ring[[]byte] {
	return c.outbox
}

// Send queues a direct reply outside any subscription.
func (c *Client) Send(f domain.Frame) error {
	b, err := f.Encode()
	if err != nil {
		return err
	}
	c.outbox.Push(b)
	return nil
}

func (c *Client) Topics() []domain.Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Topic, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (c *Client) Subscription(t domain.Topic) (*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.topics[t]
	return s, ok
}

type Subscription struct {
	ConnID       string
	Topic        domain.Topic
	CompanyScope string
	CreatedAt    time.Time

	client  *Client
	dropped atomic.Uint64
}

// Dropped counts frames evicted from the outbox while delivering on this
// subscription.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

type shard struct {
	mu     sync.RWMutex
	topics map[domain.Topic]map[string]*Subscription
}

type Hub struct {
	shards []*shard
	now    func() time.Time
	logger *slog.Logger
}

func New(shards int, logger *slog.Logger) *Hub {
	if shards < 1 {
		shards = DefaultShards
	}
	h := &Hub{
		shards: make([]*shard, shards),
		now:    time.Now,
		logger: logger.With("component", "hub"),
	}
	for i := range h.shards {
		h.shards[i] = &shard{topics: make(map[domain.Topic]map[string]*Subscription)}
	}
	return h
}

func (h *Hub) shardFor(t domain.Topic) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(t.String()))
	return h.shards[f.Sum32()%uint32(len(h.shards))]
}

// Subscribe binds the client to topic. Subscribing twice returns the
// existing subscription and false.
func (h *Hub) Subscribe(c *Client, t domain.Topic, companyScope string) (*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.topics[t]; ok {
		return s, false
	}
	s := &Subscription{
		ConnID:       c.ID,
		Topic:        t,
		CompanyScope: companyScope,
		CreatedAt:    h.now(),
		client:       c,
	}
	sh := h.shardFor(t)
	sh.mu.Lock()
	subs, ok := sh.topics[t]
	if !ok {
		subs = make(map[string]*Subscription)
		sh.topics[t] = subs
	}
	subs[c.ID] = s
	sh.mu.Unlock()
	c.topics[t] = s
	return s, true
}

func (h *Hub) Unsubscribe(c *Client, t domain.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[t]; !ok {
		return false
	}
	delete(c.topics, t)
	h.detach(c.ID, t)
	return true
}

// UnsubscribeAll removes every subscription the client holds.
func (h *Hub) UnsubscribeAll(c *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.topics {
		h.detach(c.ID, t)
		delete(c.topics, t)
	}
}

func (h *Hub) detach(connID string, t domain.Topic) {
	sh := h.shardFor(t)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if subs, ok := sh.topics[t]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(sh.topics, t)
		}
	}
}

// Publish enqueues f on every subscriber of the given topics. A connection
// subscribed to several of them receives the frame once. It returns the
// number of connections reached.
func (h *Hub) Publish(f domain.Frame, topics ...domain.Topic) int {
	b, err := f.Encode()
	if err != nil {
		h.logger.Error("encode frame", "type", f.Type, "error", err)
		return 0
	}
	delivered := make(map[string]struct{})
	for _, t := range topics {
		sh := h.shardFor(t)
		sh.mu.RLock()
		for connID, s := range sh.topics[t] {
			if _, ok := delivered[connID]; ok {
				continue
			}
			delivered[connID] = struct{}{}
			if s.client.outbox.Push(b) {
				s.dropped.Add(1)
				metrics.HubDropped.Inc()
			}
			metrics.HubDelivered.Inc()
		}
		sh.mu.RUnlock()
	}
	return len(delivered)
}

func (h *Hub) Subscribers(t domain.Topic) int {
	sh := h.shardFor(t)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.topics[t])
}
