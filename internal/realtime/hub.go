// Package realtime fans migration progress out to WebSocket clients, across instances via Redis.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/session-migrator/internal/migration"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60

	// AllActivities is the topic of clients watching every activity.
	AllActivities = "*"

	progressEvent = "migration_progress"
	queueSize     = 1024
)

// Bus carries events between instances.
type Bus interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, handler func(payload []byte)) (cancel func(), err error)
}

// Hub maintains topic -> set of connections. A topic is an activity id or AllActivities.
// With a Bus, events are published only and delivered by the subscription, so every
// instance (this one included) broadcasts each event once.
type Hub struct {
	topics map[string]map[string]*Client
	mu     sync.RWMutex
	events chan migration.Event
	bus    Bus
	logger *zap.Logger
}

// NewHub creates a hub. bus may be nil for a single instance.
func NewHub(logger *zap.Logger, bus Bus) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[string]*Client),
		events: make(chan migration.Event, queueSize),
		bus:    bus,
		logger: logger,
	}
}

// Notify queues a progress event. It never blocks: events are dropped when the queue is full.
func (h *Hub) Notify(e migration.Event) {
	select {
	case h.events <- e:
	default:
		h.logger.Debug("progress event dropped", zap.String("activity_id", e.ActivityID))
	}
}

// Run delivers queued events until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		cancel, err := h.bus.Subscribe(ctx, h.deliver)
		if err != nil {
			return err
		}
		defer cancel()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-h.events:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if h.bus == nil {
				h.deliver(data)
				continue
			}
			if err := h.bus.Publish(ctx, data); err != nil {
				h.logger.Warn("publish progress failed, delivering locally", zap.Error(err))
				h.deliver(data)
			}
		}
	}
}

// deliver sends an encoded event to the activity's watchers and to AllActivities watchers.
func (h *Hub) deliver(data []byte) {
	var e struct {
		ActivityID string `json:"activity_id"`
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return
	}
	msg := WSMessage{Event: progressEvent, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, topic := range []string{e.ActivityID, AllActivities} {
		for _, c := range h.topics[topic] {
			select {
			case c.send <- msg:
			default:
				// buffer full, skip
			}
		}
	}
}

// Register adds a client to its topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.topics[c.Topic] == nil {
		h.topics[c.Topic] = make(map[string]*Client)
	}
	h.topics[c.Topic][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client watching", zap.String("client_id", c.ID), zap.String("topic", c.Topic))
}

// Unregister removes a client from its topic and closes its send channel. Repeated calls are no-ops.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.topics[c.Topic]; ok {
		if _, ok := m[c.ID]; ok {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.topics, c.Topic)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left", zap.String("client_id", c.ID), zap.String("topic", c.Topic))
}

// Watchers returns the number of clients on topic.
func (h *Hub) Watchers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
