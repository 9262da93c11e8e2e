package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/observability/metrics"
)

// Sink receives panel events. Emit must not block on slow consumers.
type Sink interface {
	Emit(ev models.Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(models.Event)

func (f SinkFunc) Emit(ev models.Event) { f(ev) }

// Hub fans panel events out to WebSocket subscribers. A subscriber bound to
// a panel only receives, and only buffers, that panel's events.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]*subscriber
	next    int
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

type subscriber struct {
	ch    chan models.Event
	panel string
}

// NewHub creates a hub whose subscribers each buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients: make(map[int]*subscriber),
		buffer:  buffer,
		metrics: metrics.DefaultMetrics,
	}
}

// Subscribe registers a subscriber for every panel's events. The returned
// cancel func unregisters it and closes the channel; it is safe to call more
// than once.
func (h *Hub) Subscribe() (<-chan models.Event, func()) {
	return h.subscribe("")
}

// SubscribePanel is Subscribe restricted to events of panelID.
func (h *Hub) SubscribePanel(panelID string) (<-chan models.Event, func()) {
	return h.subscribe(panelID)
}

func (h *Hub) subscribe(panelID string) (<-chan models.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.clients[id] = &subscriber{ch: ch, panel: panelID}
	log.Debug().Int("subscriber", id).Str("panelId", panelID).Int("total", len(h.clients)).Msg("Hub subscriber added")

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.clients[id]; ok {
				delete(h.clients, id)
				close(sub.ch)
			}
		})
	}
}

// Emit delivers ev to every interested subscriber, dropping it for
// subscribers whose buffer is full.
func (h *Hub) Emit(ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.clients {
		if sub.panel != "" && sub.panel != ev.PanelID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.metrics.RecordEventDropped("hub", "slow_subscriber")
			log.Warn().Int("subscriber", id).Str("eventType", string(ev.Type)).Msg("Hub subscriber slow, dropping event")
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.clients {
		delete(h.clients, id)
		close(sub.ch)
	}
}
