package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ackEvent is sent to a newly registered client, and to nobody else.
var ackEvent = Event{
	Name: "connect_response",
	Data: json.RawMessage(`{"status":"connected"}`),
}

// Hub owns the set of connected clients and the pending event queue.
// Registration, disconnects, and the flush tick are serviced by Run;
// Submit may be called concurrently from any connection's read path.
//
// Delivery is best-effort: events drained while nobody is connected are
// dropped rather than retained, and a client that cannot keep up is
// disconnected rather than stalling the batch.
type Hub struct {
	logger     *zap.Logger
	clock      clockwork.Clock
	flushEvery time.Duration

	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}
	pending []Event

	clientCount atomic.Int64
}

func NewHub(flushEvery time.Duration, clock clockwork.Clock, logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clock:      clock,
		flushEvery: flushEvery,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
	}
}

// Submit appends an event to the pending queue. It never blocks on
// delivery; the next tick fans the event out.
func (h *Hub) Submit(ev Event) {
	h.mu.Lock()
	h.pending = append(h.pending, ev)
	h.mu.Unlock()

	EventsSubmitted.Inc()
}

// PendingLen reports the current queue depth.
func (h *Hub) PendingLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// ClientCount reports the current fan-out audience size.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// Run services registration, disconnects, and the flush tick until the
// context is cancelled. Call in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.flushEvery)
	defer ticker.Stop()

	h.logger.Info("hub started", zap.Duration("flushEvery", h.flushEvery))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.clientCount.Add(1)
			ConnectedClients.Inc()

			client.enqueue(mustMarshal(ackEvent))
			h.logger.Info("client connected",
				zap.String("connID", client.connID),
				zap.String("identity", client.identity),
				zap.Int("total", h.ClientCount()),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
			}
			h.mu.Unlock()
			if ok {
				h.clientCount.Add(-1)
				ConnectedClients.Dec()
				close(client.send)
				h.logger.Info("client disconnected",
					zap.String("connID", client.connID),
					zap.Int("remaining", h.ClientCount()),
				)
			}

		case <-ticker.Chan():
			h.flush()
		}
	}
}

// flush atomically swaps the pending queue for an empty one and fans the
// drained batch out, in submission order, to every connected client.
func (h *Hub) flush() {
	h.mu.Lock()
	batch := h.pending
	h.pending = nil
	audience := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		audience = append(audience, client)
	}
	h.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if len(audience) == 0 {
		EventsDropped.WithLabelValues("no_clients").Add(float64(len(batch)))
		h.logger.Debug("no clients connected, dropping batch", zap.Int("events", len(batch)))
		return
	}

	for _, ev := range batch {
		payload, err := json.Marshal(ev)
		if err != nil {
			EventsDropped.WithLabelValues("marshal").Inc()
			h.logger.Warn("failed to marshal event", zap.String("event", ev.Name), zap.Error(err))
			continue
		}
		for _, client := range audience {
			if client.enqueue(payload) {
				EventsDelivered.Inc()
				continue
			}
			// Send buffer full: the client is too slow, cut it loose
			// without holding up the rest of the batch.
			EventsDropped.WithLabelValues("slow_client").Inc()
			go func(c *Client) { h.unregister <- c }(client)
		}
	}

	h.logger.Debug("batch flushed",
		zap.Int("events", len(batch)),
		zap.Int("clients", len(audience)),
	)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.clientCount.Store(0)
	ConnectedClients.Set(0)
}

func mustMarshal(ev Event) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	return payload
}
