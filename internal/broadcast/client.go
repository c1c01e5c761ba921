package broadcast

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected fan-out subscriber.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	connID      string
	identity    string // opaque, from X-User-ID or user_id; "anonymous" if absent
	connectedAt time.Time
	logger      *zap.Logger
}

// enqueue hands a payload to the client's write pump without blocking.
// Returns false when the buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// HandleClientWS upgrades a fan-out subscriber connection and registers it
// with the hub.
func (h *Hub) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get("X-User-ID")
	if identity == "" {
		identity = r.URL.Query().Get("user_id")
	}
	if identity == "" {
		identity = "anonymous"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		connID:      uuid.New().String(),
		identity:    identity,
		connectedAt: time.Now(),
		logger:      h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// HandleSubmitWS serves the bridge's persistent submission stream. Each
// received message is appended to the pending queue; the stream carries no
// acknowledgments.
func (h *Hub) HandleSubmitWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("submit upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("event producer connected", zap.String("remote", r.RemoteAddr))

	conn.SetReadLimit(maxMessageSize)
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("submit stream error", zap.Error(err))
			} else {
				h.logger.Info("event producer disconnected")
			}
			return
		}
		if ev.Name == "" {
			h.logger.Warn("discarding event without a name")
			continue
		}
		h.Submit(ev)
	}
}

// readPump drains the subscriber connection until it closes. Subscribers
// only listen; inbound payloads are discarded, but the read loop keeps
// pong handling alive and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// writePump writes queued payloads to the connection and pings on a timer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
