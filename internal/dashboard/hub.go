package dashboard

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"mcpindex/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

// Message types pushed to clients.
const (
	TypeHello          = "hello"
	TypeMetrics        = "metrics"
	TypeCatalogChanged = "catalog_changed"
	TypeToolCall       = "tool_call"
	TypePong           = "pong"
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	session string

	sent     atomic.Int64
	received atomic.Int64
}

// hub fans messages out to connected clients. A client whose queue is full
// is dropped rather than slowing everyone else down.
type hub struct {
	logger  *logging.AppLogger
	onCount func(int)

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func newHub(logger *logging.AppLogger, onCount func(int)) *hub {
	return &hub{
		logger:  logger,
		onCount: onCount,
		clients: map[*client]struct{}{},
	}
}

func (h *hub) add(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.onCount(n)
	return true
}

// remove unregisters c and closes its queue, which makes the write pump
// send a close frame and exit.
func (h *hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.onCount(n)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func encode(typ string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: typ, Timestamp: time.Now().UTC(), Data: data})
}

// broadcast queues a message for every client.
func (h *hub) broadcast(typ string, data any) {
	payload, err := encode(typ, data)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", "type", typ, "error", err)
		return
	}

	var slow []*client
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow websocket client", "session", c.session)
		h.remove(c)
	}
}

// sendTo queues a message for one client.
func (h *hub) sendTo(c *client, typ string, data any) {
	payload, err := encode(typ, data)
	if err != nil {
		h.logger.Error("Failed to encode message", "type", typ, "error", err)
		return
	}
	h.mu.Lock()
	_, ok := h.clients[c]
	full := false
	if ok {
		select {
		case c.send <- payload:
		default:
			full = true
		}
	}
	h.mu.Unlock()
	if full {
		h.remove(c)
	}
}

// closeAll disconnects every client and refuses new ones.
func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (c *client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			c.sent.Add(1)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type inbound struct {
	Type string `json:"type"`
}

// readPump handles client frames until the connection fails or closes.
func (h *hub) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Websocket read failed", "session", c.session, "error", err)
			}
			return
		}
		c.received.Add(1)

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		// everything else, subscribe included, is ignored
		if msg.Type == "ping" {
			h.sendTo(c, TypePong, nil)
		}
	}
}
