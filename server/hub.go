package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 32
)

// Hub fans server notifications out to every connected WebSocket client.
// It is the progress tracker's broadcast sink.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub constructs a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams notifications
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("notification client connected", "clients", count)

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *Hub) writeLoop(c *wsClient) {
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; the channel is server-to-client only.
// It exists to observe the close handshake.
func (h *Hub) readLoop(c *wsClient) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		h.logger.Debug("notification client disconnected")
	}
}

// Broadcast implements progress.NotificationSink. Slow clients are dropped
// rather than blocking the caller.
func (h *Hub) Broadcast(n *protocol.Notification) {
	payload, err := marshalNotification(n)
	if err != nil {
		h.logger.Error("failed to marshal broadcast notification", "error", err)
		return
	}

	h.mu.Lock()
	var stale []*wsClient
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		h.logger.Warn("dropping slow notification client")
		h.drop(c)
	}
}

func marshalNotification(n *protocol.Notification) ([]byte, error) {
	return json.Marshal(n)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.drop(c)
	}
}
