package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer.
	maxMessageSize = 512

	sendChannelSize = 256
)

// streamMessage is the envelope pushed to websocket subscribers.
type streamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// client represents a single websocket subscriber connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of connected alert-stream clients and fans alerts
// out to them. Slow clients are disconnected rather than allowed to stall
// the broadcast loop.
type Hub struct {
	clients map[*client]bool

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu     sync.RWMutex
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// upgrader configures websocket connection upgrades. Origin checking is
// left to corsMiddleware, which runs before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates an alert-stream hub. The hub must be started with Start()
// before clients connect; it derives a cancellable context from the parent
// so Stop() works even when the parent never cancels.
func NewHub(ctx context.Context, logger *zap.SugaredLogger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub's event loop. Must be called exactly once per Hub,
// typically in its own goroutine.
func (h *Hub) Start() {
	defer close(h.done)

	h.logger.Info("Alert stream hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(0)
			h.logger.Info("Alert stream hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Inc()
			h.logger.Debugw("Alert stream client connected", "total_clients", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				total := len(h.clients)
				h.mu.Unlock()
				metrics.WebsocketClients.Dec()
				h.logger.Debugw("Alert stream client disconnected", "total_clients", total)
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Client's send buffer is full; drop it so one slow
					// reader cannot stall the broadcast for the rest.
					go func(slow *client) {
						h.unregister <- slow
						slow.conn.Close()
					}(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastAlert pushes a freshly stored or updated alert to every
// connected client. Implements service.AlertBroadcaster. Marshal failures
// and broadcast congestion are logged but never propagate to the caller;
// the alert stream is best-effort on top of durable storage.
func (h *Hub) BroadcastAlert(alert *core.Alert) {
	msg := streamMessage{
		Type:      "alert",
		Data:      alert,
		Timestamp: time.Now().UTC(),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("Failed to marshal alert for streaming",
			"alert_id", alert.ID,
			"error", err)
		return
	}

	select {
	case h.broadcast <- jsonData:
	case <-time.After(1 * time.Second):
		h.logger.Warnw("Alert stream broadcast timeout",
			"alert_id", alert.ID)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and waits for the event loop to finish closing
// client connections.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// readPump drains the connection to detect disconnects. Subscribers are
// not expected to send anything beyond pongs.
func (c *client) readPump() {
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
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("Alert stream unexpected close", "error", err)
			}
			break
		}
	}
}

// writePump forwards queued messages to the connection and keeps the
// ping/pong heartbeat alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce any queued messages into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// handleAlertStream upgrades the request and hands the connection to the hub.
func (a *API) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		a.respondError(w, r, http.StatusServiceUnavailable, codeInternal, "alert streaming is not enabled", nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Errorw("Websocket upgrade failed",
			"error", err,
			"request_id", RequestIDFromContext(r.Context()))
		return
	}

	c := &client{
		hub:  a.hub,
		conn: conn,
		send: make(chan []byte, sendChannelSize),
	}
	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}
