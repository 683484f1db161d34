package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	wshandler "github.com/windfall/francoflex_service/internal/handler/ws"
	"github.com/windfall/francoflex_service/internal/middleware"
)

const (
	writeWait           = 10 * time.Second
	defaultMessageLimit = 16 << 20
	sendBuffer          = 256
)

// WebSocketMessage represents a WebSocket message.
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client represents a WebSocket client.
type Client struct {
	id     string
	userID string
	hub    *WebSocketHub
	conn   *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// ID returns the connection ID.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user of the connection.
func (c *Client) UserID() string { return c.userID }

// Emit queues msg for the write pump. It never blocks: a full buffer
// drops the message.
func (c *Client) Emit(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.hub.log.Warn().Str("client_id", c.id).Msg("WebSocket send buffer full")
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WebSocketHub manages WebSocket connections.
type WebSocketHub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	readLimit  int64
	log        zerolog.Logger
}

// NewWebSocketHub creates a new WebSocket hub. allowedOrigins follows the
// CORS configuration; "*" accepts any origin.
func NewWebSocketHub(log zerolog.Logger, allowedOrigins []string) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		readLimit: defaultMessageLimit,
		log:       log,
	}
}

// WithReadLimit caps the size of one incoming message.
func (h *WebSocketHub) WithReadLimit(n int64) *WebSocketHub {
	h.readLimit = n
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run starts the WebSocket hub.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("WebSocket hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Info().
				Str("client_id", client.id).
				Str("user_id", client.userID).
				Msg("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			h.log.Info().Str("client_id", client.id).Msg("Client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.Emit(message) {
					client.close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket handles WebSocket upgrade and connection.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request, handler *wshandler.Handler) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(h.readLimit)

	client := &Client{
		id:     uuid.New().String(),
		userID: middleware.GetUserID(r.Context()),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}

	// The request context ends when this handler returns; the connection
	// context lives until the read pump stops.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(ctx, cancel, handler)
}

// Broadcast sends a message to all connected clients.
func (h *WebSocketHub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc, handler *wshandler.Handler) {
	defer func() {
		cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Warn().Err(err).Str("client_id", c.id).Msg("Failed to parse WebSocket message")
			handler.Handle(ctx, c, "", nil)
			continue
		}

		handler.Handle(ctx, c, msg.Type, msg.Payload)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
