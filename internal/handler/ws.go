package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"openfms/console/internal/querycache"
	"openfms/console/internal/service"
)

var (
	upgrader = websocket.Upgrader{
		// CORS 已在路由层处理
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// Heartbeat interval
	pingInterval = 30 * time.Second
	// Write timeout
	writeTimeout = 10 * time.Second
	// Read deadline, extended by every pong
	pongWait = 60 * time.Second
)

// WSMessage is what the hub pushes: {"type":"cache"|"notice"|"connected"|"pong", "data":...}.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *WSHub
}

// WSHub fans cache change events and operator notices out to every connected browser.
type WSHub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(logger *zap.Logger) *WSHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run starts the hub's event loop. events is usually a querycache subscription;
// it returns when Stop is called.
func (h *WSHub) Run(events <-chan querycache.Event) {
	h.logger.Info("hub started")
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("client_id", client.ID), zap.Int("clients", n))

		case client := <-h.unregister:
			h.remove(client)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if data, err := encodeMessage("cache", ev); err == nil {
				h.fanOut(data)
			}

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *WSHub) fanOut(message []byte) {
	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// 发送缓冲已满，断开该客户端
	for _, client := range slow {
		h.logger.Warn("client too slow, dropping", zap.String("client_id", client.ID))
		h.remove(client)
	}
}

func (h *WSHub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.Send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("client disconnected", zap.String("client_id", client.ID), zap.Int("clients", n))
	}
}

// Stop stops the hub and closes every connection
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			close(client.Send)
			client.Conn.Close()
			delete(h.clients, client)
		}
		h.mu.Unlock()
	})
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify pushes an operator notice to every browser. It never blocks.
func (h *WSHub) Notify(_ context.Context, n service.Notice) {
	data, err := encodeMessage("notice", n)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, notice dropped", zap.String("form", n.Form))
	}
}

func encodeMessage(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: typ, Data: data})
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Debug("read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err == nil && msg.Type == "ping" {
			c.trySend([]byte(`{"type":"pong"}`))
		}
	}
}

// trySend queues message unless the buffer is full or the client is gone.
func (c *Client) trySend(message []byte) {
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if !c.Hub.clients[c] {
		return
	}
	select {
	case c.Send <- message:
	default:
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler handles WebSocket connections
type WSHandler struct {
	hub *WSHub
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(hub *WSHub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleEvents upgrades the connection and streams cache and notice events.
func (h *WSHandler) HandleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	client := &Client{
		ID:   clientID,
		Conn: conn,
		Send: make(chan []byte, 64),
		Hub:  h.hub,
	}

	// 欢迎消息先入队，注册后才会收到广播
	if data, err := encodeMessage("connected", gin.H{"client_id": clientID}); err == nil {
		client.Send <- data
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetStats returns WebSocket hub statistics
func (h *WSHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": h.hub.GetClientCount(),
	})
}
