package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	clientBacklog  = 32
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans lifecycle events out to every connected websocket client. A slow
// client's backlog is dropped rather than blocking the orchestrator.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan model.LifecycleEvent
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Notify implements service.Notifier. Never blocks.
func (h *Hub) Notify(ev model.LifecycleEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// Serve upgrades the request and streams events until the client goes away.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err, "client_ip", c.ClientIP())
		return
	}

	cl := &client{conn: conn, send: make(chan model.LifecycleEvent, clientBacklog)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(cl)
	h.readLoop(cl)
}

func (h *Hub) writeLoop(cl *client) {
	for ev := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteJSON(ev); err != nil {
			h.drop(cl)
			return
		}
	}
}

// readLoop discards inbound frames; its only job is to notice the close.
func (h *Hub) readLoop(cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			h.drop(cl)
			return
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
	h.mu.Unlock()
	_ = cl.conn.Close()
}

// ClientCount reports connected stream subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
