package notifier

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/metrics"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is one websocket frame.
type Envelope struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

const (
	FrameNotification = "notification"
	FrameMarket       = "market"
)

type client struct {
	ledgerKey string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub pushes notifications to connected traders over websockets. A client only
// receives broadcasts and notifications addressed to its ledger. Slow clients
// drop frames instead of blocking the engine.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

// Serve upgrades the request and streams frames for ledgerKey until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, ledgerKey string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("Serve | failed to upgrade websocket", "error", err)
		return
	}
	c := &client{ledgerKey: ledgerKey, conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WSConnections.Inc()

	go h.writePump(c)
	h.readPump(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Notify(n Notification) {
	h.publish(Envelope{Kind: FrameNotification, Data: n}, func(c *client) bool {
		return n.Broadcast() || c.ledgerKey == n.LedgerKey
	})
}

// PublishMarket sends a market snapshot to every client.
func (h *Hub) PublishMarket(view any) {
	h.publish(Envelope{Kind: FrameMarket, Data: view}, func(*client) bool { return true })
}

func (h *Hub) publish(env Envelope, match func(*client) bool) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Errorw("publish | failed to encode frame", "kind", env.Kind, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.WSConnections.Dec()
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		metrics.WSConnections.Dec()
	}
}
