// Package ws implements the vault watch hub: websocket clients subscribe to
// one vault and receive a fresh aggregated view on every refresh tick.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haldenlabs/vaultscope/internal/domain"
	"github.com/haldenlabs/vaultscope/internal/server/handler"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message. Clients
	// only ever send control frames; anything bigger is a protocol error.
	maxMessageSize = 512

	// sendBufferSize is the channel buffer for outgoing frames per client.
	sendBufferSize = 16
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced by the HTTP middleware in front of the
		// upgrade; the hub accepts what reaches it.
		return true
	},
}

// Aggregator is the slice of the aggregation layer the hub needs.
type Aggregator interface {
	Aggregate(ctx context.Context, chainID int64, address string) (*domain.VaultView, error)
}

// client represents a single WebSocket connection watching one vault.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	topic string
	id    string
}

// Hub manages watch subscriptions. Each distinct vault under watch gets one
// refresher goroutine regardless of how many clients follow it; the last
// client leaving stops the refresher.
type Hub struct {
	agg     Aggregator
	refresh time.Duration
	logger  *slog.Logger

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan frame

	watchers map[string]context.CancelFunc
	counts   map[string]int

	// done is closed when Run exits; registration paths select on it so a
	// connection racing shutdown cannot block forever.
	done chan struct{}

	mu sync.RWMutex
}

// frame carries one outgoing message along with its vault topic so the hub
// routes it only to clients watching that vault.
type frame struct {
	topic string
	data  []byte
}

// NewHub creates a watch hub that re-aggregates each watched vault every
// refresh interval.
func NewHub(agg Aggregator, refresh time.Duration, logger *slog.Logger) *Hub {
	return &Hub{
		agg:        agg,
		refresh:    refresh,
		logger:     logger.With(slog.String("component", "ws")),
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan frame, 64),
		watchers:   make(map[string]context.CancelFunc),
		counts:     make(map[string]int),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine
// and exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			for topic, cancel := range h.watchers {
				cancel()
				delete(h.watchers, topic)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.counts[c.topic]++
			first := h.counts[c.topic] == 1
			if first {
				wctx, cancel := context.WithCancel(ctx)
				h.watchers[c.topic] = cancel
				go h.watchVault(wctx, c.topic)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.String("client_id", c.id),
				slog.String("topic", c.topic),
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.counts[c.topic]--
				if h.counts[c.topic] <= 0 {
					delete(h.counts, c.topic)
					if cancel, ok := h.watchers[c.topic]; ok {
						cancel()
						delete(h.watchers, c.topic)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.String("client_id", c.id),
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.topic != msg.topic {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Client's send buffer is full; drop the frame. The
					// next tick carries a fresher view anyway.
					h.logger.Warn("ws: dropping frame for slow client",
						slog.String("client_id", c.id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// watchVault aggregates one vault immediately and then on every refresh
// tick, pushing the resulting frame to the hub. Aggregation failures become
// error frames; the watch itself keeps running, since most failures are
// transient upstream conditions.
func (h *Hub) watchVault(ctx context.Context, topic string) {
	chainID, address := splitTopic(topic)

	send := func(data []byte) {
		select {
		case h.broadcast <- frame{topic: topic, data: data}:
		case <-ctx.Done():
		}
	}
	push := func() {
		view, err := h.agg.Aggregate(ctx, chainID, address)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			send(errorFrame(err))
			return
		}
		data, err := json.Marshal(map[string]any{
			"type":    "vault",
			"payload": handler.ViewPayload(view),
		})
		if err != nil {
			return
		}
		send(data)
	}

	push()
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			push()
		}
	}
}

func errorFrame(err error) []byte {
	payload := map[string]any{"message": err.Error()}
	var f *domain.Failure
	if errors.As(err, &f) {
		payload["message"] = f.Message
		payload["kind"] = string(f.Kind)
		if f.RateLimited {
			payload["rateLimited"] = true
		}
	}
	data, _ := json.Marshal(map[string]any{"type": "error", "payload": payload})
	return data
}

// HandleWatch upgrades an HTTP request to a WebSocket connection watching
// one vault.
// GET /ws/vaults/{chainId}/{address}
func (h *Hub) HandleWatch(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(r.PathValue("chainId"), 10, 64)
	if err != nil {
		http.Error(w, "chain id must be an integer", http.StatusBadRequest)
		return
	}
	address := r.PathValue("address")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		topic: joinTopic(chainID, address),
		id:    uuid.NewString(),
	}

	select {
	case h.register <- c:
	case <-h.done:
		// The hub already stopped; nothing will ever drain the channel.
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines.
	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func joinTopic(chainID int64, address string) string {
	return fmt.Sprintf("%d:%s", chainID, address)
}

func splitTopic(topic string) (int64, string) {
	for i := 0; i < len(topic); i++ {
		if topic[i] == ':' {
			chainID, _ := strconv.ParseInt(topic[:i], 10, 64)
			return chainID, topic[i+1:]
		}
	}
	return 0, topic
}

// readPump drains the WebSocket connection. Watch clients send nothing but
// control frames; the pump exists to notice disconnects and answer pings.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// writePump pumps frames from the hub to the WebSocket connection, sending
// JSON text frames for data and periodic ping frames for keepalive.
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
