// Package ws streams committed market events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware and API key, not here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ErrFeedClosed is returned by Run when the bus ends the subscription while
// the hub is still meant to be running.
var ErrFeedClosed = errors.New("ws: bus subscription closed")

// Config describes the hub.
type Config struct {
	// Channel is the bus channel carrying JSON MarketEvents.
	Channel   string
	Mode      string
	StartedAt time.Time
}

// Hub relays every event published on the bus channel to the connected
// clients whose filter matches it.
type Hub struct {
	cfg    Config
	bus    domain.SignalBus
	logger *slog.Logger

	mu        sync.RWMutex
	clients   map[*client]struct{}
	broadcast chan domain.MarketEvent
	done      chan struct{}
}

// NewHub creates a Hub reading cfg.Channel from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		cfg:       cfg,
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws_hub")),
		clients:   make(map[*client]struct{}),
		broadcast: make(chan domain.MarketEvent, sendBufferSize),
		done:      make(chan struct{}),
	}
}

// Run subscribes to the bus and fans events out until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	events, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return ctx.Err()

		case payload, ok := <-events:
			if !ok {
				h.disconnectAll()
				if err := ctx.Err(); err != nil {
					return err
				}
				h.logger.Error("ws: feed closed", slog.String("channel", h.cfg.Channel))
				return ErrFeedClosed
			}
			var e domain.MarketEvent
			if err := json.Unmarshal(payload, &e); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(e, payload)
		}
	}
}

func (h *Hub) fanOut(e domain.MarketEvent, payload []byte) {
	frame, err := json.Marshal(envelope{Type: "market_event", Payload: payload})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping event for slow client", slog.String("event_id", e.ID))
		}
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// add registers c and queues first, if any, as its first frame. Both happen
// under the lock Run takes to close client channels.
func (h *Hub) add(c *client, first []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	if first != nil {
		c.send <- first
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("ws: client connected", slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.logger.Debug("ws: client disconnected", slog.Int("clients", len(h.clients)))
}

// HandleWS upgrades the connection. New clients receive every event until
// they send a subscription.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), all: true}
	if !h.add(c, h.hello()) {
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// envelope frames every message sent to a client.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeMsg narrows (or, with "unsubscribe", widens) what a client
// receives. Subscribing to nothing restores the full feed.
//
//	{"action":"subscribe","markets":["..."],"creators":["..."]}
type subscribeMsg struct {
	Action   string           `json:"action"`
	Markets  []domain.Address `json:"markets"`
	Creators []domain.Address `json:"creators"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	all      bool
	markets  map[domain.Address]bool
	creators map[domain.Address]bool
}

func (c *client) wants(e domain.MarketEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all || c.markets[e.Market.ID] || c.creators[e.Market.Creator]
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markets == nil {
		c.markets = make(map[domain.Address]bool)
		c.creators = make(map[domain.Address]bool)
	}
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Markets {
			c.markets[id] = true
		}
		for _, a := range msg.Creators {
			c.creators[a] = true
		}
	case "unsubscribe":
		for _, id := range msg.Markets {
			delete(c.markets, id)
		}
		for _, a := range msg.Creators {
			delete(c.creators, a)
		}
	default:
		return
	}
	c.all = len(c.markets) == 0 && len(c.creators) == 0
}

// hello is the status frame that tells a new client the feed is live even
// before any event flows.
func (h *Hub) hello() []byte {
	payload, err := json.Marshal(map[string]any{
		"mode":           h.cfg.Mode,
		"channel":        h.cfg.Channel,
		"uptime_seconds": max(0, int64(time.Since(h.cfg.StartedAt).Seconds())),
	})
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(envelope{Type: "status", Payload: payload})
	if err != nil {
		return nil
	}
	return frame
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.apply(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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
