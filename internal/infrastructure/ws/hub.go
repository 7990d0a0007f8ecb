// Package ws is the connection layer: it owns the presence registry,
// delivers fan-out events to subscribed websocket clients and hands room
// commands to the router.
package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/fanout"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/presence"
	"github.com/hilthontt/parley/internal/router"
)

type CommandRouter interface {
	Route(ctx context.Context, caller string, cmd router.Command) error
	SweepDisconnect(ctx context.Context, identity string) error
}

type Config struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	// SweepTimeout bounds the OUT fan-out after a disconnect.
	SweepTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 8 << 20,
		SweepTimeout:   10 * time.Second,
	}
}

type Hub struct {
	registry *presence.Registry
	router   CommandRouter
	notifier fanout.Notifier
	logger   logging.Logger
	cfg      Config
	now      func() time.Time

	mu          sync.RWMutex
	subscribers map[string]map[*Client]map[string]struct{} // destination -> client -> subscription ids
	conns       map[string]map[*Client]struct{}            // identity -> clients
	closed      bool

	// sessions counts Attach calls that have not finished their disconnect
	// sweep yet.
	sessions sync.WaitGroup
}

var _ fanout.Deliverer = (*Hub)(nil)

func NewHub(registry *presence.Registry, logger logging.Logger, cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = def.SweepTimeout
	}
	return &Hub{
		registry:    registry,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
		subscribers: make(map[string]map[*Client]map[string]struct{}),
		conns:       make(map[string]map[*Client]struct{}),
	}
}

// Bind wires the collaborators that are built on top of the hub itself.
// It must be called before the first Attach.
func (h *Hub) Bind(r CommandRouter, n fanout.Notifier) {
	h.router = r
	h.notifier = n
}

// Attach serves conn for identity until the connection ends. It blocks.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn, identity string) {
	c := newClient(conn, identity, h.cfg.SendBuffer)
	if !h.connect(ctx, c) {
		_ = conn.Close()
		return
	}
	defer h.sessions.Done()

	go c.writePump(h)
	c.enqueue(connectedFrame(identity), h.logger)

	c.readPump(ctx, h)
	h.disconnect(ctx, c)
}

func (h *Hub) connect(ctx context.Context, c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	clients := h.conns[c.Identity]
	if clients == nil {
		clients = make(map[*Client]struct{})
		h.conns[c.Identity] = clients
	}
	clients[c] = struct{}{}
	h.sessions.Add(1)

	state := presence.Duplicate
	if len(clients) == 1 {
		state = h.registry.RegisterUser(c.Identity, c.ID)
	}
	h.mu.Unlock()

	h.logger.Info(logging.Websocket, logging.Connect, "client connected", map[logging.ExtraKey]any{
		logging.Identity:     c.Identity,
		logging.ConnectionID: c.ID,
		"presence":           state.String(),
	})

	if state == presence.Connected {
		metrics.ConnectedUsers.Inc()
		h.notifier.PublishPublic(ctx, domain.NewEvent(domain.EventConnect, c.Identity, "", h.now()))
	}
	return true
}

func (h *Hub) disconnect(ctx context.Context, c *Client) {
	h.mu.Lock()
	for subID, destination := range c.subs {
		h.unsubscribeLocked(c, subID, destination)
	}

	clients := h.conns[c.Identity]
	delete(clients, c)
	state := presence.Duplicate
	if len(clients) == 0 {
		delete(h.conns, c.Identity)
		state = h.registry.RemoveUser(c.Identity)
	}
	h.mu.Unlock()

	c.close()

	h.logger.Info(logging.Websocket, logging.Disconnect, "client disconnected", map[logging.ExtraKey]any{
		logging.Identity:     c.Identity,
		logging.ConnectionID: c.ID,
		"presence":           state.String(),
	})

	if state != presence.Disconnected {
		return
	}
	metrics.ConnectedUsers.Dec()

	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.SweepTimeout)
	defer cancel()

	h.notifier.PublishPublic(sweepCtx, domain.NewEvent(domain.EventDisconnect, c.Identity, "", h.now()))
	if err := h.router.SweepDisconnect(sweepCtx, c.Identity); err != nil {
		h.logger.Error(logging.Websocket, logging.Disconnect, "disconnect sweep failed", map[logging.ExtraKey]any{
			logging.Identity:     c.Identity,
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (h *Hub) handleFrame(ctx context.Context, c *Client, f InboundFrame) {
	switch f.Type {
	case FrameSubscribe:
		if f.ID == "" || !validDestination(f.Destination) {
			c.enqueue(errorFrame("subscribe needs an id and a /sub/chat/ destination"), h.logger)
			return
		}
		h.subscribe(c, f.ID, f.Destination)
	case FrameUnsubscribe:
		if f.ID == "" {
			c.enqueue(errorFrame("unsubscribe needs an id"), h.logger)
			return
		}
		h.unsubscribe(c, f.ID)
	case FrameSend:
		if f.Command == nil {
			c.enqueue(errorFrame("send needs a command"), h.logger)
			return
		}
		// Refusals with a room id are reported on the room topic.
		if err := h.router.Route(ctx, c.Identity, *f.Command); err != nil && f.Command.RoomID == "" {
			c.enqueue(errorFrame(err.Error()), h.logger)
		}
	default:
		c.enqueue(errorFrame("unknown frame type "+f.Type), h.logger)
	}
}

func (h *Hub) subscribe(c *Client, subID, destination string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := c.subs[subID]; exists {
		h.logger.Warn(logging.Websocket, logging.Subscribe, "duplicate subscription", subExtra(c, subID, destination))
		return
	}

	if state := h.registry.AddSubscription(c.Identity, registryKey(c, subID), destination); state != presence.Subscribed {
		h.logger.Warn(logging.Websocket, logging.Subscribe, "presence subscribe "+state.String(), subExtra(c, subID, destination))
	}

	c.subs[subID] = destination
	targets := h.subscribers[destination]
	if targets == nil {
		targets = make(map[*Client]map[string]struct{})
		h.subscribers[destination] = targets
	}
	ids := targets[c]
	if ids == nil {
		ids = make(map[string]struct{})
		targets[c] = ids
	}
	ids[subID] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	destination, exists := c.subs[subID]
	if !exists {
		h.logger.Warn(logging.Websocket, logging.Unsubscribe, "unsubscribe of unknown subscription", subExtra(c, subID, ""))
		return
	}
	h.unsubscribeLocked(c, subID, destination)
}

func (h *Hub) unsubscribeLocked(c *Client, subID, destination string) {
	delete(c.subs, subID)
	h.registry.RemoveSubscription(c.Identity, registryKey(c, subID))

	targets := h.subscribers[destination]
	delete(targets[c], subID)
	if len(targets[c]) == 0 {
		delete(targets, c)
	}
	if len(targets) == 0 {
		delete(h.subscribers, destination)
	}
}

// Deliver hands e to every local subscription of destination.
func (h *Hub) Deliver(destination string, e domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c, ids := range h.subscribers[destination] {
		for subID := range ids {
			c.enqueue(messageFrame(subID, destination, e), h.logger)
		}
	}
}

// Close ends every connection, refuses new ones and waits until every
// session has run its disconnect sweep.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Client
	for _, clients := range h.conns {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
	h.sessions.Wait()
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.conns {
		n += len(clients)
	}
	return n
}

var roomPrefix = fanout.RoomDestination("")

func validDestination(d string) bool {
	return strings.HasPrefix(d, roomPrefix) && len(d) > len(roomPrefix)
}

// registryKey scopes subscription ids per connection so two tabs of one
// user may reuse the same ids.
func registryKey(c *Client, subID string) string {
	return c.ID + "/" + subID
}

func subExtra(c *Client, subID, destination string) map[logging.ExtraKey]any {
	return map[logging.ExtraKey]any{
		logging.Identity:       c.Identity,
		logging.ConnectionID:   c.ID,
		logging.SubscriptionID: subID,
		logging.Destination:    destination,
	}
}
