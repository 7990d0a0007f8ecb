package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
)

// Client is one websocket connection of an identity. A user may hold
// several at once.
type Client struct {
	ID       string
	Identity string

	conn *connWrapper
	send chan OutboundFrame
	done chan struct{}
	once sync.Once

	// subs maps subscription id to destination; guarded by Hub.mu.
	subs map[string]string
}

func newClient(conn *websocket.Conn, identity string, buffer int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Identity: identity,
		conn:     newConnWrapper(conn),
		send:     make(chan OutboundFrame, buffer),
		done:     make(chan struct{}),
		subs:     make(map[string]string),
	}
}

// enqueue never blocks: a client whose buffer is full misses the frame.
func (c *Client) enqueue(f OutboundFrame, logger logging.Logger) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- f:
	default:
		metrics.EventsDropped.Inc()
		logger.Warn(logging.Websocket, logging.Publish, "client buffer full, dropping frame", map[logging.ExtraKey]any{
			logging.Identity:     c.Identity,
			logging.ConnectionID: c.ID,
			logging.Destination:  f.Destination,
		})
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) readPump(ctx context.Context, h *Hub) {
	raw := c.conn.conn
	raw.SetReadLimit(h.cfg.MaxMessageSize)
	_ = raw.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn(logging.Websocket, logging.Disconnect, "read error", map[logging.ExtraKey]any{
					logging.Identity:     c.Identity,
					logging.ConnectionID: c.ID,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(errorFrame("malformed frame: "+err.Error()), h.logger)
			continue
		}
		h.handleFrame(ctx, c, frame)
	}
}

func (c *Client) writePump(h *Hub) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteJSON(frame, h.cfg.WriteTimeout); err != nil {
				h.logger.Debug(logging.Websocket, logging.Publish, "write failed", map[logging.ExtraKey]any{
					logging.ConnectionID: c.ID,
					logging.ErrorMessage: err.Error(),
				})
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(h.cfg.WriteTimeout); err != nil {
				return
			}
		case <-c.done:
			c.conn.CloseWith(websocket.CloseNormalClosure, "", h.cfg.WriteTimeout)
			return
		}
	}
}
