package presence

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/parley/internal/infrastructure/json"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/presentation/utils"
)

type Registry interface {
	AllConnected() []string
}

// Attacher serves an upgraded connection until it ends.
type Attacher interface {
	Attach(ctx context.Context, conn *websocket.Conn, identity string)
}

type Handler struct {
	registry Registry
	hub      Attacher
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewHandler(registry Registry, hub Attacher, allowedOrigins []string, logger logging.Logger) *Handler {
	return &Handler{
		registry: registry,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger,
	}
}

// ListConnectedHandler returns the identities that have at least one live
// connection.
func (h *Handler) ListConnectedHandler(w http.ResponseWriter, r *http.Request) {
	connected := h.registry.AllConnected()
	json.Write(w, http.StatusOK, connectedResponse{Users: connected, Count: len(connected)})
}

// ConnectHandler upgrades the request and hands the connection to the hub.
func (h *Handler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	identity := utils.IdentityFrom(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.Websocket, logging.Connect, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.Identity:     identity,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	h.hub.Attach(r.Context(), conn, identity)
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}
