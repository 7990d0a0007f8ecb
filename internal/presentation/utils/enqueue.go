package utils

import (
	"context"
	"net/http"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/json"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/router"
)

type CommandRouter interface {
	Route(ctx context.Context, caller string, cmd router.Command) error
}

type QueuedResponse struct {
	Status      string             `json:"status"`
	CommandType domain.CommandType `json:"commandType"`
	RoomID      string             `json:"roomId"`
}

// Enqueue routes a command on behalf of the caller of r and answers 202. The
// outcome reaches the caller over the websocket as room events.
func Enqueue(w http.ResponseWriter, r *http.Request, rt CommandRouter, logger logging.Logger, typ domain.CommandType, roomID string, payload any) {
	env, err := domain.NewEnvelope(IdentityFrom(r), typ, roomID, payload)
	if err != nil {
		json.WriteInternalError(w, logger, err)
		return
	}

	cmd := router.Command{CommandType: typ, RoomID: roomID, Payload: env.Payload}
	if err := rt.Route(r.Context(), env.SenderIdentity, cmd); err != nil {
		json.WriteDomainError(w, logger, err)
		return
	}

	json.Write(w, http.StatusAccepted, QueuedResponse{
		Status:      "queued",
		CommandType: typ,
		RoomID:      roomID,
	})
}
