package rooms

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/json"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/validate"
	"github.com/hilthontt/parley/internal/presentation/utils"
)

const (
	defaultAuditLimit = 50
	roomIDPattern     = `^[A-Za-z0-9._:-]+$`
)

type Queries interface {
	History(ctx context.Context, roomID, identity string) ([]domain.HistoryEntry, error)
	Participations(ctx context.Context, identity string) ([]domain.Participation, error)
	Participants(ctx context.Context, roomID, identity string) ([]domain.Participant, error)
}

type Presence interface {
	IsConnected(identity string) bool
}

type Handler struct {
	queries  Queries
	router   utils.CommandRouter
	presence Presence
	audit    domain.AuditRepository
	logger   logging.Logger
}

func NewHandler(
	queries Queries,
	router utils.CommandRouter,
	presence Presence,
	audit domain.AuditRepository,
	logger logging.Logger,
) *Handler {
	return &Handler{
		queries:  queries,
		router:   router,
		presence: presence,
		audit:    audit,
		logger:   logger,
	}
}

// ListRoomsHandler returns the rooms the caller participates in with their
// unread counters.
func (h *Handler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	participations, err := h.queries.Participations(r.Context(), utils.IdentityFrom(r))
	if err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}
	json.Write(w, http.StatusOK, participations)
}

// HistoryHandler activates the room for the caller and returns the messages
// posted since the caller joined.
func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := h.queries.History(r.Context(), chi.URLParam(r, "roomId"), utils.IdentityFrom(r))
	if err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}
	json.Write(w, http.StatusOK, history)
}

func (h *Handler) ParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	participants, err := h.queries.Participants(r.Context(), chi.URLParam(r, "roomId"), utils.IdentityFrom(r))
	if err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}

	resp := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		resp = append(resp, participantResponse{
			Identity: p.Identity,
			Unread:   p.Unread,
			JoinedAt: p.JoinedAt,
			Online:   h.presence.IsConnected(p.Identity),
		})
	}
	json.Write(w, http.StatusOK, resp)
}

// AuditHandler lists the lifecycle and dead-letter audit trail of a room.
// Only participants may read it.
func (h *Handler) AuditHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	if _, err := h.queries.Participants(r.Context(), roomID, utils.IdentityFrom(r)); err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			json.WriteBadRequestError(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	logs, err := h.audit.GetByRoomID(r.Context(), roomID, limit)
	if err != nil {
		json.WriteInternalError(w, h.logger, err)
		return
	}
	json.Write(w, http.StatusOK, logs)
}

func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteBadRequestError(w, err.Error())
		return
	}
	if req.RoomID == "" {
		req.RoomID = uuid.NewString()
	}
	err := validate.Check(
		validate.That(req.RoomID, validate.Field("roomId",
			validate.Matches(roomIDPattern, "may only contain letters, digits and ._:-"),
			validate.MaxLength(128))),
		validate.That(req.Title, validate.Field("title", validate.MaxLength(100))),
		validate.That(string(req.Kind), validate.Field("kind",
			validate.OneOf(string(domain.RoomAll), string(domain.RoomGroup), string(domain.RoomPrivate)))),
	)
	if err == nil {
		err = validate.Each("participants", req.Participants, validate.Required())
	}
	if err != nil {
		json.WriteBadRequestError(w, err.Error())
		return
	}

	caller := utils.IdentityFrom(r)
	h.route(w, r, domain.CommandCreate, req.RoomID, domain.CreateRoomPayload{
		Title:        req.Title,
		Kind:         req.Kind,
		Creator:      caller,
		Participants: req.Participants,
	})
}

func (h *Handler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	h.route(w, r, domain.CommandJoin, chi.URLParam(r, "roomId"), domain.MemberPayload{Sender: utils.IdentityFrom(r)})
}

func (h *Handler) InviteHandler(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteBadRequestError(w, err.Error())
		return
	}
	if len(req.Targets) == 0 {
		json.WriteBadRequestError(w, "targets: is required")
		return
	}
	if err := validate.Each("targets", req.Targets, validate.Required()); err != nil {
		json.WriteBadRequestError(w, err.Error())
		return
	}
	h.route(w, r, domain.CommandInvite, chi.URLParam(r, "roomId"), domain.InvitePayload{
		Inviter: utils.IdentityFrom(r),
		Targets: req.Targets,
	})
}

// OutRoomHandler marks the caller inactive without leaving the room.
func (h *Handler) OutRoomHandler(w http.ResponseWriter, r *http.Request) {
	h.route(w, r, domain.CommandOut, chi.URLParam(r, "roomId"), domain.MemberPayload{Sender: utils.IdentityFrom(r)})
}

func (h *Handler) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	h.route(w, r, domain.CommandLeave, chi.URLParam(r, "roomId"), domain.MemberPayload{Sender: utils.IdentityFrom(r)})
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request, typ domain.CommandType, roomID string, payload any) {
	utils.Enqueue(w, r, h.router, h.logger, typ, roomID, payload)
}
