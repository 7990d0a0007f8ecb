package messages

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/json"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/validate"
	"github.com/hilthontt/parley/internal/presentation/utils"
)

// MaxContentLength bounds the text of a single message, in characters.
const MaxContentLength = 4000

type Handler struct {
	router utils.CommandRouter
	logger logging.Logger
}

func sendable(v string) error {
	if !domain.MessageType(v).Sendable() {
		return errors.New("must be CHAT or IMAGE")
	}
	return nil
}

func NewHandler(router utils.CommandRouter, logger logging.Logger) *Handler {
	return &Handler{router: router, logger: logger}
}

// CreateNewMessageHandler queues a CHAT or IMAGE message for the room. The
// type defaults to IMAGE when an image is attached and CHAT otherwise.
func (h *Handler) CreateNewMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteBadRequestError(w, err.Error())
		return
	}

	if req.Type == "" {
		req.Type = domain.MessageChat
		if req.Image != nil {
			req.Type = domain.MessageImage
		}
	}
	var imageName string
	if req.Image != nil {
		imageName = req.Image.Name
	}
	err := validate.Check(
		validate.That(string(req.Type), validate.Field("type", sendable)),
		validate.That(req.Content, validate.Field("content",
			validate.When(req.Type == domain.MessageChat, validate.Required()),
			validate.MaxLength(MaxContentLength))),
		validate.That(imageName, validate.Field("image.name", validate.MaxLength(255))),
	)
	if err != nil {
		json.WriteBadRequestError(w, err.Error())
		return
	}
	if req.Type == domain.MessageImage && (req.Image == nil || req.Image.Data == "") {
		json.WriteBadRequestError(w, "image: is required")
		return
	}

	utils.Enqueue(w, r, h.router, h.logger, domain.CommandSend, chi.URLParam(r, "roomId"), domain.SendPayload{
		Sender:  utils.IdentityFrom(r),
		Type:    req.Type,
		Content: req.Content,
		Image:   req.Image,
	})
}
