package json

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	_ = Write(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: msg,
	})
}

func WriteBadRequestError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, msg)
}

func WriteUnauthorizedError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusUnauthorized, err.Error())
}

func WriteInternalError(w http.ResponseWriter, logger logging.Logger, err error) {
	logger.Error(logging.RequestResponse, logging.ExternalService, "internal error", map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})
	WriteError(w, http.StatusInternalServerError, "An unexpected error occurred")
}

func WriteRateLimitError(w http.ResponseWriter, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	WriteError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
}

// WriteDomainError maps room and membership errors to client statuses. Anything
// it does not recognise is treated as an internal error.
func WriteDomainError(w http.ResponseWriter, logger logging.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		WriteError(w, http.StatusNotFound, domain.ErrRoomNotFound.Error())
	case errors.Is(err, domain.ErrNotMember):
		WriteError(w, http.StatusForbidden, domain.ErrNotMember.Error())
	case errors.Is(err, domain.ErrRoomClosed):
		WriteError(w, http.StatusGone, domain.ErrRoomClosed.Error())
	case errors.Is(err, domain.ErrAuthMismatch):
		WriteError(w, http.StatusForbidden, domain.ErrAuthMismatch.Error())
	case errors.Is(err, domain.ErrRateLimited):
		WriteRateLimitError(w, 1)
	case errors.Is(err, domain.ErrMalformedCommand):
		WriteBadRequestError(w, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable), kindOf(err) == domain.StoreUnavailable:
		logger.Warn(logging.RequestResponse, logging.ExternalService, "store unavailable", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		WriteError(w, http.StatusServiceUnavailable, domain.ErrStoreUnavailable.Error())
	default:
		WriteInternalError(w, logger, err)
	}
}

func kindOf(err error) domain.ErrorKind {
	kind, _ := domain.KindOf(err)
	return kind
}
