package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

const (
	codeNotFound     = "not_found"
	codeBusinessRule = "business_rule"
	codeForbidden    = "forbidden"
	codeConflict     = "conflict"
	codeValidation   = "validation"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal"
)

var (
	errUserIDMissing   = errors.New("X-User-ID header is required")
	errInvalidBody     = errors.New("invalid request body")
	errInvalidPage     = errors.New("page and size must be integers")
	errInternalMessage = "internal server error"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify переводит ошибку движка в HTTP-статус и код ответа.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errUserIDMissing):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, errInvalidBody), errors.Is(err, errInvalidPage):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, domain.ErrNotSeller),
		errors.Is(err, domain.ErrNotBuyer),
		errors.Is(err, domain.ErrNotParticipant):
		return http.StatusForbidden, codeForbidden
	case domain.IsNotFound(err):
		return http.StatusNotFound, codeNotFound
	case domain.IsValidation(err):
		return http.StatusBadRequest, codeValidation
	case domain.IsConflict(err):
		return http.StatusConflict, codeConflict
	case domain.IsBusinessRule(err):
		return http.StatusUnprocessableEntity, codeBusinessRule
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("offer request failed")
		message = errInternalMessage
	}
	writeJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
