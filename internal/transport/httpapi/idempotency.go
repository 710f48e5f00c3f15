package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// HeaderIdempotentReplay помечает ответ, восстановленный из хранилища ключей.
const HeaderIdempotentReplay = "Idempotent-Replayed"

// captureWriter пишет ответ клиенту и параллельно копит его для сохранения.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// idempotent повторяет сохранённый ответ для того же Idempotency-Key и того же тела.
// Ключ изолирован по пользователю.
func (h *Handler) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if h.idemRepo == nil || rawKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			h.writeError(w, r, errInvalidBody)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		userID := userFrom(r.Context())
		key := userID + ":" + rawKey
		logger := h.logger.WithFields(log.Fields{"idempotency_key": rawKey, "user_id": userID})

		record, err := h.idemRepo.CreateProcessing(key, requestHash(r, userID, body), h.now().Add(h.idemTTL))
		if err != nil {
			h.replay(w, r, logger, record, err)
			return
		}

		capture := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(capture, r)

		status := capture.status
		if status == 0 {
			status = http.StatusOK
		}
		store := h.idemRepo.MarkDone
		if status >= http.StatusBadRequest {
			store = h.idemRepo.MarkFailed
		}
		if err := store(key, capture.body.Bytes(), status); err != nil {
			logger.WithError(err).Warn("failed to store idempotent response")
		}
	})
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, logger *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusConflict, errorBody{Error: errorPayload{
			Code:    codeConflict,
			Message: "idempotency key is already used with a different request",
		}})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Completed() {
			writeJSON(w, http.StatusConflict, errorBody{Error: errorPayload{
				Code:    codeConflict,
				Message: "request with the same idempotency key is already processing",
			}})
			return
		}
		status := record.HTTPStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(HeaderIdempotentReplay, "true")
		w.WriteHeader(status)
		_, _ = w.Write(record.ResponseBody)
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		h.writeError(w, r, createErr)
	}
}

// requestHash связывает ключ с методом, путём, пользователем и телом запроса.
func requestHash(r *http.Request, userID string, body []byte) string {
	hasher := sha256.New()
	hasher.Write([]byte(r.Method))
	hasher.Write([]byte{':'})
	hasher.Write([]byte(r.URL.Path))
	hasher.Write([]byte{':'})
	hasher.Write([]byte(userID))
	hasher.Write([]byte{':'})
	hasher.Write(body)
	return hex.EncodeToString(hasher.Sum(nil))
}
