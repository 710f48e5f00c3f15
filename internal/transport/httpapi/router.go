package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/negotiation"
)

const (
	// HeaderUserID заполняет upstream-шлюз после аутентификации.
	HeaderUserID = "X-User-ID"
	// HeaderIdempotencyKey передаёт необязательный ключ повторяемых POST-запросов.
	HeaderIdempotencyKey = "Idempotency-Key"

	maxBodyBytes = 1 << 20
)

// OfferService перечисляет операции переговоров, которые обслуживает API.
type OfferService interface {
	CreateOffer(ctx context.Context, req negotiation.CreateOfferRequest, buyerID string) (negotiation.OfferView, error)
	CreateCounterOffer(ctx context.Context, offerID string, req negotiation.CounterOfferRequest, sellerID string) (negotiation.OfferView, error)
	AcceptOffer(ctx context.Context, offerID, sellerID string) (negotiation.OfferView, error)
	RejectOffer(ctx context.Context, offerID string, req negotiation.RejectOfferRequest, sellerID string) (negotiation.OfferView, error)
	CancelOffer(ctx context.Context, offerID, buyerID string) (negotiation.OfferView, error)
	GetOfferByID(ctx context.Context, offerID, userID string) (negotiation.OfferView, error)
	GetOfferChain(ctx context.Context, offerID, userID string) (negotiation.OfferChain, error)
	GetOfferHistory(ctx context.Context, offerID, userID string) ([]domain.OfferEvent, error)
	GetOffersSent(ctx context.Context, userID string, filter domain.OfferFilter) (negotiation.OfferSummaryPage, error)
	GetOffersReceived(ctx context.Context, userID string, filter domain.OfferFilter) (negotiation.OfferSummaryPage, error)
	CountPendingSent(ctx context.Context, userID string) (int, error)
	CountPendingReceived(ctx context.Context, userID string) (int, error)
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер API.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotency включает обработку Idempotency-Key; ttl<=0 означает 24 часа.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idemRepo = repo
		if ttl > 0 {
			h.idemTTL = ttl
		}
	}
}

// WithAllowedOrigins разрешает CORS для перечисленных источников.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		for _, origin := range origins {
			if origin = strings.TrimSpace(origin); origin != "" {
				h.allowedOrigins = append(h.allowedOrigins, origin)
			}
		}
	}
}

// Handler обслуживает HTTP API офферов.
type Handler struct {
	offers         OfferService
	logger         *log.Entry
	idemRepo       domain.IdempotencyRepository
	idemTTL        time.Duration
	allowedOrigins []string
	now            func() time.Time
}

// NewHandler создаёт обработчик API поверх сервиса переговоров.
func NewHandler(offers OfferService, options ...Option) *Handler {
	h := &Handler{
		offers:  offers,
		logger:  log.WithField("component", "http_api"),
		idemTTL: domain.DefaultIdempotencyTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Routes собирает chi-роутер с маршрутами /api/v1/offers.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	if len(h.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", HeaderUserID, HeaderIdempotencyKey},
			MaxAge:         300,
		}))
	}

	r.Route("/api/v1/offers", func(r chi.Router) {
		r.Use(requireUser)

		r.Group(func(r chi.Router) {
			r.Use(h.idempotent)
			r.Post("/", h.createOffer)
			r.Post("/{offerID}/counter", h.counterOffer)
			r.Post("/{offerID}/accept", h.acceptOffer)
			r.Post("/{offerID}/reject", h.rejectOffer)
			r.Post("/{offerID}/cancel", h.cancelOffer)
		})

		r.Get("/sent", h.offersSent)
		r.Get("/received", h.offersReceived)
		r.Get("/sent/pending-count", h.pendingSentCount)
		r.Get("/received/pending-count", h.pendingReceivedCount)
		r.Get("/{offerID}", h.getOffer)
		r.Get("/{offerID}/chain", h.getChain)
		r.Get("/{offerID}/history", h.getHistory)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"request_id":  middleware.GetReqID(r.Context()),
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("http request served")
	})
}
