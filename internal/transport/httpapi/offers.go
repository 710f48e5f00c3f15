package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/negotiation"
)

type createOfferBody struct {
	ListingID    string          `json:"listing_id"`
	OfferedPrice decimal.Decimal `json:"offered_price"`
	Quantity     int             `json:"quantity"`
	Message      string          `json:"message"`
}

type counterOfferBody struct {
	CounterPrice decimal.Decimal `json:"counter_price"`
	Message      string          `json:"message"`
}

type rejectOfferBody struct {
	Reason string `json:"reason"`
}

type countResponse struct {
	Count int `json:"count"`
}

type historyEntry struct {
	Type       domain.OfferEventType `json:"type"`
	ActorID    string                `json:"actor_id,omitempty"`
	FromStatus domain.OfferStatus    `json:"from_status,omitempty"`
	ToStatus   domain.OfferStatus    `json:"to_status"`
	Reason     string                `json:"reason,omitempty"`
	OccurredAt time.Time             `json:"occurred_at"`
}

type historyResponse struct {
	OfferID string         `json:"offer_id"`
	Events  []historyEntry `json:"events"`
}

// decodeBody читает JSON; пустое тело допустимо, если allowEmpty.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidBody
	}
	return nil
}

func (h *Handler) createOffer(w http.ResponseWriter, r *http.Request) {
	var body createOfferBody
	if err := decodeBody(r, &body, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.offers.CreateOffer(r.Context(), negotiation.CreateOfferRequest{
		ListingID:    body.ListingID,
		OfferedPrice: body.OfferedPrice,
		Quantity:     body.Quantity,
		Message:      body.Message,
	}, userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) counterOffer(w http.ResponseWriter, r *http.Request) {
	var body counterOfferBody
	if err := decodeBody(r, &body, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.offers.CreateCounterOffer(r.Context(), chi.URLParam(r, "offerID"), negotiation.CounterOfferRequest{
		CounterPrice: body.CounterPrice,
		Message:      body.Message,
	}, userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) acceptOffer(w http.ResponseWriter, r *http.Request) {
	view, err := h.offers.AcceptOffer(r.Context(), chi.URLParam(r, "offerID"), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) rejectOffer(w http.ResponseWriter, r *http.Request) {
	var body rejectOfferBody
	if err := decodeBody(r, &body, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.offers.RejectOffer(r.Context(), chi.URLParam(r, "offerID"),
		negotiation.RejectOfferRequest{Reason: body.Reason}, userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) cancelOffer(w http.ResponseWriter, r *http.Request) {
	view, err := h.offers.CancelOffer(r.Context(), chi.URLParam(r, "offerID"), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getOffer(w http.ResponseWriter, r *http.Request) {
	view, err := h.offers.GetOfferByID(r.Context(), chi.URLParam(r, "offerID"), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getChain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.offers.GetOfferChain(r.Context(), chi.URLParam(r, "offerID"), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	offerID := chi.URLParam(r, "offerID")
	events, err := h.offers.GetOfferHistory(r.Context(), offerID, userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := historyResponse{OfferID: offerID, Events: make([]historyEntry, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, historyEntry{
			Type:       event.Type,
			ActorID:    event.ActorID,
			FromStatus: event.FromStatus,
			ToStatus:   event.ToStatus,
			Reason:     event.Reason,
			OccurredAt: event.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) offersSent(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.offers.GetOffersSent(r.Context(), userFrom(r.Context()), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) offersReceived(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.offers.GetOffersReceived(r.Context(), userFrom(r.Context()), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) pendingSentCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.offers.CountPendingSent(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: count})
}

func (h *Handler) pendingReceivedCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.offers.CountPendingReceived(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: count})
}

// parseFilter разбирает status, page и size; границы проверяет движок.
func parseFilter(r *http.Request) (domain.OfferFilter, error) {
	query := r.URL.Query()
	filter := domain.OfferFilter{
		Status: domain.OfferStatus(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
	}

	var err error
	if filter.Page, err = queryInt(query.Get("page")); err != nil {
		return domain.OfferFilter{}, err
	}
	if filter.Size, err = queryInt(query.Get("size")); err != nil {
		return domain.OfferFilter{}, err
	}
	return filter, nil
}

func queryInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errInvalidPage
	}
	return value, nil
}
