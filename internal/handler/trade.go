package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/efreitasn/tradeledger/internal/event"
	"github.com/efreitasn/tradeledger/internal/service"
)

// Sweeper runs an expiry sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// TradeHandler handles HTTP requests for trade endpoints.
type TradeHandler struct {
	tradeSvc  *service.TradeService
	sweeper   Sweeper
	publisher service.Announcer
	logger    *zap.Logger
}

// NewTradeHandler creates a new TradeHandler. publisher may be nil when no
// event channel is configured.
func NewTradeHandler(tradeSvc *service.TradeService, sweeper Sweeper, publisher service.Announcer, logger *zap.Logger) *TradeHandler {
	return &TradeHandler{
		tradeSvc:  tradeSvc,
		sweeper:   sweeper,
		publisher: publisher,
		logger:    logger,
	}
}

// tradeResponse is the JSON form of a trade.
type tradeResponse struct {
	TradeID        string      `json:"tradeId"`
	Version        int64       `json:"version"`
	CounterPartyID string      `json:"counterPartyId"`
	BookID         string      `json:"bookId"`
	MaturityDate   domain.Date `json:"maturityDate"`
	CreatedDate    domain.Date `json:"createdDate"`
	Expired        bool        `json:"expired"`
}

// Submit handles POST /api/trades.
func (h *TradeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req event.TradeEvent
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	t, err := h.tradeSvc.Submit(r.Context(), req.Change())
	if err != nil {
		h.mapTradeError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildTradeResponse(t))
}

// List handles GET /api/trades.
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	trades, err := h.tradeSvc.List(r.Context())
	if err != nil {
		h.mapTradeError(w, err)
		return
	}

	resp := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		resp = append(resp, buildTradeResponse(t))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/trades/{trade_id}.
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "trade_id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "trade_id must be a valid UUID")
		return
	}

	t, err := h.tradeSvc.Get(r.Context(), id)
	if err != nil {
		h.mapTradeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildTradeResponse(t))
}

// Search handles GET /api/trades/search?bookId=&counterPartyId=.
func (h *TradeHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, err := h.tradeSvc.FindByBookAndCounterParty(r.Context(), q.Get("bookId"), q.Get("counterPartyId"))
	if err != nil {
		h.mapTradeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildTradeResponse(t))
}

// Publish handles POST /api/trades/publish. The event is dispatched to the
// publisher and the request returns without waiting for delivery.
func (h *TradeHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		WriteError(w, http.StatusServiceUnavailable, "publishing_disabled", "No event channel is configured")
		return
	}

	var req event.TradeEvent
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	change := req.Change()
	topic := r.URL.Query().Get("topic")

	h.tradeSvc.Dispatch(r.Context(), h.publisher, change, topic)

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Sweep handles POST /api/trades/sweep.
func (h *TradeHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.mapTradeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func buildTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		TradeID:        t.TradeID.String(),
		Version:        t.Version,
		CounterPartyID: t.CounterPartyID,
		BookID:         t.BookID,
		MaturityDate:   t.MaturityDate,
		CreatedDate:    t.CreatedDate,
		Expired:        t.Expired,
	}
}

// mapTradeError maps domain errors to HTTP responses.
func (h *TradeHandler) mapTradeError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidTradeError
	var storeErr *domain.StoreError

	switch {
	case errors.As(err, &invalid):
		WriteError(w, http.StatusBadRequest, "invalid_trade", invalid.Message)
	case errors.Is(err, domain.ErrTradeNotFound):
		WriteError(w, http.StatusNotFound, "trade_not_found", "Trade not found")
	case errors.As(err, &storeErr):
		h.logger.Error("trade store failure", zap.String("op", storeErr.Op), zap.Error(storeErr.Err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	default:
		h.logger.Error("unexpected error", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
