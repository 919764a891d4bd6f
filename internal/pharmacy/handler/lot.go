package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// LotHandler handles lot endpoints
type LotHandler struct {
	ledger   *service.LotLedger
	notifier *service.AlertNotifier
	logger   *logger.Logger
}

// NewLotHandler creates a new lot handler
func NewLotHandler(ledger *service.LotLedger, notifier *service.AlertNotifier, log *logger.Logger) *LotHandler {
	return &LotHandler{
		ledger:   ledger,
		notifier: notifier,
		logger:   log,
	}
}

// Get gets a lot by ID
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lot, err := h.ledger.GetLot(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// SearchAvailable lists in-stock lots for the dispensing form
func (h *LotHandler) SearchAvailable(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	lots, err := h.ledger.SearchAvailable(r.Context(), term, limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// GetExpiring lists lots with stock expiring soon
func (h *LotHandler) GetExpiring(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	lots, err := h.ledger.GetExpiring(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// ManualReceipt credits stock from the manual entry form
func (h *LotHandler) ManualReceipt(w http.ResponseWriter, r *http.Request) {
	var in service.ManualAdjustInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, triggered, err := h.ledger.ManualReceipt(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	h.notifier.Dispatch(r.Context(), triggered)

	httputil.Created(w, lot)
}

// Delete removes an empty lot
func (h *LotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.ledger.DeleteEmpty(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
