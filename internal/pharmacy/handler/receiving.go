package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// ReceivingHandler handles receiving endpoints
type ReceivingHandler struct {
	receiving *service.ReceivingService
	logger    *logger.Logger
}

// NewReceivingHandler creates a new receiving handler
func NewReceivingHandler(receiving *service.ReceivingService, log *logger.Logger) *ReceivingHandler {
	return &ReceivingHandler{
		receiving: receiving,
		logger:    log,
	}
}

// Commit applies a full receiving submission
func (h *ReceivingHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var in service.CommitReceivingInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}
	if user := httputil.ActingUser(r); user != "" && in.RecibidoPor == nil {
		in.RecibidoPor = &user
	}

	result, err := h.receiving.CommitReceiving(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Get gets a receiving record with its line items
func (h *ReceivingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entrada, detalles, err := h.receiving.GetEntrada(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"entrada":  entrada,
		"detalles": detalles,
	})
}

// List lists receiving records for an institution
func (h *ReceivingHandler) List(w http.ResponseWriter, r *http.Request) {
	institucionID := r.URL.Query().Get("institucion_id")
	if institucionID == "" {
		httputil.Error(w, validationError("institucion_id", "this query parameter is required"))
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	entradas, total, err := h.receiving.ListEntradas(r.Context(), institucionID, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entradas, &httputil.Meta{
		Page:  page,
		Total: total,
	})
}
