package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// DispensationHandler handles dispensation endpoints
type DispensationHandler struct {
	dispensation *service.DispensationService
	logger       *logger.Logger
}

// NewDispensationHandler creates a new dispensation handler
func NewDispensationHandler(dispensation *service.DispensationService, log *logger.Logger) *DispensationHandler {
	return &DispensationHandler{
		dispensation: dispensation,
		logger:       log,
	}
}

// Commit processes a dispensation request
func (h *DispensationHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var in service.CommitDispensationInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}
	if user := httputil.ActingUser(r); user != "" && in.SurtidoPor == nil {
		in.SurtidoPor = &user
	}

	result, err := h.dispensation.CommitDispensation(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Get gets a dispensation with its lines
func (h *DispensationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	receta, lineas, err := h.dispensation.GetDispensation(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"receta": receta,
		"lineas": lineas,
	})
}

// ListByPatient lists a patient's dispensations
func (h *DispensationHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	pacienteID := chi.URLParam(r, "id")

	recetas, err := h.dispensation.ListByPatient(r.Context(), pacienteID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, recetas)
}
