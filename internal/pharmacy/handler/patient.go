package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// PatientHandler handles patient lookup endpoints. Patients are created
// through the dispensation path, never directly.
type PatientHandler struct {
	registry *service.RegistryService
	logger   *logger.Logger
}

// NewPatientHandler creates a new patient handler
func NewPatientHandler(registry *service.RegistryService, log *logger.Logger) *PatientHandler {
	return &PatientHandler{
		registry: registry,
		logger:   log,
	}
}

// Get gets a patient by ID
func (h *PatientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	patient, err := h.registry.GetPatient(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, patient)
}

// GetByCURP looks up a patient by CURP
func (h *PatientHandler) GetByCURP(w http.ResponseWriter, r *http.Request) {
	curp := chi.URLParam(r, "curp")

	patient, err := h.registry.FindPatientByCURP(r.Context(), curp)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, patient)
}

// Search lists patients matching a name fragment
func (h *PatientHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	patients, err := h.registry.SearchPatients(r.Context(), term, limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, patients)
}
