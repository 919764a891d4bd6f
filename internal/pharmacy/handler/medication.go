package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// MedicationHandler handles medication catalog endpoints
type MedicationHandler struct {
	registry *service.RegistryService
	ledger   *service.LotLedger
	logger   *logger.Logger
}

// NewMedicationHandler creates a new medication handler
func NewMedicationHandler(registry *service.RegistryService, ledger *service.LotLedger, log *logger.Logger) *MedicationHandler {
	return &MedicationHandler{
		registry: registry,
		ledger:   ledger,
		logger:   log,
	}
}

// Create registers a medication
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateMedicationInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	med, err := h.registry.CreateMedication(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, med)
}

// Get gets a medication by ID
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	med, err := h.registry.GetMedication(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// List lists medications with pagination
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	meds, total, err := h.registry.ListMedications(r.Context(), page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, meds, &httputil.Meta{
		Page:  page,
		Total: total,
	})
}

// Search serves the medication autocomplete
func (h *MedicationHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	meds, err := h.registry.SearchMedications(r.Context(), term, limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, meds)
}

// Update updates a medication's mutable fields
func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.registry.GetMedication(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var med repository.Medication
	if err := httputil.DecodeJSON(r, &med); err != nil {
		httputil.Error(w, err)
		return
	}

	med.ID = id
	med.Clave = existing.Clave
	if err := h.registry.UpdateMedication(r.Context(), &med); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// ListLots lists a medication's lots with expiry classification
func (h *MedicationHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lots, err := h.ledger.ListByMedication(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// SetCPM sets the medication's consumption profile
func (h *MedicationHandler) SetCPM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in service.SetConsumptionProfileInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}
	if user := httputil.ActingUser(r); user != "" && in.ActualizadoPor == nil {
		in.ActualizadoPor = &user
	}

	profile, err := h.registry.SetConsumptionProfile(r.Context(), id, in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, profile)
}

// GetCPM gets the medication's consumption profile
func (h *MedicationHandler) GetCPM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, err := h.registry.GetConsumptionProfile(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, profile)
}
