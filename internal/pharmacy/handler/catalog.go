package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// CatalogHandler serves the simple named catalogs (warehouses,
// institutions, financing sources, suppliers) plus presentations.
type CatalogHandler struct {
	registry *service.RegistryService
	logger   *logger.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(registry *service.RegistryService, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{
		registry: registry,
		logger:   log,
	}
}

func (h *CatalogHandler) catalog(r *http.Request) (*repository.CatalogRepository, error) {
	return h.registry.Catalog(chi.URLParam(r, "catalog"))
}

// List lists active entries of one catalog
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	repo, err := h.catalog(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	entries, err := repo.List(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// Create creates a catalog entry
func (h *CatalogHandler) Create(w http.ResponseWriter, r *http.Request) {
	repo, err := h.catalog(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var entry struct {
		Nombre string `json:"nombre" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &entry); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&entry); err != nil {
		httputil.Error(w, err)
		return
	}

	record := &repository.CatalogEntry{Nombre: entry.Nombre, Activo: true}
	if err := repo.Create(r.Context(), record); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, record)
}

// Get gets a catalog entry by ID
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	repo, err := h.catalog(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	entry, err := repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entry)
}

// Update updates a catalog entry
func (h *CatalogHandler) Update(w http.ResponseWriter, r *http.Request) {
	repo, err := h.catalog(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var entry repository.CatalogEntry
	if err := httputil.DecodeJSON(r, &entry); err != nil {
		httputil.Error(w, err)
		return
	}

	entry.ID = chi.URLParam(r, "id")
	if err := repo.Update(r.Context(), &entry); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entry)
}

// Delete deactivates a catalog entry
func (h *CatalogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	repo, err := h.catalog(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if err := repo.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// ListPresentations lists active presentations
func (h *CatalogHandler) ListPresentations(w http.ResponseWriter, r *http.Request) {
	presentations, err := h.registry.ListPresentations(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, presentations)
}

// CreatePresentation creates a presentation
func (h *CatalogHandler) CreatePresentation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Nombre        string `json:"nombre" validate:"required"`
		PiezasPorCaja int    `json:"piezas_por_caja" validate:"required,gt=0"`
	}
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	p := &repository.Presentation{Nombre: in.Nombre, PiezasPorCaja: in.PiezasPorCaja}
	if err := h.registry.CreatePresentation(r.Context(), p); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, p)
}

// DeletePresentation deactivates a presentation
func (h *CatalogHandler) DeletePresentation(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeactivatePresentation(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
