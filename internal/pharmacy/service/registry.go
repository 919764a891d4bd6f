package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// CreateMedicationInput is a manual catalog registration
type CreateMedicationInput struct {
	Clave          string          `json:"clave" validate:"required,min=5"`
	Descripcion    string          `json:"descripcion" validate:"required,min=5"`
	Precio         decimal.Decimal `json:"precio"`
	CodigoBarras   *string         `json:"codigo_barras,omitempty"`
	ProveedorID    *string         `json:"proveedor_id,omitempty" validate:"omitempty,uuid"`
	PresentacionID *string         `json:"presentacion_id,omitempty" validate:"omitempty,uuid"`
}

// SetConsumptionProfileInput sets the monthly consumption for a medication
type SetConsumptionProfileInput struct {
	CPM            int     `json:"cpm" validate:"min=0"`
	ActualizadoPor *string `json:"actualizado_por,omitempty"`
}

// RegistryService covers the catalog surfaces around the ledger:
// medications, presentations, consumption profiles, patients, and the
// simple named catalogs.
type RegistryService struct {
	medications   *repository.MedicationRepository
	presentations *repository.PresentationRepository
	profiles      *repository.ConsumptionProfileRepository
	patients      *repository.PatientRepository
	alerts        *repository.AlertLogRepository
	catalogs      map[string]*repository.CatalogRepository
	logger        *logger.Logger
}

// NewRegistryService creates a new registry service
func NewRegistryService(
	medications *repository.MedicationRepository,
	presentations *repository.PresentationRepository,
	profiles *repository.ConsumptionProfileRepository,
	patients *repository.PatientRepository,
	alerts *repository.AlertLogRepository,
	catalogs map[string]*repository.CatalogRepository,
	log *logger.Logger,
) *RegistryService {
	return &RegistryService{
		medications:   medications,
		presentations: presentations,
		profiles:      profiles,
		patients:      patients,
		alerts:        alerts,
		catalogs:      catalogs,
		logger:        log.WithComponent("registry_service"),
	}
}

// CreateMedication registers a medication. The clave is normalized the
// same way the bulk import normalizes it, and is immutable afterwards.
func (s *RegistryService) CreateMedication(ctx context.Context, in CreateMedicationInput) (*repository.Medication, error) {
	med := &repository.Medication{
		Clave:          NormalizeClave(in.Clave),
		Descripcion:    in.Descripcion,
		Precio:         in.Precio,
		CodigoBarras:   in.CodigoBarras,
		ProveedorID:    in.ProveedorID,
		PresentacionID: in.PresentacionID,
		Activo:         true,
	}
	if err := s.medications.Create(ctx, med); err != nil {
		return nil, err
	}

	s.logger.Info().Str("clave", med.Clave).Msg("medication registered")
	return med, nil
}

// GetMedication gets a medication by ID
func (s *RegistryService) GetMedication(ctx context.Context, id string) (*repository.Medication, error) {
	return s.medications.GetByID(ctx, id)
}

// GetMedicationByClave gets a medication by its code
func (s *RegistryService) GetMedicationByClave(ctx context.Context, clave string) (*repository.Medication, error) {
	return s.medications.GetByClave(ctx, NormalizeClave(clave))
}

// SearchMedications serves the autocomplete on clave and description
func (s *RegistryService) SearchMedications(ctx context.Context, term string, limit int) ([]*repository.Medication, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.medications.Search(ctx, term, limit)
}

// ListMedications lists medications with pagination
func (s *RegistryService) ListMedications(ctx context.Context, page, perPage int) ([]*repository.Medication, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.medications.List(ctx, page, perPage)
}

// UpdateMedication updates a medication's mutable fields
func (s *RegistryService) UpdateMedication(ctx context.Context, med *repository.Medication) error {
	return s.medications.Update(ctx, med)
}

// SetConsumptionProfile sets the medication-level CPM used for alerting
func (s *RegistryService) SetConsumptionProfile(ctx context.Context, medicationID string, in SetConsumptionProfileInput) (*repository.ConsumptionProfile, error) {
	if _, err := s.medications.GetByID(ctx, medicationID); err != nil {
		return nil, err
	}

	profile := &repository.ConsumptionProfile{
		MedicamentoID:  medicationID,
		CPM:            in.CPM,
		ActualizadoPor: in.ActualizadoPor,
	}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medicamento_id", medicationID).
		Int("cpm", in.CPM).
		Msg("consumption profile updated")
	return profile, nil
}

// GetConsumptionProfile gets the CPM profile for a medication
func (s *RegistryService) GetConsumptionProfile(ctx context.Context, medicationID string) (*repository.ConsumptionProfile, error) {
	return s.profiles.GetByMedication(ctx, medicationID)
}

// ListPresentations lists active presentations
func (s *RegistryService) ListPresentations(ctx context.Context) ([]*repository.Presentation, error) {
	return s.presentations.List(ctx)
}

// CreatePresentation creates a presentation
func (s *RegistryService) CreatePresentation(ctx context.Context, p *repository.Presentation) error {
	if p.PiezasPorCaja < 1 {
		return errors.Validation(map[string]string{"piezas_por_caja": "must be at least 1"})
	}
	p.Activo = true
	return s.presentations.Create(ctx, p)
}

// DeactivatePresentation soft-deletes a presentation
func (s *RegistryService) DeactivatePresentation(ctx context.Context, id string) error {
	return s.presentations.Deactivate(ctx, id)
}

// GetPatient gets a patient by ID
func (s *RegistryService) GetPatient(ctx context.Context, id string) (*repository.Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// FindPatientByCURP looks up a patient by CURP
func (s *RegistryService) FindPatientByCURP(ctx context.Context, curp string) (*repository.Patient, error) {
	return s.patients.GetByCURP(ctx, curp)
}

// SearchPatients lists patients matching a name fragment
func (s *RegistryService) SearchPatients(ctx context.Context, term string, limit int) ([]*repository.Patient, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.patients.SearchByName(ctx, term, limit)
}

// ListAlerts lists recent alert log entries
func (s *RegistryService) ListAlerts(ctx context.Context, limit int) ([]*repository.AlertLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.alerts.List(ctx, limit)
}

// Catalog returns the repository for one named catalog
func (s *RegistryService) Catalog(name string) (*repository.CatalogRepository, error) {
	repo, ok := s.catalogs[name]
	if !ok {
		return nil, errors.NotFound("catalog")
	}
	return repo, nil
}
