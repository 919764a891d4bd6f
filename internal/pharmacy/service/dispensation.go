package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
)

// PatientInput identifies the patient receiving the dispensation
type PatientInput struct {
	Nombre          string `json:"nombre" validate:"required"`
	FechaNacimiento string `json:"fecha_nacimiento" validate:"required"`
	CURP            string `json:"curp"`
}

// DispensationLineInput requests quantity units from one specific lot
type DispensationLineInput struct {
	LoteID   string `json:"lote_id" validate:"required,uuid"`
	Cantidad int    `json:"cantidad" validate:"required,gt=0"`
}

// CommitDispensationInput is a full dispensation request
type CommitDispensationInput struct {
	Paciente   PatientInput            `json:"paciente" validate:"required"`
	Origen     string                  `json:"origen" validate:"required"`
	Folio      string                  `json:"folio"`
	SurtidoPor *string                 `json:"surtido_por,omitempty"`
	Lineas     []DispensationLineInput `json:"lineas" validate:"required,min=1,dive"`
}

// DispensationResult reports a committed dispensation
type DispensationResult struct {
	RecetaID   string `json:"receta_id"`
	Folio      string `json:"folio"`
	PacienteID string `json:"paciente_id"`
	Lines      int    `json:"lines"`
	TotalUnits int    `json:"total_units"`
}

// DispensationService processes prescription dispensations. Every line
// is validated against locked stock before any decrement, so a failing
// line leaves no side effects at all.
type DispensationService struct {
	db        *database.DB
	patients  *repository.PatientRepository
	recetas   *repository.RecetaRepository
	lots      *repository.LotRepository
	ledger    *LotLedger
	notifier  *AlertNotifier
	publisher *events.PharmacyEventPublisher
	logger    *logger.Logger
}

// NewDispensationService creates a new dispensation service
func NewDispensationService(
	db *database.DB,
	patients *repository.PatientRepository,
	recetas *repository.RecetaRepository,
	lots *repository.LotRepository,
	ledger *LotLedger,
	notifier *AlertNotifier,
	publisher *events.PharmacyEventPublisher,
	log *logger.Logger,
) *DispensationService {
	return &DispensationService{
		db:        db,
		patients:  patients,
		recetas:   recetas,
		lots:      lots,
		ledger:    ledger,
		notifier:  notifier,
		publisher: publisher,
		logger:    log.WithComponent("dispensation_service"),
	}
}

// CommitDispensation resolves the patient, validates every requested
// line against locked lot rows, and only then records the dispensation
// and decrements stock, all in one transaction.
func (s *DispensationService) CommitDispensation(ctx context.Context, in CommitDispensationInput) (*DispensationResult, error) {
	fechaNacimiento, err := time.Parse("2006-01-02", in.Paciente.FechaNacimiento)
	if err != nil {
		return nil, errors.Validation(map[string]string{"paciente.fecha_nacimiento": "must be a valid date (YYYY-MM-DD)"})
	}

	curp := strings.ToUpper(strings.TrimSpace(in.Paciente.CURP))

	var (
		result    DispensationResult
		triggered []TriggeredAlert
		depleted  []*repository.Lot
	)

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		patient, err := s.resolvePatient(ctx, tx, curp, in.Paciente.Nombre, fechaNacimiento)
		if err != nil {
			return err
		}

		// Lock lots in a stable order so two dispensations touching the
		// same lots cannot deadlock each other.
		lockOrder := make([]DispensationLineInput, len(in.Lineas))
		copy(lockOrder, in.Lineas)
		sort.Slice(lockOrder, func(i, j int) bool { return lockOrder[i].LoteID < lockOrder[j].LoteID })

		for _, line := range lockOrder {
			lot, err := s.lots.GetForUpdate(ctx, tx, line.LoteID)
			if err != nil {
				return err
			}
			if line.Cantidad > lot.Existencia {
				return errors.InsufficientStock(lot.LoteCodigo, line.Cantidad, lot.Existencia)
			}
		}

		folio := in.Folio
		if folio == "" {
			folio = FormatSalidaFolio(patient.ID, time.Now())
		}

		receta := &repository.Receta{
			Folio:      folio,
			PacienteID: patient.ID,
			Origen:     in.Origen,
			Estatus:    repository.RecetaStatusComplete,
			SurtidoPor: in.SurtidoPor,
		}
		if err := s.recetas.InsertHeader(ctx, tx, receta); err != nil {
			return err
		}

		totalUnits := 0
		for _, line := range in.Lineas {
			record := &repository.RecetaMedicamento{
				RecetaID:           receta.ID,
				LoteID:             line.LoteID,
				CantidadSolicitada: line.Cantidad,
				CantidadSurtida:    line.Cantidad,
			}
			if err := s.recetas.InsertLine(ctx, tx, record); err != nil {
				return err
			}

			lot, eval, err := s.ledger.Debit(ctx, tx, line.LoteID, line.Cantidad)
			if err != nil {
				return err
			}
			if eval.Transition == TransitionTriggered {
				triggered = append(triggered, TriggeredAlert{Lot: lot, Eval: eval})
			}
			if lot.Existencia == 0 {
				depleted = append(depleted, lot)
			}
			totalUnits += line.Cantidad
		}

		result = DispensationResult{
			RecetaID:   receta.ID,
			Folio:      folio,
			PacienteID: patient.ID,
			Lines:      len(in.Lineas),
			TotalUnits: totalUnits,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Dispatch(ctx, triggered)
	s.publisher.PublishStockDispensed(ctx, messaging.StockDispensedEvent{
		RecetaID:   result.RecetaID,
		Folio:      result.Folio,
		PatientID:  result.PacienteID,
		LineCount:  result.Lines,
		TotalUnits: result.TotalUnits,
	})
	for _, lot := range depleted {
		s.publisher.PublishLotDepleted(ctx, messaging.LotDepletedEvent{
			LotID:        lot.ID,
			MedicationID: lot.MedicamentoID,
			LotCode:      lot.LoteCodigo,
		})
	}

	s.logger.Info().
		Str("folio", result.Folio).
		Str("paciente_id", result.PacienteID).
		Int("lines", result.Lines).
		Msg("dispensation committed")

	return &result, nil
}

// resolvePatient applies the dual identity rule: CURP wins when present
// and refreshes the stored name and birthdate; otherwise the exact
// (name, birthdate) pair finds or creates a CURP-less record.
func (s *DispensationService) resolvePatient(ctx context.Context, tx *sqlx.Tx, curp, nombre string, fechaNacimiento time.Time) (*repository.Patient, error) {
	if curp != "" {
		return s.patients.UpsertByCURP(ctx, tx, curp, nombre, fechaNacimiento)
	}

	patient, err := s.patients.FindByNameAndBirthdate(ctx, tx, nombre, fechaNacimiento)
	if err == nil {
		return patient, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	patient = &repository.Patient{
		Nombre:          nombre,
		FechaNacimiento: fechaNacimiento,
	}
	if err := s.patients.Create(ctx, tx, patient); err != nil {
		return nil, err
	}
	return patient, nil
}

// FormatSalidaFolio formats the auto-generated dispensation folio
func FormatSalidaFolio(patientID string, now time.Time) string {
	return fmt.Sprintf("SAL-MULTI-%s-%d", patientID, now.Unix())
}

// GetDispensation returns a dispensation with its lines
func (s *DispensationService) GetDispensation(ctx context.Context, id string) (*repository.Receta, []*repository.RecetaMedicamento, error) {
	return s.recetas.GetByID(ctx, id)
}

// ListByPatient lists a patient's dispensations
func (s *DispensationService) ListByPatient(ctx context.Context, pacienteID string) ([]*repository.Receta, error) {
	return s.recetas.ListByPatient(ctx, pacienteID)
}
