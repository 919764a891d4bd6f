package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
)

// folioAttempts bounds the retry loop for auto-generated folios when two
// receivings race for the same daily sequence number.
const folioAttempts = 3

// ReceivingLineInput is one incoming shipment line
type ReceivingLineInput struct {
	MedicamentoID  string          `json:"medicamento_id" validate:"required,uuid"`
	Lote           string          `json:"lote"`
	Caducidad      string          `json:"caducidad" validate:"required"`
	Cantidad       int             `json:"cantidad" validate:"required,gt=0"`
	PrecioUnitario decimal.Decimal `json:"precio_unitario"`
	PresentacionID *string         `json:"presentacion_id,omitempty" validate:"omitempty,uuid"`
}

// CommitReceivingInput is a full receiving submission
type CommitReceivingInput struct {
	Folio                  string               `json:"folio"`
	Fecha                  string               `json:"fecha" validate:"required"`
	TipoEntrada            string               `json:"tipo_entrada" validate:"required"`
	AlmacenID              string               `json:"almacen_id" validate:"required,uuid"`
	InstitucionID          string               `json:"institucion_id" validate:"required,uuid"`
	FuenteFinanciamientoID *string              `json:"fuente_financiamiento_id,omitempty" validate:"omitempty,uuid"`
	Contrato               *string              `json:"contrato,omitempty"`
	Proceso                *string              `json:"proceso,omitempty"`
	RecibidoPor            *string              `json:"recibido_por,omitempty"`
	Detalles               []ReceivingLineInput `json:"detalles" validate:"required,min=1,dive"`
}

// ReceivingResult reports a committed receiving
type ReceivingResult struct {
	EntradaID  string `json:"entrada_id"`
	Folio      string `json:"folio"`
	Lines      int    `json:"lines"`
	TotalUnits int    `json:"total_units"`
}

// ReceivingService reconciles incoming shipments against the lot ledger
type ReceivingService struct {
	db            *database.DB
	entradas      *repository.EntradaRepository
	medications   *repository.MedicationRepository
	presentations *repository.PresentationRepository
	ledger        *LotLedger
	notifier      *AlertNotifier
	publisher     *events.PharmacyEventPublisher
	logger        *logger.Logger
}

// NewReceivingService creates a new receiving service
func NewReceivingService(
	db *database.DB,
	entradas *repository.EntradaRepository,
	medications *repository.MedicationRepository,
	presentations *repository.PresentationRepository,
	ledger *LotLedger,
	notifier *AlertNotifier,
	publisher *events.PharmacyEventPublisher,
	log *logger.Logger,
) *ReceivingService {
	return &ReceivingService{
		db:            db,
		entradas:      entradas,
		medications:   medications,
		presentations: presentations,
		ledger:        ledger,
		notifier:      notifier,
		publisher:     publisher,
		logger:        log.WithComponent("receiving_service"),
	}
}

// CommitReceiving applies a receiving record atomically: the header and
// every line item commit together or not at all. Box-type presentations
// are converted to atomic units before crediting the ledger. Alerts and
// events fire only after the transaction commits.
func (s *ReceivingService) CommitReceiving(ctx context.Context, in CommitReceivingInput) (*ReceivingResult, error) {
	fecha, err := time.Parse("2006-01-02", in.Fecha)
	if err != nil {
		return nil, errors.Validation(map[string]string{"fecha": "must be a valid date (YYYY-MM-DD)"})
	}

	autoFolio := in.Folio == ""
	attempts := 1
	if autoFolio {
		attempts = folioAttempts
	}

	var (
		result    *ReceivingResult
		triggered []TriggeredAlert
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		triggered = triggered[:0]
		result, err = s.commitOnce(ctx, in, fecha, autoFolio, &triggered)
		if err == nil {
			break
		}

		// Only the race on an auto-generated folio is worth retrying;
		// a user-supplied duplicate folio is a real conflict.
		if autoFolio && errors.Is(err, errors.ErrConflict) && attempt < attempts {
			s.logger.Warn().Int("attempt", attempt).Msg("folio collision, retrying receiving")
			continue
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.notifier.Dispatch(ctx, triggered)
	s.publisher.PublishStockReceived(ctx, messaging.StockReceivedEvent{
		EntradaID:     result.EntradaID,
		Folio:         result.Folio,
		InstitutionID: in.InstitucionID,
		LineCount:     result.Lines,
		TotalUnits:    result.TotalUnits,
		ReceivedBy:    derefOrEmpty(in.RecibidoPor),
	})

	s.logger.Info().
		Str("folio", result.Folio).
		Int("lines", result.Lines).
		Int("total_units", result.TotalUnits).
		Msg("receiving committed")

	return result, nil
}

func (s *ReceivingService) commitOnce(ctx context.Context, in CommitReceivingInput, fecha time.Time, autoFolio bool, triggered *[]TriggeredAlert) (*ReceivingResult, error) {
	var result ReceivingResult

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		folio := in.Folio
		if autoFolio {
			generated, err := s.nextFolio(ctx, tx, in.InstitucionID)
			if err != nil {
				return err
			}
			folio = generated
		}

		header := &repository.Entrada{
			Folio:                  folio,
			Fecha:                  fecha,
			TipoEntrada:            in.TipoEntrada,
			AlmacenID:              in.AlmacenID,
			InstitucionID:          in.InstitucionID,
			FuenteFinanciamientoID: in.FuenteFinanciamientoID,
			Contrato:               in.Contrato,
			Proceso:                in.Proceso,
			RecibidoPor:            in.RecibidoPor,
		}
		if err := s.entradas.InsertHeader(ctx, tx, header); err != nil {
			return err
		}

		totalUnits := 0
		for i, line := range in.Detalles {
			caducidad, err := time.Parse("2006-01-02", line.Caducidad)
			if err != nil {
				return errors.Validation(map[string]string{
					fmt.Sprintf("detalles[%d].caducidad", i): "must be a valid date (YYYY-MM-DD)",
				})
			}

			if _, err := s.medications.GetByIDTx(ctx, tx, line.MedicamentoID); err != nil {
				return err
			}

			units := line.Cantidad
			if line.PresentacionID != nil {
				pres, err := s.presentations.GetByIDTx(ctx, tx, *line.PresentacionID)
				if err != nil {
					return err
				}
				if pres.PiezasPorCaja > 1 {
					units = line.Cantidad * pres.PiezasPorCaja
				}
			}

			lot, _, eval, err := s.ledger.Credit(ctx, tx, line.MedicamentoID, line.Lote, units, caducidad, line.PresentacionID)
			if err != nil {
				return err
			}

			detalle := &repository.DetalleEntrada{
				EntradaID:      header.ID,
				MedicamentoID:  line.MedicamentoID,
				LoteID:         lot.ID,
				LoteCodigo:     line.Lote,
				Caducidad:      caducidad,
				Cantidad:       line.Cantidad,
				PrecioUnitario: line.PrecioUnitario,
				PresentacionID: line.PresentacionID,
			}
			if err := s.entradas.InsertDetail(ctx, tx, detalle); err != nil {
				return err
			}

			if eval.Transition == TransitionTriggered {
				*triggered = append(*triggered, TriggeredAlert{Lot: lot, Eval: eval})
			}
			totalUnits += units
		}

		result = ReceivingResult{
			EntradaID:  header.ID,
			Folio:      folio,
			Lines:      len(in.Detalles),
			TotalUnits: totalUnits,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// nextFolio computes the next ENT-YYYYMMDD-NNNN folio for today scoped
// to one institution. The unique constraint on (folio, institucion_id)
// is the real serialization point; this read only picks a candidate.
func (s *ReceivingService) nextFolio(ctx context.Context, q sqlx.ExtContext, institucionID string) (string, error) {
	prefix := fmt.Sprintf("ENT-%s-", time.Now().Format("20060102"))
	max, err := s.entradas.MaxFolioSequence(ctx, q, institucionID, prefix)
	if err != nil {
		return "", err
	}
	return FormatEntradaFolio(prefix, max+1), nil
}

// FormatEntradaFolio formats a receiving folio from its date prefix and
// sequence number, zero-padding the sequence to 4 digits.
func FormatEntradaFolio(prefix string, seq int) string {
	return fmt.Sprintf("%s%04d", prefix, seq)
}

// GetEntrada returns a receiving record with its line items
func (s *ReceivingService) GetEntrada(ctx context.Context, id string) (*repository.Entrada, []*repository.DetalleEntrada, error) {
	return s.entradas.GetByID(ctx, id)
}

// ListEntradas lists receiving records for an institution
func (s *ReceivingService) ListEntradas(ctx context.Context, institucionID string, page, perPage int) ([]*repository.Entrada, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.entradas.List(ctx, institucionID, page, perPage)
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
