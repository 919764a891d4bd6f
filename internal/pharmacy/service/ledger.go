package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// Expiry classifications for lot listings
const (
	ExpiryRed    = "rojo"
	ExpiryYellow = "amarillo"
	ExpiryGreen  = "verde"
)

// LotWithExpiry is a lot annotated with its expiry classification
type LotWithExpiry struct {
	*repository.Lot
	ExpiryStatus string `json:"expiry_status"`
	DaysToExpiry int    `json:"days_to_expiry"`
}

// LotLedger owns the existencia invariant. Every stock mutation goes
// through Credit or Debit, and each mutation re-evaluates the low-stock
// latch before the surrounding transaction commits.
type LotLedger struct {
	db      *database.DB
	lots    *repository.LotRepository
	monitor *StockMonitor
	logger  *logger.Logger
}

// NewLotLedger creates a new lot ledger
func NewLotLedger(db *database.DB, lots *repository.LotRepository, monitor *StockMonitor, log *logger.Logger) *LotLedger {
	return &LotLedger{
		db:      db,
		lots:    lots,
		monitor: monitor,
		logger:  log.WithComponent("lot_ledger"),
	}
}

// Credit applies a receipt to the (medication, lot code) key inside the
// caller's transaction, creating the lot on first receipt. Returns the
// lot after the mutation, whether the lot was created by this credit,
// and the latch evaluation.
func (l *LotLedger) Credit(ctx context.Context, q sqlx.ExtContext, medicationID, lotCode string, quantity int, expiry time.Time, presentationID *string) (*repository.Lot, bool, *AlertEvaluation, error) {
	lot, created, err := l.lots.UpsertReceipt(ctx, q, medicationID, lotCode, quantity, expiry, presentationID)
	if err != nil {
		return nil, false, nil, err
	}

	eval, err := l.monitor.Evaluate(ctx, q, lot)
	if err != nil {
		return nil, false, nil, err
	}
	return lot, created, eval, nil
}

// Debit removes stock from a lot inside the caller's transaction. Fails
// with an insufficient-stock error when the lot cannot cover the
// quantity; the guarded update keeps existencia non-negative under
// concurrent dispensations.
func (l *LotLedger) Debit(ctx context.Context, q sqlx.ExtContext, lotID string, quantity int) (*repository.Lot, *AlertEvaluation, error) {
	lot, err := l.lots.Decrement(ctx, q, lotID, quantity)
	if err != nil {
		return nil, nil, err
	}

	eval, err := l.monitor.Evaluate(ctx, q, lot)
	if err != nil {
		return nil, nil, err
	}
	return lot, eval, nil
}

// ManualAdjustInput is a direct stock correction from the entry form
type ManualAdjustInput struct {
	MedicationID   string  `json:"medicamento_id" validate:"required,uuid"`
	LotCode        string  `json:"lote"`
	Quantity       int     `json:"cantidad" validate:"required,gt=0"`
	Expiry         string  `json:"caducidad" validate:"required"`
	PresentationID *string `json:"presentacion_id,omitempty"`
}

// ManualReceipt credits stock from the manual entry form in its own
// transaction and returns any triggered alert for dispatch.
func (l *LotLedger) ManualReceipt(ctx context.Context, in ManualAdjustInput) (*repository.Lot, []TriggeredAlert, error) {
	expiry, err := time.Parse("2006-01-02", in.Expiry)
	if err != nil {
		return nil, nil, errors.Validation(map[string]string{"caducidad": "must be a valid date (YYYY-MM-DD)"})
	}
	if !expiry.After(time.Now().Truncate(24 * time.Hour)) {
		return nil, nil, errors.Validation(map[string]string{"caducidad": "must be a future date"})
	}

	var (
		lot       *repository.Lot
		triggered []TriggeredAlert
	)
	err = l.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var eval *AlertEvaluation
		var txErr error
		lot, _, eval, txErr = l.Credit(ctx, tx, in.MedicationID, in.LotCode, in.Quantity, expiry, in.PresentationID)
		if txErr != nil {
			return txErr
		}
		if eval.Transition == TransitionTriggered {
			triggered = append(triggered, TriggeredAlert{Lot: lot, Eval: eval})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	l.logger.Info().
		Str("medicamento_id", in.MedicationID).
		Str("lote", in.LotCode).
		Int("cantidad", in.Quantity).
		Msg("manual receipt applied")

	return lot, triggered, nil
}

// GetLot gets a lot by ID
func (l *LotLedger) GetLot(ctx context.Context, id string) (*repository.Lot, error) {
	return l.lots.GetByID(ctx, id)
}

// ListByMedication lists a medication's lots with expiry classification
func (l *LotLedger) ListByMedication(ctx context.Context, medicationID string) ([]*LotWithExpiry, error) {
	lots, err := l.lots.ListByMedication(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	return classifyLots(lots, time.Now()), nil
}

// SearchAvailable lists in-stock lots matching a search term
func (l *LotLedger) SearchAvailable(ctx context.Context, term string, limit int) ([]*LotWithExpiry, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	lots, err := l.lots.SearchAvailable(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	return classifyLots(lots, time.Now()), nil
}

// GetExpiring lists lots with stock expiring within the given days
func (l *LotLedger) GetExpiring(ctx context.Context, withinDays int) ([]*LotWithExpiry, error) {
	if withinDays <= 0 {
		withinDays = 180
	}
	lots, err := l.lots.GetExpiring(ctx, withinDays)
	if err != nil {
		return nil, err
	}
	return classifyLots(lots, time.Now()), nil
}

// DeleteEmpty removes a lot; only lots with zero stock may be deleted
func (l *LotLedger) DeleteEmpty(ctx context.Context, id string) error {
	return l.lots.Delete(ctx, id)
}

func classifyLots(lots []*repository.Lot, now time.Time) []*LotWithExpiry {
	out := make([]*LotWithExpiry, 0, len(lots))
	for _, lot := range lots {
		days := int(lot.Caducidad.Sub(now).Hours() / 24)
		out = append(out, &LotWithExpiry{
			Lot:          lot,
			ExpiryStatus: ClassifyExpiry(lot.Caducidad, now),
			DaysToExpiry: days,
		})
	}
	return out
}

// ClassifyExpiry buckets an expiry date: red within 180 days, yellow
// within a year, green beyond.
func ClassifyExpiry(caducidad, now time.Time) string {
	days := caducidad.Sub(now).Hours() / 24
	switch {
	case days <= 180:
		return ExpiryRed
	case days <= 365:
		return ExpiryYellow
	default:
		return ExpiryGreen
	}
}
