package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

// Lot represents a medication lot and its on-hand quantity.
// LoteCodigo is stored as the empty string when the supplier did not
// provide a batch identifier, so the (medicamento_id, lote_codigo)
// uniqueness constraint applies to code-less lots too.
type Lot struct {
	ID             string    `db:"id" json:"id"`
	MedicamentoID  string    `db:"medicamento_id" json:"medicamento_id"`
	LoteCodigo     string    `db:"lote_codigo" json:"lote_codigo"`
	Caducidad      time.Time `db:"caducidad" json:"caducidad"`
	Existencia     int       `db:"existencia" json:"existencia"`
	PresentacionID *string   `db:"presentacion_id" json:"presentacion_id,omitempty"`
	CPM            int       `db:"cpm" json:"cpm"`
	AlertaEnviada  bool      `db:"alerta_enviada" json:"alerta_enviada"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// MedicationStock is the aggregated on-hand total for one medication,
// joined with its consumption profile for digest reporting.
type MedicationStock struct {
	MedicamentoID string `db:"medicamento_id" json:"medicamento_id"`
	Clave         string `db:"clave" json:"clave"`
	Descripcion   string `db:"descripcion" json:"descripcion"`
	Existencia    int    `db:"existencia" json:"existencia"`
	CPM           int    `db:"cpm" json:"cpm"`
}

// LotRepository handles lot persistence
type LotRepository struct {
	db *database.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{db: db}
}

// UpsertReceipt credits quantity units to the lot identified by
// (medicationID, lotCode), creating the lot when it does not exist yet.
// The ON CONFLICT clause resolves the race between two concurrent
// receipts for a brand-new lot key: the loser converts to an increment.
// The returned flag reports whether the row was inserted (xmax = 0) or
// incremented. Must run inside the caller's transaction.
func (r *LotRepository) UpsertReceipt(ctx context.Context, q sqlx.ExtContext, medicationID, lotCode string, quantity int, expiry time.Time, presentationID *string) (*Lot, bool, error) {
	if quantity <= 0 {
		return nil, false, errors.Validation(map[string]string{"cantidad": "must be a positive integer"})
	}

	var row struct {
		Lot
		Inserted bool `db:"inserted"`
	}
	query := `
		INSERT INTO lotes (id, medicamento_id, lote_codigo, caducidad, existencia, presentacion_id)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (medicamento_id, lote_codigo) DO UPDATE
		SET existencia = lotes.existencia + EXCLUDED.existencia,
		    updated_at = NOW()
		RETURNING *, (xmax = 0) AS inserted
	`
	err := sqlx.GetContext(ctx, q, &row, query, medicationID, lotCode, expiry, quantity, presentationID)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return nil, false, appErr
		}
		return nil, false, err
	}
	return &row.Lot, row.Inserted, nil
}

// Decrement removes quantity units from a lot. The guarded UPDATE keeps
// the non-negative invariant under concurrent dispensations: when no row
// matches, the lot is re-read under lock to distinguish a missing lot
// from insufficient stock. Must run inside the caller's transaction.
func (r *LotRepository) Decrement(ctx context.Context, q sqlx.ExtContext, lotID string, quantity int) (*Lot, error) {
	if quantity <= 0 {
		return nil, errors.Validation(map[string]string{"cantidad": "must be a positive integer"})
	}

	var lot Lot
	query := `
		UPDATE lotes
		SET existencia = existencia - $2, updated_at = NOW()
		WHERE id = $1 AND existencia >= $2
		RETURNING *
	`
	err := sqlx.GetContext(ctx, q, &lot, query, lotID, quantity)
	if err == nil {
		return &lot, nil
	}
	if err != sql.ErrNoRows {
		if appErr := database.MapPQError(err); appErr != nil {
			return nil, appErr
		}
		return nil, err
	}

	current, err := r.GetForUpdate(ctx, q, lotID)
	if err != nil {
		return nil, err
	}
	return nil, errors.InsufficientStock(current.LoteCodigo, quantity, current.Existencia)
}

// GetForUpdate reads a lot with a row-level lock inside a transaction
func (r *LotRepository) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id string) (*Lot, error) {
	var lot Lot
	query := `SELECT * FROM lotes WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, q, &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// GetByID gets a lot by ID
func (r *LotRepository) GetByID(ctx context.Context, id string) (*Lot, error) {
	var lot Lot
	query := `SELECT * FROM lotes WHERE id = $1`
	if err := r.db.GetContext(ctx, &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// SetAlertLatch persists the low-stock latch for a lot. Runs in the same
// transaction as the ledger mutation that flipped it.
func (r *LotRepository) SetAlertLatch(ctx context.Context, q sqlx.ExtContext, lotID string, latched bool) error {
	query := `UPDATE lotes SET alerta_enviada = $2, updated_at = NOW() WHERE id = $1`
	result, err := q.ExecContext(ctx, query, lotID, latched)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("lot")
	}
	return nil
}

// ListByMedication lists lots for a medication, soonest expiry first
func (r *LotRepository) ListByMedication(ctx context.Context, medicationID string) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM lotes
		WHERE medicamento_id = $1
		ORDER BY caducidad, lote_codigo
	`
	if err := r.db.SelectContext(ctx, &lots, query, medicationID); err != nil {
		return nil, err
	}
	return lots, nil
}

// SearchAvailable lists lots with stock on hand whose medication matches
// the search term by clave or description. Used by the dispensing form.
func (r *LotRepository) SearchAvailable(ctx context.Context, term string, limit int) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT l.* FROM lotes l
		JOIN medicamentos m ON m.id = l.medicamento_id
		WHERE l.existencia > 0
		AND (m.clave ILIKE '%' || $1 || '%' OR m.descripcion ILIKE '%' || $1 || '%')
		ORDER BY m.clave, l.caducidad
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &lots, query, term, limit); err != nil {
		return nil, err
	}
	return lots, nil
}

// TotalsByMedication aggregates existencia per medication joined with the
// medication-level consumption profile. Medications without a profile
// report CPM 0 and are skipped by the digest.
func (r *LotRepository) TotalsByMedication(ctx context.Context) ([]*MedicationStock, error) {
	var totals []*MedicationStock
	query := `
		SELECT m.id AS medicamento_id, m.clave, m.descripcion,
		       COALESCE(SUM(l.existencia), 0) AS existencia,
		       COALESCE(p.cpm, 0) AS cpm
		FROM medicamentos m
		LEFT JOIN lotes l ON l.medicamento_id = m.id
		LEFT JOIN perfiles_consumo p ON p.medicamento_id = m.id
		WHERE m.activo = true
		GROUP BY m.id, m.clave, m.descripcion, p.cpm
		ORDER BY m.clave
	`
	if err := r.db.SelectContext(ctx, &totals, query); err != nil {
		return nil, err
	}
	return totals, nil
}

// TotalForMedication sums existencia across all lots of one medication
func (r *LotRepository) TotalForMedication(ctx context.Context, q sqlx.ExtContext, medicationID string) (int, error) {
	var total sql.NullInt64
	query := `SELECT SUM(existencia) FROM lotes WHERE medicamento_id = $1`
	if err := sqlx.GetContext(ctx, q, &total, query, medicationID); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// GetExpiring lists lots with stock expiring within the given days
func (r *LotRepository) GetExpiring(ctx context.Context, withinDays int) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM lotes
		WHERE existencia > 0
		AND caducidad <= NOW() + INTERVAL '1 day' * $1
		ORDER BY caducidad
	`
	if err := r.db.SelectContext(ctx, &lots, query, withinDays); err != nil {
		return nil, err
	}
	return lots, nil
}

// Delete removes a lot. Only empty lots may be deleted.
func (r *LotRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM lotes WHERE id = $1 AND existencia = 0`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return errors.Conflict("lot still has stock on hand")
}
