package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/farmatrack/farmatrack-backend/pkg/database"
)

// Alert types
const (
	AlertTypeLowStock = "stock_bajo"
	AlertTypeDigest   = "resumen"
)

// AlertLog records a dispatched low-stock alert for audit purposes
type AlertLog struct {
	ID            string    `db:"id" json:"id"`
	MedicamentoID string    `db:"medicamento_id" json:"medicamento_id"`
	LoteID        *string   `db:"lote_id" json:"lote_id,omitempty"`
	Tipo          string    `db:"tipo" json:"tipo"`
	Mensaje       string    `db:"mensaje" json:"mensaje"`
	Existencia    int       `db:"existencia" json:"existencia"`
	CPM           int       `db:"cpm" json:"cpm"`
	Umbral        int       `db:"umbral" json:"umbral"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// AlertLogRepository handles alert log persistence
type AlertLogRepository struct {
	db *database.DB
}

// NewAlertLogRepository creates a new alert log repository
func NewAlertLogRepository(db *database.DB) *AlertLogRepository {
	return &AlertLogRepository{db: db}
}

// Insert records a dispatched alert. Runs outside the ledger transaction:
// the alert is only logged once the stock change has committed.
func (r *AlertLogRepository) Insert(ctx context.Context, a *AlertLog) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO alertas (id, medicamento_id, lote_id, tipo, mensaje, existencia, cpm, umbral)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.QueryRowxContext(ctx, query,
		a.ID, a.MedicamentoID, a.LoteID, a.Tipo, a.Mensaje,
		a.Existencia, a.CPM, a.Umbral,
	).Scan(&a.CreatedAt)
}

// List lists recent alerts, newest first
func (r *AlertLogRepository) List(ctx context.Context, limit int) ([]*AlertLog, error) {
	var alerts []*AlertLog
	query := `SELECT * FROM alertas ORDER BY created_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &alerts, query, limit); err != nil {
		return nil, err
	}
	return alerts, nil
}

// ListByMedication lists alerts for one medication, newest first
func (r *AlertLogRepository) ListByMedication(ctx context.Context, medicationID string, limit int) ([]*AlertLog, error) {
	var alerts []*AlertLog
	query := `
		SELECT * FROM alertas
		WHERE medicamento_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &alerts, query, medicationID, limit); err != nil {
		return nil, err
	}
	return alerts, nil
}
