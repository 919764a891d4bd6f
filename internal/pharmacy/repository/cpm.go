package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

// ConsumptionProfile holds the agreed average monthly consumption (CPM)
// for a medication. One row per medication; this value, not the legacy
// per-lot cpm column, drives low-stock alerting.
type ConsumptionProfile struct {
	MedicamentoID  string    `db:"medicamento_id" json:"medicamento_id"`
	CPM            int       `db:"cpm" json:"cpm"`
	ActualizadoPor *string   `db:"actualizado_por" json:"actualizado_por,omitempty"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ConsumptionProfileRepository handles consumption profile persistence
type ConsumptionProfileRepository struct {
	db *database.DB
}

// NewConsumptionProfileRepository creates a new consumption profile repository
func NewConsumptionProfileRepository(db *database.DB) *ConsumptionProfileRepository {
	return &ConsumptionProfileRepository{db: db}
}

// Upsert creates or replaces the profile for a medication
func (r *ConsumptionProfileRepository) Upsert(ctx context.Context, p *ConsumptionProfile) error {
	query := `
		INSERT INTO perfiles_consumo (medicamento_id, cpm, actualizado_por)
		VALUES ($1, $2, $3)
		ON CONFLICT (medicamento_id) DO UPDATE
		SET cpm = EXCLUDED.cpm,
		    actualizado_por = EXCLUDED.actualizado_por,
		    updated_at = NOW()
		RETURNING updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, p.MedicamentoID, p.CPM, p.ActualizadoPor).
		Scan(&p.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByMedication gets the profile for a medication
func (r *ConsumptionProfileRepository) GetByMedication(ctx context.Context, medicationID string) (*ConsumptionProfile, error) {
	var p ConsumptionProfile
	query := `SELECT * FROM perfiles_consumo WHERE medicamento_id = $1`
	if err := r.db.GetContext(ctx, &p, query, medicationID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("consumption profile")
		}
		return nil, err
	}
	return &p, nil
}

// GetCPM returns the medication-level CPM, 0 when no profile exists.
// Callable inside a transaction so alert evaluation sees committed state.
func (r *ConsumptionProfileRepository) GetCPM(ctx context.Context, q sqlx.ExtContext, medicationID string) (int, error) {
	var cpm int
	query := `SELECT cpm FROM perfiles_consumo WHERE medicamento_id = $1`
	if err := sqlx.GetContext(ctx, q, &cpm, query, medicationID); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return cpm, nil
}

// List lists all profiles
func (r *ConsumptionProfileRepository) List(ctx context.Context) ([]*ConsumptionProfile, error) {
	var profiles []*ConsumptionProfile
	query := `SELECT * FROM perfiles_consumo ORDER BY medicamento_id`
	if err := r.db.SelectContext(ctx, &profiles, query); err != nil {
		return nil, err
	}
	return profiles, nil
}
