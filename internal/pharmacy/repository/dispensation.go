package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

// Dispensation statuses
const (
	RecetaStatusComplete    = "completa"
	RecetaStatusPartial     = "parcial"
	RecetaStatusUnfulfilled = "no_surtida"
)

// Receta is a dispensation header
type Receta struct {
	ID         string    `db:"id" json:"id"`
	Folio      string    `db:"folio" json:"folio"`
	PacienteID string    `db:"paciente_id" json:"paciente_id"`
	Origen     string    `db:"origen" json:"origen"`
	Estatus    string    `db:"estatus" json:"estatus"`
	SurtidoPor *string   `db:"surtido_por" json:"surtido_por,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RecetaMedicamento is one dispensed line referencing the lot it drew from
type RecetaMedicamento struct {
	ID                 string    `db:"id" json:"id"`
	RecetaID           string    `db:"receta_id" json:"receta_id"`
	LoteID             string    `db:"lote_id" json:"lote_id"`
	CantidadSolicitada int       `db:"cantidad_solicitada" json:"cantidad_solicitada"`
	CantidadSurtida    int       `db:"cantidad_surtida" json:"cantidad_surtida"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// RecetaRepository handles dispensation persistence
type RecetaRepository struct {
	db *database.DB
}

// NewRecetaRepository creates a new receta repository
func NewRecetaRepository(db *database.DB) *RecetaRepository {
	return &RecetaRepository{db: db}
}

// InsertHeader inserts a dispensation header inside the caller's transaction
func (r *RecetaRepository) InsertHeader(ctx context.Context, q sqlx.ExtContext, receta *Receta) error {
	if receta.ID == "" {
		receta.ID = uuid.New().String()
	}

	query := `
		INSERT INTO recetas (id, folio, paciente_id, origen, estatus, surtido_por)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := q.QueryRowxContext(ctx, query,
		receta.ID, receta.Folio, receta.PacienteID, receta.Origen,
		receta.Estatus, receta.SurtidoPor,
	).Scan(&receta.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// InsertLine inserts a dispensation line inside the caller's transaction
func (r *RecetaRepository) InsertLine(ctx context.Context, q sqlx.ExtContext, line *RecetaMedicamento) error {
	if line.ID == "" {
		line.ID = uuid.New().String()
	}

	query := `
		INSERT INTO recetas_medicamentos (
			id, receta_id, lote_id, cantidad_solicitada, cantidad_surtida
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := q.QueryRowxContext(ctx, query,
		line.ID, line.RecetaID, line.LoteID,
		line.CantidadSolicitada, line.CantidadSurtida,
	).Scan(&line.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a dispensation with its lines
func (r *RecetaRepository) GetByID(ctx context.Context, id string) (*Receta, []*RecetaMedicamento, error) {
	var receta Receta
	if err := r.db.GetContext(ctx, &receta, `SELECT * FROM recetas WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, errors.NotFound("dispensation")
		}
		return nil, nil, err
	}

	var lines []*RecetaMedicamento
	query := `SELECT * FROM recetas_medicamentos WHERE receta_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &lines, query, id); err != nil {
		return nil, nil, err
	}
	return &receta, lines, nil
}

// ListByPatient lists dispensations for a patient, newest first
func (r *RecetaRepository) ListByPatient(ctx context.Context, pacienteID string) ([]*Receta, error) {
	var recetas []*Receta
	query := `
		SELECT * FROM recetas
		WHERE paciente_id = $1
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &recetas, query, pacienteID); err != nil {
		return nil, err
	}
	return recetas, nil
}
