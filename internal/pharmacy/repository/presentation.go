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

// DefaultPresentationName is the atomic-unit presentation used when a
// bulk import row carries no packaging information.
const DefaultPresentationName = "UNIDAD"

// Presentation is a named packaging unit. PiezasPorCaja converts
// box-level receipts into atomic stock units.
type Presentation struct {
	ID            string    `db:"id" json:"id"`
	Nombre        string    `db:"nombre" json:"nombre"`
	PiezasPorCaja int       `db:"piezas_por_caja" json:"piezas_por_caja"`
	Activo        bool      `db:"activo" json:"activo"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// PresentationRepository handles presentation persistence
type PresentationRepository struct {
	db *database.DB
}

// NewPresentationRepository creates a new presentation repository
func NewPresentationRepository(db *database.DB) *PresentationRepository {
	return &PresentationRepository{db: db}
}

// Create creates a new presentation
func (r *PresentationRepository) Create(ctx context.Context, p *Presentation) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	query := `
		INSERT INTO presentaciones (id, nombre, piezas_por_caja, activo)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, p.ID, p.Nombre, p.PiezasPorCaja, p.Activo).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a presentation by ID
func (r *PresentationRepository) GetByID(ctx context.Context, id string) (*Presentation, error) {
	var p Presentation
	query := `SELECT * FROM presentaciones WHERE id = $1`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("presentation")
		}
		return nil, err
	}
	return &p, nil
}

// GetByIDTx gets a presentation inside the caller's transaction
func (r *PresentationRepository) GetByIDTx(ctx context.Context, q sqlx.ExtContext, id string) (*Presentation, error) {
	var p Presentation
	query := `SELECT * FROM presentaciones WHERE id = $1`
	if err := sqlx.GetContext(ctx, q, &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("presentation")
		}
		return nil, err
	}
	return &p, nil
}

// List lists active presentations
func (r *PresentationRepository) List(ctx context.Context) ([]*Presentation, error) {
	var presentations []*Presentation
	query := `SELECT * FROM presentaciones WHERE activo = true ORDER BY nombre`
	if err := r.db.SelectContext(ctx, &presentations, query); err != nil {
		return nil, err
	}
	return presentations, nil
}

// Deactivate soft-deletes a presentation
func (r *PresentationRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE presentaciones SET activo = false, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("presentation")
	}
	return nil
}

// EnsureDefault finds or creates the UNIDAD presentation inside the
// caller's transaction. The unique constraint on nombre resolves the
// create race; the loser converts to a read.
func (r *PresentationRepository) EnsureDefault(ctx context.Context, q sqlx.ExtContext) (*Presentation, error) {
	var p Presentation
	query := `
		INSERT INTO presentaciones (id, nombre, piezas_por_caja, activo)
		VALUES (gen_random_uuid(), $1, 1, true)
		ON CONFLICT (nombre) DO UPDATE SET updated_at = presentaciones.updated_at
		RETURNING *
	`
	if err := sqlx.GetContext(ctx, q, &p, query, DefaultPresentationName); err != nil {
		return nil, err
	}
	return &p, nil
}
