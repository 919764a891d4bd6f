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

// Patient is identified preferentially by CURP. When CURP is absent the
// (nombre, fecha_nacimiento) pair is the fallback identity.
type Patient struct {
	ID              string    `db:"id" json:"id"`
	Nombre          string    `db:"nombre" json:"nombre"`
	FechaNacimiento time.Time `db:"fecha_nacimiento" json:"fecha_nacimiento"`
	CURP            *string   `db:"curp" json:"curp,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// PatientRepository handles patient persistence
type PatientRepository struct {
	db *database.DB
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *database.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// UpsertByCURP creates a patient keyed by CURP, or refreshes the stored
// name and birthdate when the CURP is already known. Runs inside the
// caller's transaction.
func (r *PatientRepository) UpsertByCURP(ctx context.Context, q sqlx.ExtContext, curp, nombre string, fechaNacimiento time.Time) (*Patient, error) {
	var p Patient
	query := `
		INSERT INTO pacientes (id, nombre, fecha_nacimiento, curp)
		VALUES (gen_random_uuid(), $1, $2, $3)
		ON CONFLICT (curp) DO UPDATE
		SET nombre = EXCLUDED.nombre,
		    fecha_nacimiento = EXCLUDED.fecha_nacimiento,
		    updated_at = NOW()
		RETURNING *
	`
	if err := sqlx.GetContext(ctx, q, &p, query, nombre, fechaNacimiento, curp); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByNameAndBirthdate looks up a CURP-less identity match
func (r *PatientRepository) FindByNameAndBirthdate(ctx context.Context, q sqlx.ExtContext, nombre string, fechaNacimiento time.Time) (*Patient, error) {
	var p Patient
	query := `
		SELECT * FROM pacientes
		WHERE nombre = $1 AND fecha_nacimiento = $2
		ORDER BY created_at
		LIMIT 1
	`
	if err := sqlx.GetContext(ctx, q, &p, query, nombre, fechaNacimiento); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("patient")
		}
		return nil, err
	}
	return &p, nil
}

// Create creates a patient inside the caller's transaction
func (r *PatientRepository) Create(ctx context.Context, q sqlx.ExtContext, p *Patient) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	query := `
		INSERT INTO pacientes (id, nombre, fecha_nacimiento, curp)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := q.QueryRowxContext(ctx, query, p.ID, p.Nombre, p.FechaNacimiento, p.CURP).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a patient by ID
func (r *PatientRepository) GetByID(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	query := `SELECT * FROM pacientes WHERE id = $1`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("patient")
		}
		return nil, err
	}
	return &p, nil
}

// GetByCURP gets a patient by CURP
func (r *PatientRepository) GetByCURP(ctx context.Context, curp string) (*Patient, error) {
	var p Patient
	query := `SELECT * FROM pacientes WHERE curp = $1`
	if err := r.db.GetContext(ctx, &p, query, curp); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("patient")
		}
		return nil, err
	}
	return &p, nil
}

// SearchByName lists patients whose name matches the term
func (r *PatientRepository) SearchByName(ctx context.Context, term string, limit int) ([]*Patient, error) {
	var patients []*Patient
	query := `
		SELECT * FROM pacientes
		WHERE nombre ILIKE '%' || $1 || '%'
		ORDER BY nombre
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &patients, query, term, limit); err != nil {
		return nil, err
	}
	return patients, nil
}
