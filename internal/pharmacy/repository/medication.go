package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

// Medication represents a medication in the catalog. Clave is the unique
// human-readable code and is immutable once set.
type Medication struct {
	ID             string          `db:"id" json:"id"`
	Clave          string          `db:"clave" json:"clave"`
	Descripcion    string          `db:"descripcion" json:"descripcion"`
	Precio         decimal.Decimal `db:"precio" json:"precio"`
	CodigoBarras   *string         `db:"codigo_barras" json:"codigo_barras,omitempty"`
	ProveedorID    *string         `db:"proveedor_id" json:"proveedor_id,omitempty"`
	PresentacionID *string         `db:"presentacion_id" json:"presentacion_id,omitempty"`
	Activo         bool            `db:"activo" json:"activo"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// MedicationRepository handles medication persistence
type MedicationRepository struct {
	db *database.DB
}

// NewMedicationRepository creates a new medication repository
func NewMedicationRepository(db *database.DB) *MedicationRepository {
	return &MedicationRepository{db: db}
}

// Create creates a new medication. A duplicate clave surfaces as a conflict.
func (r *MedicationRepository) Create(ctx context.Context, m *Medication) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicamentos (
			id, clave, descripcion, precio, codigo_barras, proveedor_id, presentacion_id, activo
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		m.ID, m.Clave, m.Descripcion, m.Precio, m.CodigoBarras,
		m.ProveedorID, m.PresentacionID, m.Activo,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// CreateTx creates a medication inside the caller's transaction
func (r *MedicationRepository) CreateTx(ctx context.Context, q sqlx.ExtContext, m *Medication) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicamentos (
			id, clave, descripcion, precio, codigo_barras, proveedor_id, presentacion_id, activo
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := q.QueryRowxContext(ctx, query,
		m.ID, m.Clave, m.Descripcion, m.Precio, m.CodigoBarras,
		m.ProveedorID, m.PresentacionID, m.Activo,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a medication by ID
func (r *MedicationRepository) GetByID(ctx context.Context, id string) (*Medication, error) {
	var m Medication
	query := `SELECT * FROM medicamentos WHERE id = $1`
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medication")
		}
		return nil, err
	}
	return &m, nil
}

// GetByIDTx gets a medication inside the caller's transaction
func (r *MedicationRepository) GetByIDTx(ctx context.Context, q sqlx.ExtContext, id string) (*Medication, error) {
	var m Medication
	query := `SELECT * FROM medicamentos WHERE id = $1`
	if err := sqlx.GetContext(ctx, q, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medication")
		}
		return nil, err
	}
	return &m, nil
}

// GetByClave gets a medication by its unique code
func (r *MedicationRepository) GetByClave(ctx context.Context, clave string) (*Medication, error) {
	var m Medication
	query := `SELECT * FROM medicamentos WHERE clave = $1`
	if err := r.db.GetContext(ctx, &m, query, clave); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medication")
		}
		return nil, err
	}
	return &m, nil
}

// GetByClaves fetches all medications whose clave is in the given set.
// Used by the bulk import to resolve existing records in one round trip.
func (r *MedicationRepository) GetByClaves(ctx context.Context, q sqlx.ExtContext, claves []string) ([]*Medication, error) {
	if len(claves) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM medicamentos WHERE clave IN (?)`, claves)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var meds []*Medication
	if err := sqlx.SelectContext(ctx, q, &meds, query, args...); err != nil {
		return nil, err
	}
	return meds, nil
}

// Search lists active medications matching the term by clave or description
func (r *MedicationRepository) Search(ctx context.Context, term string, limit int) ([]*Medication, error) {
	var meds []*Medication
	query := `
		SELECT * FROM medicamentos
		WHERE activo = true
		AND (clave ILIKE '%' || $1 || '%' OR descripcion ILIKE '%' || $1 || '%')
		ORDER BY clave
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &meds, query, term, limit); err != nil {
		return nil, err
	}
	return meds, nil
}

// List lists medications with pagination
func (r *MedicationRepository) List(ctx context.Context, page, perPage int) ([]*Medication, int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM medicamentos`); err != nil {
		return nil, 0, err
	}

	var meds []*Medication
	query := `SELECT * FROM medicamentos ORDER BY clave LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &meds, query, perPage, (page-1)*perPage); err != nil {
		return nil, 0, err
	}
	return meds, total, nil
}

// Update updates the mutable fields of a medication. Clave never changes.
func (r *MedicationRepository) Update(ctx context.Context, m *Medication) error {
	query := `
		UPDATE medicamentos SET
			descripcion = $2, precio = $3, codigo_barras = $4,
			proveedor_id = $5, presentacion_id = $6, activo = $7,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		m.ID, m.Descripcion, m.Precio, m.CodigoBarras,
		m.ProveedorID, m.PresentacionID, m.Activo,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("medication")
	}
	return nil
}

// UpdateDescriptionPrice applies a changed-field diff from the bulk
// import inside the caller's transaction.
func (r *MedicationRepository) UpdateDescriptionPrice(ctx context.Context, q sqlx.ExtContext, id, descripcion string, precio decimal.Decimal) error {
	query := `
		UPDATE medicamentos
		SET descripcion = $2, precio = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query, id, descripcion, precio)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("medication")
	}
	return nil
}
