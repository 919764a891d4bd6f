package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

// CatalogEntry is a simple named catalog record (warehouses,
// institutions, financing sources, suppliers share the shape).
type CatalogEntry struct {
	ID        string    `db:"id" json:"id"`
	Nombre    string    `db:"nombre" json:"nombre"`
	Activo    bool      `db:"activo" json:"activo"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Catalog table names
const (
	CatalogAlmacenes             = "almacenes"
	CatalogInstituciones         = "instituciones"
	CatalogFuentesFinanciamiento = "fuentes_financiamiento"
	CatalogProveedores           = "proveedores"
)

// CatalogRepository handles the simple named catalogs. The table name is
// fixed at construction and always one of the Catalog constants, never
// caller input.
type CatalogRepository struct {
	db    *database.DB
	table string
}

// NewCatalogRepository creates a catalog repository for one table
func NewCatalogRepository(db *database.DB, table string) *CatalogRepository {
	return &CatalogRepository{db: db, table: table}
}

// Create creates a catalog entry
func (r *CatalogRepository) Create(ctx context.Context, e *CatalogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	query := `
		INSERT INTO ` + r.table + ` (id, nombre, activo)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, e.ID, e.Nombre, e.Activo).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a catalog entry by ID
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*CatalogEntry, error) {
	var e CatalogEntry
	query := `SELECT * FROM ` + r.table + ` WHERE id = $1`
	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("catalog entry")
		}
		return nil, err
	}
	return &e, nil
}

// List lists active catalog entries
func (r *CatalogRepository) List(ctx context.Context) ([]*CatalogEntry, error) {
	var entries []*CatalogEntry
	query := `SELECT * FROM ` + r.table + ` WHERE activo = true ORDER BY nombre`
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, err
	}
	return entries, nil
}

// Update updates a catalog entry
func (r *CatalogRepository) Update(ctx context.Context, e *CatalogEntry) error {
	query := `UPDATE ` + r.table + ` SET nombre = $2, activo = $3, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, e.ID, e.Nombre, e.Activo)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("catalog entry")
	}
	return nil
}

// Deactivate soft-deletes a catalog entry
func (r *CatalogRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE ` + r.table + ` SET activo = false, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("catalog entry")
	}
	return nil
}
