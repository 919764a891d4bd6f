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

// Entrada is a receiving record header. Folio is unique per institution.
type Entrada struct {
	ID                     string    `db:"id" json:"id"`
	Folio                  string    `db:"folio" json:"folio"`
	Fecha                  time.Time `db:"fecha" json:"fecha"`
	TipoEntrada            string    `db:"tipo_entrada" json:"tipo_entrada"`
	AlmacenID              string    `db:"almacen_id" json:"almacen_id"`
	InstitucionID          string    `db:"institucion_id" json:"institucion_id"`
	FuenteFinanciamientoID *string   `db:"fuente_financiamiento_id" json:"fuente_financiamiento_id,omitempty"`
	Contrato               *string   `db:"contrato" json:"contrato,omitempty"`
	Proceso                *string   `db:"proceso" json:"proceso,omitempty"`
	RecibidoPor            *string   `db:"recibido_por" json:"recibido_por,omitempty"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
}

// DetalleEntrada is one receiving line item. Cantidad is recorded as
// submitted; the ledger credit converts to atomic units first.
type DetalleEntrada struct {
	ID             string          `db:"id" json:"id"`
	EntradaID      string          `db:"entrada_id" json:"entrada_id"`
	MedicamentoID  string          `db:"medicamento_id" json:"medicamento_id"`
	LoteID         string          `db:"lote_id" json:"lote_id"`
	LoteCodigo     string          `db:"lote_codigo" json:"lote_codigo"`
	Caducidad      time.Time       `db:"caducidad" json:"caducidad"`
	Cantidad       int             `db:"cantidad" json:"cantidad"`
	PrecioUnitario decimal.Decimal `db:"precio_unitario" json:"precio_unitario"`
	PresentacionID *string         `db:"presentacion_id" json:"presentacion_id,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// EntradaRepository handles receiving record persistence
type EntradaRepository struct {
	db *database.DB
}

// NewEntradaRepository creates a new entrada repository
func NewEntradaRepository(db *database.DB) *EntradaRepository {
	return &EntradaRepository{db: db}
}

// InsertHeader inserts a receiving header inside the caller's
// transaction. A duplicate (folio, institucion) surfaces as a conflict.
func (r *EntradaRepository) InsertHeader(ctx context.Context, q sqlx.ExtContext, e *Entrada) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	query := `
		INSERT INTO entradas (
			id, folio, fecha, tipo_entrada, almacen_id, institucion_id,
			fuente_financiamiento_id, contrato, proceso, recibido_por
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := q.QueryRowxContext(ctx, query,
		e.ID, e.Folio, e.Fecha, e.TipoEntrada, e.AlmacenID, e.InstitucionID,
		e.FuenteFinanciamientoID, e.Contrato, e.Proceso, e.RecibidoPor,
	).Scan(&e.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// InsertDetail inserts a receiving line item inside the caller's transaction
func (r *EntradaRepository) InsertDetail(ctx context.Context, q sqlx.ExtContext, d *DetalleEntrada) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	query := `
		INSERT INTO detalles_entrada (
			id, entrada_id, medicamento_id, lote_id, lote_codigo,
			caducidad, cantidad, precio_unitario, presentacion_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := q.QueryRowxContext(ctx, query,
		d.ID, d.EntradaID, d.MedicamentoID, d.LoteID, d.LoteCodigo,
		d.Caducidad, d.Cantidad, d.PrecioUnitario, d.PresentacionID,
	).Scan(&d.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// MaxFolioSequence returns the highest numeric suffix among folios with
// the given prefix for one institution, 0 when none exist. The prefix is
// the date-scoped ENT-YYYYMMDD- fragment; a regex guard skips folios
// whose suffix is not numeric.
func (r *EntradaRepository) MaxFolioSequence(ctx context.Context, q sqlx.ExtContext, institucionID, prefix string) (int, error) {
	var max sql.NullInt64
	query := `
		SELECT MAX(substring(folio FROM length($2) + 1)::int)
		FROM entradas
		WHERE institucion_id = $1
		AND folio LIKE $2 || '%'
		AND substring(folio FROM length($2) + 1) ~ '^[0-9]+$'
	`
	if err := sqlx.GetContext(ctx, q, &max, query, institucionID, prefix); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// GetByID gets a receiving record with its line items
func (r *EntradaRepository) GetByID(ctx context.Context, id string) (*Entrada, []*DetalleEntrada, error) {
	var e Entrada
	if err := r.db.GetContext(ctx, &e, `SELECT * FROM entradas WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, errors.NotFound("entrada")
		}
		return nil, nil, err
	}

	var detalles []*DetalleEntrada
	query := `SELECT * FROM detalles_entrada WHERE entrada_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &detalles, query, id); err != nil {
		return nil, nil, err
	}
	return &e, detalles, nil
}

// List lists receiving records for an institution, newest first
func (r *EntradaRepository) List(ctx context.Context, institucionID string, page, perPage int) ([]*Entrada, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM entradas WHERE institucion_id = $1`
	if err := r.db.GetContext(ctx, &total, countQuery, institucionID); err != nil {
		return nil, 0, err
	}

	var entradas []*Entrada
	query := `
		SELECT * FROM entradas
		WHERE institucion_id = $1
		ORDER BY fecha DESC, folio DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &entradas, query, institucionID, perPage, (page-1)*perPage); err != nil {
		return nil, 0, err
	}
	return entradas, total, nil
}
