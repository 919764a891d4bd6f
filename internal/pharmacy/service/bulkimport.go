package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
)

const (
	minClaveLength       = 5
	minDescriptionLength = 5
	expiryWarningDays    = 180
	similarityThreshold  = 0.85
	similarityMaxLenDiff = 2
)

// importDateLayouts are the accepted spreadsheet date formats, tried in
// order. Day-first layouts come before their year-first twins because
// that is how the source data is usually captured.
var importDateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
	"2006/01/02",
	"02/01/06",
	"02012006",
	"2006-01-02 15:04:05",
}

// ImportRow is one raw spreadsheet row as read from the file
type ImportRow struct {
	RowNumber            int    `json:"fila"`
	Clave                string `json:"clave"`
	Descripcion          string `json:"descripcion"`
	Lote                 string `json:"lote"`
	Cantidad             string `json:"cantidad"`
	Precio               string `json:"precio"`
	Caducidad            string `json:"caducidad"`
	Origen               string `json:"origen"`
	Contrato             string `json:"contrato"`
	FuenteFinanciamiento string `json:"fuente_financiamiento"`
}

// RowError is a row-scoped validation failure
type RowError struct {
	Fila    int    `json:"fila"`
	Campo   string `json:"campo"`
	Mensaje string `json:"mensaje"`
}

// ImportResult reports the outcome of a bulk import
type ImportResult struct {
	Exitosos     int        `json:"exitosos"`
	Actualizados int        `json:"actualizados"`
	Errores      []RowError `json:"errores"`
	Advertencias []string   `json:"advertencias"`
}

// cleanRow is a validated row ready for grouped application
type cleanRow struct {
	rowNumber   int
	clave       string
	descripcion string
	lote        string
	cantidad    int
	precio      decimal.Decimal
	caducidad   time.Time
}

// BulkImportService reconciles spreadsheet imports against the catalog
// and the lot ledger in two phases: independent per-row validation, then
// one grouped transactional application.
type BulkImportService struct {
	db            *database.DB
	medications   *repository.MedicationRepository
	presentations *repository.PresentationRepository
	ledger        *LotLedger
	notifier      *AlertNotifier
	publisher     *events.PharmacyEventPublisher
	logger        *logger.Logger
}

// NewBulkImportService creates a new bulk import service
func NewBulkImportService(
	db *database.DB,
	medications *repository.MedicationRepository,
	presentations *repository.PresentationRepository,
	ledger *LotLedger,
	notifier *AlertNotifier,
	publisher *events.PharmacyEventPublisher,
	log *logger.Logger,
) *BulkImportService {
	return &BulkImportService{
		db:            db,
		medications:   medications,
		presentations: presentations,
		ledger:        ledger,
		notifier:      notifier,
		publisher:     publisher,
		logger:        log.WithComponent("bulk_import"),
	}
}

// ImportRows validates every row independently, then applies the
// surviving rows grouped by medication and (medication, lot) in one
// transaction. A row failure never aborts the batch; a storage failure
// during application rolls back the whole import.
func (s *BulkImportService) ImportRows(ctx context.Context, rows []ImportRow) (*ImportResult, error) {
	result := &ImportResult{
		Errores:      []RowError{},
		Advertencias: []string{},
	}

	now := time.Now()
	var clean []cleanRow
	for _, row := range rows {
		cr, rowErrs, warnings := validateImportRow(row, now)
		result.Advertencias = append(result.Advertencias, warnings...)
		if len(rowErrs) > 0 {
			result.Errores = append(result.Errores, rowErrs...)
			continue
		}
		clean = append(clean, *cr)
	}

	result.Advertencias = append(result.Advertencias, similarClaveWarnings(rows)...)

	if len(clean) == 0 {
		return result, nil
	}

	var triggered []TriggeredAlert
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return s.apply(ctx, tx, clean, result, &triggered)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Dispatch(ctx, triggered)
	s.publisher.PublishImportCommitted(ctx, messaging.ImportCommittedEvent{
		RowsApplied:  len(clean),
		RowsRejected: len(rows) - len(clean),
		LotsUpserted: result.Exitosos + result.Actualizados,
	})

	s.logger.Info().
		Int("rows", len(rows)).
		Int("applied", len(clean)).
		Int("errors", len(result.Errores)).
		Int("warnings", len(result.Advertencias)).
		Msg("bulk import committed")

	return result, nil
}

type lotGroup struct {
	clave     string
	lote      string
	cantidad  int
	caducidad time.Time
	filas     []int
}

func (s *BulkImportService) apply(ctx context.Context, tx *sqlx.Tx, clean []cleanRow, result *ImportResult, triggered *[]TriggeredAlert) error {
	// Resolve existing medications in one round trip.
	claveOrder := make([]string, 0)
	firstRow := make(map[string]cleanRow)
	for _, row := range clean {
		if _, seen := firstRow[row.clave]; !seen {
			claveOrder = append(claveOrder, row.clave)
			firstRow[row.clave] = row
		}
	}

	existing, err := s.medications.GetByClaves(ctx, tx, claveOrder)
	if err != nil {
		return err
	}
	medsByClave := make(map[string]*repository.Medication, len(existing))
	for _, m := range existing {
		medsByClave[m.Clave] = m
	}

	defaultPres, err := s.presentations.EnsureDefault(ctx, tx)
	if err != nil {
		return err
	}

	// First occurrence wins for creation; existing records get a
	// changed-field diff, never a blind overwrite.
	for _, clave := range claveOrder {
		row := firstRow[clave]
		med, ok := medsByClave[clave]
		if !ok {
			med = &repository.Medication{
				Clave:          clave,
				Descripcion:    row.descripcion,
				Precio:         row.precio,
				PresentacionID: &defaultPres.ID,
				Activo:         true,
			}
			if err := s.medications.CreateTx(ctx, tx, med); err != nil {
				return err
			}
			medsByClave[clave] = med
			continue
		}

		if med.Descripcion != row.descripcion || !med.Precio.Equal(row.precio) {
			if err := s.medications.UpdateDescriptionPrice(ctx, tx, med.ID, row.descripcion, row.precio); err != nil {
				return err
			}
		}
	}

	// Group by (clave, lote) summing duplicate quantities.
	groupOrder := make([]string, 0)
	groups := make(map[string]*lotGroup)
	for _, row := range clean {
		key := row.clave + "\x00" + row.lote
		g, ok := groups[key]
		if !ok {
			g = &lotGroup{clave: row.clave, lote: row.lote, caducidad: row.caducidad}
			groups[key] = g
			groupOrder = append(groupOrder, key)
		}
		g.cantidad += row.cantidad
		g.filas = append(g.filas, row.rowNumber)
	}

	for _, key := range groupOrder {
		g := groups[key]
		if len(g.filas) > 1 {
			result.Advertencias = append(result.Advertencias, fmt.Sprintf(
				"lote_duplicado: clave %s lote %s repetido en filas %s, cantidades sumadas",
				g.clave, g.lote, joinInts(g.filas),
			))
		}

		med := medsByClave[g.clave]
		lot, created, eval, err := s.ledger.Credit(ctx, tx, med.ID, g.lote, g.cantidad, g.caducidad, &defaultPres.ID)
		if err != nil {
			return err
		}
		if created {
			result.Exitosos++
		} else {
			result.Actualizados++
		}
		if eval.Transition == TransitionTriggered {
			*triggered = append(*triggered, TriggeredAlert{Lot: lot, Eval: eval})
		}
	}

	return nil
}

// validateImportRow checks one row against the intake rules and returns
// the clean record, the row-scoped errors, and any advisory warnings.
func validateImportRow(row ImportRow, now time.Time) (*cleanRow, []RowError, []string) {
	var errs []RowError
	var warnings []string

	clave := NormalizeClave(row.Clave)
	switch {
	case clave == "":
		errs = append(errs, RowError{Fila: row.RowNumber, Campo: "clave", Mensaje: "clave requerida"})
	case len(clave) < minClaveLength:
		errs = append(errs, RowError{Fila: row.RowNumber, Campo: "clave", Mensaje: "clave muy corta"})
	}

	lote := strings.TrimSpace(row.Lote)
	if lote == "" {
		errs = append(errs, RowError{Fila: row.RowNumber, Campo: "lote", Mensaje: "lote requerido"})
	}

	descripcion := strings.TrimSpace(row.Descripcion)
	switch {
	case descripcion == "":
		errs = append(errs, RowError{Fila: row.RowNumber, Campo: "descripcion", Mensaje: "descripcion requerida"})
	case len(descripcion) < minDescriptionLength:
		errs = append(errs, RowError{Fila: row.RowNumber, Campo: "descripcion", Mensaje: "descripcion muy corta"})
	}

	cantidad, err := strconv.Atoi(strings.TrimSpace(row.Cantidad))
	if err != nil || cantidad <= 0 {
		errs = append(errs, RowError{Fila: row.RowNumber, Campo: "cantidad", Mensaje: "cantidad debe ser un entero positivo"})
	}

	precio, err := decimal.NewFromString(strings.TrimSpace(row.Precio))
	if err != nil || precio.IsNegative() {
		errs = append(errs, RowError{Fila: row.RowNumber, Campo: "precio", Mensaje: "precio debe ser un numero no negativo"})
	}

	caducidad, err := ParseImportDate(row.Caducidad)
	if err != nil {
		errs = append(errs, RowError{Fila: row.RowNumber, Campo: "caducidad", Mensaje: "caducidad no tiene un formato de fecha valido"})
	} else {
		today := now.Truncate(24 * time.Hour)
		if !caducidad.After(today) {
			errs = append(errs, RowError{Fila: row.RowNumber, Campo: "caducidad", Mensaje: "caducidad debe ser una fecha futura"})
		} else if caducidad.Before(today.AddDate(0, 0, expiryWarningDays)) {
			warnings = append(warnings, fmt.Sprintf(
				"caducidad_proxima: fila %d clave %s caduca el %s",
				row.RowNumber, clave, caducidad.Format("2006-01-02"),
			))
		}
	}

	if len(errs) > 0 {
		return nil, errs, warnings
	}

	return &cleanRow{
		rowNumber:   row.RowNumber,
		clave:       clave,
		descripcion: descripcion,
		lote:        lote,
		cantidad:    cantidad,
		precio:      precio,
		caducidad:   caducidad,
	}, nil, warnings
}

// NormalizeClave trims and uppercases a medication key
func NormalizeClave(clave string) string {
	return strings.ToUpper(strings.TrimSpace(clave))
}

// ParseImportDate parses a spreadsheet date under the accepted layouts
func ParseImportDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", value)
}

// SimilarityRatio compares two medication keys positionally after
// stripping dots and spaces: identical characters at the same index
// divided by the longer cleaned length.
func SimilarityRatio(a, b string) float64 {
	a = cleanKey(a)
	b = cleanKey(b)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}

	matches := 0
	for i := 0; i < len(shorter); i++ {
		if shorter[i] == longer[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(longer))
}

func cleanKey(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	return strings.ReplaceAll(s, " ", "")
}

// similarClaveWarnings pairwise-compares the distinct keys in the file
// and flags near-identical pairs as likely typos. Runs on every row
// regardless of validation outcome.
func similarClaveWarnings(rows []ImportRow) []string {
	seen := make(map[string]bool)
	var claves []string
	for _, row := range rows {
		clave := NormalizeClave(row.Clave)
		if clave == "" || seen[clave] {
			continue
		}
		seen[clave] = true
		claves = append(claves, clave)
	}
	sort.Strings(claves)

	var warnings []string
	for i := 0; i < len(claves); i++ {
		for j := i + 1; j < len(claves); j++ {
			a, b := cleanKey(claves[i]), cleanKey(claves[j])
			diff := len(a) - len(b)
			if diff < 0 {
				diff = -diff
			}
			if diff > similarityMaxLenDiff {
				continue
			}
			if ratio := SimilarityRatio(claves[i], claves[j]); ratio > similarityThreshold {
				warnings = append(warnings, fmt.Sprintf(
					"claves_similares: %s y %s (similitud %.2f), posible error de captura",
					claves[i], claves[j], ratio,
				))
			}
		}
	}
	return warnings
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
