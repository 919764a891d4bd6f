package service

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/farmatrack/farmatrack-backend/pkg/errors"
)

// RequiredImportColumns are the spreadsheet headers the import expects,
// matched case-insensitively after trimming.
var RequiredImportColumns = []string{
	"clave", "descripcion", "lote", "cantidad", "precio",
	"caducidad", "origen", "contrato", "fuente_financiamiento",
}

// ParseWorkbook reads the first sheet of an XLSX workbook into raw
// import rows. Row numbers refer to spreadsheet rows (header is row 1).
// Fully empty rows are skipped.
func ParseWorkbook(r io.Reader) ([]ImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.BadRequest("file is not a valid XLSX workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.BadRequest("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.BadRequest("failed to read workbook rows")
	}
	if len(rows) == 0 {
		return nil, errors.Validation(map[string]string{"archivo": "the workbook is empty"})
	}

	columns := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(header))] = i
	}

	var missing []string
	for _, required := range RequiredImportColumns {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Validation(map[string]string{
			"columnas": "missing required columns: " + strings.Join(missing, ", "),
		})
	}

	var out []ImportRow
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if rowIsEmpty(row) {
			continue
		}

		out = append(out, ImportRow{
			RowNumber:            i + 1,
			Clave:                cellAt(row, columns["clave"]),
			Descripcion:          cellAt(row, columns["descripcion"]),
			Lote:                 cellAt(row, columns["lote"]),
			Cantidad:             cellAt(row, columns["cantidad"]),
			Precio:               cellAt(row, columns["precio"]),
			Caducidad:            cellAt(row, columns["caducidad"]),
			Origen:               cellAt(row, columns["origen"]),
			Contrato:             cellAt(row, columns["contrato"]),
			FuenteFinanciamiento: cellAt(row, columns["fuente_financiamiento"]),
		})
	}
	return out, nil
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func rowIsEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
