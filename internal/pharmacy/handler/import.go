package handler

import (
	"net/http"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// maxImportSize caps uploaded workbooks at 16 MiB
const maxImportSize = 16 << 20

// ImportHandler handles bulk spreadsheet imports
type ImportHandler struct {
	importer *service.BulkImportService
	logger   *logger.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(importer *service.BulkImportService, log *logger.Logger) *ImportHandler {
	return &ImportHandler{
		importer: importer,
		logger:   log,
	}
}

// Upload accepts a multipart XLSX upload under the "archivo" field and
// runs the two-phase import. Row-level rejections come back in the 200
// response body; only malformed files or a failed transaction error out.
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		httputil.Error(w, validationError("archivo", "multipart upload required"))
		return
	}

	file, header, err := r.FormFile("archivo")
	if err != nil {
		httputil.Error(w, validationError("archivo", "an XLSX file is required"))
		return
	}
	defer file.Close()

	rows, err := service.ParseWorkbook(file)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.logger.Info().
		Str("filename", header.Filename).
		Int("rows", len(rows)).
		Msg("bulk import received")

	result, err := h.importer.ImportRows(r.Context(), rows)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
