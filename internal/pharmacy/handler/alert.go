package handler

import (
	"net/http"
	"strconv"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// AlertHandler handles alert log endpoints
type AlertHandler struct {
	registry *service.RegistryService
	monitor  *service.StockMonitor
	logger   *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(registry *service.RegistryService, monitor *service.StockMonitor, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		registry: registry,
		monitor:  monitor,
		logger:   log,
	}
}

// List lists recent alert log entries
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	alerts, err := h.registry.ListAlerts(r.Context(), limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}

// LowStock runs the aggregated low-stock sweep on demand
func (h *AlertHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	low, err := h.monitor.ScanLowStock(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, low)
}
