package service

import (
	"context"
	"fmt"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
)

// TriggeredAlert couples a lot that crossed the threshold with its
// evaluation, collected during a ledger transaction and dispatched only
// after commit.
type TriggeredAlert struct {
	Lot  *repository.Lot
	Eval *AlertEvaluation
}

// AlertNotifier dispatches low-stock notifications once the owning
// transaction has committed. Dispatch failures are logged, never
// propagated: the stock change already happened.
type AlertNotifier struct {
	alerts      *repository.AlertLogRepository
	medications *repository.MedicationRepository
	publisher   *events.PharmacyEventPublisher
	logger      *logger.Logger
}

// NewAlertNotifier creates a new alert notifier
func NewAlertNotifier(alerts *repository.AlertLogRepository, medications *repository.MedicationRepository, publisher *events.PharmacyEventPublisher, log *logger.Logger) *AlertNotifier {
	return &AlertNotifier{
		alerts:      alerts,
		medications: medications,
		publisher:   publisher,
		logger:      log.WithComponent("alert_notifier"),
	}
}

// Dispatch sends one notification per triggered alert
func (n *AlertNotifier) Dispatch(ctx context.Context, triggered []TriggeredAlert) {
	for _, t := range triggered {
		n.dispatchOne(ctx, t)
	}
}

func (n *AlertNotifier) dispatchOne(ctx context.Context, t TriggeredAlert) {
	med, err := n.medications.GetByID(ctx, t.Lot.MedicamentoID)
	if err != nil {
		n.logger.Error().Err(err).
			Str("medicamento_id", t.Lot.MedicamentoID).
			Msg("failed to resolve medication for alert")
		return
	}

	mensaje := fmt.Sprintf(
		"existencia baja: %s (%s) lote %q con %d unidades, umbral %d (CPM %d)",
		med.Clave, med.Descripcion, t.Lot.LoteCodigo,
		t.Lot.Existencia, t.Eval.Umbral, t.Eval.CPM,
	)

	entry := &repository.AlertLog{
		MedicamentoID: med.ID,
		LoteID:        &t.Lot.ID,
		Tipo:          repository.AlertTypeLowStock,
		Mensaje:       mensaje,
		Existencia:    t.Lot.Existencia,
		CPM:           t.Eval.CPM,
		Umbral:        t.Eval.Umbral,
	}
	if err := n.alerts.Insert(ctx, entry); err != nil {
		n.logger.Error().Err(err).Str("clave", med.Clave).Msg("failed to record alert")
	}

	n.publisher.PublishLowStockAlert(ctx, messaging.LowStockAlertEvent{
		MedicationID: med.ID,
		Clave:        med.Clave,
		Description:  med.Descripcion,
		Existencia:   t.Lot.Existencia,
		CPM:          t.Eval.CPM,
		Threshold:    t.Eval.Umbral,
	})

	n.logger.Warn().
		Str("clave", med.Clave).
		Str("lote", t.Lot.LoteCodigo).
		Int("existencia", t.Lot.Existencia).
		Int("umbral", t.Eval.Umbral).
		Msg("low stock alert dispatched")
}
