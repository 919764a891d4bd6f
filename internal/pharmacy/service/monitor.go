package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
)

// AlertTransition is the outcome of a low-stock evaluation
type AlertTransition int

// Alert transitions
const (
	TransitionNone AlertTransition = iota
	TransitionTriggered
	TransitionReset
)

// String returns the transition name
func (t AlertTransition) String() string {
	switch t {
	case TransitionTriggered:
		return "triggered"
	case TransitionReset:
		return "reset"
	default:
		return "none"
	}
}

// AlertEvaluation is the result of evaluating a lot against its
// medication's consumption profile
type AlertEvaluation struct {
	Transition AlertTransition
	CPM        int
	Umbral     int
}

// Transition decides the latch transition for a stock level against a
// monthly consumption rate. The threshold is half the CPM, floored, so a
// CPM of 1 alerts only at zero stock. A CPM of 0 means the medication is
// untracked and never alerts; the latch is left untouched.
func Transition(cpm, existencia int, latched bool) AlertTransition {
	if cpm <= 0 {
		return TransitionNone
	}

	umbral := cpm / 2
	switch {
	case existencia <= umbral && !latched:
		return TransitionTriggered
	case existencia > umbral && latched:
		return TransitionReset
	default:
		return TransitionNone
	}
}

// StockMonitor evaluates lots against their medication's consumption
// profile and maintains the one-shot alert latch.
type StockMonitor struct {
	lots     *repository.LotRepository
	profiles *repository.ConsumptionProfileRepository
	logger   *logger.Logger
}

// NewStockMonitor creates a new stock monitor
func NewStockMonitor(lots *repository.LotRepository, profiles *repository.ConsumptionProfileRepository, log *logger.Logger) *StockMonitor {
	return &StockMonitor{
		lots:     lots,
		profiles: profiles,
		logger:   log.WithComponent("stock_monitor"),
	}
}

// Evaluate runs the latch transition for a freshly mutated lot inside
// the same transaction as the mutation, so the latch and the stock level
// are always consistent after commit. The caller dispatches a
// notification only for a triggered transition; resets are silent.
func (m *StockMonitor) Evaluate(ctx context.Context, q sqlx.ExtContext, lot *repository.Lot) (*AlertEvaluation, error) {
	cpm, err := m.profiles.GetCPM(ctx, q, lot.MedicamentoID)
	if err != nil {
		return nil, err
	}

	eval := &AlertEvaluation{
		Transition: Transition(cpm, lot.Existencia, lot.AlertaEnviada),
		CPM:        cpm,
		Umbral:     cpm / 2,
	}

	switch eval.Transition {
	case TransitionTriggered:
		if err := m.lots.SetAlertLatch(ctx, q, lot.ID, true); err != nil {
			return nil, err
		}
		lot.AlertaEnviada = true
	case TransitionReset:
		if err := m.lots.SetAlertLatch(ctx, q, lot.ID, false); err != nil {
			return nil, err
		}
		lot.AlertaEnviada = false
	}

	return eval, nil
}

// ScanLowStock aggregates existencia per medication and reports every
// medication whose total sits at or below half its CPM. This is the
// coarse digest view; it reads committed state only and is independent
// of the per-lot latch.
func (m *StockMonitor) ScanLowStock(ctx context.Context) ([]*repository.MedicationStock, error) {
	totals, err := m.lots.TotalsByMedication(ctx)
	if err != nil {
		return nil, err
	}

	var low []*repository.MedicationStock
	for _, t := range totals {
		if t.CPM <= 0 {
			continue
		}
		if t.Existencia <= t.CPM/2 {
			low = append(low, t)
		}
	}

	m.logger.Debug().
		Int("medications", len(totals)).
		Int("below_threshold", len(low)).
		Msg("low stock scan completed")

	return low, nil
}
