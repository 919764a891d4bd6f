package service

import (
	"context"
	"fmt"
	"time"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
)

// DigestScheduler periodically sweeps aggregated stock levels and
// publishes a medication-level low-stock digest. The sweep only reads
// committed state and is independent of the per-lot alert latch, so
// re-running it is harmless.
type DigestScheduler struct {
	monitor   *StockMonitor
	alerts    *repository.AlertLogRepository
	publisher *events.PharmacyEventPublisher
	interval  time.Duration
	logger    *logger.Logger
	cancel    context.CancelFunc
}

// NewDigestScheduler creates a new digest scheduler
func NewDigestScheduler(monitor *StockMonitor, alerts *repository.AlertLogRepository, publisher *events.PharmacyEventPublisher, interval time.Duration, log *logger.Logger) *DigestScheduler {
	return &DigestScheduler{
		monitor:   monitor,
		alerts:    alerts,
		publisher: publisher,
		interval:  interval,
		logger:    log.WithComponent("digest_scheduler"),
	}
}

// Start starts the scheduler in a background goroutine
func (s *DigestScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("digest scheduler started")

		// Run an initial sweep immediately
		s.runDigest(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("digest scheduler stopped")
				return
			case <-ticker.C:
				s.runDigest(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine
func (s *DigestScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *DigestScheduler) runDigest(ctx context.Context) {
	start := time.Now()

	low, err := s.monitor.ScanLowStock(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("low stock sweep failed")
		return
	}
	if len(low) == 0 {
		s.logger.Debug().Msg("low stock sweep found nothing to report")
		return
	}

	digest := messaging.LowStockDigestEvent{
		GeneratedAt: time.Now().UTC(),
		Items:       make([]messaging.LowStockDigestItem, 0, len(low)),
	}
	for _, m := range low {
		digest.Items = append(digest.Items, messaging.LowStockDigestItem{
			MedicationID: m.MedicamentoID,
			Clave:        m.Clave,
			Description:  m.Descripcion,
			Existencia:   m.Existencia,
			CPM:          m.CPM,
			Threshold:    m.CPM / 2,
		})

		entry := &repository.AlertLog{
			MedicamentoID: m.MedicamentoID,
			Tipo:          repository.AlertTypeDigest,
			Mensaje: fmt.Sprintf("resumen: %s (%s) con %d unidades, umbral %d",
				m.Clave, m.Descripcion, m.Existencia, m.CPM/2),
			Existencia: m.Existencia,
			CPM:        m.CPM,
			Umbral:     m.CPM / 2,
		}
		if err := s.alerts.Insert(ctx, entry); err != nil {
			s.logger.Error().Err(err).Str("clave", m.Clave).Msg("failed to record digest entry")
		}
	}

	s.publisher.PublishLowStockDigest(ctx, digest)

	s.logger.Info().
		Int("medications", len(low)).
		Dur("duration", time.Since(start)).
		Msg("low stock digest published")
}
