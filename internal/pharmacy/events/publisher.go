package events

import (
	"context"

	"github.com/farmatrack/farmatrack-backend/pkg/logger"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
)

// Publisher is the messaging surface this package needs; satisfied by
// messaging.Publisher and by the test mock.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// PharmacyEventPublisher publishes pharmacy-related events
type PharmacyEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewPharmacyEventPublisher creates a new pharmacy event publisher
func NewPharmacyEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*PharmacyEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangePharmacyEvents, "pharmacy-service", log)
	if err != nil {
		return nil, err
	}

	return &PharmacyEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// NewPharmacyEventPublisherWith wraps an existing publisher
func NewPharmacyEventPublisherWith(pub Publisher, log *logger.Logger) *PharmacyEventPublisher {
	return &PharmacyEventPublisher{
		publisher: pub,
		logger:    log,
	}
}

// PublishLowStockAlert publishes a low stock alert event
func (p *PharmacyEventPublisher) PublishLowStockAlert(ctx context.Context, data messaging.LowStockAlertEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventLowStockAlert, data); err != nil {
		p.logger.Error().Err(err).Str("clave", data.Clave).Msg("failed to publish low stock alert event")
	}
}

// PublishLowStockDigest publishes a low stock digest event
func (p *PharmacyEventPublisher) PublishLowStockDigest(ctx context.Context, data messaging.LowStockDigestEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventLowStockDigest, data); err != nil {
		p.logger.Error().Err(err).Int("items", len(data.Items)).Msg("failed to publish low stock digest event")
	}
}

// PublishStockReceived publishes a stock received event
func (p *PharmacyEventPublisher) PublishStockReceived(ctx context.Context, data messaging.StockReceivedEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReceived, data); err != nil {
		p.logger.Error().Err(err).Str("folio", data.Folio).Msg("failed to publish stock received event")
	}
}

// PublishStockDispensed publishes a stock dispensed event
func (p *PharmacyEventPublisher) PublishStockDispensed(ctx context.Context, data messaging.StockDispensedEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockDispensed, data); err != nil {
		p.logger.Error().Err(err).Str("folio", data.Folio).Msg("failed to publish stock dispensed event")
	}
}

// PublishLotDepleted publishes a lot depleted event
func (p *PharmacyEventPublisher) PublishLotDepleted(ctx context.Context, data messaging.LotDepletedEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventLotDepleted, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", data.LotID).Msg("failed to publish lot depleted event")
	}
}

// PublishImportCommitted publishes an import committed event
func (p *PharmacyEventPublisher) PublishImportCommitted(ctx context.Context, data messaging.ImportCommittedEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventImportCommitted, data); err != nil {
		p.logger.Error().Err(err).Int("rows", data.RowsApplied).Msg("failed to publish import committed event")
	}
}
