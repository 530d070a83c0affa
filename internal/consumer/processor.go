package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// Processor drains envelopes through the ingestion pipeline, one event at a
// time. SQLite serializes writers anyway, so per-event processing costs
// nothing over batching and keeps acknowledgment exact.
type Processor struct {
	ingester EventIngester
	log      *zap.Logger
}

// NewProcessor creates a processor stage.
func NewProcessor(ingester EventIngester, log *zap.Logger) *Processor {
	return &Processor{
		ingester: ingester,
		log:      log,
	}
}

// Start consumes envelopes until the input closes or the context ends.
func (p *Processor) Start(ctx context.Context, in <-chan *Envelope) {
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Processor shutting down")
			return
		case envelope, ok := <-in:
			if !ok {
				p.log.Info("Processor input channel closed")
				return
			}
			p.process(ctx, envelope)
		}
	}
}

// process ingests one envelope and settles it. Validation rejections are
// acked and dropped; redelivering them can only fail the same way. Anything
// else is treated as transient and nacked for redelivery.
func (p *Processor) process(ctx context.Context, envelope *Envelope) {
	raw := envelope.Raw
	result, err := p.ingester.IngestEvent(ctx, *raw)

	switch {
	case err == nil:
		if result.Duplicate {
			p.log.Debug("Duplicate event acknowledged",
				zap.String("tenant_id", raw.TenantID),
				zap.String("event", raw.Name))
		}
		if err := envelope.Ack(ctx); err != nil {
			p.log.Error("Failed to ack envelope", zap.Error(err))
		}

	case domain.IsValidation(err):
		p.log.Warn("Dropping invalid event",
			zap.String("tenant_id", raw.TenantID),
			zap.String("event", raw.Name),
			zap.Error(err))
		if err := envelope.Ack(ctx); err != nil {
			p.log.Error("Failed to ack invalid envelope", zap.Error(err))
		}

	default:
		p.log.Error("Failed to ingest event, leaving for redelivery",
			zap.String("tenant_id", raw.TenantID),
			zap.String("event", raw.Name),
			zap.Error(err))
		if err := envelope.Nack(ctx); err != nil {
			p.log.Error("Failed to nack envelope", zap.Error(err))
		}
	}
}
