package consumer

import (
	"context"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// Envelope wraps a raw event with its queue acknowledgment callbacks.
type Envelope struct {
	Raw  *domain.RawEvent
	ack  func(context.Context) error
	nack func(context.Context) error
}

// NewEnvelope creates a message envelope.
func NewEnvelope(raw *domain.RawEvent, ack, nack func(context.Context) error) *Envelope {
	return &Envelope{
		Raw:  raw,
		ack:  ack,
		nack: nack,
	}
}

// Ack acknowledges successful processing; the message leaves the queue.
func (e *Envelope) Ack(ctx context.Context) error {
	if e.ack != nil {
		return e.ack(ctx)
	}
	return nil
}

// Nack leaves the message on the queue for redelivery.
func (e *Envelope) Nack(ctx context.Context) error {
	if e.nack != nil {
		return e.nack(ctx)
	}
	return nil
}
