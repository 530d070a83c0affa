package consumer

import (
	"context"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/ingest"
)

// MessageParser parses raw message bytes into a raw event.
type MessageParser interface {
	Parse(body []byte) (*domain.RawEvent, error)
}

// EventIngester runs one raw event through the ingestion pipeline.
type EventIngester interface {
	IngestEvent(ctx context.Context, raw domain.RawEvent) (*ingest.Result, error)
}
