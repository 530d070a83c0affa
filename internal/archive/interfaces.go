// Package archive is the write-behind analytics path: processed events are
// copied into a columnar store for aggregate queries, off the hot ingestion
// path. The archive is optional; the pipeline is fully functional without it.
package archive

import (
	"context"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// MetricsQuery selects an aggregate over archived events.
type MetricsQuery struct {
	TenantID  string
	EventType string
	From      int64
	To        int64
	GroupBy   string
}

// MetricsGroupResult is one aggregation bucket.
type MetricsGroupResult struct {
	GroupValue string
	TotalCount uint64
}

// MetricsResult is the outcome of a metrics query.
type MetricsResult struct {
	TotalCount  uint64
	UniqueCount uint64
	Groups      []MetricsGroupResult
}

// EventArchive stores archived events and answers aggregate queries.
type EventArchive interface {
	// InsertBatch appends a batch of events; returns how many were written.
	InsertBatch(ctx context.Context, events []*domain.Event) (int, error)

	// InitSchema creates the archive tables if they do not exist.
	InitSchema(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error

	// GetMetrics aggregates archived events per the query.
	GetMetrics(ctx context.Context, query MetricsQuery) (*MetricsResult, error)
}
