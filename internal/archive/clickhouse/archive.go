package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/archive"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// Archive implements archive.EventArchive on ClickHouse.
type Archive struct {
	client *Client
	log    *zap.Logger
}

// NewArchive creates a ClickHouse-backed event archive.
func NewArchive(client *Client, log *zap.Logger) *Archive {
	return &Archive{
		client: client,
		log:    log,
	}
}

// InitSchema creates the archive table. ReplacingMergeTree collapses the rare
// double-write from worker redelivery; event_id is globally unique upstream.
func (a *Archive) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		event_id String,
		tenant_id LowCardinality(String),
		profile_id String,
		event_type LowCardinality(String),
		event_name LowCardinality(String),
		anonymous_id String,
		session_id String,
		source LowCardinality(String),
		properties String,
		event_ts Int64,
		processed_at DateTime64(3) DEFAULT now64(3),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	PRIMARY KEY (tenant_id, event_id)
	ORDER BY (tenant_id, event_id)
	PARTITION BY toYYYYMM(toDateTime(event_ts))
	SETTINGS index_granularity = 8192
	`

	if err := a.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	a.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// InsertBatch appends a batch of processed events.
func (a *Archive) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch, err := a.client.Conn().PrepareBatch(ctx, "INSERT INTO events")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	insertedCount := 0
	for _, event := range events {
		propsJSON := "{}"
		if len(event.Properties) > 0 {
			raw, err := json.Marshal(event.Properties)
			if err != nil {
				a.log.Warn("Failed to marshal event properties, archiving without them",
					zap.String("event_id", event.ID),
					zap.Error(err))
			} else {
				propsJSON = string(raw)
			}
		}

		err := batch.Append(
			event.ID,
			event.TenantID,
			event.ProfileID,
			string(event.Type),
			event.Name,
			event.AnonymousID,
			event.SessionID,
			string(event.Source),
			propsJSON,
			event.EventTime.Unix(),
			event.ProcessedAt,
			uint64(time.Now().UnixNano()),
		)

		if err != nil {
			return 0, fmt.Errorf("failed to append event to batch: %w", err)
		}
		insertedCount++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return insertedCount, nil
}

// Ping checks if the ClickHouse connection is alive
func (a *Archive) Ping(ctx context.Context) error {
	return a.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (a *Archive) Close() error {
	return a.client.Close()
}

// GetMetrics aggregates archived events for one tenant.
func (a *Archive) GetMetrics(ctx context.Context, query archive.MetricsQuery) (*archive.MetricsResult, error) {
	result := &archive.MetricsResult{
		Groups: []archive.MetricsGroupResult{},
	}

	whereClause := "WHERE tenant_id = ? AND event_ts >= ? AND event_ts <= ?"
	args := []interface{}{query.TenantID, query.From, query.To}
	if query.EventType != "" {
		whereClause += " AND event_type = ?"
		args = append(args, query.EventType)
	}

	overallQuery := fmt.Sprintf(`
		SELECT
			count() as total_count,
			uniq(profile_id) as unique_count
		FROM events FINAL
		%s
	`, whereClause)

	row := a.client.Conn().QueryRow(ctx, overallQuery, args...)
	if err := row.Scan(&result.TotalCount, &result.UniqueCount); err != nil {
		return nil, fmt.Errorf("failed to query overall metrics: %w", err)
	}

	if query.GroupBy != "" {
		validGroupBy := map[string]bool{"event_type": true, "hour": true, "day": true}
		if !validGroupBy[query.GroupBy] {
			return nil, fmt.Errorf("unsupported group_by value: %s (supported: event_type, hour, day)", query.GroupBy)
		}

		var selectField string
		var groupByClause string
		var orderBy string

		switch query.GroupBy {
		case "event_type":
			selectField = "event_type"
			groupByClause = "GROUP BY event_type"
			orderBy = "ORDER BY total_count DESC"
		case "hour":
			selectField = "formatDateTime(toStartOfHour(toDateTime(event_ts)), '%Y-%m-%d %H:00:00')"
			groupByClause = "GROUP BY toStartOfHour(toDateTime(event_ts))"
			orderBy = "ORDER BY group_value ASC"
		case "day":
			selectField = "formatDateTime(toStartOfDay(toDateTime(event_ts)), '%Y-%m-%d')"
			groupByClause = "GROUP BY toStartOfDay(toDateTime(event_ts))"
			orderBy = "ORDER BY group_value ASC"
		}

		groupedQuery := fmt.Sprintf(`
			SELECT
				%s as group_value,
				count() as total_count
			FROM events FINAL
			%s
			%s
			%s
		`, selectField, whereClause, groupByClause, orderBy)

		rows, err := a.client.Conn().Query(ctx, groupedQuery, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query grouped metrics: %w", err)
		}
		defer func(rows driver.Rows) {
			if err := rows.Close(); err != nil {
				a.log.Error("Failed to close grouped metrics rows", zap.Error(err))
			}
		}(rows)

		for rows.Next() {
			var group archive.MetricsGroupResult
			if err := rows.Scan(&group.GroupValue, &group.TotalCount); err != nil {
				return nil, fmt.Errorf("failed to scan grouped metrics row: %w", err)
			}
			result.Groups = append(result.Groups, group)
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating grouped metrics rows: %w", err)
		}
	}

	return result, nil
}
