package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// InsertEvent persists an event. A UNIQUE violation on (tenant, dedupe key)
// is the idempotency contract at work, reported as inserted=false rather
// than an error.
func (s *Store) InsertEvent(ctx context.Context, ev *domain.Event) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
			(id, tenant_id, profile_id, event_type, event_name, properties,
			 context, anonymous_id, session_id, source, status, dedupe_key,
			 event_time, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TenantID, ev.ProfileID, ev.Type, ev.Name, mustJSON(ev.Properties),
		mustJSON(ev.Context), ev.AnonymousID, ev.SessionID, ev.Source, ev.Status,
		ev.DedupeKey, ev.EventTime, ev.ProcessedAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}
	return true, nil
}

// GetEventByDedupeKey returns the stored event for a dedupe key.
func (s *Store) GetEventByDedupeKey(ctx context.Context, tenantID, dedupeKey string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, profile_id, event_type, event_name, properties,
		       context, anonymous_id, session_id, source, status, dedupe_key,
		       event_time, processed_at
		FROM events WHERE tenant_id = ? AND dedupe_key = ?`, tenantID, dedupeKey)
	return scanEvent(row)
}

// AttachOrphanEvents gives unowned events with the anonymous id to a profile.
func (s *Store) AttachOrphanEvents(ctx context.Context, tenantID, anonymousID, profileID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET profile_id = ?
		WHERE tenant_id = ? AND anonymous_id = ? AND profile_id = ''`,
		profileID, tenantID, anonymousID)
	if err != nil {
		return 0, fmt.Errorf("failed to attach orphan events: %w", err)
	}
	return res.RowsAffected()
}

// UpdateEventStatus advances an event's status.
func (s *Store) UpdateEventStatus(ctx context.Context, tenantID, eventID string, status domain.EventStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE tenant_id = ? AND id = ?`,
		status, tenantID, eventID)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return nil
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var ev domain.Event
	var properties, evContext string

	err := row.Scan(&ev.ID, &ev.TenantID, &ev.ProfileID, &ev.Type, &ev.Name,
		&properties, &evContext, &ev.AnonymousID, &ev.SessionID, &ev.Source,
		&ev.Status, &ev.DedupeKey, &ev.EventTime, &ev.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if err := unmarshalJSON(properties, &ev.Properties); err != nil {
		return nil, fmt.Errorf("failed to decode event properties: %w", err)
	}
	if err := unmarshalJSON(evContext, &ev.Context); err != nil {
		return nil, fmt.Errorf("failed to decode event context: %w", err)
	}
	return &ev, nil
}
