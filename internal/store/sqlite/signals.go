package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// GetSignal loads the live signal for (tenant, profile, type).
func (s *Store) GetSignal(ctx context.Context, tenantID, profileID string, typ domain.SignalType) (*domain.PredictiveSignal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, profile_id, signal_type, confidence, payload,
		       should_trigger_flow, flow_triggered_at, expires_at, created_at
		FROM predictive_signals
		WHERE tenant_id = ? AND profile_id = ? AND signal_type = ?`,
		tenantID, profileID, typ)

	var sig domain.PredictiveSignal
	var payload string
	var triggered sql.NullTime

	err := row.Scan(&sig.TenantID, &sig.ProfileID, &sig.Type, &sig.Confidence,
		&payload, &sig.ShouldTriggerFlow, &triggered, &sig.ExpiresAt, &sig.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan predictive signal: %w", err)
	}

	if triggered.Valid {
		sig.FlowTriggeredAt = &triggered.Time
	}
	if err := unmarshalJSON(payload, &sig.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode signal payload: %w", err)
	}
	return &sig, nil
}

// UpsertSignal creates or refreshes the signal for its (tenant, profile,
// type) key. The conflict branch deliberately leaves flow_triggered_at
// untouched so an already-fired instance cannot re-arm before expiry.
func (s *Store) UpsertSignal(ctx context.Context, sig *domain.PredictiveSignal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO predictive_signals
			(tenant_id, profile_id, signal_type, confidence, payload,
			 should_trigger_flow, flow_triggered_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(tenant_id, profile_id, signal_type) DO UPDATE SET
			confidence = excluded.confidence,
			payload = excluded.payload,
			should_trigger_flow = excluded.should_trigger_flow,
			expires_at = excluded.expires_at`,
		sig.TenantID, sig.ProfileID, sig.Type, sig.Confidence,
		mustJSON(sig.Payload), sig.ShouldTriggerFlow, sig.ExpiresAt, sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert predictive signal: %w", err)
	}
	return nil
}

// MarkFlowTriggered records the at-most-once flow firing for the signal
// instance and drops its trigger flag.
func (s *Store) MarkFlowTriggered(ctx context.Context, tenantID, profileID string, typ domain.SignalType, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE predictive_signals
		SET flow_triggered_at = ?, should_trigger_flow = 0
		WHERE tenant_id = ? AND profile_id = ? AND signal_type = ?
		  AND flow_triggered_at IS NULL`,
		at, tenantID, profileID, typ)
	if err != nil {
		return fmt.Errorf("failed to mark flow triggered: %w", err)
	}
	return nil
}

// DeleteExpiredSignals removes signals past their expiry, regardless of
// whether they still match a rule.
func (s *Store) DeleteExpiredSignals(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM predictive_signals WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired signals: %w", err)
	}
	return res.RowsAffected()
}
