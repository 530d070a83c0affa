package predictive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/scoring"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/store"
)

// activeWindow bounds the sweep to profiles seen recently; anything older
// can only ever match churn rules it has already matched.
const activeWindow = 30 * 24 * time.Hour

// Engine runs the catalog over every active profile of every tenant.
type Engine struct {
	profiles store.ProfileStore
	signals  store.SignalStore
	jobs     store.JobStore
	tenants  store.TenantStore
	log      *zap.Logger
}

// NewEngine wires a sweep engine.
func NewEngine(
	profiles store.ProfileStore,
	signals store.SignalStore,
	jobs store.JobStore,
	tenants store.TenantStore,
	log *zap.Logger,
) *Engine {
	return &Engine{
		profiles: profiles,
		signals:  signals,
		jobs:     jobs,
		tenants:  tenants,
		log:      log,
	}
}

// SweepStats summarizes one sweep for logging.
type SweepStats struct {
	ProfilesEvaluated int
	SignalsUpserted   int
	FlowsTriggered    int
	SignalsExpired    int64
}

// Sweep expires stale signals, then evaluates the catalog for every active
// profile. A failing profile is logged and skipped; one bad row must not
// starve the rest of the tenant.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats

	expired, err := e.signals.DeleteExpiredSignals(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("failed to expire signals: %w", err)
	}
	stats.SignalsExpired = expired

	tenants, err := e.tenants.ListTenants(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenant := range tenants {
		ids, err := e.profiles.ActiveProfileIDs(ctx, tenant.ID, now.Add(-activeWindow))
		if err != nil {
			return stats, fmt.Errorf("failed to list active profiles for %s: %w", tenant.ID, err)
		}
		for _, id := range ids {
			upserted, fired, err := e.evaluateProfile(ctx, tenant.ID, id, now)
			if err != nil {
				e.log.Warn("profile evaluation failed",
					zap.String("tenant_id", tenant.ID),
					zap.String("profile_id", id),
					zap.Error(err))
				continue
			}
			stats.ProfilesEvaluated++
			stats.SignalsUpserted += upserted
			stats.FlowsTriggered += fired
		}
	}

	e.log.Info("predictive sweep finished",
		zap.Int("profiles", stats.ProfilesEvaluated),
		zap.Int("signals", stats.SignalsUpserted),
		zap.Int("flows", stats.FlowsTriggered),
		zap.Int64("expired", stats.SignalsExpired))

	return stats, nil
}

func (e *Engine) evaluateProfile(ctx context.Context, tenantID, profileID string, now time.Time) (upserted, fired int, err error) {
	profile, err := e.profiles.GetProfile(ctx, tenantID, profileID)
	if err != nil {
		return 0, 0, err
	}

	// Recency in the stored row ages between events; recompute it so
	// time-based rules see today's value.
	computed := profile.Computed
	computed.RecencyDays = scoring.RecencyDays(computed.LastActivityAt, now)

	for _, rule := range Catalog {
		if !rule.Match(computed) {
			continue
		}

		shouldTrigger, err := e.flowArmed(ctx, tenantID, profileID, rule)
		if err != nil {
			return upserted, fired, err
		}

		sig := &domain.PredictiveSignal{
			TenantID:          tenantID,
			ProfileID:         profileID,
			Type:              rule.Type,
			Confidence:        rule.Confidence,
			Payload:           rule.Payload(computed),
			ShouldTriggerFlow: shouldTrigger,
			ExpiresAt:         now.Add(rule.TTL),
			CreatedAt:         now,
		}
		if err := e.signals.UpsertSignal(ctx, sig); err != nil {
			return upserted, fired, err
		}
		upserted++

		if shouldTrigger {
			if err := e.fireFlow(ctx, tenantID, profileID, rule.Type, now); err != nil {
				return upserted, fired, err
			}
			fired++
		}
	}
	return upserted, fired, nil
}

// flowArmed reports whether the rule's flow may still fire for this signal
// instance: flow-bearing rule, and no firing recorded since the last expiry.
func (e *Engine) flowArmed(ctx context.Context, tenantID, profileID string, rule Rule) (bool, error) {
	if !rule.TriggersFlow {
		return false, nil
	}
	existing, err := e.signals.GetSignal(ctx, tenantID, profileID, rule.Type)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return existing.FlowTriggeredAt == nil, nil
}

// fireFlow pushes the refreshed profile to every enabled destination so the
// destination-side automation sees the signal promptly, then records the
// firing.
func (e *Engine) fireFlow(ctx context.Context, tenantID, profileID string, typ domain.SignalType, now time.Time) error {
	destinations, err := e.tenants.EnabledDestinations(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list destinations: %w", err)
	}
	for _, dst := range destinations {
		job := &domain.SyncJob{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			DestinationID: dst.ID,
			ProfileID:     profileID,
			Type:          domain.JobProfileUpsert,
			Status:        domain.JobPending,
			ScheduledAt:   now,
			Payload:       domain.Properties{"signal": string(typ)},
			CreatedAt:     now,
		}
		if err := e.jobs.EnqueueJob(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue flow job: %w", err)
		}
	}
	return e.signals.MarkFlowTriggered(ctx, tenantID, profileID, typ, now)
}
