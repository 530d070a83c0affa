// Package ingest turns raw event payloads into persisted events, resolved
// profiles, refreshed computed traits, and queued sync work. All three event
// sources (JS pixel, server API, commerce webhooks) funnel through here.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/identity"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/scoring"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/store"
)

// EventArchiver receives processed events for the analytics archive.
// Recording must not block ingestion.
type EventArchiver interface {
	Record(ev *domain.Event)
}

// Service is the ingestion pipeline core.
type Service struct {
	profiles store.ProfileStore
	events   store.EventStore
	jobs     store.JobStore
	tenants  store.TenantStore
	resolver *identity.Resolver
	archive  EventArchiver // optional
	log      *zap.Logger
}

// NewService wires the ingestion service. archive may be nil when no
// analytics backend is configured.
func NewService(
	profiles store.ProfileStore,
	events store.EventStore,
	jobs store.JobStore,
	tenants store.TenantStore,
	resolver *identity.Resolver,
	archive EventArchiver,
	log *zap.Logger,
) *Service {
	return &Service{
		profiles: profiles,
		events:   events,
		jobs:     jobs,
		tenants:  tenants,
		resolver: resolver,
		archive:  archive,
		log:      log,
	}
}

// Result reports what one ingested event produced.
type Result struct {
	Event   *domain.Event
	Profile *domain.UnifiedProfile
	// Duplicate is true when the dedupe key was already stored; the event
	// was not re-persisted and no sync work or usage was produced, though
	// time-derived traits still refreshed.
	Duplicate bool
}

// IngestEvent runs one raw event through the full pipeline: normalize,
// validate, dedupe, resolve identity, persist, rescore, and queue outbound
// sync work. Validation failures are terminal; storage failures are not and
// callers on the queue path retry by redelivery.
func (s *Service) IngestEvent(ctx context.Context, raw domain.RawEvent) (*Result, error) {
	if raw.TenantID == "" {
		return nil, domain.Validationf("missing tenant id")
	}
	typ, name := Normalize(raw.Name)
	if name == "" {
		return nil, domain.Validationf("missing event name")
	}
	if err := validateProperties(raw.Properties); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	eventTime := raw.EventTime
	if eventTime.IsZero() || eventTime.After(now) {
		eventTime = now
	}

	// Server-side calls often have no device id; a connection fingerprint
	// keeps repeat requests from the same client on one profile.
	if raw.AnonymousID == "" && raw.Source == domain.SourceServer &&
		(raw.Context.IP != "" || raw.Context.UserAgent != "") {
		raw.AnonymousID = Fingerprint(raw.TenantID, raw.Context.IP, raw.Context.UserAgent)
	}

	key, err := dedupeKey(raw, name)
	if err != nil {
		return nil, err
	}

	fragments := identity.Fragments(raw.Email, raw.CustomerID, raw.Phone, raw.AnonymousID)
	res, err := s.resolver.Resolve(ctx, raw.TenantID, fragments, raw.Source, now)
	if err != nil {
		return nil, err
	}
	profile := res.Profile

	ev := &domain.Event{
		ID:          ulid.Make().String(),
		TenantID:    raw.TenantID,
		ProfileID:   profile.ID,
		Type:        typ,
		Name:        name,
		Properties:  raw.Properties,
		Context:     raw.Context,
		AnonymousID: raw.AnonymousID,
		SessionID:   raw.SessionID,
		Source:      raw.Source,
		Status:      domain.EventStatusProcessed,
		DedupeKey:   key,
		EventTime:   eventTime,
		ProcessedAt: now,
	}

	inserted, err := s.events.InsertEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	if !inserted {
		stored, err := s.events.GetEventByDedupeKey(ctx, raw.TenantID, key)
		if err != nil {
			return nil, err
		}
		// Redelivery still proves the person is active: recency and decay
		// refresh, but the event's weight is never credited twice.
		profile.Computed = scoring.Refresh(profile.Computed, eventTime, now)
		if now.After(profile.LastSeenAt) {
			profile.LastSeenAt = now
		}
		if err := s.profiles.UpdateProfile(ctx, profile); err != nil {
			return nil, fmt.Errorf("failed to refresh computed traits: %w", err)
		}
		s.log.Debug("duplicate event dropped",
			zap.String("tenant_id", raw.TenantID),
			zap.String("dedupe_key", key),
			zap.String("event", name))
		return &Result{Event: stored, Profile: profile, Duplicate: true}, nil
	}

	profile.Computed = scoring.Update(profile.Computed, scoring.Input{
		Type:       typ,
		Name:       name,
		SessionID:  raw.SessionID,
		Properties: raw.Properties,
		EventTime:  eventTime,
	}, now)
	if now.After(profile.LastSeenAt) {
		profile.LastSeenAt = now
	}
	if err := s.profiles.UpdateProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to persist computed traits: %w", err)
	}

	if s.archive != nil {
		s.archive.Record(ev)
	}

	if _, err := s.enqueueEventJobs(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.tenants.IncrementUsage(ctx, raw.TenantID, now.Format("2006-01")); err != nil {
		return nil, fmt.Errorf("failed to count usage: %w", err)
	}

	return &Result{Event: ev, Profile: profile}, nil
}

// IdentifyRequest carries an explicit identification call.
type IdentifyRequest struct {
	TenantID    string
	AnonymousID string
	CustomerID  string
	Email       string
	Phone       string
	Traits      domain.Properties
}

// IdentifyResult reports what an identify call changed.
type IdentifyResult struct {
	UnifiedUserID   string
	IsNewUser       bool
	EventsLinked    int64
	SyncJobsCreated int
}

// Identify binds the presented fragments to one profile, applies explicit
// traits, links the events the anonymous visitor produced, and queues a
// profile upsert toward every enabled destination.
func (s *Service) Identify(ctx context.Context, req IdentifyRequest) (*IdentifyResult, error) {
	if req.TenantID == "" {
		return nil, domain.Validationf("missing tenant id")
	}
	if err := validateProperties(req.Traits); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fragments := identity.Fragments(req.Email, req.CustomerID, req.Phone, req.AnonymousID)
	res, err := s.resolver.Resolve(ctx, req.TenantID, fragments, domain.SourceServer, now)
	if err != nil {
		return nil, err
	}
	profile := res.Profile

	if len(req.Traits) > 0 {
		if profile.Traits == nil {
			profile.Traits = domain.Properties{}
		}
		// Explicit traits overwrite; they came straight from the customer.
		for k, v := range req.Traits {
			profile.Traits[k] = v
		}
		if err := s.profiles.UpdateProfile(ctx, profile); err != nil {
			return nil, fmt.Errorf("failed to persist traits: %w", err)
		}
	}

	// Events reach the caller's profile two ways: merge re-pointed the rows
	// the absorbed profiles owned, and orphaned rows still carrying only the
	// anonymous id are claimed here.
	linked := res.EventsLinked
	if req.AnonymousID != "" {
		attached, err := s.events.AttachOrphanEvents(ctx, req.TenantID, req.AnonymousID, profile.ID)
		if err != nil {
			return nil, err
		}
		linked += attached
	}

	jobs, err := s.enqueueProfileJobs(ctx, req.TenantID, profile.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info("identity applied",
		zap.String("tenant_id", req.TenantID),
		zap.String("profile_id", profile.ID),
		zap.Bool("created", res.Created),
		zap.Int("merged", len(res.MergedIDs)),
		zap.Int64("events_linked", linked))

	return &IdentifyResult{
		UnifiedUserID:   profile.ID,
		IsNewUser:       res.Created,
		EventsLinked:    linked,
		SyncJobsCreated: jobs,
	}, nil
}

// enqueueEventJobs queues one event_track job per enabled destination. The
// payload snapshots the event; profile data is read fresh at dispatch time.
func (s *Service) enqueueEventJobs(ctx context.Context, ev *domain.Event) (int, error) {
	destinations, err := s.tenants.EnabledDestinations(ctx, ev.TenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list destinations: %w", err)
	}

	now := time.Now().UTC()
	for _, dst := range destinations {
		job := &domain.SyncJob{
			ID:            uuid.NewString(),
			TenantID:      ev.TenantID,
			DestinationID: dst.ID,
			ProfileID:     ev.ProfileID,
			EventID:       ev.ID,
			Type:          domain.JobEventTrack,
			Status:        domain.JobPending,
			ScheduledAt:   now,
			Payload: domain.Properties{
				"event":      ev.Name,
				"event_type": string(ev.Type),
				"properties": ev.Properties,
				"event_time": ev.EventTime.Format(time.RFC3339),
			},
			CreatedAt: now,
		}
		if err := s.jobs.EnqueueJob(ctx, job); err != nil {
			return 0, fmt.Errorf("failed to enqueue event job: %w", err)
		}
	}
	return len(destinations), nil
}

// enqueueProfileJobs queues one profile_upsert job per enabled destination.
func (s *Service) enqueueProfileJobs(ctx context.Context, tenantID, profileID string) (int, error) {
	destinations, err := s.tenants.EnabledDestinations(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list destinations: %w", err)
	}

	now := time.Now().UTC()
	for _, dst := range destinations {
		job := &domain.SyncJob{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			DestinationID: dst.ID,
			ProfileID:     profileID,
			Type:          domain.JobProfileUpsert,
			Status:        domain.JobPending,
			ScheduledAt:   now,
			Payload:       domain.Properties{},
			CreatedAt:     now,
		}
		if err := s.jobs.EnqueueJob(ctx, job); err != nil {
			return 0, fmt.Errorf("failed to enqueue profile job: %w", err)
		}
	}
	return len(destinations), nil
}
