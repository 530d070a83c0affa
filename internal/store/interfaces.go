// Package store defines the persistence contracts the pipeline stages
// coordinate through. All cross-stage coordination happens via these
// row-level operations; no stage reads another's in-flight state.
package store

import (
	"context"
	"time"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// ProfileStore persists unified profiles and their identity links.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p *domain.UnifiedProfile) error
	GetProfile(ctx context.Context, tenantID, profileID string) (*domain.UnifiedProfile, error)

	// UpdateProfile overwrites the profile's mutable columns (fragment sets,
	// traits, computed traits, last seen). Last-write-wins on computed
	// traits is accepted per the concurrency model.
	UpdateProfile(ctx context.Context, p *domain.UnifiedProfile) error

	// TouchLastSeen advances last_seen_at without rewriting the row.
	TouchLastSeen(ctx context.Context, tenantID, profileID string, at time.Time) error

	// LookupLink returns the link owning a fragment, or domain.ErrNotFound.
	LookupLink(ctx context.Context, tenantID string, fragment domain.Fragment) (*domain.IdentityLink, error)

	// UpsertLink inserts a link; a duplicate (tenant, type, value) attempt
	// is ignored, not an error.
	UpsertLink(ctx context.Context, link *domain.IdentityLink) error

	// MergeProfiles applies a merge result in one serialized transaction:
	// rewrites the primary row, re-points links and events owned by the
	// losers, and soft-marks the losers as merged into the primary. Returns
	// how many event rows moved to the primary.
	MergeProfiles(ctx context.Context, primary *domain.UnifiedProfile, loserIDs []string) (int64, error)

	// ActiveProfileIDs lists profiles for the tenant seen since the cutoff
	// that hold at least one identity link.
	ActiveProfileIDs(ctx context.Context, tenantID string, since time.Time) ([]string, error)
}

// EventStore persists behavioral events with dedupe-key idempotency.
type EventStore interface {
	// InsertEvent inserts the event unless its (tenant, dedupe key) already
	// exists; inserted=false signals the duplicate case.
	InsertEvent(ctx context.Context, ev *domain.Event) (inserted bool, err error)

	GetEventByDedupeKey(ctx context.Context, tenantID, dedupeKey string) (*domain.Event, error)

	// AttachOrphanEvents re-points unowned events carrying the anonymous id
	// to the profile; returns how many rows moved.
	AttachOrphanEvents(ctx context.Context, tenantID, anonymousID, profileID string) (int64, error)

	UpdateEventStatus(ctx context.Context, tenantID, eventID string, status domain.EventStatus) error
}

// JobStore is the durable sync-job queue.
type JobStore interface {
	EnqueueJob(ctx context.Context, job *domain.SyncJob) error

	// DueJobs returns pending jobs scheduled at or before now with attempts
	// below the ceiling, oldest first.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*domain.SyncJob, error)

	// ClaimJob conditionally moves a job pending->running and increments its
	// attempt counter. claimed=false means another dispatcher won the row.
	ClaimJob(ctx context.Context, jobID string) (claimed bool, err error)

	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, lastError string) error

	// RescheduleJob returns a running job to pending with a new scheduled
	// time, recording the delivery error.
	RescheduleJob(ctx context.Context, jobID string, at time.Time, lastError string) error

	GetJob(ctx context.Context, jobID string) (*domain.SyncJob, error)
}

// SignalStore persists predictive signals keyed by (tenant, profile, type).
type SignalStore interface {
	GetSignal(ctx context.Context, tenantID, profileID string, typ domain.SignalType) (*domain.PredictiveSignal, error)
	UpsertSignal(ctx context.Context, sig *domain.PredictiveSignal) error
	MarkFlowTriggered(ctx context.Context, tenantID, profileID string, typ domain.SignalType, at time.Time) error
	DeleteExpiredSignals(ctx context.Context, now time.Time) (int64, error)
}

// TenantStore resolves tenants, API keys, destinations, and usage counters.
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	ListTenants(ctx context.Context) ([]*domain.Tenant, error)
	GetAPIKey(ctx context.Context, key string) (*domain.APIKey, error)
	EnabledDestinations(ctx context.Context, tenantID string) ([]*domain.Destination, error)
	GetDestination(ctx context.Context, destinationID string) (*domain.Destination, error)
	SetDestinationError(ctx context.Context, destinationID, lastError string) error

	// IncrementUsage adds one to the tenant's event counter for the billing
	// period (YYYY-MM), creating the period row if absent.
	IncrementUsage(ctx context.Context, tenantID, period string) error

	// Provisioning. Used by the bootstrap path; upserts are idempotent so
	// re-running it is safe.
	UpsertTenant(ctx context.Context, t *domain.Tenant) error
	UpsertAPIKey(ctx context.Context, k *domain.APIKey) error
	UpsertDestination(ctx context.Context, d *domain.Destination) error
}
