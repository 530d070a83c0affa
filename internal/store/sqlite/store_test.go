package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProfile(id string) *domain.UnifiedProfile {
	now := time.Now().UTC()
	return &domain.UnifiedProfile{
		ID:           id,
		TenantID:     "tn_1",
		Emails:       []string{},
		CustomerIDs:  []string{},
		AnonymousIDs: []string{},
		Traits:       domain.Properties{},
		Computed:     domain.NewComputedTraits(),
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}
}

func testEvent(id, dedupeKey string) *domain.Event {
	now := time.Now().UTC()
	return &domain.Event{
		ID:          id,
		TenantID:    "tn_1",
		Type:        domain.EventProductView,
		Name:        "product_view",
		Properties:  domain.Properties{"product_id": "p1"},
		Source:      domain.SourceJS,
		Status:      domain.EventStatusProcessed,
		DedupeKey:   dedupeKey,
		EventTime:   now,
		ProcessedAt: now,
	}
}

func TestInsertEventDuplicateDedupeKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertEvent(ctx, testEvent("ev_1", "dk_1"))
	assert.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertEvent(ctx, testEvent("ev_2", "dk_1"))
	assert.NoError(t, err)
	assert.False(t, inserted)

	stored, err := s.GetEventByDedupeKey(ctx, "tn_1", "dk_1")
	assert.NoError(t, err)
	assert.Equal(t, "ev_1", stored.ID)
}

func TestUpsertLinkKeepsFirstClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fragment := domain.Fragment{Type: domain.FragmentEmail, Value: "a@example.com"}

	err := s.UpsertLink(ctx, &domain.IdentityLink{
		TenantID: "tn_1", Type: fragment.Type, Value: fragment.Value,
		ProfileID: "pr_1", CreatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)

	err = s.UpsertLink(ctx, &domain.IdentityLink{
		TenantID: "tn_1", Type: fragment.Type, Value: fragment.Value,
		ProfileID: "pr_2", CreatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)

	link, err := s.LookupLink(ctx, "tn_1", fragment)
	assert.NoError(t, err)
	assert.Equal(t, "pr_1", link.ProfileID)
}

func TestLookupLinkNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LookupLink(context.Background(), "tn_1",
		domain.Fragment{Type: domain.FragmentEmail, Value: "nobody@example.com"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimJobSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := &domain.SyncJob{
		ID: "job_1", TenantID: "tn_1", DestinationID: "dst_1",
		Type: domain.JobProfileUpsert, Status: domain.JobPending,
		ScheduledAt: now, Payload: domain.Properties{}, CreatedAt: now,
	}
	assert.NoError(t, s.EnqueueJob(ctx, job))

	claimed, err := s.ClaimJob(ctx, "job_1")
	assert.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimJob(ctx, "job_1")
	assert.NoError(t, err)
	assert.False(t, claimed, "a running job must not be claimable again")

	stored, err := s.GetJob(ctx, "job_1")
	assert.NoError(t, err)
	assert.Equal(t, domain.JobRunning, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestDueJobsExcludesExhaustedAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := &domain.SyncJob{
		ID: "job_1", TenantID: "tn_1", DestinationID: "dst_1",
		Type: domain.JobEventTrack, Status: domain.JobPending,
		ScheduledAt: now.Add(-time.Minute), Payload: domain.Properties{}, CreatedAt: now,
	}
	assert.NoError(t, s.EnqueueJob(ctx, job))

	for i := 0; i < domain.MaxJobAttempts; i++ {
		claimed, err := s.ClaimJob(ctx, "job_1")
		assert.NoError(t, err)
		assert.True(t, claimed)
		assert.NoError(t, s.RescheduleJob(ctx, "job_1", now.Add(-time.Minute), "timeout"))
	}

	claimed, err := s.ClaimJob(ctx, "job_1")
	assert.NoError(t, err)
	assert.False(t, claimed, "attempt ceiling must block further claims")

	due, err := s.DueJobs(ctx, now, 10)
	assert.NoError(t, err)
	assert.Empty(t, due)
}

func TestRescheduleOnlyTouchesRunningJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := &domain.SyncJob{
		ID: "job_1", TenantID: "tn_1", DestinationID: "dst_1",
		Type: domain.JobEventTrack, Status: domain.JobPending,
		ScheduledAt: now, Payload: domain.Properties{}, CreatedAt: now,
	}
	assert.NoError(t, s.EnqueueJob(ctx, job))
	assert.NoError(t, s.RescheduleJob(ctx, "job_1", now.Add(time.Hour), "stale"))

	stored, err := s.GetJob(ctx, "job_1")
	assert.NoError(t, err)
	assert.Equal(t, domain.JobPending, stored.Status)
	assert.Empty(t, stored.LastError)
	assert.WithinDuration(t, now, stored.ScheduledAt, time.Second)
}

func TestMergeProfilesRepointsLinksAndEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	primary := testProfile("pr_primary")
	loser := testProfile("pr_loser")
	assert.NoError(t, s.CreateProfile(ctx, primary))
	assert.NoError(t, s.CreateProfile(ctx, loser))

	assert.NoError(t, s.UpsertLink(ctx, &domain.IdentityLink{
		TenantID: "tn_1", Type: domain.FragmentAnonymousID, Value: "anon_1",
		ProfileID: "pr_loser", CreatedAt: now,
	}))

	ev := testEvent("ev_1", "dk_1")
	ev.ProfileID = "pr_loser"
	inserted, err := s.InsertEvent(ctx, ev)
	assert.NoError(t, err)
	assert.True(t, inserted)

	primary.PrimaryEmail = "merged@example.com"
	moved, err := s.MergeProfiles(ctx, primary, []string{"pr_loser"})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	link, err := s.LookupLink(ctx, "tn_1",
		domain.Fragment{Type: domain.FragmentAnonymousID, Value: "anon_1"})
	assert.NoError(t, err)
	assert.Equal(t, "pr_primary", link.ProfileID)

	storedEv, err := s.GetEventByDedupeKey(ctx, "tn_1", "dk_1")
	assert.NoError(t, err)
	assert.Equal(t, "pr_primary", storedEv.ProfileID)

	storedLoser, err := s.GetProfile(ctx, "tn_1", "pr_loser")
	assert.NoError(t, err)
	assert.True(t, storedLoser.Merged())
	assert.Equal(t, "pr_primary", storedLoser.MergedInto)

	storedPrimary, err := s.GetProfile(ctx, "tn_1", "pr_primary")
	assert.NoError(t, err)
	assert.Equal(t, "merged@example.com", storedPrimary.PrimaryEmail)
}

func TestTouchLastSeenNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProfile("pr_1")
	assert.NoError(t, s.CreateProfile(ctx, p))

	earlier := p.LastSeenAt.Add(-time.Hour)
	assert.NoError(t, s.TouchLastSeen(ctx, "tn_1", "pr_1", earlier))

	stored, err := s.GetProfile(ctx, "tn_1", "pr_1")
	assert.NoError(t, err)
	assert.WithinDuration(t, p.LastSeenAt, stored.LastSeenAt, time.Second)

	later := p.LastSeenAt.Add(time.Hour)
	assert.NoError(t, s.TouchLastSeen(ctx, "tn_1", "pr_1", later))

	stored, err = s.GetProfile(ctx, "tn_1", "pr_1")
	assert.NoError(t, err)
	assert.WithinDuration(t, later, stored.LastSeenAt, time.Second)
}

func TestAttachOrphanEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orphan := testEvent("ev_orphan", "dk_orphan")
	orphan.AnonymousID = "anon_1"
	owned := testEvent("ev_owned", "dk_owned")
	owned.AnonymousID = "anon_1"
	owned.ProfileID = "pr_other"

	for _, ev := range []*domain.Event{orphan, owned} {
		inserted, err := s.InsertEvent(ctx, ev)
		assert.NoError(t, err)
		assert.True(t, inserted)
	}

	moved, err := s.AttachOrphanEvents(ctx, "tn_1", "anon_1", "pr_1")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	stored, err := s.GetEventByDedupeKey(ctx, "tn_1", "dk_owned")
	assert.NoError(t, err)
	assert.Equal(t, "pr_other", stored.ProfileID, "owned events must keep their profile")
}

func TestUpsertSignalPreservesFlowFiring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sig := &domain.PredictiveSignal{
		TenantID: "tn_1", ProfileID: "pr_1",
		Type: domain.SignalCartHighIntent, Confidence: 85,
		Payload: domain.Properties{}, ShouldTriggerFlow: true,
		ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
	}
	assert.NoError(t, s.UpsertSignal(ctx, sig))
	assert.NoError(t, s.MarkFlowTriggered(ctx, "tn_1", "pr_1", domain.SignalCartHighIntent, now))

	// A refresh of the same live signal must not re-arm the flow.
	sig.ShouldTriggerFlow = true
	assert.NoError(t, s.UpsertSignal(ctx, sig))

	stored, err := s.GetSignal(ctx, "tn_1", "pr_1", domain.SignalCartHighIntent)
	assert.NoError(t, err)
	assert.NotNil(t, stored.FlowTriggeredAt)
}

func TestDeleteExpiredSignals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &domain.PredictiveSignal{
		TenantID: "tn_1", ProfileID: "pr_1",
		Type: domain.SignalChurnRisk, Confidence: 65,
		Payload:   domain.Properties{},
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}
	live := &domain.PredictiveSignal{
		TenantID: "tn_1", ProfileID: "pr_1",
		Type: domain.SignalCartHighIntent, Confidence: 85,
		Payload:   domain.Properties{},
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	assert.NoError(t, s.UpsertSignal(ctx, expired))
	assert.NoError(t, s.UpsertSignal(ctx, live))

	deleted, err := s.DeleteExpiredSignals(ctx, now)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetSignal(ctx, "tn_1", "pr_1", domain.SignalChurnRisk)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetSignal(ctx, "tn_1", "pr_1", domain.SignalCartHighIntent)
	assert.NoError(t, err)
}

func TestActiveProfileIDsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	linked := testProfile("pr_linked")
	unlinked := testProfile("pr_unlinked")
	stale := testProfile("pr_stale")
	stale.LastSeenAt = now.Add(-60 * 24 * time.Hour)

	for _, p := range []*domain.UnifiedProfile{linked, unlinked, stale} {
		assert.NoError(t, s.CreateProfile(ctx, p))
	}
	for _, id := range []string{"pr_linked", "pr_stale"} {
		assert.NoError(t, s.UpsertLink(ctx, &domain.IdentityLink{
			TenantID: "tn_1", Type: domain.FragmentAnonymousID,
			Value: "anon_" + id, ProfileID: id, CreatedAt: now,
		}))
	}

	ids, err := s.ActiveProfileIDs(ctx, "tn_1", now.Add(-30*24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, []string{"pr_linked"}, ids)
}

func TestIncrementUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.NoError(t, s.IncrementUsage(ctx, "tn_1", "2026-08"))
	}
	assert.NoError(t, s.IncrementUsage(ctx, "tn_1", "2026-09"))

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT events_count FROM usage_counters WHERE tenant_id = ? AND period = ?`,
		"tn_1", "2026-08").Scan(&count)
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	assert.NoError(t, s.UpsertTenant(ctx, &domain.Tenant{
		ID: "tn_1", Name: "Acme", CreatedAt: now,
	}))
	assert.NoError(t, s.UpsertAPIKey(ctx, &domain.APIKey{
		Key: "sk_live_1", TenantID: "tn_1",
		Capabilities: []string{domain.CapabilityCollect}, CreatedAt: now,
	}))

	key, err := s.GetAPIKey(ctx, "sk_live_1")
	assert.NoError(t, err)
	assert.Equal(t, "tn_1", key.TenantID)
	assert.True(t, key.Allows(domain.CapabilityCollect))
	assert.False(t, key.Allows("admin"))

	_, err = s.GetAPIKey(ctx, "sk_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
