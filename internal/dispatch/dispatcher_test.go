package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/store/sqlite"
)

type fixture struct {
	dispatcher *Dispatcher
	store      *sqlite.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &fixture{
		dispatcher: NewDispatcher(s, s, s, 5*time.Second, 100, zap.NewNop()),
		store:      s,
	}
}

func (f *fixture) seed(t *testing.T, destCreds, tenantCreds domain.Properties) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	err := f.store.UpsertTenant(ctx, &domain.Tenant{
		ID: "tn_1", Name: "Acme", DefaultCredentials: tenantCreds, CreatedAt: now,
	})
	assert.NoError(t, err)
	err = f.store.UpsertDestination(ctx, &domain.Destination{
		ID: "dst_1", TenantID: "tn_1", Kind: domain.DestinationMarketing,
		Name: "Marketing", Enabled: true, Credentials: destCreds, UpdatedAt: now,
	})
	assert.NoError(t, err)
	err = f.store.CreateProfile(ctx, &domain.UnifiedProfile{
		ID: "pr_1", TenantID: "tn_1", PrimaryEmail: "jane@example.com",
		Emails: []string{"jane@example.com"}, CustomerIDs: []string{}, AnonymousIDs: []string{},
		Traits: domain.Properties{"plan": "gold"},
		Computed: domain.ComputedTraits{
			IntentScore: 72, DropOffStage: domain.StageCartAbandoned, LifetimeValue: 250,
		},
		FirstSeenAt: now, LastSeenAt: now,
	})
	assert.NoError(t, err)
}

func (f *fixture) enqueue(t *testing.T, id string, typ domain.JobType, payload domain.Properties) {
	t.Helper()
	now := time.Now().UTC()
	if payload == nil {
		payload = domain.Properties{}
	}
	err := f.store.EnqueueJob(context.Background(), &domain.SyncJob{
		ID: id, TenantID: "tn_1", DestinationID: "dst_1", ProfileID: "pr_1",
		Type: typ, Status: domain.JobPending, ScheduledAt: now, Payload: payload,
		CreatedAt: now,
	})
	assert.NoError(t, err)
}

func TestRunOnceDeliversProfileUpsert(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t)
	f.seed(t, domain.Properties{"endpoint": server.URL, "api_key": "mk_1"}, nil)
	f.enqueue(t, "job_1", domain.JobProfileUpsert, nil)

	stats, err := f.dispatcher.RunOnce(context.Background(), time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Delivered)

	job, err := f.store.GetJob(context.Background(), "job_1")
	assert.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)

	assert.Equal(t, "Bearer mk_1", gotAuth)
	profiles := gotBody["profiles"].([]any)
	entry := profiles[0].(map[string]any)
	assert.Equal(t, "jane@example.com", entry["email"])
	props := entry["properties"].(map[string]any)
	assert.Equal(t, float64(72), props["est_intent_score"])
	assert.Equal(t, "cart_abandoned", props["est_drop_off_stage"])
	assert.Equal(t, "gold", props["est_plan"])

	dst, err := f.store.GetDestination(context.Background(), "dst_1")
	assert.NoError(t, err)
	assert.Empty(t, dst.LastError)
}

func TestRunOnceRetriesThenFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	f := newFixture(t)
	f.seed(t, domain.Properties{"endpoint": server.URL}, nil)
	f.enqueue(t, "job_1", domain.JobProfileUpsert, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	stats, err := f.dispatcher.RunOnce(ctx, now)
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Rescheduled)

	job, err := f.store.GetJob(ctx, "job_1")
	assert.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.WithinDuration(t, now.Add(2*time.Minute), job.ScheduledAt, 5*time.Second)
	assert.Contains(t, job.LastError, "502")

	// Second attempt backs off twice as far.
	stats, err = f.dispatcher.RunOnce(ctx, now.Add(3*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Rescheduled)

	job, err = f.store.GetJob(ctx, "job_1")
	assert.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	assert.WithinDuration(t, now.Add(3*time.Minute).Add(4*time.Minute), job.ScheduledAt, 5*time.Second)

	// Third attempt hits the ceiling and is terminal.
	stats, err = f.dispatcher.RunOnce(ctx, now.Add(10*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	job, err = f.store.GetJob(ctx, "job_1")
	assert.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)

	// Nothing remains due.
	stats, err = f.dispatcher.RunOnce(ctx, now.Add(time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 0, stats.Claimed)
}

func TestRunOnceRejectionIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	f := newFixture(t)
	f.seed(t, domain.Properties{"endpoint": server.URL}, nil)
	f.enqueue(t, "job_1", domain.JobProfileUpsert, nil)

	stats, err := f.dispatcher.RunOnce(context.Background(), time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Rescheduled)

	job, err := f.store.GetJob(context.Background(), "job_1")
	assert.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, 1, job.Attempts, "a 4xx must not burn retries")
}

func TestRunOnceMissingEndpointFailsGroup(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil, nil)
	f.enqueue(t, "job_1", domain.JobProfileUpsert, nil)
	f.enqueue(t, "job_2", domain.JobProfileUpsert, nil)

	stats, err := f.dispatcher.RunOnce(context.Background(), time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)

	for _, id := range []string{"job_1", "job_2"} {
		job, err := f.store.GetJob(context.Background(), id)
		assert.NoError(t, err)
		assert.Equal(t, domain.JobFailed, job.Status)
		assert.Contains(t, job.LastError, "no endpoint")
	}

	dst, err := f.store.GetDestination(context.Background(), "dst_1")
	assert.NoError(t, err)
	assert.Contains(t, dst.LastError, "no endpoint")
}

func TestRunOnceUsesTenantDefaultCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t)
	f.seed(t, nil, domain.Properties{"endpoint": server.URL, "api_key": "default_key"})
	f.enqueue(t, "job_1", domain.JobEventTrack, domain.Properties{
		"event": "add_to_cart", "event_time": time.Now().UTC().Format(time.RFC3339),
	})

	stats, err := f.dispatcher.RunOnce(context.Background(), time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
}

func TestAdsBodyHashesIdentifiers(t *testing.T) {
	profile := &domain.UnifiedProfile{
		ID:           "pr_1",
		PrimaryEmail: "Jane@Example.COM",
		Phone:        "+1 (555) 010-9999",
		Computed:     domain.ComputedTraits{IntentScore: 80, DropOffStage: domain.StageCartAbandoned},
	}
	job := &domain.SyncJob{Type: domain.JobProfileUpsert}

	body, err := adsBody(domain.Properties{"account_id": "acc_1"}, job, profile)
	assert.NoError(t, err)

	var parsed map[string]any
	assert.NoError(t, json.Unmarshal(body, &parsed))
	entry := parsed["data"].([]any)[0].(map[string]any)
	user := entry["user"].(map[string]any)

	wantEmail := sha256.Sum256([]byte("jane@example.com"))
	assert.Equal(t, hex.EncodeToString(wantEmail[:]), user["hashed_email"])

	wantPhone := sha256.Sum256([]byte("+15550109999"))
	assert.Equal(t, hex.EncodeToString(wantPhone[:]), user["hashed_phone"])

	assert.Equal(t, "acc_1", parsed["account_id"])
	assert.NotContains(t, string(body), "jane@example.com", "raw PII must never leave")
}

func TestAdsBodyParsesStringOrderTotal(t *testing.T) {
	profile := &domain.UnifiedProfile{ID: "pr_1"}
	// Commerce webhooks deliver totals as strings.
	job := &domain.SyncJob{
		Type: domain.JobEventTrack,
		Payload: domain.Properties{
			"event":      "purchase",
			"event_time": "2026-08-28T12:00:00Z",
			"properties": map[string]any{"total_price": "149.90"},
		},
	}

	body, err := adsBody(nil, job, profile)
	assert.NoError(t, err)

	var parsed map[string]any
	assert.NoError(t, json.Unmarshal(body, &parsed))
	entry := parsed["data"].([]any)[0].(map[string]any)
	assert.Equal(t, 149.90, entry["value"])
}

func TestBackoffDoubles(t *testing.T) {
	assert.Equal(t, 2*time.Minute, backoff(1))
	assert.Equal(t, 4*time.Minute, backoff(2))
	assert.Equal(t, 8*time.Minute, backoff(3))
}
