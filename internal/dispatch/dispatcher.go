// Package dispatch drains the sync-job queue toward external destinations.
// Delivery is at-least-once with a hard attempt ceiling; a per-destination
// circuit breaker keeps a dead endpoint from burning every job's attempts.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/store"
)

// permanentError marks a delivery rejection that retrying cannot fix
// (4xx responses). The job fails without consuming further attempts.
type permanentError struct {
	status int
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("destination rejected delivery with status %d", e.status)
}

// Dispatcher claims due jobs and delivers them.
type Dispatcher struct {
	jobs     store.JobStore
	profiles store.ProfileStore
	tenants  store.TenantStore
	client   *http.Client
	batch    int
	log      *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDispatcher wires a dispatcher. timeout bounds one delivery request;
// batch bounds how many jobs one pass claims.
func NewDispatcher(
	jobs store.JobStore,
	profiles store.ProfileStore,
	tenants store.TenantStore,
	timeout time.Duration,
	batch int,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		jobs:     jobs,
		profiles: profiles,
		tenants:  tenants,
		client:   &http.Client{Timeout: timeout},
		batch:    batch,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Stats summarizes one dispatch pass.
type Stats struct {
	Claimed     int
	Delivered   int
	Rescheduled int
	Failed      int
}

// RunOnce claims and delivers every due job, grouped by destination so
// credentials resolve once per group.
func (d *Dispatcher) RunOnce(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats

	due, err := d.jobs.DueJobs(ctx, now, d.batch)
	if err != nil {
		return stats, fmt.Errorf("failed to list due jobs: %w", err)
	}
	if len(due) == 0 {
		return stats, nil
	}

	byDestination := make(map[string][]*domain.SyncJob)
	var order []string
	for _, job := range due {
		if _, seen := byDestination[job.DestinationID]; !seen {
			order = append(order, job.DestinationID)
		}
		byDestination[job.DestinationID] = append(byDestination[job.DestinationID], job)
	}

	for _, destinationID := range order {
		group := byDestination[destinationID]
		if err := d.dispatchGroup(ctx, destinationID, group, now, &stats); err != nil {
			d.log.Warn("destination group failed",
				zap.String("destination_id", destinationID),
				zap.Error(err))
		}
	}

	d.log.Info("dispatch pass finished",
		zap.Int("claimed", stats.Claimed),
		zap.Int("delivered", stats.Delivered),
		zap.Int("rescheduled", stats.Rescheduled),
		zap.Int("failed", stats.Failed))

	return stats, nil
}

func (d *Dispatcher) dispatchGroup(ctx context.Context, destinationID string, group []*domain.SyncJob, now time.Time, stats *Stats) error {
	dst, err := d.tenants.GetDestination(ctx, destinationID)
	if err != nil {
		return fmt.Errorf("failed to load destination: %w", err)
	}
	tenant, err := d.tenants.GetTenant(ctx, dst.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant: %w", err)
	}

	creds, credsErr := resolveCredentials(dst, tenant)

	for _, job := range group {
		claimed, err := d.jobs.ClaimJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		stats.Claimed++

		// Misconfiguration is terminal for the whole group; retrying a job
		// cannot conjure credentials.
		if credsErr != nil {
			if err := d.jobs.FailJob(ctx, job.ID, credsErr.Error()); err != nil {
				return err
			}
			stats.Failed++
			continue
		}

		if err := d.deliverJob(ctx, dst, creds, job, now, stats); err != nil {
			return err
		}
	}

	if credsErr != nil {
		return d.tenants.SetDestinationError(ctx, dst.ID, credsErr.Error())
	}
	return nil
}

func (d *Dispatcher) deliverJob(ctx context.Context, dst *domain.Destination, creds domain.Properties, job *domain.SyncJob, now time.Time, stats *Stats) error {
	profile, err := d.loadProfile(ctx, job.TenantID, job.ProfileID)
	if err != nil {
		return err
	}

	deliveryErr := d.send(ctx, dst, creds, job, profile)
	if deliveryErr == nil {
		if err := d.jobs.CompleteJob(ctx, job.ID); err != nil {
			return err
		}
		stats.Delivered++
		return d.tenants.SetDestinationError(ctx, dst.ID, "")
	}

	attempts := job.Attempts + 1 // claim counted this attempt

	var perm *permanentError
	if errors.As(deliveryErr, &perm) || attempts >= domain.MaxJobAttempts {
		if err := d.jobs.FailJob(ctx, job.ID, deliveryErr.Error()); err != nil {
			return err
		}
		stats.Failed++
	} else {
		retryAt := now.Add(backoff(attempts))
		if err := d.jobs.RescheduleJob(ctx, job.ID, retryAt, deliveryErr.Error()); err != nil {
			return err
		}
		stats.Rescheduled++
	}

	d.log.Warn("delivery failed",
		zap.String("job_id", job.ID),
		zap.String("destination_id", dst.ID),
		zap.Int("attempts", attempts),
		zap.Error(deliveryErr))

	return d.tenants.SetDestinationError(ctx, dst.ID, deliveryErr.Error())
}

// send builds the destination-specific request and posts it through the
// destination's circuit breaker.
func (d *Dispatcher) send(ctx context.Context, dst *domain.Destination, creds domain.Properties, job *domain.SyncJob, profile *domain.UnifiedProfile) error {
	var body []byte
	var err error
	switch dst.Kind {
	case domain.DestinationMarketing:
		body, err = marketingBody(creds, job, profile)
	case domain.DestinationAds:
		body, err = adsBody(creds, job, profile)
	default:
		return &permanentError{status: http.StatusNotImplemented}
	}
	if err != nil {
		return err
	}

	endpoint, _ := creds["endpoint"].(string)
	_, err = d.breaker(dst.ID).Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey, ok := creds["api_key"].(string); ok && apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, &permanentError{status: resp.StatusCode}
		default:
			return nil, fmt.Errorf("destination returned status %d", resp.StatusCode)
		}
	})
	return err
}

func (d *Dispatcher) breaker(destinationID string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if br, ok := d.breakers[destinationID]; ok {
		return br
	}
	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     destinationID,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	d.breakers[destinationID] = br
	return br
}

// loadProfile follows merge pointers so a job queued before a merge still
// delivers the surviving profile.
func (d *Dispatcher) loadProfile(ctx context.Context, tenantID, profileID string) (*domain.UnifiedProfile, error) {
	for hop := 0; hop < 5; hop++ {
		p, err := d.profiles.GetProfile(ctx, tenantID, profileID)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", profileID, err)
		}
		if !p.Merged() {
			return p, nil
		}
		profileID = p.MergedInto
	}
	return nil, fmt.Errorf("merge chain too deep at profile %s", profileID)
}

// resolveCredentials overlays destination credentials on the tenant's
// defaults and checks the endpoint is present.
func resolveCredentials(dst *domain.Destination, tenant *domain.Tenant) (domain.Properties, error) {
	creds := domain.Properties{}
	for k, v := range tenant.DefaultCredentials {
		creds[k] = v
	}
	for k, v := range dst.Credentials {
		creds[k] = v
	}
	if endpoint, _ := creds["endpoint"].(string); endpoint == "" {
		return nil, &domain.ConfigError{Reason: fmt.Sprintf("destination %s has no endpoint configured", dst.ID)}
	}
	return creds, nil
}

// backoff doubles per attempt: 2, 4, 8... minutes.
func backoff(attempts int) time.Duration {
	return time.Duration(1<<attempts) * time.Minute
}
