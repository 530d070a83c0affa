package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// EnqueueJob inserts a new sync job.
func (s *Store) EnqueueJob(ctx context.Context, job *domain.SyncJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs
			(id, tenant_id, destination_id, profile_id, event_id, job_type,
			 status, attempts, scheduled_at, last_error, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.DestinationID, job.ProfileID, job.EventID,
		job.Type, job.Status, job.Attempts, job.ScheduledAt, job.LastError,
		mustJSON(job.Payload), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	return nil
}

// DueJobs returns pending jobs whose schedule has arrived and whose attempts
// remain under the ceiling, oldest first.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]*domain.SyncJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, destination_id, profile_id, event_id, job_type,
		       status, attempts, scheduled_at, last_error, payload, created_at
		FROM sync_jobs
		WHERE status = ? AND scheduled_at <= ? AND attempts < ?
		ORDER BY scheduled_at ASC
		LIMIT ?`, domain.JobPending, now, domain.MaxJobAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically moves a job pending->running and counts the attempt.
// The conditional WHERE is what keeps two dispatcher instances from
// double-sending the same job.
func (s *Store) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = ?, attempts = attempts + 1
		WHERE id = ? AND status = ? AND attempts < ?`,
		domain.JobRunning, jobID, domain.JobPending, domain.MaxJobAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to claim sync job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return affected == 1, nil
}

// CompleteJob marks a job terminally delivered.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, last_error = '' WHERE id = ?`,
		domain.JobCompleted, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete sync job: %w", err)
	}
	return nil
}

// FailJob marks a job terminally failed with its final error.
func (s *Store) FailJob(ctx context.Context, jobID, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, last_error = ? WHERE id = ?`,
		domain.JobFailed, lastError, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark sync job failed: %w", err)
	}
	return nil
}

// RescheduleJob returns a running job to pending at a later time.
func (s *Store) RescheduleJob(ctx context.Context, jobID string, at time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, scheduled_at = ?, last_error = ?
		WHERE id = ? AND status = ?`,
		domain.JobPending, at, lastError, jobID, domain.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to reschedule sync job: %w", err)
	}
	return nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, destination_id, profile_id, event_id, job_type,
		       status, attempts, scheduled_at, last_error, payload, created_at
		FROM sync_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func scanJob(row rowScanner) (*domain.SyncJob, error) {
	var job domain.SyncJob
	var payload string

	err := row.Scan(&job.ID, &job.TenantID, &job.DestinationID, &job.ProfileID,
		&job.EventID, &job.Type, &job.Status, &job.Attempts, &job.ScheduledAt,
		&job.LastError, &payload, &job.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync job: %w", err)
	}

	if err := unmarshalJSON(payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return &job, nil
}
