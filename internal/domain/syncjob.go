package domain

import "time"

// JobType distinguishes the two outbound delivery shapes.
type JobType string

const (
	JobProfileUpsert JobType = "profile_upsert"
	JobEventTrack    JobType = "event_track"
)

// JobStatus lifecycle: pending -> running -> completed | failed.
// Completed and failed are terminal.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// MaxJobAttempts is the delivery attempt ceiling. A job that has failed
// this many times is terminal and never re-dispatched.
const MaxJobAttempts = 3

// SyncJob is one unit of outbound work toward a destination.
type SyncJob struct {
	ID            string
	TenantID      string
	DestinationID string
	ProfileID     string
	EventID       string // optional source event
	Type          JobType
	Status        JobStatus
	Attempts      int
	ScheduledAt   time.Time
	LastError     string
	Payload       Properties
	CreatedAt     time.Time
}
