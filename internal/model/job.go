// internal/model/job.go
package model

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is one unit of dispatch work backing a Message.
// Manual marks a job created by an operator retry of an already-failed
// message; its final failure is not counted against the campaign again.
// LeaseID identifies the claim currently holding the job. It is set by
// ClaimNextBatch and every later transition must present it.
type Job struct {
	ID           int        `db:"id" json:"id"`
	CampaignID   int        `db:"campaign_id" json:"campaign_id"`
	ContactID    int        `db:"contact_id" json:"contact_id"`
	MessageID    int        `db:"message_id" json:"message_id"`
	Status       JobStatus  `db:"status" json:"status"`
	Priority     int        `db:"priority" json:"priority"`
	RetryCount   int        `db:"retry_count" json:"retry_count"`
	MaxRetries   int        `db:"max_retries" json:"max_retries"`
	Manual       bool       `db:"manual" json:"manual"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	LeaseID      string     `db:"lease_id" json:"lease_id,omitempty"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// CanRetry reports whether another attempt fits in the retry budget.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// Before reports whether j must be dispatched ahead of other:
// higher priority first, then oldest first, then lowest id.
func (j *Job) Before(other *Job) bool {
	if j.Priority != other.Priority {
		return j.Priority > other.Priority
	}
	if !j.CreatedAt.Equal(other.CreatedAt) {
		return j.CreatedAt.Before(other.CreatedAt)
	}
	return j.ID < other.ID
}
