package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Contact, error)
	// FindByNormalizedPhone returns nil, nil when no contact has the key.
	FindByNormalizedPhone(ctx context.Context, phone string) (*model.Contact, error)
	// Upsert inserts when c.ID is zero, otherwise overwrites the mutable
	// fields and keeps ID and CreatedAt.
	Upsert(ctx context.Context, c *model.Contact) error
	ListAll(ctx context.Context) ([]model.Contact, error)
	// ListEligible returns active contacts carrying any of tags (all active
	// contacts when tags is empty).
	ListEligible(ctx context.Context, tags []string) ([]model.Contact, error)
}

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	GetStatus(ctx context.Context, id int) (model.CampaignStatus, error)
	ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	// TransitionStatus moves the campaign to `to` only if it is currently in
	// one of `from`.
	TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) error

	// Counters are incremented in storage, never read-modify-written.
	IncrementSentCount(ctx context.Context, id int) error
	IncrementDeliveredCount(ctx context.Context, id int) error
	IncrementFailedCount(ctx context.Context, id int) error
	AddRecipients(ctx context.Context, id, n int) error

	// CompleteDrained completes active campaigns that have recipients but no
	// pending or processing jobs, returning their ids.
	CompleteDrained(ctx context.Context) ([]int, error)
	GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error)
}

type MessageRepositoryInterface interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id int) (*model.Message, error)
	// GetByCampaignContact returns nil, nil when no message exists.
	GetByCampaignContact(ctx context.Context, campaignID, contactID int) (*model.Message, error)
	GetByProviderID(ctx context.Context, providerID string) (*model.Message, error)
	// UpdateStatus applies a forward transition (see MessageStatus.AllowedFrom)
	// and appends fields.Event to the provider audit trail.
	UpdateStatus(ctx context.Context, id int, status model.MessageStatus, fields model.MessageUpdate) error
	// ResetForRetry moves a failed message back to pending, increments its
	// retry count and appends event to the audit trail.
	ResetForRetry(ctx context.Context, id int, event model.ProviderEvent) (*model.Message, error)
}

type JobRepositoryInterface interface {
	Enqueue(ctx context.Context, j *model.Job) error
	GetByID(ctx context.Context, id int) (*model.Job, error)
	// ClaimNextBatch atomically moves up to limit pending jobs to processing
	// under a fresh lease and returns them highest priority, oldest first.
	// A job is returned by at most one concurrent caller.
	ClaimNextBatch(ctx context.Context, limit int) ([]model.Job, error)

	// The transitions below apply only to a job still in processing under
	// lease and return appErrors.ErrJobNotClaimed otherwise.
	MarkCompleted(ctx context.Context, id int, lease string) error
	Requeue(ctx context.Context, id int, lease string, newRetryCount int, reason string) error
	MarkFailed(ctx context.Context, id int, lease string, reason string) error
	Release(ctx context.Context, id int, lease string) error

	// ReclaimStale returns processing jobs started before olderThan to pending
	// and drops their lease.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// Repositories groups the stores used together in one unit of work.
type Repositories struct {
	Contacts  ContactRepositoryInterface
	Campaigns CampaignRepositoryInterface
	Messages  MessageRepositoryInterface
	Jobs      JobRepositoryInterface
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repos() Repositories
	WithinTx(ctx context.Context, fn func(r Repositories) error) error
}
