package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
)

const jobColumns = `id, campaign_id, contact_id, message_id, status, priority, retry_count, max_retries, manual,
        error_message, lease_id, created_at, started_at, completed_at, updated_at`

type JobRepository struct {
	DB Querier
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	err := row.Scan(&j.ID, &j.CampaignID, &j.ContactID, &j.MessageID, &j.Status, &j.Priority, &j.RetryCount, &j.MaxRetries, &j.Manual,
		&j.ErrorMessage, &j.LeaseID, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepository) Enqueue(ctx context.Context, j *model.Job) error {
	j.Status = model.JobStatusPending
	createdAt := sql.NullTime{Time: j.CreatedAt, Valid: !j.CreatedAt.IsZero()}
	query := `
        INSERT INTO jobs (campaign_id, contact_id, message_id, status, priority, retry_count, max_retries, manual, created_at, updated_at)
        VALUES ($1, $2, $3, 'pending', $4, 0, $5, $6, COALESCE($7, NOW()), NOW())
        RETURNING id, created_at, updated_at
    `
	return r.DB.QueryRowContext(ctx, query, j.CampaignID, j.ContactID, j.MessageID, j.Priority, j.MaxRetries, j.Manual, createdAt).
		Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
}

func (r *JobRepository) GetByID(ctx context.Context, id int) (*model.Job, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewJobNotFound(id)
		}
		return nil, err
	}
	return j, nil
}

// ClaimNextBatch relies on SKIP LOCKED so concurrent dispatchers never
// select the same row; the outer UPDATE flips them to processing in the
// same statement. All jobs of one claim share a lease.
func (r *JobRepository) ClaimNextBatch(ctx context.Context, limit int) ([]model.Job, error) {
	query := `
        UPDATE jobs SET status = 'processing', lease_id = $2, started_at = NOW(), updated_at = NOW()
        WHERE id IN (
            SELECT id FROM jobs
            WHERE status = 'pending'
            ORDER BY priority DESC, created_at ASC, id ASC
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + jobColumns
	rows, err := r.DB.QueryContext(ctx, query, limit, uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Before(&jobs[b]) })
	return jobs, nil
}

func (r *JobRepository) transition(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.ErrJobNotClaimed
	}
	return nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id int, lease string) error {
	return r.transition(ctx, `
        UPDATE jobs SET status = 'completed', completed_at = NOW(), error_message = '', updated_at = NOW()
        WHERE id = $1 AND status = 'processing' AND lease_id = $2`, id, lease)
}

// Requeue refuses a retry count outside (retry_count, max_retries].
func (r *JobRepository) Requeue(ctx context.Context, id int, lease string, newRetryCount int, reason string) error {
	return r.transition(ctx, `
        UPDATE jobs SET status = 'pending', retry_count = $3, lease_id = '', started_at = NULL, error_message = $4, updated_at = NOW()
        WHERE id = $1 AND status = 'processing' AND lease_id = $2 AND $3 > retry_count AND $3 <= max_retries`,
		id, lease, newRetryCount, reason)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id int, lease string, reason string) error {
	return r.transition(ctx, `
        UPDATE jobs SET status = 'failed', completed_at = NOW(), error_message = $3, updated_at = NOW()
        WHERE id = $1 AND status = 'processing' AND lease_id = $2`, id, lease, reason)
}

func (r *JobRepository) Release(ctx context.Context, id int, lease string) error {
	return r.transition(ctx, `
        UPDATE jobs SET status = 'pending', lease_id = '', started_at = NULL, updated_at = NOW()
        WHERE id = $1 AND status = 'processing' AND lease_id = $2`, id, lease)
}

func (r *JobRepository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE jobs SET status = 'pending', lease_id = '', started_at = NULL, updated_at = NOW()
        WHERE status = 'processing' AND started_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ JobRepositoryInterface = (*JobRepository)(nil)
