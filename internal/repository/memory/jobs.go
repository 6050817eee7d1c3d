package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

type jobRepo struct{ view }

func (r *jobRepo) Enqueue(ctx context.Context, j *model.Job) error {
	defer r.lock()()
	st := r.st()
	for _, existing := range st.jobs {
		if existing.MessageID == j.MessageID &&
			(existing.Status == model.JobStatusPending || existing.Status == model.JobStatusProcessing) {
			return fmt.Errorf("message %d already has an active job", j.MessageID)
		}
	}
	now := r.stamp()
	st.nextJob++
	j.ID = st.nextJob
	j.Status = model.JobStatusPending
	j.RetryCount = 0
	j.LeaseID = ""
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	st.jobs[j.ID] = *j
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, id int) (*model.Job, error) {
	defer r.lock()()
	j, ok := r.st().jobs[id]
	if !ok {
		return nil, appErrors.NewJobNotFound(id)
	}
	return &j, nil
}

func (r *jobRepo) ClaimNextBatch(ctx context.Context, limit int) ([]model.Job, error) {
	defer r.lock()()
	st := r.st()
	pending := []model.Job{}
	for _, j := range st.jobs {
		if j.Status == model.JobStatusPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(a, b int) bool { return pending[a].Before(&pending[b]) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := r.stamp()
	lease := uuid.NewString()
	for i := range pending {
		pending[i].Status = model.JobStatusProcessing
		pending[i].LeaseID = lease
		pending[i].StartedAt = ptrTime(now)
		pending[i].UpdatedAt = now
		st.jobs[pending[i].ID] = pending[i]
	}
	return pending, nil
}

// claimed applies fn to a job that is still processing under lease.
func (r *jobRepo) claimed(id int, lease string, fn func(j *model.Job, now time.Time) bool) error {
	defer r.lock()()
	st := r.st()
	j, ok := st.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing || j.LeaseID != lease {
		return appErrors.ErrJobNotClaimed
	}
	now := r.stamp()
	if !fn(&j, now) {
		return appErrors.ErrJobNotClaimed
	}
	j.UpdatedAt = now
	st.jobs[id] = j
	return nil
}

func (r *jobRepo) MarkCompleted(ctx context.Context, id int, lease string) error {
	return r.claimed(id, lease, func(j *model.Job, now time.Time) bool {
		j.Status = model.JobStatusCompleted
		j.CompletedAt = ptrTime(now)
		j.ErrorMessage = ""
		return true
	})
}

func (r *jobRepo) Requeue(ctx context.Context, id int, lease string, newRetryCount int, reason string) error {
	return r.claimed(id, lease, func(j *model.Job, now time.Time) bool {
		if newRetryCount <= j.RetryCount || newRetryCount > j.MaxRetries {
			return false
		}
		j.Status = model.JobStatusPending
		j.RetryCount = newRetryCount
		j.LeaseID = ""
		j.StartedAt = nil
		j.ErrorMessage = reason
		return true
	})
}

func (r *jobRepo) MarkFailed(ctx context.Context, id int, lease string, reason string) error {
	return r.claimed(id, lease, func(j *model.Job, now time.Time) bool {
		j.Status = model.JobStatusFailed
		j.CompletedAt = ptrTime(now)
		j.ErrorMessage = reason
		return true
	})
}

func (r *jobRepo) Release(ctx context.Context, id int, lease string) error {
	return r.claimed(id, lease, func(j *model.Job, now time.Time) bool {
		j.Status = model.JobStatusPending
		j.LeaseID = ""
		j.StartedAt = nil
		return true
	})
}

func (r *jobRepo) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	defer r.lock()()
	st := r.st()
	var n int64
	for id, j := range st.jobs {
		if j.Status == model.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			j.Status = model.JobStatusPending
			j.LeaseID = ""
			j.StartedAt = nil
			j.UpdatedAt = r.stamp()
			st.jobs[id] = j
			n++
		}
	}
	return n, nil
}

var _ repository.JobRepositoryInterface = (*jobRepo)(nil)
