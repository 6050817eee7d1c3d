package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

// Janitor recovers jobs whose worker died or stalled mid-send. Reclaiming
// a job drops its lease, so the stalled worker can no longer record it.
type Janitor struct {
	Store        repository.Store
	Campaigns    *CampaignService
	StaleAfter   time.Duration
	AutoComplete bool
}

type SweepResult struct {
	Reclaimed int64 `json:"reclaimed"`
	Completed []int `json:"completed"`
}

// SweepStale returns jobs processing since before now-StaleAfter to pending
// with their retry count unchanged, then completes drained campaigns when
// AutoComplete is set.
func (j *Janitor) SweepStale(ctx context.Context, now time.Time) (*SweepResult, error) {
	res := &SweepResult{Completed: []int{}}

	n, err := j.Store.Repos().Jobs.ReclaimStale(ctx, now.Add(-j.StaleAfter))
	if err != nil {
		return nil, err
	}
	res.Reclaimed = n
	if n > 0 {
		logrus.WithField("reclaimed", n).Warn("stale jobs returned to pending")
	}

	if j.AutoComplete && j.Campaigns != nil {
		ids, err := j.Campaigns.CompleteDrained(ctx)
		if err != nil {
			return res, err
		}
		res.Completed = ids
	}
	return res, nil
}
