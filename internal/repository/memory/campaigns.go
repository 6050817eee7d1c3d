package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

type campaignRepo struct{ view }

func (r *campaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	defer r.lock()()
	st := r.st()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.RecipientTags == nil {
		c.RecipientTags = pq.StringArray{}
	}
	st.nextCampaign++
	c.ID = st.nextCampaign
	c.CreatedAt = r.stamp()
	st.campaigns[c.ID] = copyCampaign(*c)
	return nil
}

func (r *campaignRepo) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	defer r.lock()()
	c, ok := r.st().campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	c = copyCampaign(c)
	return &c, nil
}

func (r *campaignRepo) GetStatus(ctx context.Context, id int) (model.CampaignStatus, error) {
	defer r.lock()()
	c, ok := r.st().campaigns[id]
	if !ok {
		return "", appErrors.NewCampaignNotFound(id)
	}
	return c.Status, nil
}

func (r *campaignRepo) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	defer r.lock()()
	filtered := []*model.Campaign{}
	for _, c := range r.st().campaigns {
		if channel != "" && string(c.Channel) != channel {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		c = copyCampaign(c)
		filtered = append(filtered, &c)
	}
	sort.Slice(filtered, func(a, b int) bool { return filtered[a].ID > filtered[b].ID })

	total := len(filtered)
	start, end := offset, offset+limit
	if start > total {
		return []*model.Campaign{}, total, nil
	}
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

func (r *campaignRepo) TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) error {
	defer r.lock()()
	st := r.st()
	c, ok := st.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	allowed := false
	for _, s := range from {
		if c.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return appErrors.NewInvalidState("campaign", id, string(c.Status), fmt.Sprint(from))
	}

	now := r.stamp()
	c.Status = to
	c.UpdatedAt = ptrTime(now)
	if to == model.CampaignStatusActive && c.StartedAt == nil {
		c.StartedAt = ptrTime(now)
	}
	if to.IsTerminal() {
		c.CompletedAt = ptrTime(now)
	}
	st.campaigns[id] = c
	return nil
}

func (r *campaignRepo) increment(id int, apply func(c *model.Campaign)) error {
	defer r.lock()()
	st := r.st()
	c, ok := st.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	apply(&c)
	c.UpdatedAt = ptrTime(r.stamp())
	st.campaigns[id] = c
	return nil
}

func (r *campaignRepo) IncrementSentCount(ctx context.Context, id int) error {
	return r.increment(id, func(c *model.Campaign) { c.SentCount++ })
}

func (r *campaignRepo) IncrementDeliveredCount(ctx context.Context, id int) error {
	return r.increment(id, func(c *model.Campaign) { c.DeliveredCount++ })
}

func (r *campaignRepo) IncrementFailedCount(ctx context.Context, id int) error {
	return r.increment(id, func(c *model.Campaign) { c.FailedCount++ })
}

func (r *campaignRepo) AddRecipients(ctx context.Context, id, n int) error {
	if n <= 0 {
		return nil
	}
	return r.increment(id, func(c *model.Campaign) { c.TotalRecipients += n })
}

func (r *campaignRepo) CompleteDrained(ctx context.Context) ([]int, error) {
	defer r.lock()()
	st := r.st()
	busy := map[int]bool{}
	for _, j := range st.jobs {
		if j.Status == model.JobStatusPending || j.Status == model.JobStatusProcessing {
			busy[j.CampaignID] = true
		}
	}

	now := r.stamp()
	ids := []int{}
	for id, c := range st.campaigns {
		if c.Status != model.CampaignStatusActive || c.TotalRecipients == 0 || busy[id] {
			continue
		}
		c.Status = model.CampaignStatusCompleted
		c.CompletedAt = ptrTime(now)
		c.UpdatedAt = ptrTime(now)
		st.campaigns[id] = c
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (r *campaignRepo) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	defer r.lock()()
	stats := map[string]int{"pending": 0, "sent": 0, "delivered": 0, "failed": 0}
	for _, m := range r.st().messages {
		if m.CampaignID == campaignID {
			stats[string(m.Status)]++
		}
	}
	return stats, nil
}

var _ repository.CampaignRepositoryInterface = (*campaignRepo)(nil)
