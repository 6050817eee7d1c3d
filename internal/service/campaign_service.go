// internal/service/campaign_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/phone"
	"github.com/unclebandit/outreach-dispatch/internal/queue"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

type CampaignService struct {
	Store  repository.Store
	Queue  queue.Queue
	Policy phone.Policy

	DefaultMaxRetries int
	DefaultPriority   int
}

// CreateCampaignInput is the operator request for a new campaign.
type CreateCampaignInput struct {
	Name          string   `json:"name" validate:"required,max=200"`
	Channel       string   `json:"channel" validate:"required,oneof=sms email"`
	BaseTemplate  string   `json:"base_template" validate:"required"`
	RecipientTags []string `json:"recipient_tags"`
	Priority      *int     `json:"priority"`
	MaxRetries    *int     `json:"max_retries" validate:"omitempty,min=0,max=10"`
}

// Result struct for StartCampaign
type StartCampaignResult struct {
	CampaignID     int                  `json:"campaign_id"`
	MessagesQueued int                  `json:"messages_queued"`
	Skipped        int                  `json:"skipped"`
	Status         model.CampaignStatus `json:"status"`
	MessageIDs     []int                `json:"message_ids"`
}

type CampaignDetails struct {
	model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrInvalidInput, err)
	}

	c := &model.Campaign{
		Name:          in.Name,
		Channel:       model.Channel(in.Channel),
		BaseTemplate:  in.BaseTemplate,
		Status:        model.CampaignStatusDraft,
		RecipientTags: pq.StringArray(in.RecipientTags),
		Priority:      s.DefaultPriority,
		MaxRetries:    s.DefaultMaxRetries,
	}
	if in.Priority != nil {
		c.Priority = *in.Priority
	}
	if in.MaxRetries != nil {
		c.MaxRetries = *in.MaxRetries
	}

	if err := s.Store.Repos().Campaigns.Create(ctx, c); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "channel": c.Channel}).Info("campaign created")
	return c, nil
}

// StartCampaign enqueues one message and job per eligible contact and
// activates the campaign, all in one unit of work. With no contactIDs the
// recipients are the active contacts carrying any recipient tag.
func (s *CampaignService) StartCampaign(ctx context.Context, campaignID int, contactIDs []int) (*StartCampaignResult, error) {
	result := &StartCampaignResult{CampaignID: campaignID, MessageIDs: []int{}}

	err := s.Store.WithinTx(ctx, func(r repository.Repositories) error {
		campaign, err := r.Campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status != model.CampaignStatusDraft && campaign.Status != model.CampaignStatusPaused {
			return appErrors.NewInvalidState("campaign", campaignID, string(campaign.Status), "draft or paused")
		}

		contacts, err := s.recipients(ctx, r, campaign, contactIDs)
		if err != nil {
			return err
		}

		for i := range contacts {
			msg, err := s.enqueue(ctx, r, campaign, &contacts[i])
			if err != nil {
				return err
			}
			if msg == nil {
				result.Skipped++
				continue
			}
			result.MessageIDs = append(result.MessageIDs, msg.ID)
			result.MessagesQueued++
		}

		if err := r.Campaigns.AddRecipients(ctx, campaignID, result.MessagesQueued); err != nil {
			return err
		}
		return r.Campaigns.TransitionStatus(ctx, campaignID,
			[]model.CampaignStatus{model.CampaignStatusDraft, model.CampaignStatusPaused}, model.CampaignStatusActive)
	})
	if err != nil {
		return nil, err
	}

	result.Status = model.CampaignStatusActive
	logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"queued":      result.MessagesQueued,
		"skipped":     result.Skipped,
	}).Info("campaign started")
	s.emitStatus(campaignID, model.CampaignStatusActive)
	return result, nil
}

func (s *CampaignService) recipients(ctx context.Context, r repository.Repositories, c *model.Campaign, contactIDs []int) ([]model.Contact, error) {
	if len(contactIDs) == 0 {
		return r.Contacts.ListEligible(ctx, c.RecipientTags)
	}
	contacts := make([]model.Contact, 0, len(contactIDs))
	for _, id := range contactIDs {
		contact, err := r.Contacts.GetByID(ctx, id)
		if appErrors.IsNotFound(err) {
			logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "contact_id": id}).Warn("contact not found, skipped")
			continue
		}
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *contact)
	}
	return contacts, nil
}

// enqueue creates the pending message and job for one contact. It returns
// nil when the contact is already messaged, inactive or unreachable on
// the campaign channel.
func (s *CampaignService) enqueue(ctx context.Context, r repository.Repositories, c *model.Campaign, contact *model.Contact) (*model.Message, error) {
	log := logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "contact_id": contact.ID})

	if contact.Status != model.ContactStatusActive {
		log.WithField("status", contact.Status).Debug("contact not active, skipped")
		return nil, nil
	}
	existing, err := r.Messages.GetByCampaignContact(ctx, c.ID, contact.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}
	dest := Destination(c.Channel, contact, s.Policy)
	if dest == "" {
		log.Warn("contact has no destination for channel, skipped")
		return nil, nil
	}

	msg := &model.Message{
		CampaignID:  c.ID,
		ContactID:   contact.ID,
		Channel:     c.Channel,
		Destination: dest,
		Body:        RenderTemplate(c.BaseTemplate, contact.MergeFields()),
		Status:      model.MessageStatusPending,
	}
	if err := r.Messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	job := &model.Job{
		CampaignID: c.ID,
		ContactID:  contact.ID,
		MessageID:  msg.ID,
		Priority:   c.Priority,
		MaxRetries: c.MaxRetries,
	}
	if err := r.Jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return msg, nil
}

// EnqueueContact adds one contact to an already active campaign. It
// reports false when the contact was not enqueued (already messaged,
// inactive or unreachable).
func (s *CampaignService) EnqueueContact(ctx context.Context, campaignID, contactID int) (bool, error) {
	queued := false
	err := s.Store.WithinTx(ctx, func(r repository.Repositories) error {
		campaign, err := r.Campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status != model.CampaignStatusActive {
			return appErrors.NewInvalidState("campaign", campaignID, string(campaign.Status), string(model.CampaignStatusActive))
		}
		contact, err := r.Contacts.GetByID(ctx, contactID)
		if err != nil {
			return err
		}
		msg, err := s.enqueue(ctx, r, campaign, contact)
		if err != nil || msg == nil {
			return err
		}
		queued = true
		return r.Campaigns.AddRecipients(ctx, campaignID, 1)
	})
	return queued, err
}

func (s *CampaignService) transition(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (*model.Campaign, error) {
	repos := s.Store.Repos()
	if err := repos.Campaigns.TransitionStatus(ctx, id, from, to); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"campaign_id": id, "status": to}).Info("campaign status changed")
	s.emitStatus(id, to)
	return repos.Campaigns.GetByID(ctx, id)
}

func (s *CampaignService) PauseCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return s.transition(ctx, id, []model.CampaignStatus{model.CampaignStatusActive}, model.CampaignStatusPaused)
}

func (s *CampaignService) ResumeCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return s.transition(ctx, id, []model.CampaignStatus{model.CampaignStatusPaused}, model.CampaignStatusActive)
}

// CancelCampaign stops the campaign for good. Its pending jobs are failed
// as administrative stops when the dispatcher reaches them.
func (s *CampaignService) CancelCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return s.transition(ctx, id,
		[]model.CampaignStatus{model.CampaignStatusDraft, model.CampaignStatusActive, model.CampaignStatusPaused},
		model.CampaignStatusCancelled)
}

// CompleteDrained completes active campaigns whose jobs are all resolved.
func (s *CampaignService) CompleteDrained(ctx context.Context) ([]int, error) {
	ids, err := s.Store.Repos().Campaigns.CompleteDrained(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		logrus.WithField("campaign_id", id).Info("campaign completed")
		s.emitStatus(id, model.CampaignStatusCompleted)
	}
	return ids, nil
}

// RetryMessage resets a failed message to pending and enqueues a fresh
// job for it in the same unit of work.
func (s *CampaignService) RetryMessage(ctx context.Context, messageID int) (*model.Message, error) {
	var out *model.Message
	err := s.Store.WithinTx(ctx, func(r repository.Repositories) error {
		msg, err := r.Messages.GetByID(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.Status != model.MessageStatusFailed {
			return appErrors.NewInvalidState("message", messageID, string(msg.Status), string(model.MessageStatusFailed))
		}
		campaign, err := r.Campaigns.GetByID(ctx, msg.CampaignID)
		if err != nil {
			return err
		}
		if campaign.Status != model.CampaignStatusActive {
			return appErrors.NewInvalidState("campaign", campaign.ID, string(campaign.Status), string(model.CampaignStatusActive))
		}

		out, err = r.Messages.ResetForRetry(ctx, messageID, model.ProviderEvent{
			Kind:   "retry",
			At:     time.Now().UTC(),
			Error:  msg.LastError,
			Manual: true,
		})
		if err != nil {
			return err
		}
		return r.Jobs.Enqueue(ctx, &model.Job{
			CampaignID: msg.CampaignID,
			ContactID:  msg.ContactID,
			MessageID:  msg.ID,
			Priority:   campaign.Priority,
			MaxRetries: campaign.MaxRetries,
			Manual:     true,
		})
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"message_id": messageID, "retry_count": out.RetryCount}).Info("message queued for retry")
	return out, nil
}

// MarkDelivered records a delivery receipt. A repeated receipt is a no-op.
func (s *CampaignService) MarkDelivered(ctx context.Context, providerMessageID string, raw json.RawMessage) (*model.Message, error) {
	var out *model.Message
	err := s.Store.WithinTx(ctx, func(r repository.Repositories) error {
		msg, err := r.Messages.GetByProviderID(ctx, providerMessageID)
		if err != nil {
			return err
		}
		if msg.Status == model.MessageStatusDelivered {
			out = msg
			return nil
		}
		err = r.Messages.UpdateStatus(ctx, msg.ID, model.MessageStatusDelivered, model.MessageUpdate{
			Event: &model.ProviderEvent{Kind: "delivery", At: time.Now().UTC(), ProviderID: providerMessageID, Raw: raw},
		})
		if err != nil {
			return err
		}
		if err := r.Campaigns.IncrementDeliveredCount(ctx, msg.CampaignID); err != nil {
			return err
		}
		out, err = r.Messages.GetByID(ctx, msg.ID)
		return err
	})
	return out, err
}

// RenderPreview renders the campaign template, or overrideTemplate when
// given, for one contact.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, contactID int, overrideTemplate *string) (string, error) {
	repos := s.Store.Repos()
	campaign, err := repos.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}
	contact, err := repos.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return "", err
	}

	template := campaign.BaseTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("%w: template cannot be empty", appErrors.ErrInvalidInput)
	}
	return RenderTemplate(template, contact.MergeFields()), nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.Store.Repos().Campaigns.ListCampaigns(ctx, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetails returns the campaign with its message status counts.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int) (*CampaignDetails, error) {
	repos := s.Store.Repos()
	campaign, err := repos.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := repos.Campaigns.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}

	total := 0
	for _, n := range stats {
		total += n
	}
	stats["total"] = total

	return &CampaignDetails{Campaign: *campaign, Stats: stats}, nil
}

func (s *CampaignService) emitStatus(id int, status model.CampaignStatus) {
	queue.Emit(s.Queue, queue.TopicCampaignStatus, queue.CampaignStatusEvent{
		CampaignID: id,
		Status:     status,
		At:         time.Now().UTC(),
	})
}

// Destination returns the address a contact is reached at on channel, or
// "" when it has none.
func Destination(channel model.Channel, c *model.Contact, policy phone.Policy) string {
	switch channel {
	case model.ChannelSMS:
		return policy.Key(c.Phone)
	case model.ChannelEmail:
		return strings.ToLower(strings.TrimSpace(c.Email))
	}
	return ""
}
