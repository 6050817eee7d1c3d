package memory

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

type messageRepo struct{ view }

func (r *messageRepo) Create(ctx context.Context, m *model.Message) error {
	defer r.lock()()
	st := r.st()
	for _, existing := range st.messages {
		if existing.CampaignID == m.CampaignID && existing.ContactID == m.ContactID {
			return fmt.Errorf("message for campaign %d and contact %d already exists", m.CampaignID, m.ContactID)
		}
	}
	if m.Status == "" {
		m.Status = model.MessageStatusPending
	}
	now := r.stamp()
	st.nextMessage++
	m.ID = st.nextMessage
	m.CreatedAt = now
	m.UpdatedAt = now
	m.ProviderResponse = []model.ProviderEvent{}
	st.messages[m.ID] = copyMessage(*m)
	return nil
}

func (r *messageRepo) GetByID(ctx context.Context, id int) (*model.Message, error) {
	defer r.lock()()
	m, ok := r.st().messages[id]
	if !ok {
		return nil, appErrors.NewMessageNotFound(id)
	}
	m = copyMessage(m)
	return &m, nil
}

func (r *messageRepo) GetByCampaignContact(ctx context.Context, campaignID, contactID int) (*model.Message, error) {
	defer r.lock()()
	for _, m := range r.st().messages {
		if m.CampaignID == campaignID && m.ContactID == contactID {
			m = copyMessage(m)
			return &m, nil
		}
	}
	return nil, nil
}

func (r *messageRepo) GetByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	defer r.lock()()
	for _, m := range r.st().messages {
		if providerID != "" && m.ProviderMessageID == providerID {
			m = copyMessage(m)
			return &m, nil
		}
	}
	return nil, appErrors.NewNotFound("message", providerID)
}

func (r *messageRepo) UpdateStatus(ctx context.Context, id int, status model.MessageStatus, fields model.MessageUpdate) error {
	defer r.lock()()
	st := r.st()
	m, ok := st.messages[id]
	if !ok {
		return appErrors.NewMessageNotFound(id)
	}
	if !m.Status.CanMoveTo(status) {
		return appErrors.NewInvalidState("message", id, string(m.Status), fmt.Sprint(status.AllowedFrom()))
	}

	now := r.stamp()
	m.Status = status
	if fields.Destination != "" {
		m.Destination = fields.Destination
	}
	if fields.Body != "" {
		m.Body = fields.Body
	}
	if fields.ProviderMessageID != "" {
		m.ProviderMessageID = fields.ProviderMessageID
	}
	if fields.Error != "" {
		m.LastError = fields.Error
	}
	if fields.Event != nil {
		m.ProviderResponse = append(m.ProviderResponse, *fields.Event)
	}
	if fields.CountFailure {
		m.FailureCounted = true
	}
	switch status {
	case model.MessageStatusSent:
		m.SentAt = ptrTime(now)
	case model.MessageStatusDelivered:
		m.DeliveredAt = ptrTime(now)
	case model.MessageStatusFailed:
		m.FailedAt = ptrTime(now)
	}
	m.UpdatedAt = now
	st.messages[id] = copyMessage(m)
	return nil
}

func (r *messageRepo) ResetForRetry(ctx context.Context, id int, event model.ProviderEvent) (*model.Message, error) {
	defer r.lock()()
	st := r.st()
	m, ok := st.messages[id]
	if !ok {
		return nil, appErrors.NewMessageNotFound(id)
	}
	if m.Status != model.MessageStatusFailed {
		return nil, appErrors.NewInvalidState("message", id, string(m.Status), string(model.MessageStatusFailed))
	}

	now := r.stamp()
	m.Status = model.MessageStatusPending
	m.RetryCount++
	m.LastRetryAt = ptrTime(now)
	m.FailedAt = nil
	event.RetryCount = m.RetryCount
	m.ProviderResponse = append(m.ProviderResponse, event)
	m.UpdatedAt = now
	st.messages[id] = copyMessage(m)

	out := copyMessage(m)
	return &out, nil
}

var _ repository.MessageRepositoryInterface = (*messageRepo)(nil)
