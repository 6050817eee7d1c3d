package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
)

const messageColumns = `id, campaign_id, contact_id, channel, destination, body, status, provider_message_id,
        provider_response, last_error, retry_count, failure_counted, sent_at, delivered_at, failed_at, last_retry_at, created_at, updated_at`

type MessageRepository struct {
	DB Querier
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m   model.Message
		raw []byte
	)
	err := row.Scan(&m.ID, &m.CampaignID, &m.ContactID, &m.Channel, &m.Destination, &m.Body, &m.Status, &m.ProviderMessageID,
		&raw, &m.LastError, &m.RetryCount, &m.FailureCounted, &m.SentAt, &m.DeliveredAt, &m.FailedAt, &m.LastRetryAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m.ProviderResponse); err != nil {
			return nil, fmt.Errorf("decode provider response of message %d: %w", m.ID, err)
		}
	}
	return &m, nil
}

func encodeEvents(events ...*model.ProviderEvent) ([]byte, error) {
	list := []model.ProviderEvent{}
	for _, e := range events {
		if e != nil {
			list = append(list, *e)
		}
	}
	return json.Marshal(list)
}

// Create inserts a new pending message and fills in its ID
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	if m.Status == "" {
		m.Status = model.MessageStatusPending
	}
	query := `
        INSERT INTO messages (campaign_id, contact_id, channel, destination, body, status, provider_response, retry_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, '[]'::jsonb, 0, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
	return r.DB.QueryRowContext(ctx, query, m.CampaignID, m.ContactID, m.Channel, m.Destination, m.Body, m.Status).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *MessageRepository) GetByID(ctx context.Context, id int) (*model.Message, error) {
	m, err := scanMessage(r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewMessageNotFound(id)
		}
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) GetByCampaignContact(ctx context.Context, campaignID, contactID int) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE campaign_id=$1 AND contact_id=$2`
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, campaignID, contactID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) GetByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id=$1`
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, providerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("message", providerID)
		}
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) UpdateStatus(ctx context.Context, id int, status model.MessageStatus, fields model.MessageUpdate) error {
	from := []string{}
	for _, s := range status.AllowedFrom() {
		from = append(from, string(s))
	}
	events, err := encodeEvents(fields.Event)
	if err != nil {
		return err
	}

	query := `
        UPDATE messages SET
            status = $2::text,
            destination = COALESCE(NULLIF($3, ''), destination),
            body = COALESCE(NULLIF($4, ''), body),
            provider_message_id = COALESCE(NULLIF($5, ''), provider_message_id),
            last_error = COALESCE(NULLIF($6, ''), last_error),
            provider_response = provider_response || $7::jsonb,
            sent_at = CASE WHEN $2::text = 'sent' THEN NOW() ELSE sent_at END,
            delivered_at = CASE WHEN $2::text = 'delivered' THEN NOW() ELSE delivered_at END,
            failed_at = CASE WHEN $2::text = 'failed' THEN NOW() ELSE failed_at END,
            failure_counted = failure_counted OR $9,
            updated_at = NOW()
        WHERE id = $1 AND status = ANY($8)
    `
	res, err := r.DB.ExecContext(ctx, query, id, string(status), fields.Destination, fields.Body,
		fields.ProviderMessageID, fields.Error, string(events), pq.Array(from), fields.CountFailure)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidState("message", id, string(current.Status), fmt.Sprint(from))
}

func (r *MessageRepository) ResetForRetry(ctx context.Context, id int, event model.ProviderEvent) (*model.Message, error) {
	events, err := encodeEvents(&event)
	if err != nil {
		return nil, err
	}
	query := `
        UPDATE messages SET
            status = 'pending',
            retry_count = retry_count + 1,
            last_retry_at = NOW(),
            failed_at = NULL,
            provider_response = provider_response || jsonb_set($2::jsonb, '{0,retry_count}', to_jsonb(retry_count + 1)),
            updated_at = NOW()
        WHERE id = $1 AND status = 'failed'
        RETURNING ` + messageColumns
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, id, string(events)))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, appErrors.NewInvalidState("message", id, string(current.Status), string(model.MessageStatusFailed))
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
