// internal/model/message.go
package model

import (
	"encoding/json"
	"time"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// AllowedFrom lists the statuses a message may move to s from through a
// regular status update. failed->pending is only reachable through an
// explicit retry reset and is deliberately absent here.
func (s MessageStatus) AllowedFrom() []MessageStatus {
	switch s {
	case MessageStatusSent, MessageStatusFailed:
		return []MessageStatus{MessageStatusPending}
	case MessageStatusDelivered:
		return []MessageStatus{MessageStatusSent}
	}
	return nil
}

// CanMoveTo reports whether a regular update from s to next is allowed.
func (s MessageStatus) CanMoveTo(next MessageStatus) bool {
	for _, from := range next.AllowedFrom() {
		if from == s {
			return true
		}
	}
	return false
}

// ProviderEvent is one entry of a message's provider audit trail.
type ProviderEvent struct {
	Kind       string          `json:"kind"` // send, error, retry, delivery
	At         time.Time       `json:"at"`
	ProviderID string          `json:"provider_id,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count,omitempty"`
	Manual     bool            `json:"manual,omitempty"`
}

// Message is one addressed communication. FailureCounted is set once the
// message has been added to its campaign's failed_count; it survives a
// manual retry reset so the message is never counted twice.
type Message struct {
	ID                int             `db:"id" json:"id"`
	CampaignID        int             `db:"campaign_id" json:"campaign_id"`
	ContactID         int             `db:"contact_id" json:"contact_id"`
	Channel           Channel         `db:"channel" json:"channel"`
	Destination       string          `db:"destination" json:"destination"`
	Body              string          `db:"body" json:"body"`
	Status            MessageStatus   `db:"status" json:"status"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ProviderResponse  []ProviderEvent `db:"provider_response" json:"provider_response"`
	LastError         string          `db:"last_error" json:"last_error,omitempty"`
	RetryCount        int             `db:"retry_count" json:"retry_count"`
	FailureCounted    bool            `db:"failure_counted" json:"failure_counted"`
	SentAt            *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	FailedAt          *time.Time      `db:"failed_at" json:"failed_at,omitempty"`
	LastRetryAt       *time.Time      `db:"last_retry_at" json:"last_retry_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// MessageUpdate carries the optional fields written alongside a status
// change. CountFailure marks the message as counted in failed_count.
type MessageUpdate struct {
	Destination       string
	Body              string
	ProviderMessageID string
	Error             string
	Event             *ProviderEvent
	CountFailure      bool
}
