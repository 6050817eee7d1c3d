package queue

import (
	"encoding/json"
	"time"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

const (
	TopicDispatchOutcome = "dispatch.outcome"
	TopicCampaignStatus  = "campaign.status"
	TopicImportCompleted = "import.completed"
)

// Decode fills dst from a subscriber payload. In process the payload is
// the published value; through the broker it is decoded JSON.
func Decode(payload, dst any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

type CampaignStatusEvent struct {
	CampaignID int                  `json:"campaign_id"`
	Status     model.CampaignStatus `json:"status"`
	At         time.Time            `json:"at"`
}

type ImportCompletedEvent struct {
	BatchID        string               `json:"batch_id"`
	Strategy       model.ImportStrategy `json:"strategy"`
	TotalRows      int                  `json:"total_rows"`
	NewCount       int                  `json:"new_count"`
	UpdatedCount   int                  `json:"updated_count"`
	DuplicateCount int                  `json:"duplicate_count"`
	ErrorCount     int                  `json:"error_count"`
	EnqueuedCount  int                  `json:"enqueued_count"`
}
