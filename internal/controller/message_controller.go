package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

type MessageController struct {
	CampaignService *service.CampaignService
}

// RetryMessage puts a failed message back in the dispatch queue.
func (c *MessageController) RetryMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		badRequest(w, "invalid message id")
		return
	}

	msg, err := c.CampaignService.RetryMessage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// DeliveryWebhook records provider delivery receipts. Receipts with any
// status other than delivered are acknowledged and ignored.
func (c *MessageController) DeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		badRequest(w, "invalid body")
		return
	}
	var receipt struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(raw, &receipt); err != nil || receipt.MessageID == "" {
		badRequest(w, "invalid body")
		return
	}

	switch strings.ToLower(receipt.Status) {
	case "delivered", "delivrd", "success":
	default:
		logrus.WithFields(logrus.Fields{"provider_id": receipt.MessageID, "status": receipt.Status}).
			Info("delivery receipt ignored")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	msg, err := c.CampaignService.MarkDelivered(r.Context(), receipt.MessageID, raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func isNoData(err error) bool {
	return errors.Is(err, appErrors.ErrNoDataFound)
}
