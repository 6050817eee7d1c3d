package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSMSGateway posts messages to a JSON SMS gateway:
//
//	POST {BaseURL}/messages {"to": "...", "message": "...", "sender_id": "..."}
//
// and expects {"message_id": "..."} back.
type HTTPSMSGateway struct {
	BaseURL    string
	APIKey     string
	SenderID   string
	httpClient *http.Client
}

func NewHTTPSMSGateway(baseURL, apiKey, senderID string, timeout time.Duration) *HTTPSMSGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSMSGateway{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		SenderID:   senderID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *HTTPSMSGateway) Send(ctx context.Context, to, body string) (SendResult, error) {
	if to == "" {
		return SendResult{}, ErrInvalidDestination
	}

	requestBody := map[string]string{
		"to":        to,
		"message":   body,
		"sender_id": g.SenderID,
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return SendResult{}, fmt.Errorf("%w: gateway returned %d: %s", ErrInvalidDestination, resp.StatusCode, string(raw))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return SendResult{}, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	var response struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return SendResult{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.MessageID == "" {
		return SendResult{}, fmt.Errorf("gateway response has no message_id")
	}

	result := SendResult{ProviderID: response.MessageID}
	if json.Valid(raw) {
		result.Raw = json.RawMessage(raw)
	}
	return result, nil
}
