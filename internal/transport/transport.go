// Package transport sends rendered messages through external providers.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

// ErrInvalidDestination is returned by a transport that refuses an address
// outright. Retrying such a send cannot succeed.
var ErrInvalidDestination = errors.New("invalid destination")

// SendResult is what a provider acknowledged.
type SendResult struct {
	ProviderID string
	Raw        json.RawMessage
}

// Transport sends one message body to one address.
type Transport interface {
	Send(ctx context.Context, to, body string) (SendResult, error)
}

// Router picks the transport configured for a campaign channel.
type Router map[model.Channel]Transport

// For returns the transport for ch and whether one is configured.
func (r Router) For(ch model.Channel) (Transport, bool) {
	t, ok := r[ch]
	return t, ok && t != nil
}

// Empty reports whether no channel has a transport.
func (r Router) Empty() bool {
	for _, t := range r {
		if t != nil {
			return false
		}
	}
	return true
}
