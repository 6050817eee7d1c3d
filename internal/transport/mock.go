package transport

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MockSMSGateway simulates a provider that accepts SuccessRate of sends.
type MockSMSGateway struct {
	SuccessRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewMockSMSGateway(successRate float64, seed int64) *MockSMSGateway {
	return &MockSMSGateway{
		SuccessRate: successRate,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

func (g *MockSMSGateway) Send(ctx context.Context, to, body string) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	if to == "" {
		return SendResult{}, ErrInvalidDestination
	}

	g.mu.Lock()
	r := g.rnd.Float64()
	g.mu.Unlock()

	if r >= g.SuccessRate {
		logrus.WithField("to", to).Debug("mock gateway rejected message")
		return SendResult{}, errors.New("mock sending failed")
	}

	id := "MOCK-" + uuid.NewString()
	raw, _ := json.Marshal(map[string]string{"message_id": id, "status": "accepted"})
	logrus.WithFields(logrus.Fields{"to": to, "provider_id": id}).Debug("mock gateway accepted message")
	return SendResult{ProviderID: id, Raw: raw}, nil
}
