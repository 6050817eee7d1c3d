package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/phone"
	"github.com/unclebandit/outreach-dispatch/internal/repository/memory"
	"github.com/unclebandit/outreach-dispatch/internal/service"
	"github.com/unclebandit/outreach-dispatch/internal/transport"
)

// scriptedTransport records every send. It fails while err is set and
// panics for panicFor.
type scriptedTransport struct {
	mu       sync.Mutex
	err      error
	panicFor string
	sent     []string
}

func (s *scriptedTransport) Send(ctx context.Context, to, body string) (transport.SendResult, error) {
	s.mu.Lock()
	if to == s.panicFor {
		s.mu.Unlock()
		panic("provider client blew up")
	}
	defer s.mu.Unlock()
	s.sent = append(s.sent, to)
	if s.err != nil {
		return transport.SendResult{}, s.err
	}
	return transport.SendResult{
		ProviderID: fmt.Sprintf("prov-%d", len(s.sent)),
		Raw:        json.RawMessage(`{"accepted":true}`),
	}, nil
}

func (s *scriptedTransport) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptedTransport) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

var errProviderDown = errors.New("provider unavailable")

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	sms        *scriptedTransport
	campaigns  *service.CampaignService
	dispatcher *service.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	sms := &scriptedTransport{}
	return &fixture{
		ctx:   context.Background(),
		store: store,
		sms:   sms,
		campaigns: &service.CampaignService{
			Store:             store,
			Policy:            phone.DefaultPolicy,
			DefaultMaxRetries: 3,
		},
		dispatcher: &service.Dispatcher{
			Store:      store,
			Transports: transport.Router{model.ChannelSMS: sms},
			Policy:     phone.DefaultPolicy,
		},
	}
}

func (f *fixture) contact(t *testing.T, phoneNumber, firstName string, tags ...string) *model.Contact {
	t.Helper()
	c := &model.Contact{
		Phone:     phone.DefaultPolicy.Key(phoneNumber),
		FirstName: firstName,
		Status:    model.ContactStatusActive,
		Tags:      tags,
	}
	if err := f.store.Repos().Contacts.Upsert(f.ctx, c); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return c
}

func (f *fixture) campaign(t *testing.T, template string, maxRetries int, tags ...string) *model.Campaign {
	t.Helper()
	c, err := f.campaigns.CreateCampaign(f.ctx, service.CreateCampaignInput{
		Name:          "Renewals",
		Channel:       "sms",
		BaseTemplate:  template,
		RecipientTags: tags,
		MaxRetries:    &maxRetries,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

// startedCampaign creates an active campaign with one job per contact.
func (f *fixture) startedCampaign(t *testing.T, template string, maxRetries int, contacts ...*model.Contact) *model.Campaign {
	t.Helper()
	c := f.campaign(t, template, maxRetries)
	ids := []int{}
	for _, contact := range contacts {
		ids = append(ids, contact.ID)
	}
	if _, err := f.campaigns.StartCampaign(f.ctx, c.ID, ids); err != nil {
		t.Fatalf("start campaign: %v", err)
	}
	return f.reload(t, c.ID)
}

// rawJob inserts a pending message and job without going through the
// campaign lifecycle.
func (f *fixture) rawJob(t *testing.T, c *model.Campaign, contact *model.Contact, priority int, createdAt time.Time) *model.Job {
	t.Helper()
	repos := f.store.Repos()
	msg := &model.Message{CampaignID: c.ID, ContactID: contact.ID, Channel: c.Channel, Destination: contact.Phone}
	if err := repos.Messages.Create(f.ctx, msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	job := &model.Job{
		CampaignID: c.ID,
		ContactID:  contact.ID,
		MessageID:  msg.ID,
		Priority:   priority,
		MaxRetries: c.MaxRetries,
		CreatedAt:  createdAt,
	}
	if err := repos.Jobs.Enqueue(f.ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func (f *fixture) reload(t *testing.T, campaignID int) *model.Campaign {
	t.Helper()
	c, err := f.store.Repos().Campaigns.GetByID(f.ctx, campaignID)
	if err != nil {
		t.Fatalf("reload campaign: %v", err)
	}
	return c
}

func (f *fixture) job(t *testing.T, id int) *model.Job {
	t.Helper()
	j, err := f.store.Repos().Jobs.GetByID(f.ctx, id)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	return j
}

func (f *fixture) message(t *testing.T, id int) *model.Message {
	t.Helper()
	m, err := f.store.Repos().Messages.GetByID(f.ctx, id)
	if err != nil {
		t.Fatalf("load message: %v", err)
	}
	return m
}

func (f *fixture) dispatch(t *testing.T, maxJobs int) *model.DispatchReport {
	t.Helper()
	report, err := f.dispatcher.DispatchBatch(f.ctx, maxJobs)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return report
}

// gatedTransport blocks each send until the test hands it a result.
type gatedTransport struct {
	entered chan struct{}
	result  chan error
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{entered: make(chan struct{}), result: make(chan error)}
}

func (g *gatedTransport) Send(ctx context.Context, to, body string) (transport.SendResult, error) {
	g.entered <- struct{}{}
	if err := <-g.result; err != nil {
		return transport.SendResult{}, err
	}
	return transport.SendResult{ProviderID: "gated-" + to}, nil
}
