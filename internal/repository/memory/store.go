// Package memory is an in-process Store used for local runs without
// Postgres and by the service tests. It mirrors the guarded transitions of
// the SQL repositories; WithinTx serializes on one mutex and restores a
// snapshot when the unit of work fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

type state struct {
	contacts  map[int]model.Contact
	campaigns map[int]model.Campaign
	messages  map[int]model.Message
	jobs      map[int]model.Job

	nextContact, nextCampaign, nextMessage, nextJob int
}

func newState() *state {
	return &state{
		contacts:  map[int]model.Contact{},
		campaigns: map[int]model.Campaign{},
		messages:  map[int]model.Message{},
		jobs:      map[int]model.Job{},
	}
}

func (st *state) clone() *state {
	cp := newState()
	for id, c := range st.contacts {
		cp.contacts[id] = copyContact(c)
	}
	for id, c := range st.campaigns {
		cp.campaigns[id] = copyCampaign(c)
	}
	for id, m := range st.messages {
		cp.messages[id] = copyMessage(m)
	}
	for id, j := range st.jobs {
		cp.jobs[id] = j
	}
	cp.nextContact, cp.nextCampaign, cp.nextMessage, cp.nextJob = st.nextContact, st.nextCampaign, st.nextMessage, st.nextJob
	return cp
}

type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newState(), now: time.Now}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Repos() repository.Repositories {
	return s.view(false)
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(s.view(true)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) view(tx bool) repository.Repositories {
	v := view{s: s, tx: tx}
	return repository.Repositories{
		Contacts:  &contactRepo{v},
		Campaigns: &campaignRepo{v},
		Messages:  &messageRepo{v},
		Jobs:      &jobRepo{v},
	}
}

// JobsByCampaign returns every job of a campaign ordered by id.
func (s *Store) JobsByCampaign(campaignID int) []model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := []model.Job{}
	for _, j := range s.data.jobs {
		if j.CampaignID == campaignID {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs
}

// view is the shared receiver of the repositories. Inside WithinTx the
// store mutex is already held.
type view struct {
	s  *Store
	tx bool
}

func (v view) lock() func() {
	if v.tx {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) st() *state {
	return v.s.data
}

func (v view) stamp() time.Time {
	return v.s.now()
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func copyContact(c model.Contact) model.Contact {
	c.Tags = append(c.Tags[:0:0], c.Tags...)
	return c
}

func copyCampaign(c model.Campaign) model.Campaign {
	c.RecipientTags = append(c.RecipientTags[:0:0], c.RecipientTags...)
	return c
}

func copyMessage(m model.Message) model.Message {
	m.ProviderResponse = append(m.ProviderResponse[:0:0], m.ProviderResponse...)
	return m
}
