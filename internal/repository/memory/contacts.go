package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

type contactRepo struct{ view }

func (r *contactRepo) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	defer r.lock()()
	c, ok := r.st().contacts[id]
	if !ok {
		return nil, appErrors.NewContactNotFound(id)
	}
	c = copyContact(c)
	return &c, nil
}

func (r *contactRepo) FindByNormalizedPhone(ctx context.Context, phone string) (*model.Contact, error) {
	if phone == "" {
		return nil, nil
	}
	defer r.lock()()
	for _, c := range r.st().contacts {
		if c.Phone == phone {
			c = copyContact(c)
			return &c, nil
		}
	}
	return nil, nil
}

func (r *contactRepo) Upsert(ctx context.Context, c *model.Contact) error {
	defer r.lock()()
	st := r.st()
	now := r.stamp()
	if c.Tags == nil {
		c.Tags = pq.StringArray{}
	}

	if c.ID == 0 {
		if c.Phone != "" {
			for _, existing := range st.contacts {
				if existing.Phone == c.Phone {
					return fmt.Errorf("contact with phone %s already exists", c.Phone)
				}
			}
		}
		st.nextContact++
		c.ID = st.nextContact
		c.CreatedAt = now
		c.UpdatedAt = now
		st.contacts[c.ID] = copyContact(*c)
		return nil
	}

	existing, ok := st.contacts[c.ID]
	if !ok {
		return appErrors.NewContactNotFound(c.ID)
	}
	existing.FirstName = c.FirstName
	existing.LastName = c.LastName
	existing.Email = c.Email
	existing.Company = c.Company
	existing.Status = c.Status
	existing.Tags = c.Tags
	existing.UpdatedAt = now
	st.contacts[c.ID] = copyContact(existing)

	c.Phone = existing.Phone
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = now
	return nil
}

func (r *contactRepo) ListAll(ctx context.Context) ([]model.Contact, error) {
	return r.filter(func(model.Contact) bool { return true }), nil
}

func (r *contactRepo) ListEligible(ctx context.Context, tags []string) ([]model.Contact, error) {
	return r.filter(func(c model.Contact) bool {
		if c.Status != model.ContactStatusActive {
			return false
		}
		if len(tags) == 0 {
			return true
		}
		for _, want := range tags {
			for _, have := range c.Tags {
				if want == have {
					return true
				}
			}
		}
		return false
	}), nil
}

func (r *contactRepo) filter(keep func(model.Contact) bool) []model.Contact {
	defer r.lock()()
	out := []model.Contact{}
	for _, c := range r.st().contacts {
		if keep(c) {
			out = append(out, copyContact(c))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

var _ repository.ContactRepositoryInterface = (*contactRepo)(nil)
