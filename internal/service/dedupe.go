package service

import (
	"strings"

	"github.com/lib/pq"

	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/phone"
)

// Resolve reports every record whose identity key matches an existing
// contact. When the batch holds the same key more than once only the last
// record is considered, so later rows win.
func Resolve(records []model.ContactRecord, existing []model.Contact, policy phone.Policy) []model.DuplicateMatch {
	byPhone := make(map[string]*model.Contact, len(existing))
	for i := range existing {
		if key := policy.Key(existing[i].Phone); key != "" {
			byPhone[key] = &existing[i]
		}
	}

	last := map[string]int{}
	for i, rec := range records {
		if key := recordKey(rec, policy); key != "" {
			last[key] = i
		}
	}

	matches := []model.DuplicateMatch{}
	for i, rec := range records {
		key := recordKey(rec, policy)
		if key == "" || last[key] != i {
			continue
		}
		if c, ok := byPhone[key]; ok {
			cp := *c
			matches = append(matches, model.DuplicateMatch{Row: rec.Row, PhoneNumber: rec.PhoneNumber, ExistingContact: &cp})
		}
	}
	return matches
}

// Superseded lists the rows that an identical key later in the batch
// replaces.
func Superseded(records []model.ContactRecord, policy phone.Policy) []int {
	last := map[string]int{}
	for i, rec := range records {
		if key := recordKey(rec, policy); key != "" {
			last[key] = i
		}
	}
	rows := []int{}
	for i, rec := range records {
		if key := recordKey(rec, policy); key != "" && last[key] != i {
			rows = append(rows, rec.Row)
		}
	}
	return rows
}

func recordKey(rec model.ContactRecord, policy phone.Policy) string {
	if rec.NormalizedPhone != "" {
		return rec.NormalizedPhone
	}
	return policy.Key(rec.PhoneNumber)
}

// Decide maps a strategy and the matched contact (nil when none) to the
// row outcome.
func Decide(strategy model.ImportStrategy, existing *model.Contact) model.RowOutcome {
	switch {
	case existing == nil:
		return model.RowSuccess
	case strategy == model.StrategyUpsert:
		return model.RowUpdated
	}
	return model.RowDuplicate
}

// MergeRecord overwrites the mutable fields of c with the non-empty values
// of rec. ID, phone and CreatedAt are kept; tags are unioned.
func MergeRecord(c *model.Contact, rec model.ContactRecord) {
	if rec.FirstName != "" {
		c.FirstName = rec.FirstName
	}
	if rec.LastName != "" {
		c.LastName = rec.LastName
	}
	if rec.Email != "" {
		c.Email = strings.ToLower(rec.Email)
	}
	if rec.Company != "" {
		c.Company = rec.Company
	}
	if rec.Status != "" {
		c.Status = model.ContactStatus(rec.Status)
	}
	seen := map[string]bool{}
	tags := pq.StringArray{}
	for _, t := range append(append([]string{}, c.Tags...), rec.Tags...) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	c.Tags = tags
}

// NewContact builds the contact inserted for an unmatched record.
func NewContact(rec model.ContactRecord) *model.Contact {
	c := &model.Contact{
		Phone:  rec.NormalizedPhone,
		Status: model.ContactStatusActive,
		Tags:   pq.StringArray{},
	}
	MergeRecord(c, rec)
	return c
}
