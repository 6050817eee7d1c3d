// internal/model/contact.go
package model

import (
	"time"

	"github.com/lib/pq"
)

type ContactStatus string

const (
	ContactStatusActive       ContactStatus = "active"
	ContactStatusInactive     ContactStatus = "inactive"
	ContactStatusUnsubscribed ContactStatus = "unsubscribed"
	ContactStatusBounced      ContactStatus = "bounced"
)

// Contact is a person who may be messaged. Phone holds the canonical
// (normalized) number and is unique when non-empty.
type Contact struct {
	ID        int            `db:"id" json:"id"`
	Phone     string         `db:"phone" json:"phone_number"`
	FirstName string         `db:"first_name" json:"first_name"`
	LastName  string         `db:"last_name" json:"last_name"`
	Email     string         `db:"email" json:"email"`
	Company   string         `db:"company" json:"company"`
	Status    ContactStatus  `db:"status" json:"status"`
	Tags      pq.StringArray `db:"tags" json:"tags"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// MergeFields returns the values available to {merge_tag} placeholders.
// Empty fields are omitted so the placeholder survives rendering.
func (c *Contact) MergeFields() map[string]string {
	fields := map[string]string{
		"first_name":   c.FirstName,
		"last_name":    c.LastName,
		"email":        c.Email,
		"company":      c.Company,
		"phone_number": c.Phone,
		"phone":        c.Phone,
	}
	if c.FirstName != "" || c.LastName != "" {
		full := c.FirstName
		if c.LastName != "" {
			if full != "" {
				full += " "
			}
			full += c.LastName
		}
		fields["full_name"] = full
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}
