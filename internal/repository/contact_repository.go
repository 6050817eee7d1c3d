package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
)

const contactColumns = `id, phone, first_name, last_name, email, company, status, tags, created_at, updated_at`

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB Querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*model.Contact, error) {
	var c model.Contact
	if err := row.Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName, &c.Email, &c.Company, &c.Status, &c.Tags, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	c, err := scanContact(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewContactNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *ContactRepository) FindByNormalizedPhone(ctx context.Context, phone string) (*model.Contact, error) {
	if phone == "" {
		return nil, nil
	}
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE phone = $1`
	c, err := scanContact(r.DB.QueryRowContext(ctx, query, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *ContactRepository) Upsert(ctx context.Context, c *model.Contact) error {
	if c.Tags == nil {
		c.Tags = pq.StringArray{}
	}
	if c.ID == 0 {
		query := `
        INSERT INTO contacts (phone, first_name, last_name, email, company, status, tags, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
		return r.DB.QueryRowContext(ctx, query, c.Phone, c.FirstName, c.LastName, c.Email, c.Company, c.Status, c.Tags).
			Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	}

	query := `
        UPDATE contacts
        SET first_name=$2, last_name=$3, email=$4, company=$5, status=$6, tags=$7, updated_at=NOW()
        WHERE id=$1
        RETURNING created_at, updated_at
    `
	err := r.DB.QueryRowContext(ctx, query, c.ID, c.FirstName, c.LastName, c.Email, c.Company, c.Status, c.Tags).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NewContactNotFound(c.ID)
	}
	return err
}

func (r *ContactRepository) ListAll(ctx context.Context) ([]model.Contact, error) {
	return r.list(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY id`)
}

func (r *ContactRepository) ListEligible(ctx context.Context, tags []string) ([]model.Contact, error) {
	if tags == nil {
		tags = []string{}
	}
	query := `
        SELECT ` + contactColumns + `
        FROM contacts
        WHERE status = 'active'
          AND (cardinality($1::text[]) = 0 OR tags && $1::text[])
        ORDER BY id
    `
	return r.list(ctx, query, pq.Array(tags))
}

func (r *ContactRepository) list(ctx context.Context, query string, args ...any) ([]model.Contact, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
