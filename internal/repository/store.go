package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore backs every repository with one *sql.DB.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func reposFor(q Querier) Repositories {
	return Repositories{
		Contacts:  &ContactRepository{DB: q},
		Campaigns: &CampaignRepository{DB: q},
		Messages:  &MessageRepository{DB: q},
		Jobs:      &JobRepository{DB: q},
	}
}

func (s *PostgresStore) Repos() Repositories {
	return reposFor(s.DB)
}

// WithinTx runs fn in a transaction, committing when fn returns nil.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(r Repositories) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(reposFor(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
