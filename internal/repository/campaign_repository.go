package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
)

const campaignColumns = `id, name, channel, status, base_template, recipient_tags, priority, max_retries,
        total_recipients, sent_count, delivered_count, failed_count, started_at, completed_at, created_at, updated_at`

type CampaignRepository struct {
	DB Querier
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.Channel, &c.Status, &c.BaseTemplate, &c.RecipientTags, &c.Priority, &c.MaxRetries,
		&c.TotalRecipients, &c.SentCount, &c.DeliveredCount, &c.FailedCount, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.RecipientTags == nil {
		c.RecipientTags = pq.StringArray{}
	}
	query := `
        INSERT INTO campaigns (name, channel, status, base_template, recipient_tags, priority, max_retries, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
        RETURNING id, created_at
    `
	return r.DB.QueryRowContext(ctx, query, c.Name, c.Channel, c.Status, c.BaseTemplate, c.RecipientTags, c.Priority, c.MaxRetries).
		Scan(&c.ID, &c.CreatedAt)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) GetStatus(ctx context.Context, id int) (model.CampaignStatus, error) {
	var status model.CampaignStatus
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", appErrors.NewCampaignNotFound(id)
	}
	return status, err
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		where += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) error {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	query := `
        UPDATE campaigns
        SET status = $2::text,
            started_at = CASE WHEN $2::text = 'active' AND started_at IS NULL THEN NOW() ELSE started_at END,
            completed_at = CASE WHEN $2::text IN ('completed', 'cancelled') THEN NOW() ELSE completed_at END,
            updated_at = NOW()
        WHERE id = $1 AND status = ANY($3)
    `
	res, err := r.DB.ExecContext(ctx, query, id, string(to), pq.Array(allowed))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	current, err := r.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidState("campaign", id, string(current), fmt.Sprint(allowed))
}

// ====================== Counters ======================

func (r *CampaignRepository) increment(ctx context.Context, id int, column string, n int) error {
	query := fmt.Sprintf(`UPDATE campaigns SET %[1]s = %[1]s + $2, updated_at = NOW() WHERE id = $1`, column)
	res, err := r.DB.ExecContext(ctx, query, id, n)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

func (r *CampaignRepository) IncrementSentCount(ctx context.Context, id int) error {
	return r.increment(ctx, id, "sent_count", 1)
}

func (r *CampaignRepository) IncrementDeliveredCount(ctx context.Context, id int) error {
	return r.increment(ctx, id, "delivered_count", 1)
}

func (r *CampaignRepository) IncrementFailedCount(ctx context.Context, id int) error {
	return r.increment(ctx, id, "failed_count", 1)
}

func (r *CampaignRepository) AddRecipients(ctx context.Context, id, n int) error {
	if n <= 0 {
		return nil
	}
	return r.increment(ctx, id, "total_recipients", n)
}

func (r *CampaignRepository) CompleteDrained(ctx context.Context) ([]int, error) {
	query := `
        UPDATE campaigns c
        SET status = 'completed', completed_at = NOW(), updated_at = NOW()
        WHERE c.status = 'active'
          AND c.total_recipients > 0
          AND NOT EXISTS (
              SELECT 1 FROM jobs j
              WHERE j.campaign_id = c.id AND j.status IN ('pending', 'processing')
          )
        RETURNING c.id
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"pending": 0, "sent": 0, "delivered": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
