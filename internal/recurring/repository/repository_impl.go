package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	recurringdomain "github.com/billfold/billfold/internal/recurring/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() recurringdomain.Repository {
	return &repo{}
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBy time.Time) ([]recurringdomain.Template, error) {
	var templates []recurringdomain.Template
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, client_id, description, currency, items, billing_cycle_type,
		 next_renewal_at, remaining_count, enabled, created_at, updated_at
		 FROM recurring_templates
		 WHERE org_id = ? AND enabled = ?
		   AND next_renewal_at <= ?
		   AND (remaining_count IS NULL OR remaining_count > 0)
		 ORDER BY next_renewal_at ASC, id ASC`,
		orgID,
		true,
		dueBy,
	).Scan(&templates).Error
	if err != nil {
		return nil, err
	}
	return templates, nil
}

func (r *repo) AdvanceOccurrence(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, from, to time.Time) (bool, error) {
	if !to.After(from) {
		return false, nil
	}
	// enabled is computed before remaining_count is decremented: MySQL
	// applies SET clauses left to right using already-updated values.
	res := db.WithContext(ctx).Exec(
		`UPDATE recurring_templates
		 SET enabled = CASE WHEN remaining_count = 1 THEN ? ELSE enabled END,
		     remaining_count = CASE WHEN remaining_count IS NULL THEN NULL ELSE remaining_count - 1 END,
		     next_renewal_at = ?,
		     updated_at = ?
		 WHERE org_id = ? AND id = ? AND next_renewal_at = ?
		   AND (remaining_count IS NULL OR remaining_count > 0)`,
		false,
		to,
		to,
		orgID,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
