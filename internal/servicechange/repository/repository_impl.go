package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	servicechangedomain "github.com/billfold/billfold/internal/servicechange/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() servicechangedomain.Repository {
	return &repo{}
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]servicechangedomain.Request, error) {
	var requests []servicechangedomain.Request
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, invoice_id, payload, status, message,
		 processed_at, created_at, updated_at
		 FROM service_change_requests
		 WHERE org_id = ? AND status = ?
		 ORDER BY id ASC`,
		orgID,
		servicechangedomain.StatusPending,
	).Scan(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repo) MarkTerminal(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, to servicechangedomain.Status, message *string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE service_change_requests
		 SET status = ?, message = ?, processed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		to,
		message,
		at,
		at,
		orgID,
		id,
		servicechangedomain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
