package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	subscriptiondomain "github.com/billfold/billfold/internal/subscription/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, org_id, client_id, parent_id, package_name, provision_module,
	billing_cycle_type, status, currency, amount, price_override, next_due_at, last_renewed_at,
	cancel_at, cancel_at_period_end, canceled_at, suspended_at, do_not_suspend_before,
	provision_payload, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) ListDueForRenewal(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBy time.Time, exclude []snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		 FROM subscriptions
		 WHERE org_id = ? AND status = ? AND next_due_at <= ?`
	args := []any{orgID, subscriptiondomain.StatusActive, dueBy}
	if len(exclude) > 0 {
		query += ` AND id NOT IN ?`
		args = append(args, exclude)
	}
	query += ` ORDER BY next_due_at ASC, id ASC`

	var subscriptions []subscriptiondomain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListSuspendable(ctx context.Context, db *gorm.DB, orgID snowflake.ID, overdueBefore, now time.Time) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions s
		 WHERE s.org_id = ? AND s.status = ?
		   AND (s.do_not_suspend_before IS NULL OR s.do_not_suspend_before <= ?)
		   AND EXISTS (
			SELECT 1 FROM clients c
			WHERE c.org_id = s.org_id AND c.id = s.client_id AND c.auto_suspend_enabled = ?
		   )
		   AND EXISTS (
			SELECT 1 FROM invoices i
			JOIN invoice_items ii ON ii.invoice_id = i.id AND ii.org_id = i.org_id
			WHERE i.org_id = s.org_id
			  AND ii.subscription_id = s.id
			  AND i.status = ?
			  AND i.balance_due > 0
			  AND i.due_at <= ?
		   )
		 ORDER BY s.id ASC`,
		orgID,
		subscriptiondomain.StatusActive,
		now,
		true,
		invoicedomain.StatusActive,
		overdueBefore,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListSuspendedPaid(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions s
		 WHERE s.org_id = ? AND s.status = ?
		   AND NOT EXISTS (
			SELECT 1 FROM invoices i
			JOIN invoice_items ii ON ii.invoice_id = i.id AND ii.org_id = i.org_id
			WHERE i.org_id = s.org_id
			  AND ii.subscription_id = s.id
			  AND i.status = ?
			  AND i.balance_due > 0
			  AND i.due_at <= ?
		   )
		 ORDER BY s.id ASC`,
		orgID,
		subscriptiondomain.StatusSuspended,
		invoicedomain.StatusActive,
		now,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListDueForCancellation(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE org_id = ? AND status IN ?
		   AND (
			(cancel_at IS NOT NULL AND cancel_at <= ?)
			OR (cancel_at_period_end AND next_due_at <= ?)
		   )
		 ORDER BY id ASC`,
		orgID,
		[]subscriptiondomain.Status{subscriptiondomain.StatusActive, subscriptiondomain.StatusSuspended},
		now,
		now,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListPendingPaid(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions s
		 WHERE s.org_id = ? AND s.status = ?
		   AND EXISTS (
			SELECT 1 FROM invoices i
			JOIN invoice_items ii ON ii.invoice_id = i.id AND ii.org_id = i.org_id
			WHERE i.org_id = s.org_id
			  AND ii.subscription_id = s.id
			  AND i.status = ?
		   )
		   AND NOT EXISTS (
			SELECT 1 FROM invoices i
			JOIN invoice_items ii ON ii.invoice_id = i.id AND ii.org_id = i.org_id
			WHERE i.org_id = s.org_id
			  AND ii.subscription_id = s.id
			  AND i.status = ?
			  AND i.balance_due > 0
		   )
		 ORDER BY s.id ASC`,
		orgID,
		subscriptiondomain.StatusPending,
		invoicedomain.StatusClosed,
		invoicedomain.StatusActive,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) AdvanceRenewal(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, from, to time.Time) (bool, error) {
	if !to.After(from) {
		return false, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET next_due_at = ?, last_renewed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND next_due_at = ?`,
		to,
		from,
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

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, from, to subscriptiondomain.Status, at time.Time) (bool, error) {
	set := `status = ?, updated_at = ?`
	args := []any{to, at}
	switch to {
	case subscriptiondomain.StatusSuspended:
		set += `, suspended_at = ?`
		args = append(args, at)
	case subscriptiondomain.StatusCanceled:
		set += `, canceled_at = ?`
		args = append(args, at)
	case subscriptiondomain.StatusActive:
		set += `, suspended_at = NULL, do_not_suspend_before = NULL`
	}
	args = append(args, orgID, id, from)

	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET `+set+` WHERE org_id = ? AND id = ? AND status = ?`,
		args...,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ApplyChange(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, packageName string, cycle subscriptiondomain.BillingCycleType, amount decimal.Decimal, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET package_name = ?, billing_cycle_type = ?, amount = ?, price_override = NULL, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		packageName,
		cycle,
		amount,
		at,
		orgID,
		id,
		subscriptiondomain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetDoNotSuspendBefore(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, until *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET do_not_suspend_before = ? WHERE org_id = ? AND id = ?`,
		until,
		orgID,
		id,
	).Error
}
