// Package seed bootstraps the default tenant so a fresh install can run
// the pipeline immediately.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"gorm.io/gorm"
)

const (
	defaultOrgName = "Main"
	defaultOrgSlug = "main"
)

// EnsureMainOrg seeds the default organization and its billing settings
// when no organization exists yet.
func EnsureMainOrg(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Raw(`SELECT COUNT(*) FROM organizations`).Scan(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		orgID := node.Generate()
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO organizations (id, name, slug, support_email, country_code, timezone_name, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, '', '', 'UTC', '{}', ?, ?)`,
			orgID, defaultOrgName, defaultOrgSlug, now, now,
		).Error; err != nil {
			return err
		}

		settings := tenantdomain.DefaultBillingSettings(orgID)
		return tx.WithContext(ctx).Exec(
			`INSERT INTO organization_billing_settings (
				org_id, auto_suspend_enabled, suspend_grace_days, split_invoices_by_family,
				activate_paid_pending, process_paid_changes, change_expiry_days,
				autodebit_pre_due_days, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			orgID,
			settings.AutoSuspendEnabled,
			settings.SuspendGraceDays,
			settings.SplitInvoicesByFamily,
			settings.ActivatePaidPending,
			settings.ProcessPaidChanges,
			settings.ChangeExpiryDays,
			settings.AutodebitPreDueDays,
			now, now,
		).Error
	})
}
