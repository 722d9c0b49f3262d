package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]tenantdomain.Organization, error) {
	var orgs []tenantdomain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, support_email, country_code, timezone_name, metadata, created_at, updated_at
		 FROM organizations
		 ORDER BY id`,
	).Scan(&orgs).Error
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Organization, error) {
	var org tenantdomain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, support_email, country_code, timezone_name, metadata, created_at, updated_at
		 FROM organizations
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, nil
	}
	return &org, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*tenantdomain.Organization, error) {
	var org tenantdomain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, support_email, country_code, timezone_name, metadata, created_at, updated_at
		 FROM organizations
		 WHERE slug = ?
		 LIMIT 1`,
		slug,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, nil
	}
	return &org, nil
}

func (r *repo) FindSettings(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*tenantdomain.BillingSettings, error) {
	var settings tenantdomain.BillingSettings
	err := db.WithContext(ctx).Raw(
		`SELECT org_id, auto_suspend_enabled, suspend_grace_days, split_invoices_by_family,
		        activate_paid_pending, process_paid_changes, change_expiry_days,
		        autodebit_pre_due_days, reminder_first_days, reminder_second_days,
		        reminder_third_days, autodebit_notice_days, created_at, updated_at
		 FROM organization_billing_settings
		 WHERE org_id = ?
		 LIMIT 1`,
		orgID,
	).Scan(&settings).Error
	if err != nil {
		return nil, err
	}
	if settings.OrgID == 0 {
		return nil, nil
	}
	return &settings, nil
}
