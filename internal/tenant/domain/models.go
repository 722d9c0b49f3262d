// Package domain contains persistence models for tenant organizations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant whose billing schedule is processed
// independently of all others.
type Organization struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name         string            `gorm:"type:text;not null" json:"name"`
	Slug         string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	SupportEmail string            `gorm:"type:text;column:support_email" json:"support_email"`
	CountryCode  string            `gorm:"column:country_code" json:"country_code"`
	TimezoneName string            `gorm:"column:timezone_name" json:"timezone_name"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// Location resolves the tenant's IANA timezone, falling back to UTC.
func (o Organization) Location() *time.Location {
	if o.TimezoneName == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.TimezoneName)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BillingSettings stores per-tenant billing policy.
//
// Reminder offsets are in days relative to the invoice due date: negative is
// before, positive after, zero on the due date, nil disabled.
type BillingSettings struct {
	OrgID                 snowflake.ID `gorm:"primaryKey" json:"org_id"`
	AutoSuspendEnabled    bool         `gorm:"not null;default:true" json:"auto_suspend_enabled"`
	SuspendGraceDays      int          `gorm:"not null;default:7" json:"suspend_grace_days"`
	SplitInvoicesByFamily bool         `gorm:"not null;default:false" json:"split_invoices_by_family"`
	ActivatePaidPending   bool         `gorm:"not null;default:true" json:"activate_paid_pending"`
	ProcessPaidChanges    bool         `gorm:"not null;default:true" json:"process_paid_changes"`
	ChangeExpiryDays      int          `gorm:"not null;default:30" json:"change_expiry_days"`
	AutodebitPreDueDays   int          `gorm:"not null;default:3" json:"autodebit_pre_due_days"`
	ReminderFirstDays     *int         `gorm:"" json:"reminder_first_days"`
	ReminderSecondDays    *int         `gorm:"" json:"reminder_second_days"`
	ReminderThirdDays     *int         `gorm:"" json:"reminder_third_days"`
	AutodebitNoticeDays   *int         `gorm:"" json:"autodebit_notice_days"`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (BillingSettings) TableName() string { return "organization_billing_settings" }

// DefaultBillingSettings returns the policy applied when a tenant has no
// persisted settings row.
func DefaultBillingSettings(orgID snowflake.ID) BillingSettings {
	return BillingSettings{
		OrgID:               orgID,
		AutoSuspendEnabled:  true,
		SuspendGraceDays:    7,
		ActivatePaidPending: true,
		ProcessPaidChanges:  true,
		ChangeExpiryDays:    30,
		AutodebitPreDueDays: 3,
	}
}

// ReminderOffsets lists the configured invoice reminder offsets in order.
func (s BillingSettings) ReminderOffsets() []*int {
	return []*int{s.ReminderFirstDays, s.ReminderSecondDays, s.ReminderThirdDays}
}
