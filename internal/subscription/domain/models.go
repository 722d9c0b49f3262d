// Package domain contains persistence models for provisioned services.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a provisioned service.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusInReview  Status = "IN_REVIEW"
	StatusSuspended Status = "SUSPENDED"
	StatusCanceled  Status = "CANCELED"
)

// BillingCycleType is the whole-period term a renewal advances by.
type BillingCycleType string

const (
	CycleWeekly     BillingCycleType = "WEEKLY"
	CycleMonthly    BillingCycleType = "MONTHLY"
	CycleQuarterly  BillingCycleType = "QUARTERLY"
	CycleSemiAnnual BillingCycleType = "SEMI_ANNUAL"
	CycleAnnual     BillingCycleType = "ANNUAL"
	CycleBiennial   BillingCycleType = "BIENNIAL"
)

// NextPeriod returns from advanced by exactly one term.
func (c BillingCycleType) NextPeriod(from time.Time) time.Time {
	switch c {
	case CycleWeekly:
		return from.AddDate(0, 0, 7)
	case CycleQuarterly:
		return from.AddDate(0, 3, 0)
	case CycleSemiAnnual:
		return from.AddDate(0, 6, 0)
	case CycleAnnual:
		return from.AddDate(1, 0, 0)
	case CycleBiennial:
		return from.AddDate(2, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// Subscription is a provisioned service owned by one client.
type Subscription struct {
	ID               snowflake.ID     `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID     `gorm:"not null;index" json:"org_id"`
	ClientID         snowflake.ID     `gorm:"not null;index" json:"client_id"`
	ParentID         *snowflake.ID    `gorm:"index" json:"parent_id,omitempty"`
	PackageName      string           `gorm:"type:text;not null" json:"package_name"`
	ProvisionModule  string           `gorm:"type:text;not null" json:"provision_module"`
	BillingCycleType BillingCycleType `gorm:"type:text;not null" json:"billing_cycle_type"`
	Status           Status           `gorm:"type:text;not null" json:"status"`
	Currency         string           `gorm:"type:text;not null" json:"currency"`
	Amount           decimal.Decimal  `gorm:"type:numeric(20,8);not null" json:"amount"`
	PriceOverride    *decimal.Decimal `gorm:"type:numeric(20,8)" json:"price_override,omitempty"`

	NextDueAt     time.Time  `gorm:"not null;index" json:"next_due_at"`
	LastRenewedAt *time.Time `gorm:"" json:"last_renewed_at,omitempty"`

	// CancelAt is a literal instant. CancelAtPeriodEnd is the end-of-term
	// marker resolved against NextDueAt at sweep time.
	CancelAt           *time.Time `gorm:"" json:"cancel_at,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time `gorm:"" json:"canceled_at,omitempty"`
	SuspendedAt        *time.Time `gorm:"" json:"suspended_at,omitempty"`
	DoNotSuspendBefore *time.Time `gorm:"" json:"do_not_suspend_before,omitempty"`

	ProvisionPayload datatypes.JSONMap `gorm:"type:jsonb" json:"provision_payload,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// EffectiveAmount is the renewal price, honoring an override when set.
func (s Subscription) EffectiveAmount() decimal.Decimal {
	if s.PriceOverride != nil {
		return *s.PriceOverride
	}
	return s.Amount
}

// EffectiveCancelAt resolves the instant a scheduled cancellation takes
// effect: the literal CancelAt when set, the current renewal timestamp for
// end-of-term markers, otherwise the fallback.
func (s Subscription) EffectiveCancelAt(fallback time.Time) time.Time {
	if s.CancelAt != nil {
		return *s.CancelAt
	}
	if s.CancelAtPeriodEnd {
		return s.NextDueAt
	}
	return fallback
}

// FamilyID groups a child service with its parent for invoice splitting.
func (s Subscription) FamilyID() snowflake.ID {
	if s.ParentID != nil {
		return *s.ParentID
	}
	return s.ID
}
