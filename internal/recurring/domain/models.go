// Package domain contains persistence models for recurring invoice templates.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/billfold/billfold/internal/subscription/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TemplateItem is one stored line replicated onto each occurrence.
type TemplateItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Template generates one invoice per billing period. A nil RemainingCount
// recurs indefinitely; a counted template disables itself after its last
// occurrence.
type Template struct {
	ID               snowflake.ID                          `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID                          `gorm:"not null;index" json:"org_id"`
	ClientID         snowflake.ID                          `gorm:"not null;index" json:"client_id"`
	Description      string                                `gorm:"type:text" json:"description"`
	Currency         string                                `gorm:"type:text;not null" json:"currency"`
	Items            datatypes.JSONSlice[TemplateItem]     `gorm:"type:jsonb;not null" json:"items"`
	BillingCycleType subscriptiondomain.BillingCycleType   `gorm:"type:text;not null" json:"billing_cycle_type"`
	NextRenewalAt    time.Time                             `gorm:"not null;index" json:"next_renewal_at"`
	RemainingCount   *int                                  `gorm:"" json:"remaining_count,omitempty"`
	Enabled          bool                                  `gorm:"not null;default:true" json:"enabled"`
	CreatedAt        time.Time                             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time                             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Template) TableName() string { return "recurring_templates" }
