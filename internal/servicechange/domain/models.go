// Package domain contains persistence models for deferred service change
// requests.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status moves pending into exactly one terminal state, never backward.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
	StatusError     Status = "ERROR"
)

// Request is one deferred service change awaiting payment of its invoice.
// Payload carries the fields to apply: package_name, billing_cycle_type,
// amount.
type Request struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"org_id"`
	SubscriptionID snowflake.ID      `gorm:"not null;index" json:"subscription_id"`
	InvoiceID      snowflake.ID      `gorm:"not null;index" json:"invoice_id"`
	Payload        datatypes.JSONMap `gorm:"type:jsonb;not null" json:"payload"`
	Status         Status            `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	Message        *string           `gorm:"type:text" json:"message,omitempty"`
	ProcessedAt    *time.Time        `gorm:"" json:"processed_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Request) TableName() string { return "service_change_requests" }
