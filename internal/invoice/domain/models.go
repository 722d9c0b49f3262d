// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status represents invoice lifecycle states. Active invoices are issued and
// collectible; proforma invoices are issued but not yet posted.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusActive   Status = "ACTIVE"
	StatusProforma Status = "PROFORMA"
	StatusClosed   Status = "CLOSED"
	StatusVoid     Status = "VOID"
)

// OpenStatuses are the states in which an invoice still awaits payment and
// participates in reminders and collection.
var OpenStatuses = []Status{StatusActive, StatusProforma}

// Invoice represents a generated invoice.
type Invoice struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index" json:"org_id"`
	ClientID    snowflake.ID      `gorm:"not null;index" json:"client_id"`
	Status      Status            `gorm:"type:text;not null;default:'DRAFT'" json:"status"`
	Currency    string            `gorm:"type:text;not null" json:"currency"`
	TotalAmount decimal.Decimal   `gorm:"type:numeric(20,8);not null" json:"total_amount"`
	BalanceDue  decimal.Decimal   `gorm:"type:numeric(20,8);not null" json:"balance_due"`
	DueAt       time.Time         `gorm:"not null;index" json:"due_at"`
	ClosedAt    *time.Time        `gorm:"" json:"closed_at,omitempty"`
	VoidedAt    *time.Time        `gorm:"" json:"voided_at,omitempty"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Item represents a line on an invoice. Lines created by renewal carry the
// billed service and the covered period.
type Item struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID    `gorm:"not null;index" json:"org_id"`
	InvoiceID      snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	SubscriptionID *snowflake.ID   `gorm:"index" json:"subscription_id,omitempty"`
	Description    string          `gorm:"type:text" json:"description"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	PeriodStart    *time.Time      `gorm:"" json:"period_start,omitempty"`
	PeriodEnd      *time.Time      `gorm:"" json:"period_end,omitempty"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Item) TableName() string { return "invoice_items" }

// Payment is one application of funds against one invoice.
type Payment struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID    `gorm:"not null;index" json:"org_id"`
	InvoiceID      snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	ClientID       snowflake.ID    `gorm:"not null;index" json:"client_id"`
	Gateway        string          `gorm:"type:text;not null" json:"gateway"`
	TransactionRef string          `gorm:"type:text;not null" json:"transaction_ref"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	AppliedAt      time.Time       `gorm:"not null" json:"applied_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Delivery records one outbound send for an invoice, including reminder
// notices. Kind keys the at-most-once guarantee per offset.
type Delivery struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	InvoiceID snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Kind      string       `gorm:"type:text;not null" json:"kind"`
	Recipient string       `gorm:"type:text;not null" json:"recipient"`
	SentAt    time.Time    `gorm:"not null" json:"sent_at"`
}

// TableName sets the database table name.
func (Delivery) TableName() string { return "invoice_deliveries" }

// Delivery kinds.
const (
	DeliveryKindCreated        = "invoice_created"
	DeliveryKindReminderFirst  = "reminder_first"
	DeliveryKindReminderSecond = "reminder_second"
	DeliveryKindReminderThird  = "reminder_third"
	DeliveryKindDebitNotice    = "autodebit_notice"
)

// ReminderKinds orders the reminder delivery kinds to match
// BillingSettings.ReminderOffsets.
var ReminderKinds = []string{
	DeliveryKindReminderFirst,
	DeliveryKindReminderSecond,
	DeliveryKindReminderThird,
}
