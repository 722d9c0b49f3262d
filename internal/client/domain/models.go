// Package domain contains persistence models for client accounts and their
// payment instruments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Client is a billed account belonging to one tenant organization.
type Client struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID      `gorm:"not null;index" json:"org_id"`
	Name               string            `gorm:"type:text;not null" json:"name"`
	Email              string            `gorm:"type:text;not null" json:"email"`
	Currency           string            `gorm:"type:text;not null" json:"currency"`
	AutodebitEnabled   bool              `gorm:"not null;default:false" json:"autodebit_enabled"`
	AutoSuspendEnabled bool              `gorm:"not null;default:true" json:"auto_suspend_enabled"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }

// InstrumentKind distinguishes stored payment instruments.
type InstrumentKind string

const (
	InstrumentKindCard InstrumentKind = "CARD"
	InstrumentKindBank InstrumentKind = "BANK"
)

// PaymentInstrument is a stored payment method. Vaulted instruments carry a
// gateway token; non-vaulted ones hold encrypted raw details and need an
// unlock passphrase before an unattended run may charge them.
type PaymentInstrument struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID   `gorm:"not null;index" json:"org_id"`
	ClientID     snowflake.ID   `gorm:"not null;index" json:"client_id"`
	Kind         InstrumentKind `gorm:"type:text;not null" json:"kind"`
	Vaulted      bool           `gorm:"not null;default:false" json:"vaulted"`
	GatewayToken string         `gorm:"type:text" json:"-"`
	IsAutodebit  bool           `gorm:"not null;default:false" json:"is_autodebit"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PaymentInstrument) TableName() string { return "payment_instruments" }
