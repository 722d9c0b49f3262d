package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Client, error)
	// FindAutodebitInstrument returns the client's designated debit
	// instrument, or nil when none is designated.
	FindAutodebitInstrument(ctx context.Context, db *gorm.DB, orgID, clientID snowflake.ID) (*PaymentInstrument, error)
}
