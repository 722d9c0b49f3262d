package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	ListPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Request, error)

	// MarkTerminal moves a pending request into its terminal state. Returns
	// false when the request was already terminal.
	MarkTerminal(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, to Status, message *string, at time.Time) (bool, error)
}
