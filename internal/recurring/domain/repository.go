package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ListDue returns enabled templates with at least one occurrence left
	// whose renewal timestamp has passed.
	ListDue(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBy time.Time) ([]Template, error)

	// AdvanceOccurrence moves the template to its next period, decrementing
	// the occurrence counter and disabling the template when it reaches
	// zero. Returns false when the template moved underneath us.
	AdvanceOccurrence(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, from, to time.Time) (bool, error)
}
